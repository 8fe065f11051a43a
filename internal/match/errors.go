package match

import (
	"errors"
	"fmt"
)

// ErrMatching is matched by every *Error via errors.Is.
var ErrMatching = errors.New("matching error")

// Error reports an expression token that cannot be evaluated.
type Error struct {
	Token  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("match %s: %s: %v", e.Token, e.Reason, e.Err)
	}
	return fmt.Sprintf("match %s: %s", e.Token, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrMatching }
