// Package alias persists named sets of territory codes referenced from
// expressions as $name.
package alias

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var ErrInvalidName = errors.New("invalid alias name")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Store is implemented by Dir and SQLite.
type Store interface {
	// Load returns ok=false when the alias does not exist.
	Load(name string) (set Set, ok bool, err error)
	Save(name string, set Set) error
	List() ([]string, error)
}

type Set map[string]struct{}

func NewSet(codes ...string) Set {
	s := make(Set, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		s[c] = struct{}{}
	}
	return s
}

func (s Set) Has(code string) bool {
	_, ok := s[code]
	return ok
}

func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

func checkName(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
