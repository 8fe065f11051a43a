package conquest

import (
	"fmt"
	"strings"
)

// Mode selects which operations a conquest run performs on each target.
type Mode int

const (
	Capture Mode = iota
	Upgrade
	Both
)

func (m Mode) String() string {
	switch m {
	case Capture:
		return "capture"
	case Upgrade:
		return "upgrade"
	case Both:
		return "both"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the long names and the single-letter shorthands c, e and a.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "capture", "c":
		return Capture, nil
	case "upgrade", "e":
		return Upgrade, nil
	case "both", "a":
		return Both, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// State is where one target attempt stands.
type State int

const (
	Idle State = iota
	Attempting
	Done
	LevelMaxed
	Abandoned
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Attempting:
		return "attempting"
	case Done:
		return "done"
	case LevelMaxed:
		return "level_maxed"
	case Abandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
