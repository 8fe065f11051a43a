package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Markers are substrings of server messages that carry meaning beyond the
// result field.
type Markers struct {
	PleaseWait    string `yaml:"please_wait"`
	NotAuthorized string `yaml:"not_authorized"`
	Captured      string `yaml:"captured"`
	LevelMaxed    string `yaml:"level_maxed"`
	Transferred   string `yaml:"transferred"`
	NoSuchPlayer  string `yaml:"no_such_player"`
}

func DefaultMarkers() Markers {
	return Markers{
		PleaseWait:    "Подождите немного",
		NotAuthorized: "Ваш IP не был",
		Captured:      "вы успешно захватили",
		LevelMaxed:    "уже улучшена",
		Transferred:   "теперь принадлежит",
		NoSuchPlayer:  "игрока не существует",
	}
}

type Kind int

const (
	Empty Kind = iota
	Success
	Fail
	RecoverableError
	TerminalNote
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Success:
		return "success"
	case Fail:
		return "fail"
	case RecoverableError:
		return "error"
	case TerminalNote:
		return "note"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type Terminal int

const (
	NotTerminal Terminal = iota
	Done
	LevelMaxed
)

// Outcome is the classified result of one roll.
type Outcome struct {
	Kind     Kind
	Tier     int
	Message  string
	Terminal Terminal
}

type ErrorClass int

const (
	NoError ErrorClass = iota
	ErrorWait
	ErrorAuth
	ErrorOther
)

// Classify parses a raw roll response. Error responses come back with Kind
// RecoverableError and a class telling the caller how to recover.
func Classify(body string, m Markers) (Outcome, ErrorClass, error) {
	if strings.TrimSpace(body) == "" {
		return Outcome{Kind: Empty}, NoError, nil
	}
	var r RollResponse
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return Outcome{}, NoError, fmt.Errorf("decode roll response: %w", err)
	}
	switch r.Result {
	case ResultError:
		out := Outcome{Kind: RecoverableError, Message: r.Data}
		switch {
		case contains(r.Data, m.PleaseWait, true):
			return out, ErrorWait, nil
		case contains(r.Data, m.NotAuthorized, true):
			return out, ErrorAuth, nil
		default:
			return out, ErrorOther, nil
		}
	case ResultSuccess:
		out := Outcome{Kind: Success, Tier: ComboTier(r.Data), Message: r.Data}
		if contains(r.Data, m.Captured, false) {
			out.Terminal = Done
		}
		return out, NoError, nil
	case ResultNote:
		out := Outcome{Kind: TerminalNote, Message: r.Data}
		if contains(r.Data, m.LevelMaxed, false) {
			out.Terminal = LevelMaxed
		}
		return out, NoError, nil
	case ResultFail:
		return Outcome{Kind: Fail, Message: r.Data}, NoError, nil
	default:
		return Outcome{Kind: Empty, Message: r.Data}, NoError, nil
	}
}

func contains(s, marker string, prefix bool) bool {
	if marker == "" {
		return false
	}
	if prefix {
		return strings.HasPrefix(s, marker)
	}
	return strings.Contains(s, marker)
}

var comboCode = regexp.MustCompile(`\d{4}`)

// ComboTier grades a success by how many trailing digits of the first
// four-digit code repeat: 1 for none, up to 4 for four of a kind.
func ComboTier(text string) int {
	code := comboCode.FindString(text)
	if code == "" {
		return 1
	}
	tier := 1
	for i := len(code) - 2; i >= 0 && code[i] == code[len(code)-1]; i-- {
		tier++
	}
	return tier
}
