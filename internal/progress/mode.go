package progress

import (
	"fmt"
	"strings"
)

// Mode is the learner-selected game mode.
type Mode int

const (
	Discovery Mode = iota
	Revision
	Exam
	Challenge
)

// Modes lists every mode in display order.
var Modes = []Mode{Discovery, Revision, Exam, Challenge}

func (m Mode) String() string {
	switch m {
	case Discovery:
		return "discovery"
	case Revision:
		return "revision"
	case Exam:
		return "exam"
	case Challenge:
		return "challenge"
	default:
		return "unknown"
	}
}

// ParseMode resolves a mode by name.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return Discovery, fmt.Errorf("unknown mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) {
	if m < Discovery || m > Challenge {
		return nil, fmt.Errorf("invalid mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// UnlockPolicy decides which topics and levels are playable.
type UnlockPolicy int

const (
	// Strict opens content only through passes.
	Strict UnlockPolicy = iota
	// Open opens every topic and every level already played.
	Open
)

// Policy returns the unlock policy of the mode.
func (m Mode) Policy() UnlockPolicy {
	if m == Discovery {
		return Strict
	}
	return Open
}
