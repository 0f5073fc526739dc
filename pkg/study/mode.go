package study

import (
	"fmt"
	"strings"
)

// Mode selects which solver pipeline a job exercises.
type Mode string

const (
	ModeDefault     Mode = "default"
	ModeXpansionR   Mode = "xpansion_r"
	ModeXpansionCpp Mode = "xpansion_cpp"
)

// Modes lists the supported run modes.
var Modes = []Mode{ModeDefault, ModeXpansionR, ModeXpansionCpp}

// ParseMode accepts the canonical names plus a few operator shorthands.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default", "antares":
		return ModeDefault, nil
	case "xpansion_r", "r":
		return ModeXpansionR, nil
	case "xpansion_cpp", "cpp":
		return ModeXpansionCpp, nil
	}
	return "", fmt.Errorf("unknown run mode %q (expected one of default, xpansion_r, xpansion_cpp)", s)
}

// Tag is the argument passed to the remote launch script.
func (m Mode) Tag() string {
	if m == "" {
		return string(ModeDefault)
	}
	return string(m)
}

// IsXpansion reports whether the mode runs the expansion planner.
func (m Mode) IsXpansion() bool {
	return m == ModeXpansionR || m == ModeXpansionCpp
}

func (m Mode) String() string {
	return m.Tag()
}
