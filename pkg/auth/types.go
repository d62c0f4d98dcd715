package auth

import (
	"github.com/trovehq/trove/pkg/errs"
)

// Principal is an authenticated actor performing an operation.
type Principal struct {
	// Username is the unique identity key used in permission maps.
	Username string `json:"username"`

	// IsGlobalAdmin grants full access to every resource, bypassing
	// per-resource permission maps.
	IsGlobalAdmin bool `json:"is_global_admin"`

	// ExternalAuth marks principals whose credentials are managed by an
	// external directory service.
	ExternalAuth bool `json:"external_auth,omitempty"`
}

// Level is a permission level. Levels form an ordered lattice: holding a
// level implies holding every lower one (Admin covers Write covers Read).
type Level int

const (
	None Level = iota
	Read
	Write
	Admin
)

var levelNames = map[Level]string{
	None:  "none",
	Read:  "read",
	Write: "write",
	Admin: "admin",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "none"
}

// Covers reports whether holding l satisfies a requirement of other.
func (l Level) Covers(other Level) bool {
	return l >= other
}

// ParseLevel parses a level name. Unknown names fail with a DataFormatError.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "none":
		return None, nil
	case "read":
		return Read, nil
	case "write":
		return Write, nil
	case "admin":
		return Admin, nil
	default:
		return None, errs.NewDataFormat("unknown permission level %q", s)
	}
}

// HighestLevel returns the highest level in the set, or None for an empty set.
func HighestLevel(levels []Level) Level {
	highest := None
	for _, l := range levels {
		if l > highest {
			highest = l
		}
	}
	return highest
}

// MarshalText implements encoding.TextMarshaler so levels serialize as their
// names in JSON permission maps.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
