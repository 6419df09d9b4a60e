package snap

import "fmt"

// Kind classifies a snapshot. It is a closed enumeration: every switch over
// Kind in this package is exhaustive, and unknown values are rejected at the
// parsing boundary.
type Kind int

const (
	// KindFull is a complete snapshot of every domain.
	KindFull Kind = iota
	// KindIncremental contains only entries changed since its parent.
	KindIncremental
	// KindArchive is a full snapshot retained under the longer-lived
	// archive retention window.
	KindArchive
)

// ParseKind converts a user-supplied string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "full":
		return KindFull, nil
	case "incremental", "incr":
		return KindIncremental, nil
	case "archive":
		return KindArchive, nil
	default:
		return 0, NewError(InvalidInput, "parse kind", "", fmt.Errorf("unknown snapshot kind %q", s))
	}
}

func (k Kind) String() string {
	switch k {
	case KindFull:
		return "full"
	case KindIncremental:
		return "incremental"
	case KindArchive:
		return "archive"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ChainBase reports whether a snapshot of this kind can terminate a restore
// chain. Incrementals always layer on top of a full or archive snapshot.
func (k Kind) ChainBase() bool {
	switch k {
	case KindFull, KindArchive:
		return true
	case KindIncremental:
		return false
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler so Kind round-trips through
// the TOML manifest.
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case KindFull, KindIncremental, KindArchive:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("invalid snapshot kind %d", int(k))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
