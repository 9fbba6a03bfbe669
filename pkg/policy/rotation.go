package policy

import (
	"crypto/subtle"
	"fmt"
	"time"
)

// Rotation decides what happens to a refresh string once it has been
// exchanged for a new one.
type Rotation uint8

const (
	// RotationSingleUse rejects the previous string immediately.
	RotationSingleUse Rotation = iota
	// RotationGrace keeps accepting the previous string for a short window
	// so a client that lost the response can retry.
	RotationGrace
)

func (r Rotation) String() string {
	switch r {
	case RotationSingleUse:
		return "single-use"
	case RotationGrace:
		return "grace"
	default:
		return fmt.Sprintf("rotation(%d)", uint8(r))
	}
}

func ParseRotation(s string) (Rotation, error) {
	switch s {
	case "single-use":
		return RotationSingleUse, nil
	case "grace":
		return RotationGrace, nil
	default:
		return 0, fmt.Errorf("policy: unknown rotation %q", s)
	}
}

const DefaultRotationGrace = 10 * time.Second

type RotationPolicy struct {
	Mode  Rotation
	Grace time.Duration
}

// Accepts reports whether presented may be exchanged given the token's
// current string and, if it was rotated at rotatedAt, the string it
// replaced.
func (p RotationPolicy) Accepts(presented, current, previous string, rotatedAt, now time.Time) bool {
	if presented == "" {
		return false
	}
	if equal(presented, current) {
		return true
	}
	if p.Mode != RotationGrace || previous == "" || rotatedAt.IsZero() {
		return false
	}
	return equal(presented, previous) && now.Sub(rotatedAt) <= p.Grace
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
