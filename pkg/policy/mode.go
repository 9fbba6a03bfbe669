package policy

import (
	"errors"
	"fmt"
)

var ErrUnknownProfileMode = errors.New("policy: unknown profile mode")

// ProfileMode says how many values a profile field takes and whether it
// must be set. Codes are the wire values.
type ProfileMode uint8

const (
	SingleOptional ProfileMode = iota
	SingleRequired
	MultipleOptional
	MultipleRequired
)

var profileModeNames = [...]string{
	SingleOptional:   "SINGLE_OPTIONAL",
	SingleRequired:   "SINGLE_REQUIRED",
	MultipleOptional: "MULTIPLE_OPTIONAL",
	MultipleRequired: "MULTIPLE_REQUIRED",
}

func (m ProfileMode) String() string {
	if int(m) < len(profileModeNames) {
		return profileModeNames[m]
	}
	return fmt.Sprintf("ProfileMode(%d)", uint8(m))
}

// ParseProfileMode accepts only the four canonical names. Anything else is
// an error, never a fallback to SingleOptional.
func ParseProfileMode(s string) (ProfileMode, error) {
	for i, name := range profileModeNames {
		if s == name {
			return ProfileMode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProfileMode, s)
}

// ProfileModeFromCode validates a wire code.
func ProfileModeFromCode(code int) (ProfileMode, error) {
	if code < 0 || code >= len(profileModeNames) {
		return 0, fmt.Errorf("%w: code %d", ErrUnknownProfileMode, code)
	}
	return ProfileMode(code), nil
}

func (m ProfileMode) Multiple() bool { return m == MultipleOptional || m == MultipleRequired }
func (m ProfileMode) Required() bool { return m == SingleRequired || m == MultipleRequired }

func (m ProfileMode) MarshalText() ([]byte, error) {
	if int(m) >= len(profileModeNames) {
		return nil, fmt.Errorf("%w: code %d", ErrUnknownProfileMode, m)
	}
	return []byte(profileModeNames[m]), nil
}

func (m *ProfileMode) UnmarshalText(text []byte) error {
	v, err := ParseProfileMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
