// Package id defines the opaque identifier shared by users, APIs, roles and
// access tokens. One deployment uses this scheme exclusively.
package id

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Size is the encoded length of an ID in bytes.
const Size = 16

// ErrInvalid is returned when bytes or text do not form an ID.
var ErrInvalid = errors.New("id: invalid identifier")

// ID is a 128-bit opaque identifier. On the wire it travels as 16 raw bytes.
type ID [Size]byte

// Nil is the zero ID. It never identifies a live record.
var Nil ID

// New returns a random ID.
func New() ID {
	return ID(uuid.New())
}

// Parse decodes the canonical textual form produced by String.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return ID(u), nil
}

// MustParse is Parse for constants in tests and fixtures.
func MustParse(s string) ID {
	i, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return i
}

// FromBytes copies b into an ID. b must be exactly Size bytes long.
func FromBytes(b []byte) (ID, error) {
	if len(b) != Size {
		return Nil, fmt.Errorf("%w: length %d", ErrInvalid, len(b))
	}
	var i ID
	copy(i[:], b)
	return i, nil
}

func (i ID) String() string {
	return uuid.UUID(i).String()
}

// Bytes returns a copy of the raw identifier.
func (i ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, i[:])
	return b
}

func (i ID) IsZero() bool {
	return i == Nil
}

// MarshalText is used by the JSON config files.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// MarshalCBOR writes the ID as a 16-byte byte string.
func (i ID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(i[:])
}

// UnmarshalCBOR accepts only a byte string of exactly Size bytes.
func (i *ID) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	parsed, err := FromBytes(b)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
