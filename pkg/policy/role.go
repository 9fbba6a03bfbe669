// Package policy holds the per-role session rules applied when tokens are
// issued, refreshed and presented.
package policy

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/nhirsama/rmcs-client/pkg/id"
)

var ErrInvalidRole = errors.New("policy: invalid role")

// Role is the session policy for one API scope.
type Role struct {
	ID     id.ID
	ApiID  id.ID
	Name   string
	Multi  bool
	IPLock bool

	AccessDuration  time.Duration
	RefreshDuration time.Duration

	// Procedures lists the procedures a holder of this role may call.
	// Empty means every procedure of the API.
	Procedures []string
}

func (r Role) Validate() error {
	if r.ID.IsZero() || r.ApiID.IsZero() {
		return fmt.Errorf("%w: %q needs an id and an api id", ErrInvalidRole, r.Name)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRole)
	}
	if r.AccessDuration <= 0 || r.RefreshDuration <= 0 {
		return fmt.Errorf("%w: %q durations must be positive", ErrInvalidRole, r.Name)
	}
	if r.RefreshDuration < r.AccessDuration {
		return fmt.Errorf("%w: %q refresh duration shorter than access duration", ErrInvalidRole, r.Name)
	}
	return nil
}

// AccessExpiry is the default expiry of an access token issued at now.
func (r Role) AccessExpiry(now time.Time) time.Time {
	return now.Add(r.AccessDuration)
}

// RefreshExpiry is the default expiry of the refresh string issued at now.
func (r Role) RefreshExpiry(now time.Time) time.Time {
	return now.Add(r.RefreshDuration)
}

// BindIP returns the address a token issued to peer must be bound to. It
// is invalid (no binding) unless the role locks tokens to an address.
func (r Role) BindIP(peer netip.Addr) netip.Addr {
	if !r.IPLock {
		return netip.Addr{}
	}
	return peer.Unmap()
}

// AllowsFrom reports whether a token bound to bound may be used by peer.
func (r Role) AllowsFrom(bound, peer netip.Addr) bool {
	if !r.IPLock || !bound.IsValid() {
		return true
	}
	return bound.Unmap() == peer.Unmap()
}

func (r Role) Permits(procedure string) bool {
	return len(r.Procedures) == 0 || slices.Contains(r.Procedures, procedure)
}
