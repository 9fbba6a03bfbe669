package policy

import (
	"encoding/json"
	"net/netip"
	"testing"
	"time"

	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRole() Role {
	return Role{
		ID:              id.New(),
		ApiID:           id.New(),
		Name:            "admin",
		IPLock:          true,
		AccessDuration:  time.Hour,
		RefreshDuration: 24 * time.Hour,
	}
}

func TestRoleValidate(t *testing.T) {
	require.NoError(t, testRole().Validate())

	r := testRole()
	r.AccessDuration = 0
	assert.ErrorIs(t, r.Validate(), ErrInvalidRole)

	r = testRole()
	r.RefreshDuration = time.Minute
	assert.ErrorIs(t, r.Validate(), ErrInvalidRole)

	r = testRole()
	r.ApiID = id.Nil
	assert.ErrorIs(t, r.Validate(), ErrInvalidRole)
}

func TestRoleExpiry(t *testing.T) {
	r := testRole()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(time.Hour), r.AccessExpiry(now))
	assert.Equal(t, now.Add(24*time.Hour), r.RefreshExpiry(now))
}

func TestRoleIPLock(t *testing.T) {
	r := testRole()
	first := netip.MustParseAddr("192.168.0.1")
	second := netip.MustParseAddr("192.168.0.100")

	bound := r.BindIP(netip.MustParseAddr("::ffff:192.168.0.1"))
	assert.Equal(t, first, bound)
	assert.True(t, r.AllowsFrom(bound, first))
	assert.False(t, r.AllowsFrom(bound, second))
	assert.True(t, r.AllowsFrom(netip.Addr{}, second))

	r.IPLock = false
	assert.False(t, r.BindIP(first).IsValid())
	assert.True(t, r.AllowsFrom(first, second))
}

func TestRolePermits(t *testing.T) {
	r := testRole()
	assert.True(t, r.Permits("/any/Procedure"))

	r.Procedures = []string{"/rmcs.auth.v1.TokenService/ReadAccessToken"}
	assert.True(t, r.Permits("/rmcs.auth.v1.TokenService/ReadAccessToken"))
	assert.False(t, r.Permits("/rmcs.auth.v1.TokenService/DeleteTokenByUser"))
}

func TestParseProfileMode(t *testing.T) {
	for _, m := range []ProfileMode{SingleOptional, SingleRequired, MultipleOptional, MultipleRequired} {
		got, err := ParseProfileMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	for _, bad := range []string{"", "single_optional", "MULTIPLE", "SINGLE_OPTIONAL "} {
		_, err := ParseProfileMode(bad)
		assert.ErrorIs(t, err, ErrUnknownProfileMode, "input %q", bad)
	}

	_, err := ProfileModeFromCode(4)
	assert.ErrorIs(t, err, ErrUnknownProfileMode)
	m, err := ProfileModeFromCode(3)
	require.NoError(t, err)
	assert.Equal(t, MultipleRequired, m)
	assert.True(t, m.Multiple())
	assert.True(t, m.Required())
}

func TestProfileModeJSON(t *testing.T) {
	var v struct {
		Mode ProfileMode `json:"mode"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"mode":"MULTIPLE_OPTIONAL"}`), &v))
	assert.Equal(t, MultipleOptional, v.Mode)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"MULTIPLE_OPTIONAL"}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"mode":"SOMETIMES"}`), &v))
}

func TestRotationSingleUse(t *testing.T) {
	p := RotationPolicy{Mode: RotationSingleUse}
	now := time.Now()

	assert.True(t, p.Accepts("new", "new", "old", now, now))
	assert.False(t, p.Accepts("old", "new", "old", now, now))
	assert.False(t, p.Accepts("", "", "", time.Time{}, now))
}

func TestRotationGrace(t *testing.T) {
	p := RotationPolicy{Mode: RotationGrace, Grace: DefaultRotationGrace}
	rotated := time.Now()

	assert.True(t, p.Accepts("old", "new", "old", rotated, rotated.Add(time.Second)))
	assert.False(t, p.Accepts("old", "new", "old", rotated, rotated.Add(DefaultRotationGrace+time.Second)))
	assert.False(t, p.Accepts("older", "new", "old", rotated, rotated))
	assert.False(t, p.Accepts("old", "new", "old", time.Time{}, rotated))
}

func TestParseRotation(t *testing.T) {
	r, err := ParseRotation("grace")
	require.NoError(t, err)
	assert.Equal(t, RotationGrace, r)

	r, err = ParseRotation(RotationSingleUse.String())
	require.NoError(t, err)
	assert.Equal(t, RotationSingleUse, r)

	_, err = ParseRotation("sometimes")
	assert.Error(t, err)
}
