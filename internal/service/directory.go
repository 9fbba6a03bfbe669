package service

import (
	"errors"
	"fmt"

	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/nhirsama/rmcs-client/pkg/policy"
)

var ErrDirectory = errors.New("service: invalid directory")

// Api is a service principal. AccessKey is delivered to it by ApiLogin and
// also signs the bearer tokens scoped to it. RootKey is optional and only
// ever handed to the API itself.
type Api struct {
	ID           id.ID
	Name         string
	PasswordHash string
	AccessKey    []byte
	RootKey      []byte
	Procedures   []string
}

type User struct {
	ID           id.ID
	Name         string
	PasswordHash string
	Roles        []id.ID
}

// Directory is the read-only set of principals and roles the server
// authenticates against.
type Directory struct {
	apis      map[id.ID]Api
	roles     map[id.ID]policy.Role
	users     map[id.ID]User
	usernames map[string]id.ID
	profiles  map[id.ID][]Profile
}

// Profile is a named field carried by every holder of a role.
type Profile struct {
	RoleID id.ID
	Name   string
	Mode   policy.ProfileMode
}

func NewDirectory(apis []Api, roles []policy.Role, users []User) (*Directory, error) {
	d := &Directory{
		apis:      make(map[id.ID]Api, len(apis)),
		roles:     make(map[id.ID]policy.Role, len(roles)),
		users:     make(map[id.ID]User, len(users)),
		usernames: make(map[string]id.ID, len(users)),
		profiles:  make(map[id.ID][]Profile),
	}
	for _, a := range apis {
		if a.ID.IsZero() || len(a.AccessKey) < 16 {
			return nil, fmt.Errorf("%w: api %q needs an id and an access key of at least 16 bytes", ErrDirectory, a.Name)
		}
		if len(a.RootKey) > 0 && len(a.RootKey) < 16 {
			return nil, fmt.Errorf("%w: api %q root key is shorter than 16 bytes", ErrDirectory, a.Name)
		}
		if _, dup := d.apis[a.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate api %s", ErrDirectory, a.ID)
		}
		d.apis[a.ID] = a
	}
	for _, r := range roles {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, ok := d.apis[r.ApiID]; !ok {
			return nil, fmt.Errorf("%w: role %q refers to unknown api %s", ErrDirectory, r.Name, r.ApiID)
		}
		d.roles[r.ID] = r
	}
	for _, u := range users {
		if u.ID.IsZero() || u.Name == "" {
			return nil, fmt.Errorf("%w: user needs an id and a name", ErrDirectory)
		}
		if _, dup := d.usernames[u.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate user %q", ErrDirectory, u.Name)
		}
		seen := make(map[id.ID]bool)
		for _, rid := range u.Roles {
			r, ok := d.roles[rid]
			if !ok {
				return nil, fmt.Errorf("%w: user %q has unknown role %s", ErrDirectory, u.Name, rid)
			}
			if seen[r.ApiID] {
				return nil, fmt.Errorf("%w: user %q has two roles for api %s", ErrDirectory, u.Name, r.ApiID)
			}
			seen[r.ApiID] = true
		}
		d.users[u.ID] = u
		d.usernames[u.Name] = u.ID
	}
	return d, nil
}

func (d *Directory) Api(apiID id.ID) (Api, bool) {
	a, ok := d.apis[apiID]
	return a, ok
}

func (d *Directory) Role(roleID id.ID) (policy.Role, bool) {
	r, ok := d.roles[roleID]
	return r, ok
}

func (d *Directory) User(userID id.ID) (User, bool) {
	u, ok := d.users[userID]
	return u, ok
}

func (d *Directory) UserByName(name string) (User, bool) {
	uid, ok := d.usernames[name]
	if !ok {
		return User{}, false
	}
	return d.users[uid], true
}

// Roles returns the user's roles in configuration order.
func (d *Directory) Roles(u User) []policy.Role {
	out := make([]policy.Role, 0, len(u.Roles))
	for _, rid := range u.Roles {
		out = append(out, d.roles[rid])
	}
	return out
}

// RoleFor returns the user's role for apiID.
func (d *Directory) RoleFor(userID, apiID id.ID) (policy.Role, bool) {
	u, ok := d.users[userID]
	if !ok {
		return policy.Role{}, false
	}
	for _, r := range d.Roles(u) {
		if r.ApiID == apiID {
			return r, true
		}
	}
	return policy.Role{}, false
}

// AddProfiles attaches profile fields to their roles. Names are unique per
// role.
func (d *Directory) AddProfiles(profiles ...Profile) error {
	for _, p := range profiles {
		if _, ok := d.roles[p.RoleID]; !ok {
			return fmt.Errorf("%w: profile %q refers to unknown role %s", ErrDirectory, p.Name, p.RoleID)
		}
		if _, err := policy.ProfileModeFromCode(int(p.Mode)); err != nil {
			return fmt.Errorf("%w: profile %q: %w", ErrDirectory, p.Name, err)
		}
		for _, existing := range d.profiles[p.RoleID] {
			if existing.Name == p.Name {
				return fmt.Errorf("%w: duplicate profile %q", ErrDirectory, p.Name)
			}
		}
		d.profiles[p.RoleID] = append(d.profiles[p.RoleID], p)
	}
	return nil
}

func (d *Directory) Profiles(roleID id.ID) []Profile {
	return d.profiles[roleID]
}
