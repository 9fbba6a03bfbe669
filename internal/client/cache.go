package client

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"github.com/nhirsama/rmcs-client/pkg/auth"
	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/nhirsama/rmcs-client/pkg/rpc"
)

var ErrNoSession = errors.New("no cached session")

type cachedToken struct {
	ApiID        id.ID  `cbor:"1,keyasint"`
	AccessID     id.ID  `cbor:"2,keyasint"`
	AccessToken  string `cbor:"3,keyasint"`
	RefreshToken string `cbor:"4,keyasint"`
	Expire       int64  `cbor:"5,keyasint"`
}

type cachedSession struct {
	UserID    id.ID         `cbor:"1,keyasint"`
	AuthToken string        `cbor:"2,keyasint"`
	IssuedAt  int64         `cbor:"3,keyasint"`
	Tokens    []cachedToken `cbor:"4,keyasint"`
}

// SessionCache keeps the last session per server and user in the keyring.
type SessionCache struct {
	ring keyring.Keyring
}

// OpenSessionCache opens the OS keyring under service.
func OpenSessionCache(service string) (*SessionCache, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return NewSessionCache(ring), nil
}

func NewSessionCache(ring keyring.Keyring) *SessionCache {
	return &SessionCache{ring: ring}
}

func sessionKey(server, username string) string {
	return "session:" + username + "@" + server
}

func (c *SessionCache) Save(server, username string, s *auth.Session) error {
	cs := cachedSession{
		UserID:    s.UserID(),
		AuthToken: s.AuthToken(),
		IssuedAt:  rpc.EncodeTime(s.IssuedAt()),
	}
	for _, t := range s.Tokens() {
		cs.Tokens = append(cs.Tokens, cachedToken{
			ApiID:        t.ApiID,
			AccessID:     t.AccessID,
			AccessToken:  t.AccessToken,
			RefreshToken: t.RefreshToken,
			Expire:       rpc.EncodeTime(t.Expire),
		})
	}
	data, err := rpc.Marshal(&cs)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := c.ring.Set(keyring.Item{
		Key:   sessionKey(server, username),
		Data:  data,
		Label: "rmcs session for " + username,
	}); err != nil {
		return fmt.Errorf("failed to store session in keyring: %w", err)
	}
	return nil
}

func (c *SessionCache) Load(server, username string) (*auth.Session, error) {
	item, err := c.ring.Get(sessionKey(server, username))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from keyring: %w", err)
	}
	var cs cachedSession
	if err := rpc.Unmarshal(item.Data, &cs); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	tokens := make([]auth.ApiToken, 0, len(cs.Tokens))
	for _, t := range cs.Tokens {
		tokens = append(tokens, auth.ApiToken{
			ApiID:        t.ApiID,
			AccessID:     t.AccessID,
			AccessToken:  t.AccessToken,
			RefreshToken: t.RefreshToken,
			Expire:       rpc.DecodeTime(t.Expire),
		})
	}
	return auth.NewSession(cs.UserID, cs.AuthToken, tokens, rpc.DecodeTime(cs.IssuedAt)), nil
}

// Delete forgets the session. A missing entry is not an error.
func (c *SessionCache) Delete(server, username string) error {
	err := c.ring.Remove(sessionKey(server, username))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("failed to remove session from keyring: %w", err)
	}
	return nil
}
