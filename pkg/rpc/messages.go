package rpc

import "github.com/nhirsama/rmcs-client/pkg/id"

// Integer CBOR keys keep the encoding compact and let fields be renamed
// without breaking the wire format. Never reuse a retired key.

// --- AuthService ---

type UserKeyRequest struct {
	Username string `cbor:"1,keyasint"`
}

type ApiKeyRequest struct {
	ApiID id.ID `cbor:"1,keyasint"`
}

// LoginKeyResponse carries the DER-encoded transport public key issued for
// one login attempt.
type LoginKeyResponse struct {
	PublicKey []byte `cbor:"1,keyasint"`
}

type UserLoginRequest struct {
	Username string `cbor:"1,keyasint"`
	Password []byte `cbor:"2,keyasint"`
	Padding  uint8  `cbor:"3,keyasint,omitempty"`
}

type AccessTokenMap struct {
	ApiID        id.ID  `cbor:"1,keyasint"`
	AccessToken  string `cbor:"2,keyasint"`
	RefreshToken string `cbor:"3,keyasint"`
	AccessID     id.ID  `cbor:"4,keyasint"`
	Expire       int64  `cbor:"5,keyasint"`
}

type UserLoginResponse struct {
	UserID       id.ID            `cbor:"1,keyasint"`
	AuthToken    string           `cbor:"2,keyasint"`
	AccessTokens []AccessTokenMap `cbor:"3,keyasint"`
}

type ApiLoginRequest struct {
	ApiID     id.ID  `cbor:"1,keyasint"`
	Password  []byte `cbor:"2,keyasint"`
	PublicKey []byte `cbor:"3,keyasint"`
	Padding   uint8  `cbor:"4,keyasint,omitempty"`
}

// ApiLoginResponse.AccessKey and RootKey are encrypted with
// ApiLoginRequest.PublicKey. RootKey is absent when the API has none.
type ApiLoginResponse struct {
	AccessKey  []byte   `cbor:"1,keyasint"`
	Procedures []string `cbor:"2,keyasint"`
	RootKey    []byte   `cbor:"3,keyasint,omitempty"`
}

type UserRefreshRequest struct {
	ApiID        id.ID  `cbor:"1,keyasint"`
	AccessToken  string `cbor:"2,keyasint"`
	RefreshToken string `cbor:"3,keyasint"`
}

type UserRefreshResponse struct {
	AccessToken  string `cbor:"1,keyasint"`
	RefreshToken string `cbor:"2,keyasint"`
}

type UserLogoutRequest struct {
	UserID    id.ID  `cbor:"1,keyasint"`
	AuthToken string `cbor:"2,keyasint"`
}

type UserLogoutResponse struct{}

// --- TokenService ---

// TokenSchema is the full token record. Expire is microseconds since the
// Unix epoch; IP is empty, 4 or 16 bytes.
type TokenSchema struct {
	AccessID     id.ID  `cbor:"1,keyasint"`
	UserID       id.ID  `cbor:"2,keyasint"`
	RefreshToken string `cbor:"3,keyasint"`
	AuthToken    string `cbor:"4,keyasint"`
	Expire       int64  `cbor:"5,keyasint"`
	IP           []byte `cbor:"6,keyasint"`
}

type AccessID struct {
	AccessID id.ID `cbor:"1,keyasint"`
}

type AuthToken struct {
	AuthToken string `cbor:"1,keyasint"`
}

type UserID struct {
	UserID id.ID `cbor:"1,keyasint"`
}

type AuthTokenCreate struct {
	UserID id.ID  `cbor:"1,keyasint"`
	Expire int64  `cbor:"2,keyasint"`
	IP     []byte `cbor:"3,keyasint"`
	Number uint32 `cbor:"4,keyasint"`
}

type TokenCreateResponse struct {
	AccessID     id.ID  `cbor:"1,keyasint"`
	RefreshToken string `cbor:"2,keyasint"`
	AuthToken    string `cbor:"3,keyasint"`
}

type AuthTokenCreateResponse struct {
	Tokens []TokenCreateResponse `cbor:"1,keyasint"`
}

// TokenUpdate selects a token by AccessID or AuthToken. A zero Expire or an
// empty IP leaves that field unchanged.
type TokenUpdate struct {
	AccessID  id.ID  `cbor:"1,keyasint"`
	AuthToken string `cbor:"2,keyasint,omitempty"`
	Expire    int64  `cbor:"3,keyasint,omitempty"`
	IP        []byte `cbor:"4,keyasint,omitempty"`
}

type TokenUpdateResponse struct {
	RefreshToken string `cbor:"1,keyasint"`
	AuthToken    string `cbor:"2,keyasint"`
}

type TokenReadResponse struct {
	Result TokenSchema `cbor:"1,keyasint"`
}

type TokenListResponse struct {
	Results []TokenSchema `cbor:"1,keyasint"`
}

type TokenChangeResponse struct{}
