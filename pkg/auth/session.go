package auth

import (
	"context"
	"time"

	"github.com/nhirsama/rmcs-client/pkg/id"
)

// ApiToken is the bearer/refresh pair issued for one API at login.
type ApiToken struct {
	ApiID        id.ID
	AccessID     id.ID
	AccessToken  string
	RefreshToken string
	Expire       time.Time
}

// Session 是用户登录成功的结果，构造后不再改变；轮换令牌会得到新的 Session。
type Session struct {
	userID    id.ID
	authToken string
	tokens    []ApiToken
	issuedAt  time.Time
}

func NewSession(userID id.ID, authToken string, tokens []ApiToken, issuedAt time.Time) *Session {
	cp := make([]ApiToken, len(tokens))
	copy(cp, tokens)
	return &Session{
		userID:    userID,
		authToken: authToken,
		tokens:    cp,
		issuedAt:  issuedAt,
	}
}

func (s *Session) UserID() id.ID       { return s.userID }
func (s *Session) AuthToken() string   { return s.authToken }
func (s *Session) IssuedAt() time.Time { return s.issuedAt }

// Tokens returns a copy of every token in the session.
func (s *Session) Tokens() []ApiToken {
	cp := make([]ApiToken, len(s.tokens))
	copy(cp, s.tokens)
	return cp
}

// Token returns the token issued for apiID.
func (s *Session) Token(apiID id.ID) (ApiToken, bool) {
	for _, t := range s.tokens {
		if t.ApiID == apiID {
			return t, true
		}
	}
	return ApiToken{}, false
}

// WithToken returns a new Session in which the token for t.ApiID is
// replaced by t, or t is added when the API had none.
func (s *Session) WithToken(t ApiToken) *Session {
	next := NewSession(s.userID, s.authToken, s.tokens, s.issuedAt)
	for i := range next.tokens {
		if next.tokens[i].ApiID == t.ApiID {
			next.tokens[i] = t
			return next
		}
	}
	next.tokens = append(next.tokens, t)
	return next
}

// Interceptor builds the interceptor carrying the bearer token for apiID.
func (s *Session) Interceptor(apiID id.ID) (AuthorizationInterceptor, error) {
	t, ok := s.Token(apiID)
	if !ok {
		return AuthorizationInterceptor{}, &NotFoundError{Resource: "api token", Key: apiID.String()}
	}
	return NewAuthorizationInterceptor(t.AccessToken), nil
}

// Refresh 用 apiID 对应的 refresh token 换取新令牌对，返回携带新令牌的
// Session，s 本身保持不变。
func (s *Session) Refresh(ctx context.Context, a ClientAuthenticator, apiID id.ID) (*Session, error) {
	t, ok := s.Token(apiID)
	if !ok {
		return nil, &NotFoundError{Resource: "api token", Key: apiID.String()}
	}
	pair, err := a.UserRefresh(ctx, apiID, t.AccessToken, t.RefreshToken)
	if err != nil {
		return nil, err
	}
	t.AccessToken = pair.AccessToken
	t.RefreshToken = pair.RefreshToken
	return s.WithToken(t), nil
}
