package service

import (
	"errors"
	"log/slog"

	"connectrpc.com/connect"
	"github.com/nhirsama/rmcs-client/internal/store"
	"github.com/nhirsama/rmcs-client/pkg/auth"
	"github.com/nhirsama/rmcs-client/pkg/policy"
)

var (
	errBadCredentials  = errors.New("wrong username or password")
	errRefreshRejected = errors.New("refresh token rejected")
	errSessionExpired  = errors.New("session expired")
	errRateLimited     = errors.New("too many failed login attempts; try again later")
	errNoRole          = errors.New("user has no role for this api")
)

// mapError converts a service or store error into the connect error sent
// to the client. Unknown errors are logged and hidden behind CodeInternal.
func mapError(err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, errBadCredentials),
		errors.Is(err, errRefreshRejected),
		errors.Is(err, errSessionExpired),
		errors.Is(err, errMissingBearer),
		errors.Is(err, errInvalidToken),
		errors.Is(err, errTokenExpired),
		errors.Is(err, errTokenRevoked):
		return connect.NewError(connect.CodeUnauthenticated, err)
	case errors.Is(err, errScope),
		errors.Is(err, errProcedure),
		errors.Is(err, errAddress),
		errors.Is(err, errNoRole):
		return connect.NewError(connect.CodePermissionDenied, err)
	case errors.Is(err, errRateLimited):
		return connect.NewError(connect.CodeResourceExhausted, err)
	case errors.Is(err, auth.ErrTransportKeyMissing):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, auth.ErrDecrypt),
		errors.Is(err, auth.ErrKeyImport),
		errors.Is(err, auth.ErrEncrypt),
		errors.Is(err, policy.ErrInvalidRole):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, store.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, store.ErrExists):
		return connect.NewError(connect.CodeAlreadyExists, err)
	default:
		slog.Error("internal error", "error", err)
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	}
}

func invalidArgument(msg string) error {
	return connect.NewError(connect.CodeInvalidArgument, errors.New(msg))
}
