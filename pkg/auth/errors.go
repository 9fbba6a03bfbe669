package auth

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/nhirsama/rmcs-client/pkg/rpc"
)

// Cryptographic failures. Fatal to the current handshake attempt.
var (
	ErrKeyGeneration = errors.New("auth: key generation failed")
	ErrKeyImport     = errors.New("auth: invalid public key")
	ErrEncrypt       = errors.New("auth: encryption failed")
	ErrDecrypt       = errors.New("auth: decryption failed")
)

// Failures reported by the remote service.
var (
	ErrUnauthenticated  = errors.New("auth: unauthenticated")
	ErrPermissionDenied = errors.New("auth: permission denied")
	ErrNotFound         = errors.New("auth: not found")
	ErrInvalidArgument  = errors.New("auth: invalid argument")
	ErrProtocol         = errors.New("auth: protocol error")
	ErrRateLimited      = errors.New("auth: rate limited")
	ErrTransport        = errors.New("auth: transport failure")
)

// ErrTransportKeyMissing is returned server-side when a login arrives
// without a live transport key for its principal.
var ErrTransportKeyMissing = errors.New("auth: transport key missing or expired")

// NotFoundError names the missing resource when the server provided it.
type NotFoundError struct {
	Resource string
	Key      string
	Err      error
}

func (e *NotFoundError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%v: %v", ErrNotFound, e.Err)
	}
	return fmt.Sprintf("%v: %s %s", ErrNotFound, e.Resource, e.Key)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// FromRPC classifies an error returned by a connect call. The original
// error stays in the chain, so connect.CodeOf keeps working.
func FromRPC(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	var ce *connect.Error
	if !errors.As(err, &ce) {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	switch ce.Code() {
	case connect.CodeUnauthenticated:
		return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	case connect.CodePermissionDenied:
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case connect.CodeNotFound:
		resource, key, _ := rpc.NotFoundDetail(err)
		return &NotFoundError{Resource: resource, Key: key, Err: err}
	case connect.CodeInvalidArgument:
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case connect.CodeFailedPrecondition:
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	case connect.CodeResourceExhausted:
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	default:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}
