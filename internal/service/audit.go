package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

type AuditEvent string

const (
	AuditLoginSuccess     AuditEvent = "login_success"
	AuditLoginFailure     AuditEvent = "login_failure"
	AuditLoginRateLimited AuditEvent = "login_rate_limited"
	AuditApiLogin         AuditEvent = "api_login"
	AuditTokenIssued      AuditEvent = "token_issued"
	AuditTokenRotated     AuditEvent = "token_rotated"
	AuditTokenRevoked     AuditEvent = "token_revoked"
	AuditLogout           AuditEvent = "logout"
)

// auditLogger writes security events as structured log records, each with
// its own ULID so entries can be referenced from elsewhere.
type auditLogger struct {
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func newAuditLogger(logger *slog.Logger, metrics *Metrics, now func() time.Time) *auditLogger {
	return &auditLogger{
		logger:  logger.With("component", "audit"),
		metrics: metrics,
		now:     now,
	}
}

// log records event and returns its id. Secrets never go into attrs.
// Calls that passed the bearer interceptor also name the caller.
func (a *auditLogger) log(ctx context.Context, event AuditEvent, peer string, attrs ...slog.Attr) string {
	eventID := ulid.Make().String()
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("event_id", eventID),
		slog.String("remote_addr", peer),
		slog.String("timestamp", a.now().UTC().Format(time.RFC3339)),
	}
	if c, ok := ClaimsFrom(ctx); ok {
		base = append(base,
			slog.String("caller_user_id", c.UserID.String()),
			slog.String("caller_access_id", c.AccessID.String()),
		)
	}
	a.logger.LogAttrs(ctx, slog.LevelInfo, "audit", append(base, attrs...)...)
	a.metrics.recordAudit(event)
	return eventID
}
