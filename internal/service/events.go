package service

import (
	"time"

	"github.com/nhirsama/rmcs-client/pkg/id"
)

// TokenEvent is published whenever a token is issued, rotated or revoked.
// It never carries token strings.
type TokenEvent struct {
	Event    AuditEvent `json:"event"`
	AccessID id.ID      `json:"access_id"`
	UserID   id.ID      `json:"user_id"`
	ApiID    id.ID      `json:"api_id,omitzero"`
	At       time.Time  `json:"at"`
}

// Publisher fans token events out to subscribers. Publish must not block.
type Publisher interface {
	Publish(TokenEvent)
}

type discard struct{}

func (discard) Publish(TokenEvent) {}
