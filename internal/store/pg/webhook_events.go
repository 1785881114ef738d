package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

// WebhookEventStore implements store.WebhookEventStore, the append-only
// inbound-event audit trail (§4.11).
type WebhookEventStore struct {
	db *sql.DB
}

func NewWebhookEventStore(db *sql.DB) *WebhookEventStore { return &WebhookEventStore{db: db} }

func (s *WebhookEventStore) Append(ctx context.Context, evt *domain.WebhookEvent) error {
	if evt.ID == "" {
		evt.ID = store.GenNewID()
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (id, tenant, kind, payload, received_at, processing_status)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		evt.ID, evt.Tenant, evt.Kind, evt.Payload, evt.ReceivedAt, evt.ProcessingStatus,
	)
	if err != nil {
		return fmt.Errorf("pg: append webhook event: %w", err)
	}
	return nil
}
