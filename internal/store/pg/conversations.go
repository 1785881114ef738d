package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

// ConversationStore implements store.ConversationStore.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore { return &ConversationStore{db: db} }

func (s *ConversationStore) GetOrCreate(ctx context.Context, tenant, contactID string) (*domain.Conversation, error) {
	if c, err := s.Get(ctx, tenant, contactID); err == nil {
		return c, nil
	} else if err != store.ErrNotFound {
		return nil, err
	}

	c := domain.NewConversation(tenant, contactID)
	c.ID = store.GenNewID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, tenant, contact_id, bot_enabled, handover_updates_sent, last_message_at)
		 VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (tenant, contact_id) DO NOTHING`,
		c.ID, c.Tenant, c.ContactID, c.BotEnabled, jsonOrEmpty(c.HandoverUpdatesSent), c.LastMessageAt,
	)
	if err != nil {
		return nil, fmt.Errorf("pg: insert conversation: %w", err)
	}
	return s.Get(ctx, tenant, contactID)
}

func (s *ConversationStore) Get(ctx context.Context, tenant, contactID string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, bot_enabled, handover_requested, handover_timestamp, handover_updates_sent,
			handover_resolved_at, handover_resolution_reason, last_message_at
		 FROM conversations WHERE tenant = $1 AND contact_id = $2`, tenant, contactID)

	var c domain.Conversation
	c.Tenant, c.ContactID = tenant, contactID
	var handoverAt, resolvedAt sql.NullTime
	var reason *string
	var updatesSent []byte

	err := row.Scan(&c.ID, &c.BotEnabled, &c.HandoverRequested, &handoverAt, &updatesSent, &resolvedAt, &reason, &c.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: scan conversation: %w", err)
	}

	c.HandoverTimestamp = derefTime(handoverAt)
	c.HandoverResolvedAt = derefTime(resolvedAt)
	c.HandoverResolutionReason = derefStr(reason)
	c.HandoverUpdatesSent = map[string]time.Time{}
	scanJSON(updatesSent, &c.HandoverUpdatesSent)
	return &c, nil
}

func (s *ConversationStore) SetBotEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET bot_enabled = $1 WHERE id = $2`, enabled, id)
	return err
}

func (s *ConversationStore) SetHandover(ctx context.Context, id string, requested bool, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET handover_requested = $1, handover_timestamp = $2, bot_enabled = false,
			handover_updates_sent = '{}'::jsonb, handover_resolved_at = NULL, handover_resolution_reason = NULL
		 WHERE id = $3`, requested, at, id)
	return err
}

func (s *ConversationStore) ResolveHandover(ctx context.Context, id string, reason string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET handover_requested = false, handover_resolved_at = $1,
			handover_resolution_reason = $2, handover_updates_sent = '{}'::jsonb
		 WHERE id = $3`, now, reason, id)
	return err
}

// CompareAndSetUpdateSent uses a jsonb key check inside the UPDATE's WHERE
// clause so two workers racing on the same conversation can't both win the
// same stage tag (§8 property 6): the second writer's row count is 0.
func (s *ConversationStore) CompareAndSetUpdateSent(ctx context.Context, id string, stageTag string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET handover_updates_sent = jsonb_set(handover_updates_sent, $1, to_jsonb($2::timestamptz))
		 WHERE id = $3 AND NOT (handover_updates_sent ? $4)`,
		pgTextPathArray(stageTag), at, id, stageTag)
	if err != nil {
		return false, fmt.Errorf("pg: compare and set update sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// pgTextPathArray renders a single jsonb_set path element as the unquoted
// '{key}' text array literal Postgres expects; the key is not escaped.
func pgTextPathArray(key string) string {
	return "{" + key + "}"
}

func (s *ConversationStore) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET last_message_at = $1 WHERE id = $2`, at, id)
	return err
}

func (s *ConversationStore) ListForRescue(ctx context.Context) ([]*domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant, contact_id, bot_enabled, handover_requested, handover_timestamp,
			handover_updates_sent, handover_resolved_at, handover_resolution_reason, last_message_at
		 FROM conversations WHERE handover_requested = true AND handover_resolved_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("pg: list for rescue: %w", err)
	}
	defer rows.Close()

	var out []*domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		var handoverAt, resolvedAt sql.NullTime
		var reason *string
		var updatesSent []byte
		if err := rows.Scan(&c.ID, &c.Tenant, &c.ContactID, &c.BotEnabled, &c.HandoverRequested, &handoverAt,
			&updatesSent, &resolvedAt, &reason, &c.LastMessageAt); err != nil {
			return nil, fmt.Errorf("pg: scan rescue row: %w", err)
		}
		c.HandoverTimestamp = derefTime(handoverAt)
		c.HandoverResolvedAt = derefTime(resolvedAt)
		c.HandoverResolutionReason = derefStr(reason)
		c.HandoverUpdatesSent = map[string]time.Time{}
		scanJSON(updatesSent, &c.HandoverUpdatesSent)
		out = append(out, &c)
	}
	return out, rows.Err()
}
