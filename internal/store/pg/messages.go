package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

// recentHistoryCacheSize bounds the in-memory cache of per-conversation
// recent history. Active conversations are reread on nearly every turn (RAG
// context, personalization, handover classification all call RecentHistory),
// so caching the hot set avoids a repeat DB round trip within the same turn.
const recentHistoryCacheSize = 2048

// MessageStore implements store.MessageStore.
type MessageStore struct {
	db    *sql.DB
	cache *lru.Cache[string, []*domain.Message]
}

func NewMessageStore(db *sql.DB) *MessageStore {
	cache, _ := lru.New[string, []*domain.Message](recentHistoryCacheSize)
	return &MessageStore{db: db, cache: cache}
}

func (s *MessageStore) Insert(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = store.GenNewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.StatusUpdatedAt.IsZero() {
		msg.StatusUpdatedAt = msg.CreatedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, channel_message_id, status,
			created_at, status_updated_at, error_reason)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, nilStr(msg.ChannelMessageID), msg.Status,
		msg.CreatedAt, msg.StatusUpdatedAt, nilStr(msg.ErrorReason),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("pg: insert message: %w", err)
	}
	s.cache.Remove(msg.ConversationID)
	return nil
}

func (s *MessageStore) SeenChannelMessageID(ctx context.Context, conversationID, channelMessageID string) (bool, error) {
	if channelMessageID == "" {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE conversation_id = $1 AND channel_message_id = $2)`,
		conversationID, channelMessageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pg: seen channel message id: %w", err)
	}
	return exists, nil
}

// UpdateStatus applies a monotonic transition, reading the row's current
// status first since Postgres has no built-in lattice-ordering comparison
// (§4.11 invariant, §8 property 2).
func (s *MessageStore) UpdateStatus(ctx context.Context, channelMessageID string, to domain.MessageStatus, errorReason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pg: begin update status: %w", err)
	}
	defer tx.Rollback()

	var current domain.MessageStatus
	var conversationID string
	err = tx.QueryRowContext(ctx, `SELECT status, conversation_id FROM messages WHERE channel_message_id = $1 FOR UPDATE`, channelMessageID).
		Scan(&current, &conversationID)
	if err == sql.ErrNoRows {
		return nil // unknown message, nothing to transition
	}
	if err != nil {
		return fmt.Errorf("pg: read current status: %w", err)
	}

	if !domain.CanTransition(current, to) {
		return nil // non-monotonic transition silently ignored
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE messages SET status = $1, status_updated_at = $2, error_reason = $3 WHERE channel_message_id = $4`,
		to, time.Now(), nilStr(errorReason), channelMessageID)
	if err != nil {
		return fmt.Errorf("pg: update status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.cache.Remove(conversationID)
	return nil
}

// RecentHistory caches the chronological tail it fetches, keyed by
// conversation alone. A cache hit satisfies any request asking for no more
// than what's cached; a request for a longer window falls through to
// Postgres and refreshes the cache with the wider result.
func (s *MessageStore) RecentHistory(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	if cached, ok := s.cache.Get(conversationID); ok && len(cached) >= limit {
		tail := cached[len(cached)-limit:]
		out := make([]*domain.Message, len(tail))
		copy(out, tail)
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, channel_message_id, status, created_at, status_updated_at, error_reason
		 FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("pg: recent history: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		m := &domain.Message{ConversationID: conversationID}
		var channelID, reason *string
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &channelID, &m.Status, &m.CreatedAt, &m.StatusUpdatedAt, &reason); err != nil {
			return nil, fmt.Errorf("pg: scan history row: %w", err)
		}
		m.ChannelMessageID, m.ErrorReason = derefStr(channelID), derefStr(reason)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to chronological order; callers expect oldest-first (§4.10 §4.9).
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	s.cache.Add(conversationID, out)
	return out, nil
}

func (s *MessageStore) CountSince(ctx context.Context, conversationID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1 AND created_at >= $2`, conversationID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pg: count since: %w", err)
	}
	return n, nil
}

// isUniqueViolation detects Postgres's unique_violation SQLSTATE (23505)
// without importing pgconn just for error inspection.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key")
}
