package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

// ScheduledMessageStore implements store.ScheduledMessageStore.
type ScheduledMessageStore struct {
	db *sql.DB
}

func NewScheduledMessageStore(db *sql.DB) *ScheduledMessageStore { return &ScheduledMessageStore{db: db} }

func (s *ScheduledMessageStore) Create(ctx context.Context, msg *domain.ScheduledMessage) error {
	if msg.ID == "" {
		msg.ID = store.GenNewID()
	}
	if msg.Status == "" {
		msg.Status = domain.ScheduleStatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_messages (id, tenant, message_content, message_type, media_url, target_groups,
			scheduled_at, status, recurring_pattern, recurring_interval, metadata)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		msg.ID, msg.Tenant, msg.MessageContent, nilStr(msg.MessageType), nilStr(msg.MediaURL), jsonOrEmpty(msg.TargetGroups),
		msg.ScheduledAt, msg.Status, nilStr(string(msg.RecurringPattern)), msg.RecurringInterval, jsonOrEmpty(msg.Metadata),
	)
	if err != nil {
		return fmt.Errorf("pg: create scheduled message: %w", err)
	}
	return nil
}

// DuePending selects due rows FOR UPDATE SKIP LOCKED. The query runs outside
// a transaction, so those row locks are released as soon as it returns and
// do not keep two replicas from claiming the same row; the scheduler's
// advisory lock (§4.12 single-replica note) is what does that.
func (s *ScheduledMessageStore) DuePending(ctx context.Context, now time.Time) ([]*domain.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant, message_content, message_type, media_url, target_groups, scheduled_at, status,
			recurring_pattern, recurring_interval, next_send_at, last_sent_at, total_sent, total_failed, metadata
		 FROM scheduled_messages
		 WHERE status = $1 AND (scheduled_at <= $2 OR (next_send_at IS NOT NULL AND next_send_at <= $2))
		 FOR UPDATE SKIP LOCKED`, domain.ScheduleStatusPending, now)
	if err != nil {
		return nil, fmt.Errorf("pg: due pending: %w", err)
	}
	defer rows.Close()

	var out []*domain.ScheduledMessage
	for rows.Next() {
		m := &domain.ScheduledMessage{}
		var messageType, mediaURL, recurring *string
		var targetGroups, metadata []byte
		var nextSendAt, lastSentAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.Tenant, &m.MessageContent, &messageType, &mediaURL, &targetGroups, &m.ScheduledAt, &m.Status,
			&recurring, &m.RecurringInterval, &nextSendAt, &lastSentAt, &m.TotalSent, &m.TotalFailed, &metadata); err != nil {
			return nil, fmt.Errorf("pg: scan due scheduled message: %w", err)
		}
		m.MessageType, m.MediaURL = derefStr(messageType), derefStr(mediaURL)
		m.RecurringPattern = domain.RecurringPattern(derefStr(recurring))
		m.NextSendAt, m.LastSentAt = derefTime(nextSendAt), derefTime(lastSentAt)
		scanJSON(targetGroups, &m.TargetGroups)
		m.Metadata = map[string]string{}
		scanJSON(metadata, &m.Metadata)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ScheduledMessageStore) MarkProcessing(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_messages SET status = $1 WHERE id = $2`, domain.ScheduleStatusProcessing, id)
	return err
}

func (s *ScheduledMessageStore) Complete(ctx context.Context, id string, successCount, failureCount int, nextSendAt *time.Time) error {
	status := domain.ScheduleStatusSent
	if successCount == 0 && failureCount > 0 {
		status = domain.ScheduleStatusFailed
	}
	if nextSendAt != nil {
		status = domain.ScheduleStatusPending
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages SET status = $1, total_sent = total_sent + $2, total_failed = total_failed + $3,
			last_sent_at = $4, next_send_at = $5 WHERE id = $6`,
		status, successCount, failureCount, now, nilTime(nextSendAt), id)
	return err
}

func (s *ScheduledMessageStore) Cancel(ctx context.Context, tenant, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages SET status = $1 WHERE tenant = $2 AND id = $3`, domain.ScheduleStatusCancelled, tenant, id)
	return err
}

func (s *ScheduledMessageStore) RecordResult(ctx context.Context, r *domain.MessageResult) error {
	return insertMessageResult(ctx, s.db, r)
}

// insertMessageResult is shared between ScheduledMessageStore and
// CampaignStore since both own MessageResult rows in the same table (§3).
func insertMessageResult(ctx context.Context, db *sql.DB, r *domain.MessageResult) error {
	if r.ID == "" {
		r.ID = store.GenNewID()
	}
	if r.SentAt.IsZero() {
		r.SentAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO message_results (id, owner_id, owner_kind, target, status, error_reason, sent_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.OwnerID, r.OwnerKind, r.Target, r.Status, nilStr(r.ErrorReason), r.SentAt,
	)
	if err != nil {
		return fmt.Errorf("pg: insert message result: %w", err)
	}
	return nil
}
