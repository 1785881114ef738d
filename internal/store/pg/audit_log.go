package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

// AuditLogStore implements store.AuditLogStore.
type AuditLogStore struct {
	db *sql.DB
}

func NewAuditLogStore(db *sql.DB) *AuditLogStore { return &AuditLogStore{db: db} }

func (s *AuditLogStore) Append(ctx context.Context, entry *domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = store.GenNewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, tenant, action, target, detail, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		entry.ID, entry.Tenant, entry.Action, entry.Target, entry.Detail, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg: append audit log: %w", err)
	}
	return nil
}
