package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

// CampaignStore implements store.CampaignStore.
type CampaignStore struct {
	db *sql.DB
}

func NewCampaignStore(db *sql.DB) *CampaignStore { return &CampaignStore{db: db} }

func (s *CampaignStore) Create(ctx context.Context, job *domain.CampaignJob) error {
	if job.ID == "" {
		job.ID = store.GenNewID()
	}
	if job.Status == "" {
		job.Status = domain.CampaignPending
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaign_jobs (id, tenant, message, targets, status, started_at, cancel_requested)
		 VALUES ($1,$2,$3,$4,$5,$6,false)`,
		job.ID, job.Tenant, job.Message, jsonOrEmpty(job.Targets), job.Status, job.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("pg: create campaign job: %w", err)
	}
	return nil
}

func (s *CampaignStore) Get(ctx context.Context, tenant, id string) (*domain.CampaignJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT message, targets, status, success_count, failure_count, skipped_count, started_at, ended_at
		 FROM campaign_jobs WHERE tenant = $1 AND id = $2`, tenant, id)

	job := &domain.CampaignJob{ID: id, Tenant: tenant}
	var targets []byte
	var endedAt sql.NullTime
	err := row.Scan(&job.Message, &targets, &job.Status, &job.SuccessCount, &job.FailureCount, &job.SkippedCount, &job.StartedAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: scan campaign job: %w", err)
	}
	scanJSON(targets, &job.Targets)
	job.EndedAt = derefTime(endedAt)
	return job, nil
}

func (s *CampaignStore) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE campaign_jobs SET status = $1 WHERE id = $2`, status, id)
	return err
}

func (s *CampaignStore) IncrementCounters(ctx context.Context, id string, success, failure, skipped int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_jobs SET success_count = success_count + $1, failure_count = failure_count + $2,
			skipped_count = skipped_count + $3 WHERE id = $4`,
		success, failure, skipped, id)
	return err
}

func (s *CampaignStore) Cancel(ctx context.Context, tenant, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_jobs SET cancel_requested = true WHERE tenant = $1 AND id = $2`, tenant, id)
	return err
}

func (s *CampaignStore) IsCancelled(ctx context.Context, id string) (bool, error) {
	var cancelled bool
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM campaign_jobs WHERE id = $1`, id).Scan(&cancelled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pg: is cancelled: %w", err)
	}
	return cancelled, nil
}

func (s *CampaignStore) RecordResult(ctx context.Context, r *domain.MessageResult) error {
	return insertMessageResult(ctx, s.db, r)
}

func (s *CampaignStore) Finish(ctx context.Context, id string, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE campaign_jobs SET ended_at = $1 WHERE id = $2`, endedAt, id)
	return err
}
