package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

// AnalyticsStore implements store.AnalyticsStore (§4.14).
type AnalyticsStore struct {
	db *sql.DB
}

func NewAnalyticsStore(db *sql.DB) *AnalyticsStore { return &AnalyticsStore{db: db} }

func (s *AnalyticsStore) RecordMessage(ctx context.Context, rec *domain.MessageAnalytics) error {
	if rec.ID == "" {
		rec.ID = store.GenNewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	var sentiment any
	if rec.Sentiment != nil {
		sentiment = *rec.Sentiment
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_analytics (id, tenant, message_id, role, length, handler_kind, rag_docs, rag_latency_ms,
			personalization_level, response_strategy, communication_style, intents, business_category, urgency_level,
			latency_ms, tokens, cost_estimate, sentiment, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		rec.ID, rec.Tenant, rec.MessageID, rec.Role, rec.Length, rec.HandlerKind, rec.RAGDocs, rec.RAGLatencyMs,
		nilStr(rec.PersonalizationLevel), nilStr(rec.ResponseStrategy), nilStr(rec.CommunicationStyle), jsonOrEmpty(rec.Intents),
		nilStr(rec.BusinessCategory), nilStr(rec.UrgencyLevel), rec.LatencyMs, rec.Tokens, rec.CostEstimate, sentiment, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg: record message analytics: %w", err)
	}
	return nil
}

func (s *AnalyticsStore) UpsertLeadScore(ctx context.Context, score *domain.LeadScore) error {
	score.CalculatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_scores (tenant, contact_id, overall, engagement, intent, fit, timing, behavior_snapshot, calculated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (tenant, contact_id) DO UPDATE SET
			overall = EXCLUDED.overall, engagement = EXCLUDED.engagement, intent = EXCLUDED.intent,
			fit = EXCLUDED.fit, timing = EXCLUDED.timing, behavior_snapshot = EXCLUDED.behavior_snapshot,
			calculated_at = EXCLUDED.calculated_at`,
		score.Tenant, score.ContactID, score.Overall, score.Engagement, score.Intent, score.Fit, score.Timing,
		jsonOrEmpty(score.BehaviorSnapshot), score.CalculatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg: upsert lead score: %w", err)
	}
	return nil
}

func (s *AnalyticsStore) RecordPerformance(ctx context.Context, sample *domain.PerformanceSample) error {
	if sample.ID == "" {
		sample.ID = store.GenNewID()
	}
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO performance_samples (id, tenant, endpoint, op, latency_ms, status, model, tokens, cost, error_reason, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		sample.ID, sample.Tenant, sample.Endpoint, sample.Op, sample.LatencyMs, sample.Status,
		nilStr(sample.Model), sample.Tokens, sample.Cost, nilStr(sample.ErrorReason), sample.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg: record performance sample: %w", err)
	}
	return nil
}

// OpenOrCreateSession implements the §4.14 session-windowing rule: a new
// session opens when the gap since the contact's last activity exceeds
// inactivityThreshold, otherwise the existing open session is returned.
func (s *AnalyticsStore) OpenOrCreateSession(ctx context.Context, tenant, contactID string, inactivityThreshold time.Duration, at time.Time) (*domain.AnalyticsSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pg: begin open session: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, started_at, last_activity_at, journey_start, journey_end, message_count, user_message_count,
			lead_score, engagement_score, flags
		 FROM analytics_sessions WHERE tenant = $1 AND contact_id = $2 ORDER BY last_activity_at DESC LIMIT 1`,
		tenant, contactID)

	var sess domain.AnalyticsSession
	var flags []byte
	err = row.Scan(&sess.ID, &sess.StartedAt, &sess.LastActivityAt, &sess.JourneyStart, &sess.JourneyEnd,
		&sess.MessageCount, &sess.UserMessageCount, &sess.LeadScore, &sess.EngagementScore, &flags)

	if err == nil && at.Sub(sess.LastActivityAt) <= inactivityThreshold {
		scanJSON(flags, &sess.Flags)
		sess.Tenant, sess.ContactID = tenant, contactID
		return &sess, tx.Commit()
	}
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("pg: scan analytics session: %w", err)
	}

	fresh := domain.AnalyticsSession{
		ID: store.GenNewID(), Tenant: tenant, ContactID: contactID,
		StartedAt: at, LastActivityAt: at, Flags: []string{},
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO analytics_sessions (id, tenant, contact_id, started_at, last_activity_at, journey_start,
			journey_end, message_count, user_message_count, lead_score, engagement_score, flags)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,0,0,0,0,'[]'::jsonb)`,
		fresh.ID, fresh.Tenant, fresh.ContactID, fresh.StartedAt, fresh.LastActivityAt, fresh.JourneyStart, fresh.JourneyEnd,
	)
	if err != nil {
		return nil, fmt.Errorf("pg: insert analytics session: %w", err)
	}
	return &fresh, tx.Commit()
}

func (s *AnalyticsStore) TouchSession(ctx context.Context, sessionID string, at time.Time, isUserMessage bool) error {
	inc := 0
	if isUserMessage {
		inc = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE analytics_sessions SET last_activity_at = $1, message_count = message_count + 1,
			user_message_count = user_message_count + $2 WHERE id = $3`,
		at, inc, sessionID)
	return err
}

func (s *AnalyticsStore) UpsertDailyAggregate(ctx context.Context, agg *domain.DailyAggregate) error {
	agg.ComputedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_aggregates (tenant, date, message_count, session_count, conversion_rate,
			journey_distribution, ai_path_mix, computed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (tenant, date) DO UPDATE SET
			message_count = EXCLUDED.message_count, session_count = EXCLUDED.session_count,
			conversion_rate = EXCLUDED.conversion_rate, journey_distribution = EXCLUDED.journey_distribution,
			ai_path_mix = EXCLUDED.ai_path_mix, computed_at = EXCLUDED.computed_at`,
		agg.Tenant, agg.Date, agg.MessageCount, agg.SessionCount, agg.ConversionRate,
		jsonOrEmpty(agg.JourneyDistribution), jsonOrEmpty(agg.AIPathMix), agg.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("pg: upsert daily aggregate: %w", err)
	}
	return nil
}
