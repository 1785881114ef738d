// Package analytics is the Analytics Sink (C14, spec.md §4.14): an
// append-only, fire-and-forget recorder. Writes are queued on a bounded
// in-memory channel and drained by a background worker so the hot path
// never blocks on a storage write; on overflow the oldest queued record is
// dropped and the drop is logged.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

const defaultQueueSize = 1024
const sessionInactivityThreshold = 60 * time.Minute

type record struct {
	kind string
	msg  *domain.MessageAnalytics
	perf *domain.PerformanceSample
	lead *domain.LeadScore
}

// Sink is the Analytics Sink (C14).
type Sink struct {
	store store.AnalyticsStore
	queue chan record

	mu      sync.Mutex
	dropped int

	wg   sync.WaitGroup
	stop chan struct{}
}

// New builds a Sink and starts its drain worker. Call Close to stop it.
func New(backing store.AnalyticsStore, queueSize int) *Sink {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	s := &Sink{
		store: backing,
		queue: make(chan record, queueSize),
		stop:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

func (s *Sink) enqueue(r record) {
	select {
	case s.queue <- r:
	default:
		// Overflow: drop the oldest to make room rather than block the
		// caller, per §4.14.
		select {
		case <-s.queue:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			slog.Warn("analytics.queue_overflow_dropped_oldest")
		default:
		}
		select {
		case s.queue <- r:
		default:
			slog.Warn("analytics.queue_overflow_dropped_incoming")
		}
	}
}

// RecordMessageAnalytics implements rag.Sink.
func (s *Sink) RecordMessageAnalytics(ctx context.Context, rec *domain.MessageAnalytics) {
	rec.CreatedAt = time.Now()
	s.enqueue(record{kind: "message", msg: rec})
}

// RecordPerformance implements rag.Sink.
func (s *Sink) RecordPerformance(ctx context.Context, sample *domain.PerformanceSample) {
	sample.CreatedAt = time.Now()
	s.enqueue(record{kind: "perf", perf: sample})
}

// RecordLeadScore upserts a lead score asynchronously.
func (s *Sink) RecordLeadScore(ctx context.Context, score *domain.LeadScore) {
	score.CalculatedAt = time.Now()
	s.enqueue(record{kind: "lead", lead: score})
}

// TouchSession opens or touches the contact's analytics session window,
// synchronously: session bookkeeping drives journey-window reporting and
// is cheap enough not to need the async path.
func (s *Sink) TouchSession(ctx context.Context, tenant, contactID string, isUserMessage bool) (*domain.AnalyticsSession, error) {
	now := time.Now()
	session, err := s.store.OpenOrCreateSession(ctx, tenant, contactID, sessionInactivityThreshold, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.TouchSession(ctx, session.ID, now, isUserMessage); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Sink) drain() {
	defer s.wg.Done()
	for {
		select {
		case r := <-s.queue:
			s.write(r)
		case <-s.stop:
			// Drain whatever remains before exiting.
			for {
				select {
				case r := <-s.queue:
					s.write(r)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) write(r record) {
	ctx := context.Background()
	var err error
	switch r.kind {
	case "message":
		err = s.store.RecordMessage(ctx, r.msg)
	case "perf":
		err = s.store.RecordPerformance(ctx, r.perf)
	case "lead":
		err = s.store.UpsertLeadScore(ctx, r.lead)
	}
	if err != nil {
		slog.Error("analytics.write_failed", "kind", r.kind, "error", err)
	}
}

// Dropped returns the number of records dropped to queue overflow so far.
func (s *Sink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops the drain worker after flushing whatever is already queued.
func (s *Sink) Close() {
	close(s.stop)
	s.wg.Wait()
}

// AggregateDay computes and upserts the idempotent daily rollup for date
// (YYYY-MM-DD) from the counts the caller has accumulated; this just
// performs the upsert (§4.14). Nothing in this module schedules a daily
// run or scans messages/sessions to compute those counts.
func (s *Sink) AggregateDay(ctx context.Context, tenant, date string, messageCount, sessionCount int, conversionRate float64, journeyDist, aiPathMix map[string]int) error {
	return s.store.UpsertDailyAggregate(ctx, &domain.DailyAggregate{
		Tenant:              tenant,
		Date:                date,
		MessageCount:        messageCount,
		SessionCount:        sessionCount,
		ConversionRate:      conversionRate,
		JourneyDistribution: journeyDist,
		AIPathMix:           aiPathMix,
		ComputedAt:          time.Now(),
	})
}
