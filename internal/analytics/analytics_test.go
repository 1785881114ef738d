package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	messages []*domain.MessageAnalytics
	perfs    []*domain.PerformanceSample
}

func (f *fakeStore) RecordMessage(ctx context.Context, rec *domain.MessageAnalytics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, rec)
	return nil
}
func (f *fakeStore) UpsertLeadScore(ctx context.Context, score *domain.LeadScore) error { return nil }
func (f *fakeStore) RecordPerformance(ctx context.Context, sample *domain.PerformanceSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perfs = append(f.perfs, sample)
	return nil
}
func (f *fakeStore) OpenOrCreateSession(ctx context.Context, tenant, contactID string, threshold time.Duration, at time.Time) (*domain.AnalyticsSession, error) {
	return &domain.AnalyticsSession{ID: "sess-1", Tenant: tenant, ContactID: contactID}, nil
}
func (f *fakeStore) TouchSession(ctx context.Context, sessionID string, at time.Time, isUserMessage bool) error {
	return nil
}
func (f *fakeStore) UpsertDailyAggregate(ctx context.Context, agg *domain.DailyAggregate) error {
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func TestRecordMessageAnalyticsDrains(t *testing.T) {
	backing := &fakeStore{}
	sink := New(backing, 8)
	defer sink.Close()

	sink.RecordMessageAnalytics(context.Background(), &domain.MessageAnalytics{Tenant: "acme"})

	deadline := time.Now().Add(time.Second)
	for backing.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if backing.count() != 1 {
		t.Fatalf("expected 1 recorded message, got %d", backing.count())
	}
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	backing := &fakeStore{}
	sink := New(backing, 1)
	defer sink.Close()

	// Fill and overflow the queue rapidly before the drain worker can
	// service the first entry, exercising the drop-oldest path.
	for i := 0; i < 50; i++ {
		sink.RecordMessageAnalytics(context.Background(), &domain.MessageAnalytics{Tenant: "acme"})
	}

	deadline := time.Now().Add(time.Second)
	for backing.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if backing.count() == 0 {
		t.Fatal("expected at least one message to be recorded despite overflow")
	}
}
