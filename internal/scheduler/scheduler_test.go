package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chatrelay/convoengine/internal/channel"
	"github.com/chatrelay/convoengine/internal/config"
	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

type fakeScheduled struct {
	mu        sync.Mutex
	due       []*domain.ScheduledMessage
	processing map[string]bool
	results   []*domain.MessageResult
	completed map[string]bool
}

func newFakeScheduled(due ...*domain.ScheduledMessage) *fakeScheduled {
	return &fakeScheduled{due: due, processing: map[string]bool{}, completed: map[string]bool{}}
}

func (f *fakeScheduled) Create(ctx context.Context, msg *domain.ScheduledMessage) error { return nil }

func (f *fakeScheduled) DuePending(ctx context.Context, now time.Time) ([]*domain.ScheduledMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.due, nil
}

func (f *fakeScheduled) MarkProcessing(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing[id] = true
	return nil
}

func (f *fakeScheduled) Complete(ctx context.Context, id string, successCount, failureCount int, nextSendAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = true
	return nil
}

func (f *fakeScheduled) Cancel(ctx context.Context, tenant, id string) error { return nil }

func (f *fakeScheduled) RecordResult(ctx context.Context, r *domain.MessageResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return nil
}

type fakeConversations struct {
	mu        sync.Mutex
	convs     []*domain.Conversation
	botEnabled map[string]bool
	resolved  map[string]string
	sentTags  map[string]bool
}

func newFakeConversations(convs ...*domain.Conversation) *fakeConversations {
	return &fakeConversations{convs: convs, botEnabled: map[string]bool{}, resolved: map[string]string{}, sentTags: map[string]bool{}}
}

func (f *fakeConversations) GetOrCreate(ctx context.Context, tenant, contactID string) (*domain.Conversation, error) {
	return domain.NewConversation(tenant, contactID), nil
}
func (f *fakeConversations) Get(ctx context.Context, tenant, contactID string) (*domain.Conversation, error) {
	return domain.NewConversation(tenant, contactID), nil
}
func (f *fakeConversations) SetBotEnabled(ctx context.Context, id string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.botEnabled[id] = enabled
	return nil
}
func (f *fakeConversations) SetHandover(ctx context.Context, id string, requested bool, at time.Time) error {
	return nil
}
func (f *fakeConversations) ResolveHandover(ctx context.Context, id string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved[id] = reason
	return nil
}
func (f *fakeConversations) CompareAndSetUpdateSent(ctx context.Context, id string, stageTag string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := id + ":" + stageTag
	if f.sentTags[key] {
		return false, nil
	}
	f.sentTags[key] = true
	return true, nil
}
func (f *fakeConversations) TouchLastMessage(ctx context.Context, id string, at time.Time) error { return nil }
func (f *fakeConversations) ListForRescue(ctx context.Context) ([]*domain.Conversation, error) {
	return f.convs, nil
}

type fakeContacts struct{}

func (f *fakeContacts) GetOrCreate(ctx context.Context, tenant, phone string) (*domain.Contact, error) {
	c := domain.NewContact(tenant, phone)
	c.ID = phone
	return c, nil
}
func (f *fakeContacts) Get(ctx context.Context, tenant, phone string) (*domain.Contact, error) {
	c := domain.NewContact(tenant, phone)
	c.ID = phone
	return c, nil
}
func (f *fakeContacts) Update(ctx context.Context, tenant, phone string, fields store.ContactFields) (*domain.Contact, error) {
	return nil, nil
}

type noopLock struct{}

func (noopLock) TryAcquire(ctx context.Context, name string) (bool, error) { return true, nil }
func (noopLock) Release(ctx context.Context, name string) error           { return nil }

func newTestChannel(t *testing.T) *channel.Client {
	t.Helper()
	return newTestChannelWithGroups(t, nil)
}

// newTestChannelWithGroups serves groups/contacts from the given fixtures
// (JSON-encoded already) so tests can exercise campaign.ResolveTargets'
// group-alias expansion; groups and contacts default to empty lists.
func newTestChannelWithGroups(t *testing.T, groupsJSON []byte) *channel.Client {
	t.Helper()
	if groupsJSON == nil {
		groupsJSON = []byte(`[]`)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/groups":
			w.Write(groupsJSON)
		case "/contacts":
			w.Write([]byte(`[{"id":"contact-a","name":"Alice","number":"15557770002"}]`))
		default:
			w.Write([]byte(`{"success":true,"data":{"msgId":"m1","status":"accepted"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return channel.New(srv.URL, "token", channel.NewRateLimiter(100, 1000))
}

func TestRunScheduledMessagesSendsAndCompletes(t *testing.T) {
	msg := &domain.ScheduledMessage{ID: "sched1", Tenant: "acme", TargetGroups: []string{"15551234567"}, MessageContent: "hello"}
	sched := newFakeScheduled(msg)
	ch := newTestChannel(t)
	w := New(sched, newFakeConversations(), &fakeContacts{}, ch, config.SchedulerConfig{}, noopLock{})

	w.RunScheduledMessages(context.Background(), time.Now())

	if !sched.processing["sched1"] {
		t.Fatal("expected MarkProcessing to be called")
	}
	if !sched.completed["sched1"] {
		t.Fatal("expected Complete to be called")
	}
	if len(sched.results) != 1 || sched.results[0].Status != domain.ResultSuccess {
		t.Fatalf("expected one success result, got %+v", sched.results)
	}
}

func TestRunScheduledMessagesExpandsGroupTarget(t *testing.T) {
	msg := &domain.ScheduledMessage{ID: "sched1", Tenant: "acme", TargetGroups: []string{"grp-1"}, MessageContent: "hello"}
	sched := newFakeScheduled(msg)
	ch := newTestChannelWithGroups(t, []byte(`[{"id":"grp-1","name":"launch-team","members":["contact-a","15559990001"]}]`))
	w := New(sched, newFakeConversations(), &fakeContacts{}, ch, config.SchedulerConfig{}, noopLock{})

	w.RunScheduledMessages(context.Background(), time.Now())

	if len(sched.results) != 2 {
		t.Fatalf("expected group alias expanded to 2 per-member results, got %+v", sched.results)
	}
}

func TestCronEveryDerivesFromConfiguredInterval(t *testing.T) {
	if got := cronEvery(0, "* * * * *"); got != "* * * * *" {
		t.Fatalf("expected fallback for unset interval, got %q", got)
	}
	if got := cronEvery(5*time.Minute, "* * * * *"); got != "*/5 * * * *" {
		t.Fatalf("expected */5 cron for a 5-minute interval, got %q", got)
	}
	w := New(newFakeScheduled(), newFakeConversations(), &fakeContacts{}, newTestChannel(t),
		config.SchedulerConfig{ScheduledInterval: 5 * time.Minute, RescueInterval: 10 * time.Minute}, noopLock{})
	if w.scheduledCron != "*/5 * * * *" {
		t.Fatalf("expected Worker to wire ScheduledInterval into its cron, got %q", w.scheduledCron)
	}
	if w.rescueCron != "*/10 * * * *" {
		t.Fatalf("expected Worker to wire RescueInterval into its cron, got %q", w.rescueCron)
	}
}

func TestNextSendAtRecurrence(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := nextSendAt(base, domain.RecurringDaily, 2); !got.Equal(base.AddDate(0, 0, 2)) {
		t.Fatalf("daily: got %v", got)
	}
	if got := nextSendAt(base, domain.RecurringWeekly, 1); !got.Equal(base.AddDate(0, 0, 7)) {
		t.Fatalf("weekly: got %v", got)
	}
	if got := nextSendAt(base, domain.RecurringMonthly, 1); !got.Equal(base.AddDate(0, 1, 0)) {
		t.Fatalf("monthly: got %v", got)
	}
}

func TestRescueStageSentOnceThenReenabledAtTimeout(t *testing.T) {
	handoverAt := time.Now().Add(-50 * time.Minute)
	conv := domain.NewConversation("acme", "15551234567")
	conv.ID = "conv1"
	conv.HandoverTimestamp = &handoverAt

	convs := newFakeConversations(conv)
	sched := newFakeScheduled()
	ch := newTestChannel(t)
	cfg := config.SchedulerConfig{
		RescueAfter: 60 * time.Minute,
		RescueStages: []config.RescueStage{
			{After: 10 * time.Minute, Tag: "10m", Message: "checking in"},
			{After: 30 * time.Minute, Tag: "30m", Message: "still checking in"},
		},
	}
	w := New(sched, convs, &fakeContacts{}, ch, cfg, noopLock{})

	w.RunHandoverRescue(context.Background(), time.Now())

	if !convs.sentTags["conv1:10m"] || !convs.sentTags["conv1:30m"] {
		t.Fatalf("expected both elapsed stage tags recorded, got %+v", convs.sentTags)
	}
	if convs.resolved["conv1"] != "" {
		t.Fatal("expected handover not yet resolved before RescueAfter elapses")
	}

	// Now push past RescueAfter.
	handoverAt2 := time.Now().Add(-90 * time.Minute)
	conv.HandoverTimestamp = &handoverAt2
	w.RunHandoverRescue(context.Background(), time.Now())

	if convs.resolved["conv1"] != "timeout-auto-rescue" {
		t.Fatalf("expected timeout-auto-rescue resolution, got %q", convs.resolved["conv1"])
	}
	if !convs.botEnabled["conv1"] {
		t.Fatal("expected bot re-enabled after rescue timeout")
	}
}

func TestRescueStageNotResentOnSecondPoll(t *testing.T) {
	handoverAt := time.Now().Add(-15 * time.Minute)
	conv := domain.NewConversation("acme", "15551234567")
	conv.ID = "conv1"
	conv.HandoverTimestamp = &handoverAt

	convs := newFakeConversations(conv)
	sched := newFakeScheduled()
	ch := newTestChannel(t)
	cfg := config.SchedulerConfig{
		RescueAfter:  60 * time.Minute,
		RescueStages: []config.RescueStage{{After: 10 * time.Minute, Tag: "10m", Message: "checking in"}},
	}
	w := New(sched, convs, &fakeContacts{}, ch, cfg, noopLock{})

	w.RunHandoverRescue(context.Background(), time.Now())
	w.RunHandoverRescue(context.Background(), time.Now())

	if len(convs.sentTags) != 1 {
		t.Fatalf("expected stage tag recorded exactly once, got %+v", convs.sentTags)
	}
}
