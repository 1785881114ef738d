package campaign

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chatrelay/convoengine/internal/channel"
	"github.com/chatrelay/convoengine/internal/domain"
)

type fakeJobs struct {
	mu        sync.Mutex
	jobs      map[string]*domain.CampaignJob
	cancelled map[string]bool
	results   []*domain.MessageResult
	nextID    int
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]*domain.CampaignJob{}, cancelled: map[string]bool{}}
}

func (f *fakeJobs) Create(ctx context.Context, job *domain.CampaignJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	job.ID = "job" + time.Now().Format("150405") + string(rune('0'+f.nextID))
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobs) Get(ctx context.Context, tenant, id string) (*domain.CampaignJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id], nil
}

func (f *fakeJobs) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.Status = status
	}
	return nil
}

func (f *fakeJobs) IncrementCounters(ctx context.Context, id string, success, failure, skipped int) error {
	return nil
}

func (f *fakeJobs) Cancel(ctx context.Context, tenant, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled[id] = true
	return nil
}

func (f *fakeJobs) IsCancelled(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[id], nil
}

func (f *fakeJobs) RecordResult(ctx context.Context, r *domain.MessageResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return nil
}

func (f *fakeJobs) Finish(ctx context.Context, id string, endedAt time.Time) error { return nil }

func newTestChannel(t *testing.T, handler http.HandlerFunc) *channel.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return channel.New(srv.URL, "token", channel.NewRateLimiter(6000, 360000))
}

func TestLaunchAllSuccessCompletesJob(t *testing.T) {
	jobs := newFakeJobs()
	ch := newTestChannel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/groups" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`{"success":true,"data":{"msgId":"m1","status":"accepted"}}`))
	})
	e := New(jobs, ch, time.Millisecond)

	job, err := e.Launch(context.Background(), "acme", "hello", []string{"15551234567", "15557654321"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != domain.CampaignCompleted {
		t.Fatalf("expected completed, got %v", job.Status)
	}
	if len(jobs.results) != 2 {
		t.Fatalf("expected 2 results recorded, got %d", len(jobs.results))
	}
}

func TestLaunchInvalidRecipientSkippedNotFailed(t *testing.T) {
	jobs := newFakeJobs()
	ch := newTestChannel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/groups" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`{"success":true,"data":{"msgId":"m1","status":"accepted"}}`))
	})
	e := New(jobs, ch, time.Millisecond)

	job, err := e.Launch(context.Background(), "acme", "hello", []string{"15551234567", "bad"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != domain.CampaignPartial {
		t.Fatalf("expected partial (1 success, 1 skipped), got %v", job.Status)
	}
}

func TestLaunchAllFailuresMarksFailed(t *testing.T) {
	jobs := newFakeJobs()
	ch := newTestChannel(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/groups" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[]`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	e := New(jobs, ch, time.Millisecond)

	job, err := e.Launch(context.Background(), "acme", "hello", []string{"15551234567"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != domain.CampaignFailed {
		t.Fatalf("expected failed, got %v", job.Status)
	}
}

func TestLaunchExpandsGroupTargetToMembers(t *testing.T) {
	jobs := newFakeJobs()
	ch := newTestChannel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/groups":
			w.Write([]byte(`[{"id":"grp-1","name":"launch-team","members":["contact-a","15559990001"]}]`))
		case "/contacts":
			w.Write([]byte(`[{"id":"contact-a","name":"Alice","number":"15557770002"}]`))
		default:
			w.Write([]byte(`{"success":true,"data":{"msgId":"m1","status":"accepted"}}`))
		}
	})
	e := New(jobs, ch, time.Millisecond)

	job, err := e.Launch(context.Background(), "acme", "hello", []string{"grp-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(job.Targets) != 2 {
		t.Fatalf("expected group alias expanded to 2 members, got %v", job.Targets)
	}
	if len(jobs.results) != 2 {
		t.Fatalf("expected 2 per-member results recorded, got %d", len(jobs.results))
	}
}

func TestFinalStatusCancelledWhenAllSkipped(t *testing.T) {
	if got := finalStatus(0, 0, 3, 3); got != domain.CampaignCancelled {
		t.Fatalf("expected cancelled, got %v", got)
	}
}
