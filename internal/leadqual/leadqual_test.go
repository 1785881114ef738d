package leadqual

import (
	"context"
	"testing"
	"time"

	"github.com/chatrelay/convoengine/internal/llmclient"
)

type jsonCompleter struct{ body string }

func (j jsonCompleter) CompleteChat(ctx context.Context, tenant string, messages []llmclient.Message, params llmclient.Params) (string, llmclient.Usage, error) {
	return j.body, llmclient.Usage{}, nil
}

func TestAssessPreGateRejectsShortUtterance(t *testing.T) {
	q := New(jsonCompleter{}, time.Hour)
	r, err := q.Assess(context.Background(), "acme", "hi", 5, "")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if r.Qualified {
		t.Fatalf("expected unqualified, got %+v", r)
	}
}

func TestAssessPreGateRejectsThinHistory(t *testing.T) {
	q := New(jsonCompleter{}, time.Hour)
	r, err := q.Assess(context.Background(), "acme", "I'd like to discuss pricing for our team", 1, "")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if r.Qualified {
		t.Fatalf("expected unqualified due to thin history, got %+v", r)
	}
}

func TestAssessQualifiesAboveThreshold(t *testing.T) {
	q := New(jsonCompleter{body: `{"score": 90, "confidence": 0.9, "reasons": ["budget confirmed", "timeline set"]}`}, time.Hour)
	r, err := q.Assess(context.Background(), "acme", "We have budget approved and want to move forward this quarter", 4, "")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !r.Qualified {
		t.Fatalf("expected qualified, got %+v", r)
	}
}

func TestAssessBelowConfidenceFloorNotQualified(t *testing.T) {
	q := New(jsonCompleter{body: `{"score": 90, "confidence": 0.5, "reasons": ["maybe"]}`}, time.Hour)
	r, err := q.Assess(context.Background(), "acme", "We might have budget at some point next year", 4, "")
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if r.Qualified {
		t.Fatalf("expected unqualified below confidence floor, got %+v", r)
	}
}

func TestDiscoveryCallCooldown(t *testing.T) {
	q := New(jsonCompleter{}, time.Hour)
	now := time.Now()

	if !q.ShouldOfferDiscoveryCall("contact-1", now) {
		t.Fatal("expected first offer to be allowed")
	}
	if q.ShouldOfferDiscoveryCall("contact-1", now.Add(10*time.Minute)) {
		t.Fatal("expected second offer within cooldown to be rejected")
	}
	if !q.ShouldOfferDiscoveryCall("contact-1", now.Add(2*time.Hour)) {
		t.Fatal("expected offer after cooldown to be allowed")
	}
}
