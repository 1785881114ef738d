package rag

import (
	"context"
	"testing"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/knowledge"
	"github.com/chatrelay/convoengine/internal/llmclient"
	"github.com/chatrelay/convoengine/internal/personalize"
	"github.com/chatrelay/convoengine/internal/store"
)

func TestAnalyzeIntentPricingTriggersDiscoveryOffer(t *testing.T) {
	intents, offer := AnalyzeIntent("What's your pricing for a team of 50?")
	if !offer {
		t.Fatal("expected discovery call offer")
	}
	found := false
	for _, i := range intents {
		if i == IntentPricing {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected pricing intent, got %v", intents)
	}
}

type staticCompleter struct {
	text string
	err  error
}

func (s staticCompleter) CompleteChat(ctx context.Context, tenant string, messages []llmclient.Message, params llmclient.Params) (string, llmclient.Usage, error) {
	if s.err != nil {
		return "", llmclient.Usage{}, s.err
	}
	return s.text, llmclient.Usage{PromptTokens: 10, CompletionTokens: 20}, nil
}

type staticSearcher struct {
	docs []store.ScoredDocument
	err  error
}

func (s staticSearcher) Search(ctx context.Context, tenant, query string, opts knowledge.SearchOptions) ([]store.ScoredDocument, error) {
	return s.docs, s.err
}

func TestGenerateUsesRAGWhenDocsFound(t *testing.T) {
	docs := []store.ScoredDocument{
		{Doc: &domain.KnowledgeDocument{Title: "Pricing", Content: "Our starter plan is $99/mo."}, Score: 0.8},
	}
	h := New(staticCompleter{text: "Our starter plan covers what you need."}, staticSearcher{docs: docs}, "model-x", "", nil)

	contact := domain.NewContact("acme", "15551234567")
	reply, err := h.Generate(context.Background(), Request{
		Tenant:   "acme",
		Contact:  contact,
		Strategy: personalize.Plan(contact),
		Utterance: "how much does it cost",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !reply.UsedRAG {
		t.Fatal("expected RAG path to be used")
	}
	if reply.DocsUsed != 1 {
		t.Fatalf("expected 1 doc used, got %d", reply.DocsUsed)
	}
}

func TestGenerateFallsBackToNoRAGWhenNoDocsFound(t *testing.T) {
	h := New(staticCompleter{text: "Happy to help generally."}, staticSearcher{}, "model-x", "", nil)

	contact := domain.NewContact("acme", "15551234567")
	reply, err := h.Generate(context.Background(), Request{
		Tenant:    "acme",
		Contact:   contact,
		Strategy:  personalize.Plan(contact),
		Utterance: "tell me about your company",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply.UsedRAG {
		t.Fatal("expected no-RAG fallback path")
	}
	if reply.Text == "" {
		t.Fatal("expected non-empty reply")
	}
}

type alwaysFailCompleter struct{}

func (alwaysFailCompleter) CompleteChat(ctx context.Context, tenant string, messages []llmclient.Message, params llmclient.Params) (string, llmclient.Usage, error) {
	return "", llmclient.Usage{}, context.DeadlineExceeded
}

func TestGenerateDegradesGracefullyOnTotalFailure(t *testing.T) {
	h := New(alwaysFailCompleter{}, staticSearcher{}, "model-x", "", nil)
	contact := domain.NewContact("acme", "15551234567")

	reply, err := h.Generate(context.Background(), Request{
		Tenant:    "acme",
		Contact:   contact,
		Strategy:  personalize.Plan(contact),
		Utterance: "hello",
	})
	if err != nil {
		t.Fatalf("Generate should not return an error on degradation: %v", err)
	}
	if reply.Text != degradationReply {
		t.Fatalf("expected degradation reply, got %q", reply.Text)
	}
}

func TestAppendDiscoveryCallCTA(t *testing.T) {
	h := New(staticCompleter{}, staticSearcher{}, "model-x", "https://calendly.example/discovery", nil)
	out := h.AppendDiscoveryCallCTA("Let's talk.", personalize.CTAScheduleCall)
	if !contains(out, "calendly.example") {
		t.Fatalf("expected CTA link appended, got %q", out)
	}
	// Second call should not duplicate the link.
	out2 := h.AppendDiscoveryCallCTA(out, personalize.CTAScheduleCall)
	if out2 != out {
		t.Fatalf("expected no duplicate CTA, got %q", out2)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
