package handover

import (
	"context"
	"testing"

	"github.com/chatrelay/convoengine/internal/llmclient"
)

type failingCompleter struct{}

func (failingCompleter) CompleteChat(ctx context.Context, tenant string, messages []llmclient.Message, params llmclient.Params) (string, llmclient.Usage, error) {
	return "", llmclient.Usage{}, context.DeadlineExceeded
}

func TestClassifyFallsBackOnLLMError(t *testing.T) {
	c := New(failingCompleter{})
	r := c.Classify(context.Background(), "acme", "I want to speak to a human please", "")
	if !r.RequiresHuman || r.Confidence != 0.9 {
		t.Fatalf("expected explicit handover match, got %+v", r)
	}
}

func TestClassifyKeywordsComplaint(t *testing.T) {
	r := classifyKeywords("I'm so frustrated with this, cancel my account")
	if !r.RequiresHuman || r.Confidence != 0.7 {
		t.Fatalf("expected complaint match, got %+v", r)
	}
}

func TestClassifyKeywordsDefault(t *testing.T) {
	r := classifyKeywords("what are your business hours")
	if r.RequiresHuman {
		t.Fatalf("expected no handover, got %+v", r)
	}
	if r.Confidence != 0.8 {
		t.Fatalf("expected default confidence 0.8, got %v", r.Confidence)
	}
}

type jsonCompleter struct{ body string }

func (j jsonCompleter) CompleteChat(ctx context.Context, tenant string, messages []llmclient.Message, params llmclient.Params) (string, llmclient.Usage, error) {
	return j.body, llmclient.Usage{}, nil
}

func TestClassifyLLMSuccess(t *testing.T) {
	c := New(jsonCompleter{body: `{"requiresHuman": true, "reason": "billing dispute", "confidence": 0.75}`})
	r := c.Classify(context.Background(), "acme", "I was charged twice", "")
	if !r.RequiresHuman || r.Reason != "billing dispute" || r.Confidence != 0.75 {
		t.Fatalf("unexpected result: %+v", r)
	}
}
