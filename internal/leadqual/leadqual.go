// Package leadqual is the Lead Qualifier (C8, spec.md §4.8): a pre-gated
// LLM evaluation of whether an inbound conversation qualifies as a sales
// lead, plus a cooldown-gated discovery-call offer.
package leadqual

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/chatrelay/convoengine/internal/llmclient"
)

// Completer is the subset of llmclient.Client the qualifier needs.
type Completer interface {
	CompleteChat(ctx context.Context, tenant string, messages []llmclient.Message, params llmclient.Params) (string, llmclient.Usage, error)
}

const systemPrompt = `You evaluate whether a customer conversation qualifies as a sales-ready lead.
Respond with JSON only: {"score": number 0-100, "confidence": number 0-1, "reasons": [string]}.`

const minUtteranceLen = 5
const minHistoryMessages = 3
const qualifyScoreFloor = 80
const qualifyConfidenceFloor = 0.85

var trivialGreetings = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true, "hiya": true,
	"good morning": true, "good afternoon": true, "good evening": true,
}

// Result is the qualifier's verdict.
type Result struct {
	Qualified  bool
	Score      int
	Confidence float64
	Reasons    []string
}

type llmVerdict struct {
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// Qualifier is the Lead Qualifier (C8).
type Qualifier struct {
	llm Completer

	mu       sync.Mutex
	lastOffer map[string]time.Time // contactID -> last discovery-call offer time
	cooldown  time.Duration
}

func New(llm Completer, cooldown time.Duration) *Qualifier {
	if cooldown <= 0 {
		cooldown = 24 * time.Hour
	}
	return &Qualifier{
		llm:       llm,
		lastOffer: make(map[string]time.Time),
		cooldown:  cooldown,
	}
}

// preGate reports whether the conversation is even worth an LLM call (§4.8).
func preGate(utterance string, historyCount int) bool {
	trimmed := strings.TrimSpace(utterance)
	if len(trimmed) < minUtteranceLen {
		return false
	}
	if trivialGreetings[strings.ToLower(trimmed)] {
		return false
	}
	return historyCount >= minHistoryMessages
}

// Assess evaluates whether the conversation qualifies as a lead. If the
// pre-gate rejects the utterance, it returns an unqualified zero-confidence
// result without calling the LLM.
func (q *Qualifier) Assess(ctx context.Context, tenant string, utterance string, historyCount int, contextSummary string) (Result, error) {
	if !preGate(utterance, historyCount) {
		return Result{Reasons: []string{"pre-gate: insufficient signal"}}, nil
	}

	messages := []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: systemPrompt},
		{Role: llmclient.RoleUser, Content: "Conversation context: " + contextSummary + "\n\nLatest message: " + utterance},
	}
	text, _, err := q.llm.CompleteChat(ctx, tenant, messages, llmclient.Params{
		Model:       "classifier-default",
		MaxTokens:   300,
		Temperature: 0,
	})
	if err != nil {
		return Result{}, err
	}

	var v llmVerdict
	if jerr := json.Unmarshal([]byte(extractJSON(text)), &v); jerr != nil {
		return Result{}, jerr
	}

	score := int(v.Score)
	qualified := float64(score) >= qualifyScoreFloor && v.Confidence >= qualifyConfidenceFloor
	return Result{
		Qualified:  qualified,
		Score:      score,
		Confidence: v.Confidence,
		Reasons:    v.Reasons,
	}, nil
}

// ShouldOfferDiscoveryCall reports whether contactID is eligible for a
// discovery-call offer right now, respecting the cooldown. It records the
// offer time as a side effect when it returns true, so two concurrent
// callers never both decide to offer within the same cooldown window.
func (q *Qualifier) ShouldOfferDiscoveryCall(contactID string, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if last, ok := q.lastOffer[contactID]; ok && now.Sub(last) < q.cooldown {
		return false
	}
	q.lastOffer[contactID] = now
	return true
}

func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
