// Package handover is the Handover Classifier (C7, spec.md §4.7): decides
// whether an inbound utterance needs a human agent, LLM-first with a
// keyword fallback.
package handover

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/chatrelay/convoengine/internal/llmclient"
)

// Completer is the subset of llmclient.Client the classifier needs.
type Completer interface {
	CompleteChat(ctx context.Context, tenant string, messages []llmclient.Message, params llmclient.Params) (string, llmclient.Usage, error)
}

const systemPrompt = `You classify whether a customer message requires a human agent.
Respond with JSON only, no prose: {"requiresHuman": bool, "reason": string, "confidence": number between 0 and 1}.`

// explicitHandoverPhrases ask for a human outright.
var explicitHandoverPhrases = []string{
	"speak to a human", "real person", "human agent", "talk to someone",
	"speak with a person", "connect me with a human",
}

// complaintPhrases signal frustration likely needing de-escalation by a
// person.
var complaintPhrases = []string{
	"frustrated", "cancel my", "this is ridiculous", "terrible service",
	"want a refund", "unacceptable",
}

// Result is the classifier's verdict.
type Result struct {
	RequiresHuman bool
	Reason        string
	Confidence    float64
}

type llmVerdict struct {
	RequiresHuman bool    `json:"requiresHuman"`
	Reason        string  `json:"reason"`
	Confidence    float64 `json:"confidence"`
}

// Classifier is the Handover Classifier (C7).
type Classifier struct {
	llm Completer
}

func New(llm Completer) *Classifier {
	return &Classifier{llm: llm}
}

// Classify runs the LLM classifier, falling back to a keyword scan on any
// LLM failure or malformed response (§4.7).
func (c *Classifier) Classify(ctx context.Context, tenant, utterance, contextSummary string) Result {
	if c.llm != nil {
		if r, ok := c.classifyLLM(ctx, tenant, utterance, contextSummary); ok {
			return r
		}
	}
	return classifyKeywords(utterance)
}

func (c *Classifier) classifyLLM(ctx context.Context, tenant, utterance, contextSummary string) (Result, bool) {
	messages := []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: systemPrompt},
		{Role: llmclient.RoleUser, Content: "Conversation context: " + contextSummary + "\n\nMessage: " + utterance},
	}
	text, _, err := c.llm.CompleteChat(ctx, tenant, messages, llmclient.Params{
		Model:       "classifier-default",
		MaxTokens:   200,
		Temperature: 0,
	})
	if err != nil {
		return Result{}, false
	}

	var v llmVerdict
	if err := json.Unmarshal([]byte(extractJSON(text)), &v); err != nil {
		return Result{}, false
	}
	return Result{RequiresHuman: v.RequiresHuman, Reason: v.Reason, Confidence: v.Confidence}, true
}

// classifyKeywords is the deterministic fallback of §4.7.
func classifyKeywords(utterance string) Result {
	lower := strings.ToLower(utterance)
	for _, p := range explicitHandoverPhrases {
		if strings.Contains(lower, p) {
			return Result{RequiresHuman: true, Reason: "explicit request for human agent", Confidence: 0.9}
		}
	}
	for _, p := range complaintPhrases {
		if strings.Contains(lower, p) {
			return Result{RequiresHuman: true, Reason: "complaint signal", Confidence: 0.7}
		}
	}
	return Result{RequiresHuman: false, Reason: "no handover signal detected", Confidence: 0.8}
}

// extractJSON trims any leading/trailing prose a model might still emit
// around the JSON object, taking the outermost {...} span.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
