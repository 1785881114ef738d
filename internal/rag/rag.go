// Package rag is the RAG Planner + AI Handler (C9, spec.md §4.9): intent
// detection, document retrieval, prompt assembly, and reply generation for
// one inbound utterance.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/knowledge"
	"github.com/chatrelay/convoengine/internal/llmclient"
	"github.com/chatrelay/convoengine/internal/personalize"
	"github.com/chatrelay/convoengine/internal/store"
	"github.com/chatrelay/convoengine/internal/telemetry"
)

var tracer = telemetry.Tracer("convoengine/rag")

// Intent is one of the fixed lexicon entries §4.9 step 1 detects.
type Intent string

const (
	IntentPricing            Intent = "pricing"
	IntentServices           Intent = "services"
	IntentTechnical          Intent = "technical"
	IntentCompany            Intent = "company"
	IntentSupport            Intent = "support"
	IntentDiscoveryCall      Intent = "discovery_call"
	IntentLeadQualification  Intent = "lead_qualification"
	IntentIndustrySpecific   Intent = "industry_specific"
)

var intentLexicon = map[Intent][]string{
	IntentPricing:           {"price", "pricing", "cost", "how much", "budget"},
	IntentServices:          {"service", "offer", "what do you do", "solutions"},
	IntentTechnical:         {"api", "integration", "technical", "architecture", "sdk"},
	IntentCompany:           {"who are you", "about your company", "company"},
	IntentSupport:           {"help", "issue", "problem", "not working", "broken"},
	IntentDiscoveryCall:     {"discovery call", "schedule a call", "book a call", "demo"},
	IntentLeadQualification: {"enterprise", "team of", "inquiries", "volume", "scale"},
	IntentIndustrySpecific:  {"healthcare", "fintech", "retail", "manufacturing", "logistics"},
}

// AnalyzeIntent detects the intents present in utterance and whether a
// discovery-call offer should be considered.
func AnalyzeIntent(utterance string) (intents []Intent, shouldOfferDiscoveryCall bool) {
	lower := strings.ToLower(utterance)
	for intent, keywords := range intentLexicon {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				intents = append(intents, intent)
				break
			}
		}
	}
	for _, i := range intents {
		if i == IntentPricing || i == IntentDiscoveryCall || i == IntentLeadQualification {
			shouldOfferDiscoveryCall = true
			break
		}
	}
	return intents, shouldOfferDiscoveryCall
}

const (
	maxRAGDocs        = 3
	maxDocContentChars = 1200
	retrievalK        = 5
)

// historyWindow maps personalization level to how many prior messages are
// included in the prompt (§4.9 step 5).
var historyWindow = map[personalize.PersonalizationLevel]int{
	personalize.LevelBasic:        5,
	personalize.LevelContextual:   8,
	personalize.LevelRelationship: 12,
	personalize.LevelClosing:      15,
}

// modelParamsByStyle maps communication style to sampling parameters (§4.9 step 6).
var modelParamsByStyle = map[personalize.CommunicationStyle]llmclient.Params{
	personalize.StyleTechnical:      {MaxTokens: 1000, Temperature: 0.5},
	personalize.StyleBusiness:       {MaxTokens: 900, Temperature: 0.6},
	personalize.StyleConversational: {MaxTokens: 1200, Temperature: 0.8},
	personalize.StyleFormal:         {MaxTokens: 800, Temperature: 0.5},
}

const degradationReply = "Thanks for reaching out — we're experiencing a brief hiccup on our end. A teammate will follow up with you shortly."

var fabricationFlagWords = []string{"guaranteed", "lowest price in the industry", "100% roi", "unlimited free"}

// Completer is the subset of llmclient.Client the handler needs.
type Completer interface {
	CompleteChat(ctx context.Context, tenant string, messages []llmclient.Message, params llmclient.Params) (string, llmclient.Usage, error)
}

// Searcher is the subset of knowledge.Store the handler needs.
type Searcher interface {
	Search(ctx context.Context, tenant, query string, opts knowledge.SearchOptions) ([]store.ScoredDocument, error)
}

// Handler is the RAG Planner + AI Handler (C9).
type Handler struct {
	llm              Completer
	docs             Searcher
	model            string
	discoveryCallURL string
	analytics        Sink
}

// Sink receives the analytics records the handler emits per reply (§4.9
// step 8, §4.14). Kept narrow so tests don't need a full analytics.Sink.
type Sink interface {
	RecordMessageAnalytics(ctx context.Context, rec *domain.MessageAnalytics)
	RecordPerformance(ctx context.Context, sample *domain.PerformanceSample)
}

func New(llm Completer, docs Searcher, model, discoveryCallURL string, analytics Sink) *Handler {
	return &Handler{llm: llm, docs: docs, model: model, discoveryCallURL: discoveryCallURL, analytics: analytics}
}

// Request bundles the inputs to Generate.
type Request struct {
	Tenant          string
	Contact         *domain.Contact
	Strategy        personalize.Strategy
	History         []*domain.Message // most recent last
	Utterance       string
	UnresolvedQuestions []string
	FirstContact    bool
}

// Reply is the generated assistant text plus the telemetry the caller
// persists.
type Reply struct {
	Text        string
	UsedRAG     bool
	DocsUsed    int
	RAGLatency  time.Duration
	TotalLatency time.Duration
	Tokens      llmclient.Usage
}

// Generate runs the full C9 pipeline for one inbound utterance.
func (h *Handler) Generate(ctx context.Context, req Request) (Reply, error) {
	ctx, span := tracer.Start(ctx, "rag.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("tenant", req.Tenant))

	start := time.Now()
	intents, shouldOfferDiscoveryCall := AnalyzeIntent(req.Utterance)

	text, usedRAG, docsUsed, ragLatency, usage, err := h.generateWithFallback(ctx, req, shouldOfferDiscoveryCall)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.recordPerformance(ctx, "error")
		return Reply{Text: degradationReply, TotalLatency: time.Since(start)}, nil
	}

	text = postProcess(text, req)
	span.SetAttributes(
		attribute.Bool("used_rag", usedRAG),
		attribute.Int("docs_used", docsUsed),
		attribute.Int("tokens_total", usage.PromptTokens+usage.CompletionTokens),
	)

	h.recordAnalytics(ctx, req, intents, usedRAG, docsUsed, ragLatency, usage, time.Since(start))
	return Reply{
		Text:         text,
		UsedRAG:      usedRAG,
		DocsUsed:     docsUsed,
		RAGLatency:   ragLatency,
		TotalLatency: time.Since(start),
		Tokens:       usage,
	}, nil
}

func (h *Handler) generateWithFallback(ctx context.Context, req Request, shouldOfferDiscoveryCall bool) (string, bool, int, time.Duration, llmclient.Usage, error) {
	text, used, docs, latency, usage, err := h.tryRAG(ctx, req, shouldOfferDiscoveryCall)
	if err == nil {
		return text, used, docs, latency, usage, nil
	}
	slog.Warn("rag.path_failed", "tenant", req.Tenant, "error", err)

	text, usage, err2 := h.tryNoRAG(ctx, req, shouldOfferDiscoveryCall)
	if err2 == nil {
		return text, false, 0, 0, usage, nil
	}
	slog.Error("rag.fallback_failed", "tenant", req.Tenant, "error", err2)
	return "", false, 0, 0, llmclient.Usage{}, fmt.Errorf("rag: all paths failed: %w", err2)
}

func (h *Handler) tryRAG(ctx context.Context, req Request, shouldOfferDiscoveryCall bool) (string, bool, int, time.Duration, llmclient.Usage, error) {
	ragStart := time.Now()
	query := enrichedQuery(req.Utterance, req.Contact)

	docs, err := h.docs.Search(ctx, req.Tenant, query, knowledge.SearchOptions{
		LeadStatus: req.Contact.LeadStatus,
		K:          retrievalK,
	})
	ragLatency := time.Since(ragStart)
	if err != nil {
		return "", false, 0, ragLatency, llmclient.Usage{}, err
	}
	if len(docs) == 0 {
		return "", false, 0, ragLatency, llmclient.Usage{}, fmt.Errorf("rag: no documents retrieved")
	}
	if len(docs) > maxRAGDocs {
		docs = docs[:maxRAGDocs]
	}

	system := buildRAGPrompt(docs, req.Contact)
	text, usage, err := h.complete(ctx, req, system, shouldOfferDiscoveryCall)
	if err != nil {
		return "", false, 0, ragLatency, llmclient.Usage{}, err
	}
	return text, true, len(docs), ragLatency, usage, nil
}

func (h *Handler) tryNoRAG(ctx context.Context, req Request, shouldOfferDiscoveryCall bool) (string, llmclient.Usage, error) {
	system := buildFallbackPrompt(req.Contact)
	return h.complete(ctx, req, system, shouldOfferDiscoveryCall)
}

func (h *Handler) complete(ctx context.Context, req Request, system string, shouldOfferDiscoveryCall bool) (string, llmclient.Usage, error) {
	if shouldOfferDiscoveryCall {
		system += "\n\nIf appropriate, invite the customer to book a discovery call."
	}
	if len(req.UnresolvedQuestions) > 0 {
		system += "\n\nUnresolved questions from earlier in this conversation: " + strings.Join(req.UnresolvedQuestions, "; ")
	}

	n := historyWindow[req.Strategy.PersonalizationLevel]
	if n == 0 {
		n = 5
	}
	messages := []llmclient.Message{{Role: llmclient.RoleSystem, Content: system}}
	messages = append(messages, lastNAsMessages(req.History, n)...)
	messages = append(messages, llmclient.Message{Role: llmclient.RoleUser, Content: req.Utterance})

	params := modelParamsByStyle[req.Strategy.CommunicationStyle]
	if params.MaxTokens == 0 {
		params = llmclient.Params{MaxTokens: 900, Temperature: 0.6}
	}
	params.Model = h.model

	return h.llm.CompleteChat(ctx, req.Tenant, messages, params)
}

func lastNAsMessages(history []*domain.Message, n int) []llmclient.Message {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]llmclient.Message, 0, len(history))
	for _, m := range history {
		role := llmclient.RoleUser
		if m.Role == domain.RoleAssistant {
			role = llmclient.RoleAssistant
		}
		out = append(out, llmclient.Message{Role: role, Content: m.Content})
	}
	return out
}

// enrichedQuery appends industry and company-size hints (§4.9 step 2).
func enrichedQuery(utterance string, c *domain.Contact) string {
	q := utterance
	if c.IndustryFocus != "" {
		q += " industry:" + c.IndustryFocus
	}
	if c.CompanySize != "" {
		q += " company_size:" + c.CompanySize
	}
	return q
}

func buildRAGPrompt(docs []store.ScoredDocument, c *domain.Contact) string {
	var b strings.Builder
	b.WriteString("You are a helpful sales and support assistant. Base your answer on the retrieved documents below; if they don't cover the question, acknowledge that instead of fabricating an answer.\n\n")
	for i, d := range docs {
		content := d.Doc.Content
		if len(content) > maxDocContentChars {
			content = content[:maxDocContentChars]
		}
		fmt.Fprintf(&b, "Document %d (%s):\n%s\n\n", i+1, d.Doc.Title, content)
	}
	fmt.Fprintf(&b, "Customer: journeyStage=%s, leadStatus=%s, technicalLevel=%s\n", c.JourneyStage, c.LeadStatus, c.TechnicalLevel)
	return b.String()
}

func buildFallbackPrompt(c *domain.Contact) string {
	var b strings.Builder
	b.WriteString("You are a helpful sales and support assistant. No matching documents were found; answer from general product knowledge without inventing specific pricing or feature claims.\n\n")
	fmt.Fprintf(&b, "Customer: journeyStage=%s, leadStatus=%s, technicalLevel=%s, industry=%s\n", c.JourneyStage, c.LeadStatus, c.TechnicalLevel, c.IndustryFocus)
	return b.String()
}

// postProcess implements §4.9 step 7's name prefix: it prefixes the
// contact's name on first contact. It does not add the discovery-call CTA
// link; AppendDiscoveryCallCTA does that.
func postProcess(text string, req Request) string {
	if req.FirstContact && req.Contact.Name != "" && !strings.Contains(text, req.Contact.Name) {
		text = req.Contact.Name + ", " + lowerFirst(text)
	}
	return text
}

// AppendDiscoveryCallCTA appends the configured booking link if ctaType
// calls for it and the link is not already present in text.
func (h *Handler) AppendDiscoveryCallCTA(text string, ctaType personalize.CTAType) string {
	if ctaType != personalize.CTAScheduleCall || h.discoveryCallURL == "" {
		return text
	}
	if strings.Contains(text, h.discoveryCallURL) {
		return text
	}
	return text + "\n\nYou can book a discovery call here: " + h.discoveryCallURL
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = []rune(strings.ToLower(string(r[0])))[0]
	return string(r)
}

func (h *Handler) recordAnalytics(ctx context.Context, req Request, intents []Intent, usedRAG bool, docsUsed int, ragLatency time.Duration, usage llmclient.Usage, total time.Duration) {
	if h.analytics == nil {
		return
	}
	intentStrs := make([]string, len(intents))
	for i, in := range intents {
		intentStrs[i] = string(in)
	}
	h.analytics.RecordMessageAnalytics(ctx, &domain.MessageAnalytics{
		Role:                 domain.RoleAssistant,
		PersonalizationLevel: string(req.Strategy.PersonalizationLevel),
		ResponseStrategy:     string(req.Strategy.ResponseStrategy),
		CommunicationStyle:   string(req.Strategy.CommunicationStyle),
		Intents:              intentStrs,
		RAGDocs:              docsUsed,
		RAGLatencyMs:         int(ragLatency.Milliseconds()),
		LatencyMs:            int(total.Milliseconds()),
		Tokens:               usage.PromptTokens + usage.CompletionTokens,
	})
	h.recordPerformance(ctx, "ok")
}

func (h *Handler) recordPerformance(ctx context.Context, status string) {
	if h.analytics == nil {
		return
	}
	h.analytics.RecordPerformance(ctx, &domain.PerformanceSample{
		Endpoint: "rag.generate",
		Op:       "complete_chat",
		Status:   status,
	})
}

// ContainsFabrication reports whether text contains a fabrication-flag
// phrase (§8 property 10).
func ContainsFabrication(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range fabricationFlagWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
