// Package extraction is the Extraction Agent (C5, spec.md §4.5):
// LLM-based structured-field extraction from an inbound utterance, with a
// deterministic regex/lexicon fallback when the LLM call fails.
package extraction

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/chatrelay/convoengine/internal/llmclient"
)

// Completer is the subset of llmclient.Client the extractor needs.
type Completer interface {
	CompleteChat(ctx context.Context, tenant string, messages []llmclient.Message, params llmclient.Params) (string, llmclient.Usage, error)
}

// Field is one of the extractable contact attributes (§4.5).
type Field string

const (
	FieldName                Field = "name"
	FieldEmail               Field = "email"
	FieldCompany             Field = "company"
	FieldPosition            Field = "position"
	FieldIndustryFocus       Field = "industryFocus"
	FieldCompanySize         Field = "companySize"
	FieldTechnicalLevel      Field = "technicalLevel"
	FieldResponseUrgency     Field = "responseUrgency"
	FieldBudgetRange         Field = "budgetRange"
	FieldTimeline            Field = "timeline"
	FieldCurrentTools        Field = "currentTools"
	FieldPainPointsMentioned Field = "painPointsMentioned"
	FieldGoalsExpressed      Field = "goalsExpressed"
	FieldDecisionMaker       Field = "decisionMaker"
)

// Confidence distinguishes an explicit LLM/regex match from a heuristic
// guess, so the fallback never clobbers a higher-confidence existing value
// (§4.5).
type Confidence int

const (
	ConfidenceHeuristic Confidence = iota
	ConfidenceExplicit
)

// Value pairs an extracted value with how confidently it was extracted.
type Value struct {
	Raw        any
	Confidence Confidence
}

const systemPrompt = `Extract only explicitly present fields from the customer message below.
Return JSON with only the fields that are explicitly stated; omit anything not mentioned, do not guess.
Fields: name, email, company, position, industryFocus, companySize, technicalLevel, responseUrgency, budgetRange, timeline, currentTools (list), painPointsMentioned (list), goalsExpressed (list), decisionMaker (bool).`

var knownTechnicalLevels = map[string]bool{
	"non_technical": true, "business_user": true, "technical": true, "developer": true, "executive": true,
}
var knownUrgencies = map[string]bool{"low": true, "medium": true, "high": true}

// Extractor is the Extraction Agent (C5).
type Extractor struct {
	llm Completer
}

func New(llm Completer) *Extractor {
	return &Extractor{llm: llm}
}

// Extract returns a map of explicitly-present fields for utterance. On LLM
// failure, falls back to the deterministic extractor.
func (e *Extractor) Extract(ctx context.Context, tenant, utterance string) map[Field]Value {
	if e.llm != nil {
		if fields, ok := e.extractLLM(ctx, tenant, utterance); ok {
			return fields
		}
	}
	return extractFallback(utterance)
}

func (e *Extractor) extractLLM(ctx context.Context, tenant, utterance string) (map[Field]Value, bool) {
	messages := []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: systemPrompt},
		{Role: llmclient.RoleUser, Content: utterance},
	}
	text, _, err := e.llm.CompleteChat(ctx, tenant, messages, llmclient.Params{
		Model:       "extractor-default",
		MaxTokens:   400,
		Temperature: 0,
	})
	if err != nil {
		return nil, false
	}

	var raw map[string]any
	if jerr := json.Unmarshal([]byte(extractJSON(text)), &raw); jerr != nil {
		return nil, false
	}
	return validate(raw), true
}

// validate applies §4.5's normalization rules: trimmed strings, lowercased
// email, title-cased name/company/position, enum restriction, list
// coercion.
func validate(raw map[string]any) map[Field]Value {
	out := make(map[Field]Value, len(raw))
	for k, v := range raw {
		field := Field(k)
		switch field {
		case FieldName, FieldCompany, FieldPosition:
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				out[field] = Value{Raw: titleCase(strings.TrimSpace(s)), Confidence: ConfidenceExplicit}
			}
		case FieldEmail:
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				out[field] = Value{Raw: strings.ToLower(strings.TrimSpace(s)), Confidence: ConfidenceExplicit}
			}
		case FieldTechnicalLevel:
			if s, ok := v.(string); ok && knownTechnicalLevels[s] {
				out[field] = Value{Raw: s, Confidence: ConfidenceExplicit}
			}
		case FieldResponseUrgency:
			if s, ok := v.(string); ok && knownUrgencies[s] {
				out[field] = Value{Raw: s, Confidence: ConfidenceExplicit}
			}
		case FieldCurrentTools, FieldPainPointsMentioned, FieldGoalsExpressed:
			out[field] = Value{Raw: coerceList(v), Confidence: ConfidenceExplicit}
		case FieldDecisionMaker:
			if b, ok := v.(bool); ok {
				out[field] = Value{Raw: b, Confidence: ConfidenceExplicit}
			}
		case FieldIndustryFocus, FieldCompanySize, FieldBudgetRange, FieldTimeline:
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				out[field] = Value{Raw: strings.TrimSpace(s), Confidence: ConfidenceExplicit}
			}
		}
	}
	return out
}

func coerceList(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []string{strings.TrimSpace(t)}
	default:
		return nil
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		if len(r) > 0 {
			r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
var companyPattern = regexp.MustCompile(`(?i)(?:i work at|i'm with|we're|at|from)\s+([A-Z][\w&.\- ]{1,40})`)

var industryLexicon = map[string]string{
	"healthcare": "healthcare", "fintech": "finance", "finance": "finance",
	"e-commerce": "ecommerce", "ecommerce": "ecommerce", "retail": "retail",
	"manufacturing": "manufacturing", "logistics": "logistics", "education": "education",
}

var toolLexicon = []string{"slack", "salesforce", "hubspot", "zendesk", "jira", "notion", "shopify"}
var painPointLexicon = []string{"too slow", "too expensive", "hard to use", "not scalable", "poor support", "lacks integration"}

// extractFallback is the deterministic extractor of §4.5: email regex,
// company-phrase regex, and keyword-driven industry/tool/pain-point lists.
// It does not extract a name. Every value it returns is
// heuristic confidence, so it never wins against an existing explicit value
// (the caller enforces that rule via Confidence).
func extractFallback(utterance string) map[Field]Value {
	out := make(map[Field]Value)
	lower := strings.ToLower(utterance)

	if m := emailPattern.FindString(utterance); m != "" {
		out[FieldEmail] = Value{Raw: strings.ToLower(m), Confidence: ConfidenceHeuristic}
	}
	if m := companyPattern.FindStringSubmatch(utterance); len(m) == 2 {
		out[FieldCompany] = Value{Raw: titleCase(strings.TrimSpace(m[1])), Confidence: ConfidenceHeuristic}
	}
	for kw, industry := range industryLexicon {
		if strings.Contains(lower, kw) {
			out[FieldIndustryFocus] = Value{Raw: industry, Confidence: ConfidenceHeuristic}
			break
		}
	}

	var tools []string
	for _, t := range toolLexicon {
		if strings.Contains(lower, t) {
			tools = append(tools, t)
		}
	}
	if len(tools) > 0 {
		out[FieldCurrentTools] = Value{Raw: tools, Confidence: ConfidenceHeuristic}
	}

	var pains []string
	for _, p := range painPointLexicon {
		if strings.Contains(lower, p) {
			pains = append(pains, p)
		}
	}
	if len(pains) > 0 {
		out[FieldPainPointsMentioned] = Value{Raw: pains, Confidence: ConfidenceHeuristic}
	}

	return out
}

// ShouldOverwrite reports whether newVal may replace an existing non-null
// field value: only when the new value has strictly higher confidence, or
// the field is currently unset (§4.5).
func ShouldOverwrite(hasExisting bool, existing, newVal Confidence) bool {
	if !hasExisting {
		return true
	}
	return newVal > existing
}

func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
