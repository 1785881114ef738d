package domain

import "time"

// AnalyticsSession tracks one conversational session window. A new session
// opens when the gap since the contact's last activity exceeds the
// inactivity threshold (§4.14, default 60 minutes).
type AnalyticsSession struct {
	ID               string
	Tenant           string
	ContactID        string
	StartedAt        time.Time
	LastActivityAt   time.Time
	JourneyStart     JourneyStage
	JourneyEnd       JourneyStage
	MessageCount     int
	UserMessageCount int
	LeadScore        float64
	EngagementScore  float64
	Flags            []string
}

// MessageAnalytics is one record per assistant reply, capturing the
// RAG/personalization decisions and latency/cost for that turn.
//
// Sentiment is declared but deliberately left unpopulated: the original
// system carries the field without assigning it semantics, and spec.md §9
// says not to invent any.
type MessageAnalytics struct {
	ID                   string
	Tenant               string
	MessageID            string
	Role                 MessageRole
	Length               int
	HandlerKind          string // "rag" | "fallback" | "degraded"
	RAGDocs              int
	RAGLatencyMs         int
	PersonalizationLevel string
	ResponseStrategy     string
	CommunicationStyle   string
	Intents              []string
	BusinessCategory     string
	UrgencyLevel         string
	LatencyMs            int
	Tokens               int
	CostEstimate         float64
	Sentiment            *float64
	CreatedAt            time.Time
}

// LeadScore is upserted by contact; CalculatedAt marks the last write.
type LeadScore struct {
	Tenant          string
	ContactID       string
	Overall         float64
	Engagement      float64
	Intent          float64
	Fit             float64
	Timing          float64
	BehaviorSnapshot map[string]string
	CalculatedAt    time.Time
}

// PerformanceSample is an append-only latency/outcome record for any
// external-call site (channel send, LLM call, embedding, DB op).
type PerformanceSample struct {
	ID          string
	Tenant      string
	Endpoint    string
	Op          string
	LatencyMs   int
	Status      string // "ok" | "error" | "timeout"
	Model       string
	Tokens      int
	Cost        float64
	ErrorReason string
	CreatedAt   time.Time
}

// DailyAggregate is the materialized result of the daily analytics job,
// upserted by (tenant, date).
type DailyAggregate struct {
	Tenant              string
	Date                string // YYYY-MM-DD
	MessageCount        int
	SessionCount        int
	ConversionRate      float64
	JourneyDistribution map[string]int
	AIPathMix           map[string]int // handlerKind -> count
	ComputedAt          time.Time
}
