// Package domain holds the entity types shared across convoengine's
// components. Types here are persistence-agnostic; internal/store defines
// how they are read and written.
package domain

import "time"

// JourneyStage is the coarse funnel state of a Contact. Forward-only under
// automated updates (see contactctx.AdvanceJourney).
type JourneyStage string

const (
	StageDiscovery  JourneyStage = "discovery"
	StageInterest   JourneyStage = "interest"
	StageEvaluation JourneyStage = "evaluation"
	StageDecision   JourneyStage = "decision"
)

// journeyRank gives each stage a forward-only ordinal for comparison.
var journeyRank = map[JourneyStage]int{
	StageDiscovery:  0,
	StageInterest:   1,
	StageEvaluation: 2,
	StageDecision:   3,
}

// Before reports whether stage a precedes stage b in the funnel.
func (a JourneyStage) Before(b JourneyStage) bool {
	return journeyRank[a] < journeyRank[b]
}

type EngagementLevel string

const (
	EngagementLow    EngagementLevel = "low"
	EngagementMedium EngagementLevel = "medium"
	EngagementHigh   EngagementLevel = "high"
)

type TechnicalLevel string

const (
	TechNonTechnical TechnicalLevel = "non_technical"
	TechBusinessUser TechnicalLevel = "business_user"
	TechTechnical    TechnicalLevel = "technical"
	TechDeveloper    TechnicalLevel = "developer"
	TechExecutive    TechnicalLevel = "executive"
)

type ResponseTimePattern string

const (
	ResponseFast   ResponseTimePattern = "fast"
	ResponseMedium ResponseTimePattern = "medium"
	ResponseSlow   ResponseTimePattern = "slow"
)

type DecisionMakingStyle string

const (
	DecisionAnalytical DecisionMakingStyle = "analytical"
	DecisionIntuitive  DecisionMakingStyle = "intuitive"
)

// APIKeyKind distinguishes the two kinds of per-tenant secrets §3 tracks.
type APIKeyKind string

const (
	APIKeyLLM     APIKeyKind = "llm"
	APIKeyChannel APIKeyKind = "channel"
)

// APIKey is a tenant-owned credential, encrypted at rest.
type APIKey struct {
	ID              string
	Tenant          string
	Kind            APIKeyKind
	Name            string
	EncryptedSecret string
	Active          bool
	LastUsedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Contact is an addressable end-user on the chat channel, scoped to a tenant.
type Contact struct {
	ID                   string
	Tenant               string
	PhoneNumber          string // canonical: digits-only, country-code-prefixed
	Name                 string
	Company              string
	Email                string
	LeadStatus           string
	JourneyStage         JourneyStage
	EngagementLevel      EngagementLevel
	InformationPreference string
	ResponseTimePattern  ResponseTimePattern
	DecisionMakingStyle  DecisionMakingStyle
	TechnicalLevel       TechnicalLevel
	DecisionMaker        bool
	BudgetRange          string
	Timeline             string
	IndustryFocus        string
	CompanySize          string
	PreferAsExamples     bool
	TopicsDiscussed      []string
	QuestionsAsked       []string
	PainPointsMentioned  []string
	GoalsExpressed       []string
	CompetitorsMentioned []string
	ConversationCount    int
	TotalInteractions    int
	// FieldConfidence records, per extractable scalar field (keyed by its
	// extraction.Field string name), the confidence level the current value
	// was written at, so a later lower-confidence extraction can't clobber
	// it (§8 property 9). Absent key means the field was never set by the
	// extraction path.
	FieldConfidence map[string]int
	FirstContactAt  time.Time
	UpdatedAt       time.Time
}

// NewContact returns a Contact populated with the §4.4 "get" defaults.
func NewContact(tenant, phone string) *Contact {
	now := time.Now()
	return &Contact{
		Tenant:              tenant,
		PhoneNumber:         phone,
		LeadStatus:          "new",
		JourneyStage:        StageDiscovery,
		EngagementLevel:     EngagementMedium,
		ResponseTimePattern: ResponseMedium,
		TechnicalLevel:      TechNonTechnical,
		TopicsDiscussed:     []string{},
		QuestionsAsked:      []string{},
		PainPointsMentioned: []string{},
		GoalsExpressed:      []string{},
		CompetitorsMentioned: []string{},
		FieldConfidence:     map[string]int{},
		FirstContactAt:      now,
		UpdatedAt:           now,
	}
}

// Conversation is the durable thread between a tenant and a contact.
// Exactly one per (tenant, contact).
type Conversation struct {
	ID                      string
	Tenant                  string
	ContactID               string
	BotEnabled              bool
	HandoverRequested       bool
	HandoverTimestamp       *time.Time
	HandoverUpdatesSent     map[string]time.Time // stage tag -> sent-at
	HandoverResolvedAt      *time.Time
	HandoverResolutionReason string
	LastMessageAt           time.Time
}

// NewConversation returns a Conversation with bot enabled and no handover.
func NewConversation(tenant, contactID string) *Conversation {
	return &Conversation{
		Tenant:              tenant,
		ContactID:           contactID,
		BotEnabled:          true,
		HandoverUpdatesSent: map[string]time.Time{},
		LastMessageAt:       time.Now(),
	}
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// statusRank gives each non-terminal status an ordinal so transitions can be
// checked for monotonicity (§3, §8 property 2). Failed is terminal and has
// no rank: it is reachable from any state but never left.
var statusRank = map[MessageStatus]int{
	StatusQueued:    0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransition reports whether moving from `from` to `to` is a legal,
// monotonic status transition. Reverse transitions are rejected; the
// `failed` status is terminal so no further Message transition is legal
// once reached.
func CanTransition(from, to MessageStatus) bool {
	if from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return true
	}
	fr, fok := statusRank[from]
	tr, tok := statusRank[to]
	if !fok || !tok {
		return false
	}
	return tr > fr
}

// Message is an append-only entry in a Conversation.
type Message struct {
	ID               string
	ConversationID   string
	Role             MessageRole
	Content          string
	ChannelMessageID string
	Status           MessageStatus
	CreatedAt        time.Time
	StatusUpdatedAt  time.Time
	ErrorReason      string
}

// ConversationState is the ephemeral personalization snapshot for a contact,
// upserted on every inbound message.
type ConversationState struct {
	ContactID          string
	CurrentTopic        string
	UnresolvedQuestions []string
	ActionItems         []string
	ContextContinuity   map[string]string
	LastMessageAt       time.Time
}

// KnowledgeDocument is a unit of the retrieval corpus, unique by Source.
type KnowledgeDocument struct {
	ID        string
	Tenant    string
	Source    string
	Category  string
	Title     string
	Content   string
	Metadata  map[string]string
	Embedding []float32
	UpdatedAt time.Time
}

type ScheduleStatus string

const (
	ScheduleStatusPending    ScheduleStatus = "pending"
	ScheduleStatusProcessing ScheduleStatus = "processing"
	ScheduleStatusSent       ScheduleStatus = "sent"
	ScheduleStatusFailed     ScheduleStatus = "failed"
	ScheduleStatusCancelled  ScheduleStatus = "cancelled"
)

type RecurringPattern string

const (
	RecurringDaily   RecurringPattern = "daily"
	RecurringWeekly  RecurringPattern = "weekly"
	RecurringMonthly RecurringPattern = "monthly"
)

// ScheduledMessage is a future-dated outbound, optionally recurring.
type ScheduledMessage struct {
	ID                string
	Tenant            string
	MessageContent    string
	MessageType       string
	MediaURL          string
	TargetGroups      []string
	ScheduledAt       time.Time
	Status            ScheduleStatus
	RecurringPattern  RecurringPattern
	RecurringInterval int
	NextSendAt        *time.Time
	LastSentAt        *time.Time
	TotalSent         int
	TotalFailed       int
	Metadata          map[string]string
}

type CampaignStatus string

const (
	CampaignPending   CampaignStatus = "pending"
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignPartial   CampaignStatus = "partial"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// CampaignJob is a one-shot bulk outbound to many targets.
type CampaignJob struct {
	ID             string
	Tenant         string
	Message        string
	Targets        []string
	Status         CampaignStatus
	SuccessCount   int
	FailureCount   int
	SkippedCount   int
	StartedAt      time.Time
	EndedAt        *time.Time
	cancelRequested bool
}

// MessageResultStatus is the per-recipient outcome of a scheduled or
// campaign send.
type MessageResultStatus string

const (
	ResultSuccess MessageResultStatus = "success"
	ResultFailure MessageResultStatus = "failure"
	ResultSkipped MessageResultStatus = "skipped"
)

// MessageResult is a per-target outcome row owned by a ScheduledMessage or
// CampaignJob.
type MessageResult struct {
	ID         string
	OwnerID    string // ScheduledMessage.ID or CampaignJob.ID
	OwnerKind  string // "scheduled" or "campaign"
	Target     string
	Status     MessageResultStatus
	ErrorReason string
	SentAt     time.Time
}

// WebhookEvent is an append-only audit row for every inbound webhook.
type WebhookEvent struct {
	ID               string
	Tenant           string
	Kind             string
	Payload          string
	ReceivedAt       time.Time
	ProcessingStatus string
}

// AuditLog records key-management actions (§6).
type AuditLog struct {
	ID        string
	Tenant    string
	Action    string
	Target    string
	Detail    string
	CreatedAt time.Time
}
