// Package store defines the persistence interfaces consumed by every
// convoengine component. internal/store/pg provides the Postgres-backed
// implementation; components depend only on these interfaces, never on pg
// directly, so the engine's one-way dependency graph (spec.md §9) holds.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
)

// ErrNotFound is returned by Get-style lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a unique-constraint write loses a race
// (e.g. a duplicate channelMessageId). Callers treat this as the
// idempotency-success path of §7, not a failure.
var ErrConflict = errors.New("store: conflict")

// APIKeyStore manages encrypted per-tenant credentials (§3 APIKey, §6).
type APIKeyStore interface {
	Create(ctx context.Context, key *domain.APIKey, plaintextSecret string) error
	ActiveKey(ctx context.Context, tenant string, kind domain.APIKeyKind) (*domain.APIKey, string, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
	Deactivate(ctx context.Context, id string) error
}

// AuditLogStore records key-management actions.
type AuditLogStore interface {
	Append(ctx context.Context, entry *domain.AuditLog) error
}

// ContactStore manages Contact rows and the §4.4 context-update operations.
type ContactStore interface {
	// GetOrCreate returns the contact for (tenant, phone), creating one with
	// defaults if it does not exist.
	GetOrCreate(ctx context.Context, tenant, phone string) (*domain.Contact, error)
	Get(ctx context.Context, tenant, phone string) (*domain.Contact, error)
	// Update persists scalar overwrites and set-merges for list fields in
	// one call. List-typed fields are unioned with the existing value,
	// scalars are overwritten.
	Update(ctx context.Context, tenant, phone string, fields ContactFields) (*domain.Contact, error)
}

// ContactFields carries a partial update to a Contact. Nil pointer/slice
// fields are left untouched; list fields are set-merged (§3, §8 property 8).
type ContactFields struct {
	Name                  *string
	Company               *string
	Email                 *string
	LeadStatus            *string
	JourneyStage          *domain.JourneyStage
	EngagementLevel       *domain.EngagementLevel
	InformationPreference *string
	ResponseTimePattern   *domain.ResponseTimePattern
	DecisionMakingStyle   *domain.DecisionMakingStyle
	TechnicalLevel        *domain.TechnicalLevel
	DecisionMaker         *bool
	BudgetRange           *string
	Timeline              *string
	IndustryFocus         *string
	CompanySize           *string
	PreferAsExamples      *bool
	TopicsDiscussed       []string
	QuestionsAsked        []string
	PainPointsMentioned   []string
	GoalsExpressed        []string
	CompetitorsMentioned  []string
	IncrConversationCount bool
	IncrTotalInteractions bool
	// FieldConfidence carries the confidence level each scalar field in this
	// update was extracted at (keyed by extraction.Field string name), for
	// merging into Contact.FieldConfidence. Callers only set a key here
	// after confirming the overwrite is allowed (§8 property 9); Update
	// itself does not re-check it.
	FieldConfidence map[string]int
}

// ConversationStore manages the single Conversation per (tenant, contact).
type ConversationStore interface {
	GetOrCreate(ctx context.Context, tenant, contactID string) (*domain.Conversation, error)
	Get(ctx context.Context, tenant, contactID string) (*domain.Conversation, error)
	SetBotEnabled(ctx context.Context, id string, enabled bool) error
	SetHandover(ctx context.Context, id string, requested bool, at time.Time) error
	ResolveHandover(ctx context.Context, id string, reason string) error
	// CompareAndSetUpdateSent records that stageTag's update was sent, using
	// compare-and-set so two rescue workers racing on the same conversation
	// cannot both send the same stage (§5, §8 property 6). Returns false if
	// the tag was already recorded.
	CompareAndSetUpdateSent(ctx context.Context, id string, stageTag string, at time.Time) (bool, error)
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
	// ListForRescue returns conversations currently in an open handover.
	ListForRescue(ctx context.Context) ([]*domain.Conversation, error)
}

// MessageStore manages the append-only Message log.
type MessageStore interface {
	// Insert persists a message. If ChannelMessageID is non-empty and
	// already recorded, Insert returns ErrConflict (idempotency success
	// path, §7 / §8 property 1).
	Insert(ctx context.Context, msg *domain.Message) error
	SeenChannelMessageID(ctx context.Context, conversationID, channelMessageID string) (bool, error)
	// UpdateStatus applies a monotonic status transition keyed by
	// channelMessageID; non-monotonic transitions are silently ignored
	// (§4.11 invariant, §8 property 2).
	UpdateStatus(ctx context.Context, channelMessageID string, to domain.MessageStatus, errorReason string) error
	RecentHistory(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error)
	CountSince(ctx context.Context, conversationID string, since time.Time) (int, error)
}

// ConversationStateStore manages the ephemeral personalization snapshot.
type ConversationStateStore interface {
	Get(ctx context.Context, contactID string) (*domain.ConversationState, error)
	SetTopic(ctx context.Context, contactID, topic string) error
	AddQuestion(ctx context.Context, contactID, question string) error
	ResolveQuestion(ctx context.Context, contactID, question string) error
	AddActionItem(ctx context.Context, contactID, item string) error
	MergeContextContinuity(ctx context.Context, contactID string, kv map[string]string) error
}

// KnowledgeStore is the vector-indexed document corpus (§4.3).
type KnowledgeStore interface {
	Ingest(ctx context.Context, doc *domain.KnowledgeDocument) error
	Search(ctx context.Context, tenant string, queryEmbedding []float32, filters KnowledgeFilters, k int) ([]ScoredDocument, error)
	Stats(ctx context.Context, tenant string) (KnowledgeStats, error)
}

// KnowledgeFilters narrows a Search call.
type KnowledgeFilters struct {
	Category        string   // optional exact-category filter
	BoostCategories []string // priority-boosted categories (e.g. services/pricing/sales)
	Boost           bool
}

// ScoredDocument pairs a document with its cosine similarity to the query.
type ScoredDocument struct {
	Doc   *domain.KnowledgeDocument
	Score float64
}

// KnowledgeStats summarizes the corpus for a tenant.
type KnowledgeStats struct {
	Count         int
	Categories    map[string]int
	AvgContentLen float64
	LastUpdated   time.Time
}

// ScheduledMessageStore manages ScheduledMessage rows (§4.12).
type ScheduledMessageStore interface {
	Create(ctx context.Context, msg *domain.ScheduledMessage) error
	DuePending(ctx context.Context, now time.Time) ([]*domain.ScheduledMessage, error)
	MarkProcessing(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, successCount, failureCount int, nextSendAt *time.Time) error
	Cancel(ctx context.Context, tenant, id string) error
	RecordResult(ctx context.Context, r *domain.MessageResult) error
}

// CampaignStore manages CampaignJob rows and their MessageResult children (§4.13).
type CampaignStore interface {
	Create(ctx context.Context, job *domain.CampaignJob) error
	Get(ctx context.Context, tenant, id string) (*domain.CampaignJob, error)
	UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error
	IncrementCounters(ctx context.Context, id string, success, failure, skipped int) error
	Cancel(ctx context.Context, tenant, id string) error
	IsCancelled(ctx context.Context, id string) (bool, error)
	RecordResult(ctx context.Context, r *domain.MessageResult) error
	Finish(ctx context.Context, id string, endedAt time.Time) error
}

// WebhookEventStore is the append-only inbound-event audit trail (§4.11).
type WebhookEventStore interface {
	Append(ctx context.Context, evt *domain.WebhookEvent) error
}

// AnalyticsStore persists the append-only analytics records of §4.14.
type AnalyticsStore interface {
	RecordMessage(ctx context.Context, rec *domain.MessageAnalytics) error
	UpsertLeadScore(ctx context.Context, score *domain.LeadScore) error
	RecordPerformance(ctx context.Context, sample *domain.PerformanceSample) error
	OpenOrCreateSession(ctx context.Context, tenant, contactID string, inactivityThreshold time.Duration, at time.Time) (*domain.AnalyticsSession, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time, isUserMessage bool) error
	UpsertDailyAggregate(ctx context.Context, agg *domain.DailyAggregate) error
}

// Stores bundles every storage backend the engine depends on. The
// composition root wires a concrete *pg.Stores into this struct once at
// startup: no component reaches for a global singleton (spec.md §9).
type Stores struct {
	APIKeys            APIKeyStore
	Audit              AuditLogStore
	Contacts           ContactStore
	Conversations      ConversationStore
	Messages           MessageStore
	ConversationStates ConversationStateStore
	Knowledge          KnowledgeStore
	ScheduledMessages  ScheduledMessageStore
	Campaigns          CampaignStore
	WebhookEvents      WebhookEventStore
	Analytics          AnalyticsStore
}
