// Package contactctx is the Context Store (C4, spec.md §4.4): the
// long-lived Contact profile plus the ephemeral per-conversation
// personalization snapshot, updated from each inbound utterance via
// lexical-signal heuristics (no LLM call on this path).
package contactctx

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

// Store is the Context Store (C4).
type Store struct {
	contacts store.ContactStore
	states   store.ConversationStateStore
}

func New(contacts store.ContactStore, states store.ConversationStateStore) *Store {
	return &Store{contacts: contacts, states: states}
}

// Get returns the contact for (tenant, phone), creating one with §4.4
// defaults if it does not exist.
func (s *Store) Get(ctx context.Context, tenant, phone string) (*domain.Contact, error) {
	return s.contacts.GetOrCreate(ctx, tenant, phone)
}

// Update applies a partial field update; list fields are set-merged by the
// store, scalars overwritten.
func (s *Store) Update(ctx context.Context, tenant, phone string, fields store.ContactFields) (*domain.Contact, error) {
	return s.contacts.Update(ctx, tenant, phone, fields)
}

// journeyTransitions enumerates the forward-only signal table of §4.4. Order
// matters: transitions are attempted from the contact's current stage
// onward, never skipping or regressing.
var journeyTransitions = []struct {
	from, to domain.JourneyStage
	signals  []string
}{
	{domain.StageDiscovery, domain.StageInterest, []string{
		"interested", "tell me more", "pricing", "demo", "trial", "examples",
	}},
	{domain.StageInterest, domain.StageEvaluation, []string{
		"compare", "vs", "alternatives", "timeline", "integration", "security",
	}},
	{domain.StageEvaluation, domain.StageDecision, []string{
		"ready to", "sign up", "get started", "next steps", "schedule", "contract",
	}},
}

// AdvanceJourney scans utterance for the current stage's forward signals and
// returns the new stage if a transition fires, or the contact's existing
// stage otherwise. Downgrades never occur (§4.4).
func AdvanceJourney(contact *domain.Contact, utterance string) domain.JourneyStage {
	lower := strings.ToLower(utterance)
	for _, t := range journeyTransitions {
		if contact.JourneyStage != t.from {
			continue
		}
		for _, kw := range t.signals {
			if strings.Contains(lower, kw) {
				return t.to
			}
		}
	}
	return contact.JourneyStage
}

// highEngagementCues signal heightened engagement when present in an utterance.
var highEngagementCues = []string{"!", "amazing", "love", "excited", "great", "awesome"}
var lowEngagementCues = []string{"not interested", "stop", "unsubscribe", "meh", "whatever"}

var analyticalCues = []string{"data", "metrics", "roi", "benchmark", "comparison", "spec"}
var intuitiveCues = []string{"feels", "vibe", "gut", "sounds good", "trust"}

// BehaviorUpdate is the derived-fields output of updateBehavior (§4.4),
// applied by the caller via Update/ContactFields.
type BehaviorUpdate struct {
	EngagementLevel       domain.EngagementLevel
	InformationPreference string
	ResponseTimePattern   domain.ResponseTimePattern
	DecisionMakingStyle   domain.DecisionMakingStyle
}

// UpdateBehavior derives engagement, information preference, response-time
// pattern, and decision-making style from one utterance and (optionally)
// how long the contact took to send it, per the §4.4 heuristics. Any field
// left at its zero value should not overwrite the contact's existing value;
// the caller is responsible for only copying non-zero fields into
// store.ContactFields.
func UpdateBehavior(utterance string, responseTimeSec *float64) BehaviorUpdate {
	lower := strings.ToLower(utterance)
	var out BehaviorUpdate

	for _, cue := range highEngagementCues {
		if strings.Contains(lower, cue) {
			out.EngagementLevel = domain.EngagementHigh
			break
		}
	}
	if out.EngagementLevel == "" {
		for _, cue := range lowEngagementCues {
			if strings.Contains(lower, cue) {
				out.EngagementLevel = domain.EngagementLow
				break
			}
		}
	}

	switch {
	case len(utterance) > 100:
		out.InformationPreference = "high"
	case len(utterance) < 20:
		out.InformationPreference = "low"
	}

	if responseTimeSec != nil {
		switch {
		case *responseTimeSec < 60:
			out.ResponseTimePattern = domain.ResponseFast
		case *responseTimeSec > 3600:
			out.ResponseTimePattern = domain.ResponseSlow
		default:
			out.ResponseTimePattern = domain.ResponseMedium
		}
	}

	for _, cue := range analyticalCues {
		if strings.Contains(lower, cue) {
			out.DecisionMakingStyle = domain.DecisionAnalytical
			break
		}
	}
	if out.DecisionMakingStyle == "" {
		for _, cue := range intuitiveCues {
			if strings.Contains(lower, cue) {
				out.DecisionMakingStyle = domain.DecisionIntuitive
				break
			}
		}
	}

	return out
}

// ConversationState returns the ephemeral personalization snapshot for a
// contact.
func (s *Store) ConversationState(ctx context.Context, contactID string) (*domain.ConversationState, error) {
	return s.states.Get(ctx, contactID)
}

func (s *Store) SetTopic(ctx context.Context, contactID, topic string) error {
	return s.states.SetTopic(ctx, contactID, topic)
}

func (s *Store) AddQuestion(ctx context.Context, contactID, question string) error {
	return s.states.AddQuestion(ctx, contactID, question)
}

func (s *Store) ResolveQuestion(ctx context.Context, contactID, question string) error {
	return s.states.ResolveQuestion(ctx, contactID, question)
}

func (s *Store) AddActionItem(ctx context.Context, contactID, item string) error {
	return s.states.AddActionItem(ctx, contactID, item)
}

// MergeContextContinuity unions kv into the contact's continuity map.
func (s *Store) MergeContextContinuity(ctx context.Context, contactID string, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	return s.states.MergeContextContinuity(ctx, contactID, kv)
}

// ApplyTouch is the single entry point the message processor (C10) calls on
// every inbound utterance: advances the journey stage, derives behavior
// signals, and persists both in one Contact update (§4.4, §4.10).
func (s *Store) ApplyTouch(ctx context.Context, tenant, phone, utterance string, responseTimeSec *float64) (*domain.Contact, error) {
	contact, err := s.contacts.GetOrCreate(ctx, tenant, phone)
	if err != nil {
		return nil, fmt.Errorf("contactctx: get contact: %w", err)
	}

	newStage := AdvanceJourney(contact, utterance)
	behavior := UpdateBehavior(utterance, responseTimeSec)

	fields := store.ContactFields{
		IncrTotalInteractions: true,
	}
	if newStage != contact.JourneyStage {
		fields.JourneyStage = &newStage
	}
	if behavior.EngagementLevel != "" {
		fields.EngagementLevel = &behavior.EngagementLevel
	}
	if behavior.InformationPreference != "" {
		fields.InformationPreference = &behavior.InformationPreference
	}
	if behavior.ResponseTimePattern != "" {
		fields.ResponseTimePattern = &behavior.ResponseTimePattern
	}
	if behavior.DecisionMakingStyle != "" {
		fields.DecisionMakingStyle = &behavior.DecisionMakingStyle
	}

	updated, err := s.contacts.Update(ctx, tenant, phone, fields)
	if err != nil {
		return nil, fmt.Errorf("contactctx: update contact: %w", err)
	}
	return updated, nil
}
