// Package personalize is the Personalization Engine (C6, spec.md §4.6): a
// pure function mapping a Contact onto a response Strategy. It makes no
// LLM calls and touches no store.
package personalize

import "github.com/chatrelay/convoengine/internal/domain"

type ResponseStrategy string

const (
	StrategyClosing          ResponseStrategy = "closing"
	StrategySolutionFocused  ResponseStrategy = "solution_focused"
	StrategyConsultative     ResponseStrategy = "consultative"
	StrategyEducational      ResponseStrategy = "educational"
)

type CommunicationStyle string

const (
	StyleTechnical    CommunicationStyle = "technical"
	StyleBusiness     CommunicationStyle = "business"
	StyleConversational CommunicationStyle = "conversational"
	StyleFormal       CommunicationStyle = "formal"
)

type PersonalizationLevel string

const (
	LevelClosing     PersonalizationLevel = "closing"
	LevelRelationship PersonalizationLevel = "relationship"
	LevelContextual  PersonalizationLevel = "contextual"
	LevelBasic       PersonalizationLevel = "basic"
)

type CTAType string

const (
	CTAScheduleCall CTAType = "schedule_call"
	CTALearnMore    CTAType = "learn_more"
	CTANone         CTAType = "none"
)

type UrgencyLevel string

const (
	UrgencyHigh   UrgencyLevel = "high"
	UrgencyMedium UrgencyLevel = "medium"
	UrgencyLow    UrgencyLevel = "low"
)

// Strategy is the personalization plan the RAG handler (C9) consumes.
type Strategy struct {
	ResponseStrategy      ResponseStrategy
	CommunicationStyle    CommunicationStyle
	PersonalizationLevel  PersonalizationLevel
	FocusAreas            []string
	PainPointsToAddress   []string
	GoalsToHighlight      []string
	ExamplesToInclude     []string
	CTAType               CTAType
	UrgencyLevel          UrgencyLevel
	RelationshipApproach  string
}

const (
	maxFocusAreas    = 3
	maxPainPoints    = 2
	maxGoals         = 2
	maxExamples      = 2
)

// Plan derives a Strategy from a Contact's accumulated profile (§4.6).
func Plan(c *domain.Contact) Strategy {
	s := Strategy{
		ResponseStrategy:     responseStrategy(c),
		CommunicationStyle:   communicationStyle(c),
		PersonalizationLevel: personalizationLevel(c),
		FocusAreas:           truncate(c.TopicsDiscussed, maxFocusAreas),
		PainPointsToAddress:  truncate(c.PainPointsMentioned, maxPainPoints),
		GoalsToHighlight:     truncate(c.GoalsExpressed, maxGoals),
		ExamplesToInclude:    exampleCandidates(c),
		CTAType:              ctaType(c),
		UrgencyLevel:         urgencyLevel(c),
		RelationshipApproach: relationshipApproach(c),
	}
	return s
}

func responseStrategy(c *domain.Contact) ResponseStrategy {
	if c.EngagementLevel == domain.EngagementHigh {
		return StrategySolutionFocused
	}
	if c.EngagementLevel == domain.EngagementLow {
		return StrategyEducational
	}
	switch c.JourneyStage {
	case domain.StageDecision:
		return StrategyClosing
	case domain.StageEvaluation:
		return StrategySolutionFocused
	case domain.StageInterest:
		return StrategyConsultative
	default:
		return StrategyEducational
	}
}

func communicationStyle(c *domain.Contact) CommunicationStyle {
	switch {
	case c.TechnicalLevel == domain.TechTechnical || c.TechnicalLevel == domain.TechDeveloper:
		return StyleTechnical
	case c.DecisionMakingStyle == domain.DecisionAnalytical:
		return StyleBusiness
	case c.EngagementLevel == domain.EngagementHigh:
		return StyleConversational
	case c.DecisionMaker:
		return StyleFormal
	default:
		return StyleBusiness
	}
}

func personalizationLevel(c *domain.Contact) PersonalizationLevel {
	switch {
	case c.JourneyStage == domain.StageDecision || c.DecisionMaker || c.EngagementLevel == domain.EngagementHigh:
		return LevelClosing
	case c.JourneyStage == domain.StageEvaluation || c.ConversationCount >= 3 || len(c.TopicsDiscussed) >= 3:
		return LevelRelationship
	case c.JourneyStage == domain.StageInterest || c.ConversationCount >= 1 || len(c.PainPointsMentioned) > 0:
		return LevelContextual
	default:
		return LevelBasic
	}
}

func exampleCandidates(c *domain.Contact) []string {
	if !c.PreferAsExamples {
		return nil
	}
	return truncate(c.CompetitorsMentioned, maxExamples)
}

func ctaType(c *domain.Contact) CTAType {
	switch c.JourneyStage {
	case domain.StageDecision, domain.StageEvaluation:
		return CTAScheduleCall
	case domain.StageInterest:
		return CTALearnMore
	default:
		return CTANone
	}
}

func urgencyLevel(c *domain.Contact) UrgencyLevel {
	switch {
	case c.JourneyStage == domain.StageDecision:
		return UrgencyHigh
	case c.JourneyStage == domain.StageEvaluation:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

func relationshipApproach(c *domain.Contact) string {
	if c.ConversationCount >= 3 {
		return "established"
	}
	if c.ConversationCount >= 1 {
		return "returning"
	}
	return "new"
}

func truncate(in []string, max int) []string {
	if len(in) <= max {
		return in
	}
	out := make([]string, max)
	copy(out, in[:max])
	return out
}
