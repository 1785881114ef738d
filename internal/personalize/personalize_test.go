package personalize

import (
	"testing"

	"github.com/chatrelay/convoengine/internal/domain"
)

func TestPlanClosingForDecisionStage(t *testing.T) {
	c := domain.NewContact("acme", "15551234567")
	c.JourneyStage = domain.StageDecision

	s := Plan(c)
	if s.ResponseStrategy != StrategyClosing {
		t.Fatalf("expected closing, got %s", s.ResponseStrategy)
	}
	if s.PersonalizationLevel != LevelClosing {
		t.Fatalf("expected closing personalization, got %s", s.PersonalizationLevel)
	}
	if s.CTAType != CTAScheduleCall {
		t.Fatalf("expected schedule_call CTA, got %s", s.CTAType)
	}
}

func TestPlanHighEngagementOverridesStage(t *testing.T) {
	c := domain.NewContact("acme", "15551234567")
	c.JourneyStage = domain.StageDiscovery
	c.EngagementLevel = domain.EngagementHigh

	s := Plan(c)
	if s.ResponseStrategy != StrategySolutionFocused {
		t.Fatalf("expected engagement override to solution_focused, got %s", s.ResponseStrategy)
	}
}

func TestPlanFocusAreasCapped(t *testing.T) {
	c := domain.NewContact("acme", "15551234567")
	c.TopicsDiscussed = []string{"a", "b", "c", "d", "e"}

	s := Plan(c)
	if len(s.FocusAreas) != maxFocusAreas {
		t.Fatalf("expected %d focus areas, got %d", maxFocusAreas, len(s.FocusAreas))
	}
}

func TestPlanTechnicalCommunicationStyle(t *testing.T) {
	c := domain.NewContact("acme", "15551234567")
	c.TechnicalLevel = domain.TechDeveloper

	s := Plan(c)
	if s.CommunicationStyle != StyleTechnical {
		t.Fatalf("expected technical style, got %s", s.CommunicationStyle)
	}
}
