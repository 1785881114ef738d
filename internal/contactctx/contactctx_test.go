package contactctx

import (
	"testing"

	"github.com/chatrelay/convoengine/internal/domain"
)

func TestAdvanceJourneyForwardOnly(t *testing.T) {
	c := domain.NewContact("acme", "15551234567")
	c.JourneyStage = domain.StageDiscovery

	stage := AdvanceJourney(c, "tell me more about pricing")
	if stage != domain.StageInterest {
		t.Fatalf("expected interest, got %s", stage)
	}

	// A decision-stage signal from discovery should not skip stages.
	c2 := domain.NewContact("acme", "15551234568")
	stage2 := AdvanceJourney(c2, "ready to sign up")
	if stage2 != domain.StageDiscovery {
		t.Fatalf("expected no transition skipping stages, got %s", stage2)
	}
}

func TestAdvanceJourneyNeverDowngrades(t *testing.T) {
	c := domain.NewContact("acme", "15551234567")
	c.JourneyStage = domain.StageDecision

	stage := AdvanceJourney(c, "not interested anymore")
	if stage != domain.StageDecision {
		t.Fatalf("expected stage to remain decision, got %s", stage)
	}
}

func TestUpdateBehaviorInformationPreference(t *testing.T) {
	short := UpdateBehavior("ok", nil)
	if short.InformationPreference != "low" {
		t.Fatalf("expected low preference for short utterance, got %q", short.InformationPreference)
	}

	long := UpdateBehavior("I would like to understand in detail how your platform handles multi-tenant isolation and data residency across regions", nil)
	if long.InformationPreference != "high" {
		t.Fatalf("expected high preference for long utterance, got %q", long.InformationPreference)
	}
}

func TestUpdateBehaviorResponseTimePattern(t *testing.T) {
	fast := 10.0
	slow := 5000.0
	medium := 200.0

	if got := UpdateBehavior("hi", &fast).ResponseTimePattern; got != domain.ResponseFast {
		t.Fatalf("expected fast, got %s", got)
	}
	if got := UpdateBehavior("hi", &slow).ResponseTimePattern; got != domain.ResponseSlow {
		t.Fatalf("expected slow, got %s", got)
	}
	if got := UpdateBehavior("hi", &medium).ResponseTimePattern; got != domain.ResponseMedium {
		t.Fatalf("expected medium, got %s", got)
	}
}

func TestUpdateBehaviorDecisionStyle(t *testing.T) {
	if got := UpdateBehavior("what's the ROI and benchmark data here", nil).DecisionMakingStyle; got != domain.DecisionAnalytical {
		t.Fatalf("expected analytical, got %s", got)
	}
	if got := UpdateBehavior("this just sounds good, I trust it", nil).DecisionMakingStyle; got != domain.DecisionIntuitive {
		t.Fatalf("expected intuitive, got %s", got)
	}
}
