package extraction

import (
	"testing"
)

func TestExtractFallbackFindsEmail(t *testing.T) {
	fields := extractFallback("You can reach me at jane.doe@example.com anytime")
	v, ok := fields[FieldEmail]
	if !ok {
		t.Fatal("expected email to be extracted")
	}
	if v.Raw != "jane.doe@example.com" {
		t.Fatalf("unexpected email: %v", v.Raw)
	}
	if v.Confidence != ConfidenceHeuristic {
		t.Fatalf("expected heuristic confidence, got %v", v.Confidence)
	}
}

func TestExtractFallbackFindsToolsAndPainPoints(t *testing.T) {
	fields := extractFallback("We use Salesforce and Jira but honestly it's too slow and hard to use")
	tools, ok := fields[FieldCurrentTools].Raw.([]string)
	if !ok || len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %+v", fields[FieldCurrentTools])
	}
	pains, ok := fields[FieldPainPointsMentioned].Raw.([]string)
	if !ok || len(pains) != 2 {
		t.Fatalf("expected 2 pain points, got %+v", fields[FieldPainPointsMentioned])
	}
}

func TestShouldOverwrite(t *testing.T) {
	if !ShouldOverwrite(false, ConfidenceHeuristic, ConfidenceHeuristic) {
		t.Fatal("expected overwrite when no existing value")
	}
	if ShouldOverwrite(true, ConfidenceExplicit, ConfidenceHeuristic) {
		t.Fatal("expected explicit value to resist heuristic overwrite")
	}
	if !ShouldOverwrite(true, ConfidenceHeuristic, ConfidenceExplicit) {
		t.Fatal("expected explicit value to overwrite heuristic")
	}
}

func TestTitleCase(t *testing.T) {
	if got := titleCase("jane doe"); got != "Jane Doe" {
		t.Fatalf("unexpected title case: %q", got)
	}
}
