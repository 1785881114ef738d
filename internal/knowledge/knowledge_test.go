package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, tenant, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type fakeDocs struct {
	docs []*domain.KnowledgeDocument
}

func (f *fakeDocs) Ingest(ctx context.Context, doc *domain.KnowledgeDocument) error {
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeDocs) Search(ctx context.Context, tenant string, q []float32, filters store.KnowledgeFilters, k int) ([]store.ScoredDocument, error) {
	var out []store.ScoredDocument
	for _, d := range f.docs {
		if filters.Category != "" && d.Category != filters.Category {
			continue
		}
		out = append(out, store.ScoredDocument{Doc: d, Score: 0.9})
	}
	return out, nil
}

func (f *fakeDocs) Stats(ctx context.Context, tenant string) (store.KnowledgeStats, error) {
	return store.KnowledgeStats{Count: len(f.docs)}, nil
}

func TestIngestSetsEmbeddingAndMetadata(t *testing.T) {
	docs := &fakeDocs{}
	s := New(docs, fakeEmbedder{})

	doc, err := s.Ingest(context.Background(), "acme", "hello world", Metadata{
		Source:   "faq.md",
		Category: "pricing",
		Title:    "FAQ",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(doc.Embedding) != 3 {
		t.Fatalf("expected embedding, got %v", doc.Embedding)
	}
	if doc.Metadata["word_count"] != "2" {
		t.Fatalf("expected word_count=2, got %q", doc.Metadata["word_count"])
	}
}

func TestSearchAppliesBoostForHotLead(t *testing.T) {
	docs := &fakeDocs{docs: []*domain.KnowledgeDocument{
		{Source: "pricing.md", Category: "pricing", UpdatedAt: time.Now()},
		{Source: "about.md", Category: "general", UpdatedAt: time.Now()},
	}}
	s := New(docs, fakeEmbedder{})

	results, err := s.Search(context.Background(), "acme", "what does it cost", SearchOptions{
		LeadStatus: "hot",
		K:          5,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Doc.Source != "pricing.md" {
		t.Fatalf("expected boosted pricing doc first, got %s", results[0].Doc.Source)
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("expected boosted score to exceed unboosted: %v vs %v", results[0].Score, results[1].Score)
	}
}

func TestSearchEmptyCorpusReturnsNoResults(t *testing.T) {
	docs := &fakeDocs{}
	s := New(docs, fakeEmbedder{})

	results, err := s.Search(context.Background(), "acme", "anything", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results from empty corpus, got %d", len(results))
	}
}
