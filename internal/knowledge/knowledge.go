// Package knowledge is the Knowledge Store (C3, spec.md §4.3): a
// vector-indexed document corpus embedded via the LLM Client and searched
// with cosine similarity plus a lead-status priority boost.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

const minSimilarity = 0.5

// boostCategories receives a score bump for leads in a hot buying stage
// (spec.md §4.3: "priority boost when leadStatus in {qualified,hot,proposal}
// toward categories {services, pricing, sales}").
var boostCategories = map[string]bool{
	"services": true,
	"pricing":  true,
	"sales":    true,
}

const boostFactor = 1.15

// hotLeadStatuses are the LeadStatus values that trigger the boost.
var hotLeadStatuses = map[string]bool{
	"qualified": true,
	"hot":       true,
	"proposal":  true,
}

// Embedder is the subset of llmclient.Client the Store needs, kept narrow
// so tests can supply a fake without standing up an HTTP server.
type Embedder interface {
	Embed(ctx context.Context, tenant, text string) ([]float32, error)
}

// Store is the Knowledge Store (C3).
type Store struct {
	docs     store.KnowledgeStore
	embedder Embedder
}

func New(docs store.KnowledgeStore, embedder Embedder) *Store {
	return &Store{docs: docs, embedder: embedder}
}

// Metadata describes a document being ingested, mirroring the fields §4.3
// requires be stored alongside content: category, title, filename, word
// count, modified time.
type Metadata struct {
	Source      string
	Category    string
	Title       string
	Filename    string
	ModifiedAt  time.Time
	ExtraFields map[string]string
}

// Ingest upserts a document by source, computing its embedding via the LLM
// client. Existing rows with the same source are replaced (store.KnowledgeStore
// treats source as the natural key).
func (s *Store) Ingest(ctx context.Context, tenant, content string, meta Metadata) (*domain.KnowledgeDocument, error) {
	if meta.Source == "" {
		return nil, fmt.Errorf("knowledge: ingest requires a non-empty source")
	}

	embedding, err := s.embedder.Embed(ctx, tenant, content)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed document %q: %w", meta.Source, err)
	}

	md := map[string]string{
		"filename":   meta.Filename,
		"word_count": fmt.Sprintf("%d", len(strings.Fields(content))),
	}
	if !meta.ModifiedAt.IsZero() {
		md["modified_at"] = meta.ModifiedAt.Format(time.RFC3339)
	}
	for k, v := range meta.ExtraFields {
		md[k] = v
	}

	doc := &domain.KnowledgeDocument{
		Tenant:    tenant,
		Source:    meta.Source,
		Category:  meta.Category,
		Title:     meta.Title,
		Content:   content,
		Metadata:  md,
		Embedding: embedding,
		UpdatedAt: time.Now(),
	}
	if err := s.docs.Ingest(ctx, doc); err != nil {
		return nil, fmt.Errorf("knowledge: ingest %q: %w", meta.Source, err)
	}
	return doc, nil
}

// SearchOptions narrows a Search call.
type SearchOptions struct {
	Category   string // optional exact-category filter
	LeadStatus string // drives the priority boost toward hot-lead categories
	K          int
}

// Search embeds query, retrieves candidates at or above the cosine-similarity
// floor, applies the lead-status priority boost, and returns up to K results
// ordered score desc, then updatedAt desc, then source (§4.3).
func (s *Store) Search(ctx context.Context, tenant, query string, opts SearchOptions) ([]store.ScoredDocument, error) {
	k := opts.K
	if k <= 0 {
		k = 5
	}

	embedding, err := s.embedder.Embed(ctx, tenant, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed query: %w", err)
	}

	filters := store.KnowledgeFilters{Category: opts.Category}
	if hotLeadStatuses[strings.ToLower(opts.LeadStatus)] {
		filters.Boost = true
		filters.BoostCategories = sortedBoostCategories()
	}

	results, err := s.docs.Search(ctx, tenant, embedding, filters, k*4)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}

	filtered := results[:0]
	for _, r := range results {
		if r.Score < minSimilarity {
			continue
		}
		if filters.Boost && boostCategories[r.Doc.Category] {
			r.Score *= boostFactor
		}
		filtered = append(filtered, r)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		if !filtered[i].Doc.UpdatedAt.Equal(filtered[j].Doc.UpdatedAt) {
			return filtered[i].Doc.UpdatedAt.After(filtered[j].Doc.UpdatedAt)
		}
		return filtered[i].Doc.Source < filtered[j].Doc.Source
	})

	if len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered, nil
}

// Stats summarizes the tenant's corpus.
func (s *Store) Stats(ctx context.Context, tenant string) (store.KnowledgeStats, error) {
	return s.docs.Stats(ctx, tenant)
}

func sortedBoostCategories() []string {
	cats := make([]string, 0, len(boostCategories))
	for c := range boostCategories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}
