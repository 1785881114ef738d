package pg

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/store"
)

// KnowledgeStore implements store.KnowledgeStore. Embeddings are stored as a
// pgvector column; similarity search uses the <=> cosine-distance operator
// from the pgvector extension (migrations/0005_knowledge_documents.up.sql).
type KnowledgeStore struct {
	db *sql.DB
}

func NewKnowledgeStore(db *sql.DB) *KnowledgeStore { return &KnowledgeStore{db: db} }

func (s *KnowledgeStore) Ingest(ctx context.Context, doc *domain.KnowledgeDocument) error {
	if doc.ID == "" {
		doc.ID = store.GenNewID()
	}
	doc.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_documents (id, tenant, source, category, title, content, metadata, embedding, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8::vector,$9)
		 ON CONFLICT (tenant, source) DO UPDATE SET
			category = EXCLUDED.category, title = EXCLUDED.title, content = EXCLUDED.content,
			metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at`,
		doc.ID, doc.Tenant, doc.Source, nilStr(doc.Category), nilStr(doc.Title), doc.Content,
		jsonOrEmpty(doc.Metadata), float32JSON(doc.Embedding), doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg: ingest knowledge document: %w", err)
	}
	return nil
}

// Search runs a cosine-similarity nearest-neighbor query, converting
// pgvector's distance (1 - cosine similarity) back to similarity. The
// lead-status priority boost and similarity floor are applied one layer up
// in internal/knowledge, which needs the raw similarity to decide; Search
// here only narrows by category and orders by raw similarity.
func (s *KnowledgeStore) Search(ctx context.Context, tenant string, queryEmbedding []float32, filters store.KnowledgeFilters, k int) ([]store.ScoredDocument, error) {
	query := `SELECT id, source, category, title, content, metadata, embedding, updated_at,
		1 - (embedding <=> $2::vector) AS similarity
		FROM knowledge_documents WHERE tenant = $1`
	args := []any{tenant, float32JSON(queryEmbedding)}

	if filters.Category != "" {
		query += fmt.Sprintf(" AND category = $%d", len(args)+1)
		args = append(args, filters.Category)
	}
	query += " ORDER BY embedding <=> $2::vector LIMIT $" + fmt.Sprint(len(args)+1)
	args = append(args, k*3) // overfetch; cut back to k by raw similarity below

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: search knowledge: %w", err)
	}
	defer rows.Close()

	var out []store.ScoredDocument
	for rows.Next() {
		doc := &domain.KnowledgeDocument{Tenant: tenant}
		var category, title *string
		var metadata, embedding []byte
		var similarity float64
		if err := rows.Scan(&doc.ID, &doc.Source, &category, &title, &doc.Content, &metadata, &embedding, &doc.UpdatedAt, &similarity); err != nil {
			return nil, fmt.Errorf("pg: scan knowledge row: %w", err)
		}
		doc.Category, doc.Title = derefStr(category), derefStr(title)
		doc.Metadata = map[string]string{}
		scanJSON(metadata, &doc.Metadata)
		doc.Embedding = parseFloat32JSON(embedding)
		out = append(out, store.ScoredDocument{Doc: doc, Score: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *KnowledgeStore) Stats(ctx context.Context, tenant string) (store.KnowledgeStats, error) {
	var stats store.KnowledgeStats
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(LENGTH(content)), 0), COALESCE(MAX(updated_at), to_timestamp(0))
		 FROM knowledge_documents WHERE tenant = $1`, tenant)
	if err := row.Scan(&stats.Count, &stats.AvgContentLen, &stats.LastUpdated); err != nil {
		return stats, fmt.Errorf("pg: knowledge stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM knowledge_documents WHERE tenant = $1 GROUP BY category`, tenant)
	if err != nil {
		return stats, fmt.Errorf("pg: knowledge category stats: %w", err)
	}
	defer rows.Close()

	stats.Categories = map[string]int{}
	for rows.Next() {
		var category *string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return stats, err
		}
		stats.Categories[derefStr(category)] = count
	}
	return stats, rows.Err()
}
