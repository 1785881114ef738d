// Package pg is the Postgres-backed implementation of every interface in
// internal/store. Components never import this package directly: only the
// composition root in cmd wires it in, preserving the engine's one-way
// dependency graph (spec.md §9).
package pg

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenDB opens a pooled connection to dsn using the pgx stdlib driver.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return db, nil
}

// nilStr converts an empty string to a nil parameter so NULL, not "", is
// stored for an unset optional column.
func nilStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// derefStr converts a nullable scanned column back to a zero-value string.
func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// derefTime converts a nullable scanned timestamp to its pointer form for a
// domain *time.Time field.
func derefTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

// nilTime converts a *time.Time field to a nullable parameter.
func nilTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// jsonOrEmpty marshals v to JSON, falling back to the JSON literal "null"
// on error instead of returning the error.
func jsonOrEmpty(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

// scanJSON unmarshals a jsonb column into dst, tolerating NULL/empty bytes.
func scanJSON(raw []byte, dst any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, dst)
}

// float32JSON/parseFloat32JSON round-trip a []float32 embedding through the
// pgvector text format "[0.1,0.2,...]", since database/sql has no native
// vector type.
func float32JSON(v []float32) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func parseFloat32JSON(raw []byte) []float32 {
	var v []float32
	_ = json.Unmarshal(raw, &v)
	return v
}
