package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/secrets"
	"github.com/chatrelay/convoengine/internal/store"
)

// APIKeyStore implements store.APIKeyStore. The encryption key is held by
// the store itself (not the caller) so plaintext never has to cross a
// package boundary it doesn't need to (§6).
type APIKeyStore struct {
	db            *sql.DB
	encryptionKey string
}

func NewAPIKeyStore(db *sql.DB, encryptionKey string) *APIKeyStore {
	return &APIKeyStore{db: db, encryptionKey: encryptionKey}
}

func (s *APIKeyStore) Create(ctx context.Context, key *domain.APIKey, plaintextSecret string) error {
	if key.ID == "" {
		key.ID = store.GenNewID()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}
	key.UpdatedAt = key.CreatedAt
	key.Active = true

	ciphertext, err := secrets.Encrypt(plaintextSecret, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("pg: encrypt api key secret: %w", err)
	}
	key.EncryptedSecret = ciphertext

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, tenant, kind, name, encrypted_secret, active, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		key.ID, key.Tenant, key.Kind, key.Name, key.EncryptedSecret, key.Active, key.CreatedAt, key.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("pg: create api key: %w", err)
	}
	return nil
}

// ActiveKey returns the single active key of kind for tenant, decrypted.
func (s *APIKeyStore) ActiveKey(ctx context.Context, tenant string, kind domain.APIKeyKind) (*domain.APIKey, string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, encrypted_secret, last_used_at, created_at, updated_at
		 FROM api_keys WHERE tenant = $1 AND kind = $2 AND active = true ORDER BY created_at DESC LIMIT 1`,
		tenant, kind)

	key := &domain.APIKey{Tenant: tenant, Kind: kind, Active: true}
	var lastUsed sql.NullTime
	err := row.Scan(&key.ID, &key.Name, &key.EncryptedSecret, &lastUsed, &key.CreatedAt, &key.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, "", store.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("pg: scan active api key: %w", err)
	}
	key.LastUsedAt = derefTime(lastUsed)

	plaintext, err := secrets.Decrypt(key.EncryptedSecret, s.encryptionKey)
	if err != nil {
		return nil, "", fmt.Errorf("pg: decrypt api key secret: %w", err)
	}
	return key, plaintext, nil
}

func (s *APIKeyStore) MarkUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, id)
	return err
}

func (s *APIKeyStore) Deactivate(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET active = false, updated_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}
