package llmclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
	"github.com/chatrelay/convoengine/internal/secrets"
	"github.com/chatrelay/convoengine/internal/store"
)

// keyCacheTTL bounds how long a decrypted key is kept in memory (spec.md §5:
// "cached decrypted for a short TTL (<=5 min); invalidated on error").
const keyCacheTTL = 5 * time.Minute

type cachedKey struct {
	plaintext string
	expiresAt time.Time
}

// keyResolver caches decrypted per-tenant LLM keys as instance fields with
// explicit TTL/invalidation, replacing the module-level mutable cache
// pattern spec.md §9 flags for re-architecture.
type keyResolver struct {
	mu          sync.Mutex
	cache       map[string]cachedKey
	store       store.APIKeyStore
	encKey      string
	defaultKey  string
}

func newKeyResolver(apiKeys store.APIKeyStore, encKey, defaultKey string) *keyResolver {
	return &keyResolver{
		cache:      make(map[string]cachedKey),
		store:      apiKeys,
		encKey:     encKey,
		defaultKey: defaultKey,
	}
}

// Resolve returns the active decrypted LLM key for tenant, falling back to
// the process-wide default key for tenants without their own (spec.md §6
// LLM_API_KEY).
func (r *keyResolver) Resolve(ctx context.Context, tenant string) (string, error) {
	r.mu.Lock()
	if c, ok := r.cache[tenant]; ok && time.Now().Before(c.expiresAt) {
		r.mu.Unlock()
		return c.plaintext, nil
	}
	r.mu.Unlock()

	if r.store == nil {
		if r.defaultKey == "" {
			return "", fmt.Errorf("llmclient: no LLM key configured for tenant %q", tenant)
		}
		return r.defaultKey, nil
	}

	key, encrypted, err := r.store.ActiveKey(ctx, tenant, domain.APIKeyLLM)
	if err != nil {
		if r.defaultKey != "" {
			return r.defaultKey, nil
		}
		return "", fmt.Errorf("llmclient: resolve key for %q: %w", tenant, err)
	}

	plaintext, err := secrets.Decrypt(encrypted, r.encKey)
	if err != nil {
		return "", fmt.Errorf("llmclient: decrypt key for %q: %w", tenant, err)
	}

	r.mu.Lock()
	r.cache[tenant] = cachedKey{plaintext: plaintext, expiresAt: time.Now().Add(keyCacheTTL)}
	r.mu.Unlock()

	_ = r.store.MarkUsed(ctx, key.ID, time.Now())
	return plaintext, nil
}

// Invalidate evicts a tenant's cached key, forcing the next Resolve to
// re-decrypt (e.g. after an authentication failure upstream).
func (r *keyResolver) Invalidate(tenant string) {
	r.mu.Lock()
	delete(r.cache, tenant)
	r.mu.Unlock()
}
