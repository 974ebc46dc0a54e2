package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crossspread/execution-gateway/internal/crypto"
	"github.com/crossspread/execution-gateway/internal/exchange"
	"github.com/crossspread/execution-gateway/internal/store"
	"github.com/crossspread/execution-gateway/pkg/observability"
)

type cacheEntry struct {
	creds     exchange.Credentials
	expiresAt time.Time
}

// credentialRecordLoader is the slice of *store.CredentialStore the cache
// depends on, narrowed to an interface so tests can substitute an in-memory
// fake instead of a real Postgres connection.
type credentialRecordLoader interface {
	GetCredentialRecord(ctx context.Context, apiKeyID uuid.UUID) (*store.CredentialRecord, error)
}

// CredentialCache decrypts exchange API credentials on first use and holds
// them in memory for a fixed TTL so a burst of requests against the same
// api_key_id pays the decrypt-and-query cost once. There is no explicit
// invalidation; a rotated key takes up to ttl to take effect.
type CredentialCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]cacheEntry

	store   credentialRecordLoader
	key     crypto.MasterKey
	ttl     time.Duration
	metrics *observability.MetricsProvider
}

// NewCredentialCache wires a cache in front of store, decrypting with key.
// metrics may be nil in tests.
func NewCredentialCache(credStore *store.CredentialStore, key crypto.MasterKey, ttl time.Duration, metrics *observability.MetricsProvider) *CredentialCache {
	return &CredentialCache{
		entries: make(map[uuid.UUID]cacheEntry),
		store:   credStore,
		key:     key,
		ttl:     ttl,
		metrics: metrics,
	}
}

// Get returns decrypted credentials for apiKeyID, serving from cache when a
// live entry exists. On a miss, a single goroutine performs the decrypt and
// store lookup under the write lock; concurrent callers racing on the same
// id re-check the cache before doing redundant work.
func (c *CredentialCache) Get(ctx context.Context, apiKeyID uuid.UUID) (exchange.Credentials, error) {
	if creds, ok := c.lookup(apiKeyID); ok {
		return creds, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[apiKeyID]; ok && time.Now().Before(entry.expiresAt) {
		return entry.creds, nil
	}

	rec, err := c.store.GetCredentialRecord(ctx, apiKeyID)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("load credential record %s: %w", apiKeyID, err)
	}

	creds, err := crypto.DecryptCredentials(c.key, rec.APIKeyEncrypted, rec.APISecretEncrypted, rec.PassphraseEncrypted)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("decrypt credentials %s: %w", apiKeyID, err)
	}

	_, existed := c.entries[apiKeyID]
	c.entries[apiKeyID] = cacheEntry{creds: creds, expiresAt: time.Now().Add(c.ttl)}
	if c.metrics != nil && !existed {
		c.metrics.IncrementCachedCredentials(ctx)
	}

	return creds, nil
}

func (c *CredentialCache) lookup(apiKeyID uuid.UUID) (exchange.Credentials, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[apiKeyID]
	if !ok || time.Now().After(entry.expiresAt) {
		return exchange.Credentials{}, false
	}
	return entry.creds, true
}
