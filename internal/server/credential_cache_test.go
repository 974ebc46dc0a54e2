package server

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossspread/execution-gateway/internal/crypto"
	"github.com/crossspread/execution-gateway/internal/store"
)

type fakeLoader struct {
	mu    sync.Mutex
	calls int
	rec   *store.CredentialRecord
	err   error
}

func (f *fakeLoader) GetCredentialRecord(ctx context.Context, apiKeyID uuid.UUID) (*store.CredentialRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rec, nil
}

func testKey(t *testing.T) crypto.MasterKey {
	t.Helper()
	key, err := crypto.NewMasterKeyFromBase64("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	require.NoError(t, err)
	return key
}

func newCacheForTest(loader credentialRecordLoader, key crypto.MasterKey, ttl time.Duration) *CredentialCache {
	return &CredentialCache{
		entries: make(map[uuid.UUID]cacheEntry),
		store:   loader,
		key:     key,
		ttl:     ttl,
	}
}

func TestCredentialCacheMissThenHit(t *testing.T) {
	key := testKey(t)
	apiKeyID := uuid.New()
	apiKeyEnc, err := crypto.Encrypt(key, []byte("api-key"))
	require.NoError(t, err)
	apiSecretEnc, err := crypto.Encrypt(key, []byte("api-secret"))
	require.NoError(t, err)

	loader := &fakeLoader{rec: &store.CredentialRecord{
		APIKeyID:           apiKeyID,
		APIKeyEncrypted:    apiKeyEnc,
		APISecretEncrypted: apiSecretEnc,
	}}
	cache := newCacheForTest(loader, key, time.Minute)

	creds, err := cache.Get(context.Background(), apiKeyID)
	require.NoError(t, err)
	assert.Equal(t, "api-key", creds.APIKey)

	_, err = cache.Get(context.Background(), apiKeyID)
	require.NoError(t, err)

	assert.Equal(t, 1, loader.calls, "second call should be served from cache")
}

func TestCredentialCacheExpiresAfterTTL(t *testing.T) {
	key := testKey(t)
	apiKeyID := uuid.New()
	apiKeyEnc, _ := crypto.Encrypt(key, []byte("api-key"))
	apiSecretEnc, _ := crypto.Encrypt(key, []byte("api-secret"))

	loader := &fakeLoader{rec: &store.CredentialRecord{
		APIKeyID:           apiKeyID,
		APIKeyEncrypted:    apiKeyEnc,
		APISecretEncrypted: apiSecretEnc,
	}}
	cache := newCacheForTest(loader, key, -time.Second)

	_, err := cache.Get(context.Background(), apiKeyID)
	require.NoError(t, err)
	_, err = cache.Get(context.Background(), apiKeyID)
	require.NoError(t, err)

	assert.Equal(t, 2, loader.calls, "expired entry should force a reload")
}

func TestCredentialCachePropagatesStoreError(t *testing.T) {
	key := testKey(t)
	loader := &fakeLoader{err: sql.ErrNoRows}
	cache := newCacheForTest(loader, key, time.Minute)

	_, err := cache.Get(context.Background(), uuid.New())
	assert.Error(t, err)
}
