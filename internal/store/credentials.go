// Package store owns the Postgres-backed persistence for encrypted exchange
// API credentials, the record the execution server's credential cache
// decrypts on a miss.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crossspread/execution-gateway/pkg/database"
)

// CredentialRecord is one row of api_credentials.
type CredentialRecord struct {
	APIKeyID            uuid.UUID
	UserID              uuid.UUID
	ExchangeID          string
	APIKeyEncrypted     []byte
	APISecretEncrypted  []byte
	PassphraseEncrypted []byte
	CreatedAt           time.Time
}

// CredentialStore reads encrypted credential rows.
type CredentialStore struct {
	db *database.DB
}

// NewCredentialStore wraps a connected Postgres handle.
func NewCredentialStore(db *database.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

const getCredentialRecordQuery = `
SELECT api_key_id, user_id, exchange_id, api_key_encrypted, api_secret_encrypted,
       passphrase_encrypted, created_at
FROM api_credentials
WHERE api_key_id = $1`

// GetCredentialRecord fetches one row by its api_key_id, returning
// sql.ErrNoRows unwrapped so callers can distinguish "not found" from a
// transport failure.
func (s *CredentialStore) GetCredentialRecord(ctx context.Context, apiKeyID uuid.UUID) (*CredentialRecord, error) {
	row := s.db.QueryRowWithMetrics(ctx, getCredentialRecordQuery, apiKeyID)

	var rec CredentialRecord
	if err := row.Scan(
		&rec.APIKeyID,
		&rec.UserID,
		&rec.ExchangeID,
		&rec.APIKeyEncrypted,
		&rec.APISecretEncrypted,
		&rec.PassphraseEncrypted,
		&rec.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("query credential record %s: %w", apiKeyID, err)
	}

	return &rec, nil
}
