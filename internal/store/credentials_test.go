package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/crossspread/execution-gateway/internal/config"
	"github.com/crossspread/execution-gateway/pkg/database"
	"github.com/crossspread/execution-gateway/pkg/observability"
	gatewaytesting "github.com/crossspread/execution-gateway/pkg/testing"
)

type CredentialStoreSuite struct {
	gatewaytesting.IntegrationSuite
	store *CredentialStore
}

func (s *CredentialStoreSuite) SetupSuite() {
	s.IntegrationSuite.SetupSuite()

	logger := observability.NewLogger(config.ObservabilityConfig{
		ServiceName: "credential-store-test",
		LogLevel:    "error",
		LogFormat:   "json",
	})

	db, err := database.NewPostgresDB(config.DatabaseConfig{
		URL:                 s.PostgresDSN,
		MaxOpenConns:        5,
		MaxIdleConns:        2,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     time.Hour,
		HealthCheckInterval: 0,
	}, logger)
	s.Require().NoError(err)

	s.store = NewCredentialStore(db)
}

func TestCredentialStoreSuite(t *testing.T) {
	suite.Run(t, new(CredentialStoreSuite))
}

func (s *CredentialStoreSuite) TestGetCredentialRecordNotFound() {
	_, err := s.store.GetCredentialRecord(s.Ctx, uuid.New())
	s.ErrorIs(err, sql.ErrNoRows)
}

func (s *CredentialStoreSuite) TestGetCredentialRecordRoundTrip() {
	apiKeyID := uuid.New()
	userID := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := s.DB.ExecContext(s.Ctx, `
		INSERT INTO api_credentials
			(api_key_id, user_id, exchange_id, api_key_encrypted, api_secret_encrypted, passphrase_encrypted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		apiKeyID, userID, "binance", []byte("enc-key"), []byte("enc-secret"), nil, now,
	)
	s.Require().NoError(err)

	rec, err := s.store.GetCredentialRecord(s.Ctx, apiKeyID)
	s.Require().NoError(err)
	s.Equal(apiKeyID, rec.APIKeyID)
	s.Equal(userID, rec.UserID)
	s.Equal("binance", rec.ExchangeID)
	s.Equal([]byte("enc-key"), rec.APIKeyEncrypted)
	s.Nil(rec.PassphraseEncrypted)
}
