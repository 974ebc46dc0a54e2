// Package crypto decrypts the AES-256-GCM-encrypted exchange API credentials
// read back from the credential store. A single 32-byte master key, loaded
// once at startup from config, is used for every venue's credentials.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/crossspread/execution-gateway/internal/exchange"
)

const nonceSize = 12

// MasterKey wraps a validated 32-byte AES-256-GCM key.
type MasterKey struct {
	raw []byte
}

// NewMasterKeyFromBase64 decodes and validates the key configured via
// ENCRYPTION_KEY_BASE64.
func NewMasterKeyFromBase64(encoded string) (MasterKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return MasterKey{}, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(raw) != 32 {
		return MasterKey{}, fmt.Errorf("encryption key must be 32 bytes, got %d", len(raw))
	}
	return MasterKey{raw: raw}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext under the master key, returning
// nonce(12) || ciphertext || tag.
func Encrypt(key MasterKey, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key.raw)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce(12) || ciphertext || tag blob sealed by Encrypt.
func Decrypt(key MasterKey, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key.raw)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(ciphertext))
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// DecryptCredentials decrypts the three stored ciphertext columns into the
// Credentials triple an exchange.Adapter needs. passphraseEnc may be nil for
// venues that don't use one.
func DecryptCredentials(key MasterKey, apiKeyEnc, apiSecretEnc, passphraseEnc []byte) (exchange.Credentials, error) {
	apiKey, err := Decrypt(key, apiKeyEnc)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("decrypt api key: %w", err)
	}

	apiSecret, err := Decrypt(key, apiSecretEnc)
	if err != nil {
		return exchange.Credentials{}, fmt.Errorf("decrypt api secret: %w", err)
	}

	var passphrase string
	if len(passphraseEnc) > 0 {
		decrypted, err := Decrypt(key, passphraseEnc)
		if err != nil {
			return exchange.Credentials{}, fmt.Errorf("decrypt passphrase: %w", err)
		}
		passphrase = string(decrypted)
	}

	return exchange.Credentials{
		APIKey:     string(apiKey),
		APISecret:  string(apiSecret),
		Passphrase: passphrase,
	}, nil
}
