package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroKey(t *testing.T) MasterKey {
	t.Helper()
	key, err := NewMasterKeyFromBase64(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := zeroKey(t)
	plaintext := []byte("my_secret_api_key")

	ciphertext, err := Encrypt(key, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := Decrypt(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptProducesDistinctNoncesPerCall(t *testing.T) {
	key := zeroKey(t)
	plaintext := []byte("same plaintext")

	first, err := Encrypt(key, plaintext)
	require.NoError(t, err)
	second, err := Encrypt(key, plaintext)
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "nonce reuse would make ciphertexts identical")
}

func TestDecryptRejectsTruncatedCiphertext(t *testing.T) {
	key := zeroKey(t)
	_, err := Decrypt(key, []byte("short"))
	assert.Error(t, err)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	key := zeroKey(t)
	ciphertext, err := Encrypt(key, []byte("payload"))
	require.NoError(t, err)

	ciphertext[len(ciphertext)-1] ^= 0xFF
	_, err = Decrypt(key, ciphertext)
	assert.Error(t, err)
}

func TestNewMasterKeyFromBase64RejectsWrongLength(t *testing.T) {
	_, err := NewMasterKeyFromBase64(base64.StdEncoding.EncodeToString(make([]byte, 16)))
	assert.Error(t, err)
}

func TestDecryptCredentialsWithoutPassphrase(t *testing.T) {
	key := zeroKey(t)

	apiKeyEnc, err := Encrypt(key, []byte("my-api-key"))
	require.NoError(t, err)
	apiSecretEnc, err := Encrypt(key, []byte("my-api-secret"))
	require.NoError(t, err)

	creds, err := DecryptCredentials(key, apiKeyEnc, apiSecretEnc, nil)
	require.NoError(t, err)
	assert.Equal(t, "my-api-key", creds.APIKey)
	assert.Equal(t, "my-api-secret", creds.APISecret)
	assert.Empty(t, creds.Passphrase)
}

func TestDecryptCredentialsWithPassphrase(t *testing.T) {
	key := zeroKey(t)

	apiKeyEnc, _ := Encrypt(key, []byte("k"))
	apiSecretEnc, _ := Encrypt(key, []byte("s"))
	passphraseEnc, _ := Encrypt(key, []byte("p"))

	creds, err := DecryptCredentials(key, apiKeyEnc, apiSecretEnc, passphraseEnc)
	require.NoError(t, err)
	assert.Equal(t, "p", creds.Passphrase)
}
