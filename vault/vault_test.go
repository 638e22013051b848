package vault_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrifit/integrations/vault"
)

const testKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574" // 32 bytes

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(testKeyHex)
	require.NoError(t, err)
	return v
}

func TestNew_KeyValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not hex", strings.Repeat("z", 64)},
		{"too short", "deadbeef"},
		{"too long", strings.Repeat("ab", 33)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := vault.New(tt.key)
			assert.Error(t, err)
		})
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v := newTestVault(t)

	for _, plaintext := range []string{
		"a",
		"some-oauth-access-token",
		strings.Repeat("long refresh token material ", 64),
		"token with unicode ✓ and nulls \x00\x01",
	} {
		blob, err := v.Encrypt(plaintext)
		require.NoError(t, err)

		got, err := v.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncrypt_EmptyInput(t *testing.T) {
	v := newTestVault(t)
	_, err := v.Encrypt("")
	assert.ErrorIs(t, err, vault.ErrEmptyInput)
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	v := newTestVault(t)

	first, err := v.Encrypt("same plaintext")
	require.NoError(t, err)
	second, err := v.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	for _, blob := range []string{first, second} {
		got, err := v.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, "same plaintext", got)
	}
}

func TestDecrypt_TamperDetection(t *testing.T) {
	v := newTestVault(t)

	blob, err := v.Encrypt("tamper me")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)

	// Flipping any single byte (IV, tag or ciphertext) must fail authentication.
	for i := range raw {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[i] ^= 0x01

		_, err := v.Decrypt(base64.StdEncoding.EncodeToString(mutated))
		assert.ErrorIs(t, err, vault.ErrDecryption, "byte %d", i)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	v := newTestVault(t)
	other, err := vault.New(strings.Repeat("42", 32))
	require.NoError(t, err)

	blob, err := v.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(blob)
	assert.ErrorIs(t, err, vault.ErrDecryption)
}

func TestDecrypt_MalformedBlobs(t *testing.T) {
	v := newTestVault(t)

	tests := []struct {
		name string
		blob string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"empty", ""},
		{"too short for iv+tag", base64.StdEncoding.EncodeToString(make([]byte, 27))},
		{"iv+tag but no ciphertext", base64.StdEncoding.EncodeToString(make([]byte, 28))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Decrypt(tt.blob)
			assert.ErrorIs(t, err, vault.ErrFormat)
		})
	}
}
