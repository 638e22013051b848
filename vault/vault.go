package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// Wire format: base64( IV(12 bytes) || GCM auth tag(16 bytes) || ciphertext ).
const (
	ivSize  = 12
	tagSize = 16
	keySize = 32
)

var (
	// ErrEmptyInput is returned when Encrypt is called with an empty plaintext.
	ErrEmptyInput = errors.New("vault: plaintext must not be empty")

	// ErrFormat is returned for blobs too short to contain IV, tag and at least
	// one ciphertext byte.
	ErrFormat = errors.New("vault: ciphertext blob is malformed")

	// ErrDecryption is returned for any tamper, truncation or wrong-key
	// condition. It deliberately does not say which part failed.
	ErrDecryption = errors.New("vault: decryption failed")
)

// Vault encrypts and decrypts OAuth credentials at rest with AES-256-GCM.
// It is a pure function of its input and configured key: no side effects, no retries.
type Vault struct {
	aead cipher.AEAD
}

// New validates the master key and builds the AEAD once. The key must be the
// hex form of exactly 32 bytes; anything else fails fast.
func New(masterKeyHex string) (*Vault, error) {
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("vault: master key is not valid hex: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("vault: master key must be %d hex chars (%d bytes), got %d bytes", keySize*2, keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random 96-bit IV and returns the
// base64 blob IV || tag || ciphertext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyInput
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}

	// Seal appends ciphertext||tag; the wire format wants IV||tag||ciphertext.
	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, ivSize+tagSize+len(ct))
	blob = append(blob, iv...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a blob produced by Encrypt. Any authentication failure is
// reported as ErrDecryption without further detail.
func (v *Vault) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrFormat
	}
	if len(raw) < ivSize+tagSize+1 {
		return "", ErrFormat
	}

	iv := raw[:ivSize]
	tag := raw[ivSize : ivSize+tagSize]
	ct := raw[ivSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}
