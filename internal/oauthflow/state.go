package oauthflow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/nutrifit/integrations/domain"
)

// StateTTL is how long a signed state token stays valid between the connect
// redirect and the provider callback.
const StateTTL = 15 * time.Minute

var (
	ErrStateInvalid = errors.New("oauthflow: state token signature invalid or unparsable")
	ErrStateExpired = errors.New("oauthflow: state token expired")
)

// StatePayload is the CSRF state embedded in the authorization redirect.
// It is signed, not encrypted; it carries no secrets.
type StatePayload struct {
	UserID   string `json:"uid"`
	Provider string `json:"prv"`
	Nonce    string `json:"nce"`
	IssuedAt int64  `json:"iat"`
}

// StateSigner signs and verifies state tokens with HMAC-SHA256.
// Token format: base64url(payload JSON) + "." + base64url(signature).
type StateSigner struct {
	key   []byte
	ttl   time.Duration
	clock domain.Clock
}

// DeriveStateKey derives the dedicated state-signing key from the vault
// master key, so state tokens never share key material with credential
// encryption.
func DeriveStateKey(masterKey []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, masterKey, nil, []byte("oauth-state-signing-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("oauthflow: deriving state key: %w", err)
	}
	return key, nil
}

func NewStateSigner(key []byte, ttl time.Duration, clock domain.Clock) *StateSigner {
	if ttl <= 0 {
		ttl = StateTTL
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &StateSigner{key: key, ttl: ttl, clock: clock}
}

// Sign issues a state token for the given user, provider and nonce.
func (s *StateSigner) Sign(userID, providerSlug, nonce string) (string, error) {
	payload := StatePayload{
		UserID:   userID,
		Provider: providerSlug,
		Nonce:    nonce,
		IssuedAt: s.clock.Now().Unix(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("oauthflow: marshaling state: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + s.signature(encoded), nil
}

// Verify checks signature and age, returning the decoded payload.
// Signature failures and parse failures both report ErrStateInvalid;
// a valid-but-old token reports ErrStateExpired.
func (s *StateSigner) Verify(token string) (*StatePayload, error) {
	encoded, sig, found := strings.Cut(token, ".")
	if !found {
		return nil, ErrStateInvalid
	}
	if !hmac.Equal([]byte(sig), []byte(s.signature(encoded))) {
		return nil, ErrStateInvalid
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrStateInvalid
	}
	var payload StatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrStateInvalid
	}

	issuedAt := time.Unix(payload.IssuedAt, 0)
	if s.clock.Now().Sub(issuedAt) > s.ttl {
		return &payload, ErrStateExpired
	}
	return &payload, nil
}

func (s *StateSigner) signature(encodedPayload string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
