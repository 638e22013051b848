package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Error codes reported to API clients and recorded in sync history entries.
const (
	CodeConfiguration  = "CONFIGURATION_ERROR"
	CodeValidation     = "VALIDATION_ERROR"
	CodeAuthExpired    = "AUTH_EXPIRED"
	CodeRateLimited    = "RATE_LIMITED"
	CodeDecryption     = "DECRYPTION_ERROR"
	CodeSync           = "SYNC_ERROR"
	CodeSyncInProgress = "SYNC_IN_PROGRESS"
	CodeNotFound       = "NOT_FOUND"

	CodeSubscriptionRequired = "SUBSCRIPTION_REQUIRED"
)

// AppError is the common shape for classified application errors.
type AppError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`

	// RetryAfter is set only for RATE_LIMITED errors.
	RetryAfter time.Duration `json:"-"`

	cause error
}

func (e *AppError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *AppError) Unwrap() error { return e.cause }

// CodeOf returns the classification code of err, or CodeSync when err carries none.
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeSync
}

// RetryAfterOf returns the backoff hint carried by a RATE_LIMITED error, zero otherwise.
func RetryAfterOf(err error) time.Duration {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}

// IsCode reports whether err classifies as the given code.
func IsCode(err error, code string) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.Code == code
}

// NewConfiguration reports an invalid deployment configuration. Fatal, never retried.
func NewConfiguration(description string) *AppError {
	return &AppError{Code: CodeConfiguration, Description: description}
}

// NewValidation reports invalid caller input (unknown provider, bad frequency, bad date).
func NewValidation(description string) *AppError {
	return &AppError{Code: CodeValidation, Description: description}
}

// NewAuthExpired reports credentials that require the user to reconnect the provider.
func NewAuthExpired(description string) *AppError {
	return &AppError{Code: CodeAuthExpired, Description: description}
}

// NewRateLimited reports an exhausted provider API budget together with a backoff hint.
func NewRateLimited(retryAfter time.Duration) *AppError {
	return &AppError{
		Code:        CodeRateLimited,
		Description: fmt.Sprintf("provider API rate limit reached, retry after %s", retryAfter),
		RetryAfter:  retryAfter,
	}
}

// NewDecryption reports tampered or corrupted ciphertext. Deliberately carries no
// detail about which part of the blob failed verification.
func NewDecryption() *AppError {
	return &AppError{Code: CodeDecryption, Description: "unable to decrypt credential"}
}

// NewSync wraps a provider or network failure encountered during a sync run.
func NewSync(description string, cause error) *AppError {
	return &AppError{Code: CodeSync, Description: description, cause: cause}
}

// NewSyncInProgress reports a rejected concurrent sync attempt for the same connection.
func NewSyncInProgress(provider string) *AppError {
	return &AppError{Code: CodeSyncInProgress, Description: fmt.Sprintf("a sync for %s is already running", provider)}
}

// NewSubscriptionRequired reports a feature gated behind a higher subscription tier.
func NewSubscriptionRequired(description string) *AppError {
	return &AppError{Code: CodeSubscriptionRequired, Description: description}
}

// NewNotFound reports a missing connection, setting or history entry.
func NewNotFound(description string) *AppError {
	return &AppError{Code: CodeNotFound, Description: description}
}
