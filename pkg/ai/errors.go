// Package ai defines the error taxonomy shared by the provider gateway,
// the voice pipeline, and the session manager. Every provider adapter
// normalizes its vendor-specific failures into these sentinels so callers
// can decide on fallback and recovery without knowing the vendor.
package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable indicates a network, auth, or quota failure
	// against a speech or language provider. Callers may retry against the
	// next configured provider; it never terminates the session by itself.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrTranscriptionEmpty indicates the provider returned no usable text.
	// Treated as silence by the pipeline, not as a failure.
	ErrTranscriptionEmpty = errors.New("transcription empty")

	// ErrSynthesisCancelled is the expected outcome of an interruption.
	// Never logged as a failure.
	ErrSynthesisCancelled = errors.New("synthesis cancelled")

	// ErrSessionSetupFailed indicates the transport could not establish
	// the call. The session aborts to Ended.
	ErrSessionSetupFailed = errors.New("session setup failed")

	// ErrConfigurationInvalid indicates missing or invalid provider
	// credentials at startup. The provider is omitted from the available
	// set; it is not fatal to the process.
	ErrConfigurationInvalid = errors.New("configuration invalid")
)

// IsUnavailable reports whether err should trigger caller-driven fallback.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// IsCancelled reports whether err is an expected cancellation outcome.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrSynthesisCancelled)
}

// IsEmptyTranscription reports whether err means "no usable text".
func IsEmptyTranscription(err error) bool {
	return errors.Is(err, ErrTranscriptionEmpty)
}

// ProviderError carries provider identity and HTTP status alongside the
// underlying failure. Unwrap yields ErrProviderUnavailable for transient
// classes (network, 401/403/429/5xx) and ErrConfigurationInvalid for
// missing credentials, so errors.Is works against the taxonomy.
type ProviderError struct {
	Provider   string
	Operation  string // "transcribe", "synthesize", "chat"
	StatusCode int
	Underlying error
	fatal      bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed: status %d: %v", e.Provider, e.Operation, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Operation, e.Underlying)
}

func (e *ProviderError) Unwrap() error {
	if e.fatal {
		return ErrConfigurationInvalid
	}
	return ErrProviderUnavailable
}

// NewUnavailable wraps a transient provider failure.
func NewUnavailable(provider, operation string, status int, underlying error) error {
	return &ProviderError{
		Provider:   provider,
		Operation:  operation,
		StatusCode: status,
		Underlying: underlying,
	}
}

// NewMisconfigured wraps a credential or setup failure for a provider.
func NewMisconfigured(provider, operation string, underlying error) error {
	return &ProviderError{
		Provider:   provider,
		Operation:  operation,
		Underlying: underlying,
		fatal:      true,
	}
}
