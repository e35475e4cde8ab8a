package describe

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrCaptureFailure        = errors.New("frame capture failed")
	ErrDescriptionTimeout    = errors.New("description timed out")
	ErrAllProvidersExhausted = errors.New("all description providers exhausted")
	ErrMalformedResponse     = errors.New("malformed provider response")
	ErrQuotaReserve          = errors.New("provider quota reserve reached")
)

// ProviderError is a failed provider call. Transient errors are retried
// against the same provider; others move on to the next one.
type ProviderError struct {
	Provider   string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func transientStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}
