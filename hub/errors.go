package hub

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidModelID   = errors.New("hub: invalid model id")
	ErrNotFound         = errors.New("hub: not found")
	ErrUnauthorized     = errors.New("hub: unauthorized (set HF_TOKEN for gated or private models)")
	ErrRateLimited      = errors.New("hub: rate limited")
	ErrChecksumMismatch = errors.New("hub: checksum mismatch")
	ErrNotCached        = errors.New("hub: model not in local cache")
)

// StatusError is an unexpected HTTP status from the hub.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("hub: %s returned %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("hub: %s returned %d", e.URL, e.StatusCode)
}

// Unwrap maps well-known statuses onto the sentinel errors.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrInvalidModelID):
		return false
	}
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests {
		return false
	}
	return true
}
