package dataservice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cardgift/cardgift/internal/ledger"
	"github.com/cardgift/cardgift/internal/ratelimit"
	"github.com/cardgift/cardgift/internal/store"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrContentRejected  = errors.New("content rejected")
	ErrQuotaExceeded    = errors.New("card quota exceeded")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrMediaTooLarge    = errors.New("media too large")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrIntegrity        = errors.New("backup is corrupted")

	ErrRateLimitExceeded    = ratelimit.ErrRateLimitExceeded
	ErrStorageQuotaExceeded = store.ErrStorageQuotaExceeded
	ErrLedgerUnavailable    = ledger.ErrUnavailable
)

// Error codes carried by failed results.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeContentRejected  = "CONTENT_REJECTED"
	CodeQuotaExceeded    = "QUOTA_EXCEEDED"
	CodeUnsupportedMedia = "UNSUPPORTED_MEDIA"
	CodeMediaTooLarge    = "MEDIA_TOO_LARGE"
	CodeNotFound         = "NOT_FOUND"
	CodeForbidden        = "FORBIDDEN"
	CodeIntegrity        = "INTEGRITY_ERROR"
	CodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	CodeStorageQuota     = "STORAGE_QUOTA_EXCEEDED"
	CodeInternal         = "INTERNAL_ERROR"
)

// ValidationError aggregates every failed input check.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Messages, ", "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ContentRejectedError lists moderation violations per field.
type ContentRejectedError struct {
	Fields map[string][]string
}

func (e *ContentRejectedError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range []string{"name", "greeting", "personalMessage"} {
		if reasons, ok := e.Fields[field]; ok {
			parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(reasons, ", ")))
		}
	}
	return fmt.Sprintf("content rejected: %s", strings.Join(parts, "; "))
}

func (e *ContentRejectedError) Is(target error) bool { return target == ErrContentRejected }

// QuotaExceededError reports the quota that blocked a card.
type QuotaExceededError struct {
	Current int
	Limit   int
	Tier    string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("card limit reached (%d/%d) for level %s", e.Current, e.Limit, e.Tier)
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// Code classifies err for clients.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrContentRejected):
		return CodeContentRejected
	case errors.Is(err, ErrQuotaExceeded):
		return CodeQuotaExceeded
	case errors.Is(err, ErrUnsupportedMedia):
		return CodeUnsupportedMedia
	case errors.Is(err, ErrMediaTooLarge):
		return CodeMediaTooLarge
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrIntegrity):
		return CodeIntegrity
	case errors.Is(err, ErrRateLimitExceeded):
		return CodeRateLimited
	case errors.Is(err, ErrStorageQuotaExceeded):
		return CodeStorageQuota
	default:
		return CodeInternal
	}
}
