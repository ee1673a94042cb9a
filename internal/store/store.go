package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Logical keys of the persisted layout.
const (
	KeyCurrentUser     = "currentUser"
	KeyRegisteredUsers = "registeredUsers"
	KeyUserCards       = "userCards"
	KeyAllCards        = "allCards"
	KeyReferralStats   = "referralStats"
	KeySecurityLogs    = "securityLogs"
)

// DefaultMaxBytes caps the serialized size of a single value.
const DefaultMaxBytes = 5 * 1024 * 1024

// ErrStorageQuotaExceeded is returned when a value is too large to persist.
var ErrStorageQuotaExceeded = errors.New("storage quota exceeded")

// Backend is a raw byte-oriented key/value store.
type Backend interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}

// Store serializes values as JSON over a Backend and enforces the size cap.
type Store struct {
	backend  Backend
	maxBytes int
	logger   *slog.Logger
}

// New builds a Store. A non-positive maxBytes uses DefaultMaxBytes.
func New(backend Backend, maxBytes int, logger *slog.Logger) *Store {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{backend: backend, maxBytes: maxBytes, logger: logger}
}

// Save persists value under key.
func (s *Store) Save(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if len(b) > s.maxBytes {
		return fmt.Errorf("%s is %d bytes: %w", key, len(b), ErrStorageQuotaExceeded)
	}
	if err := s.backend.Put(ctx, key, b); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Load decodes the value under key into dst. A value that cannot be decoded
// is reported as absent and logged; backend failures are returned.
func (s *Store) Load(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		if s.logger != nil {
			s.logger.Warn("discarding undecodable stored value", slog.String("key", key), slog.Any("error", err))
		}
		return false, nil
	}
	return true, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
