// Package secure seals data at rest and fingerprints records.
//
// Sealed blobs are base64(salt || iv || ciphertext) where the ciphertext is
// AES-256-GCM over the JSON encoding of the payload. Password keys are
// derived with PBKDF2-SHA256; without a password the per-process session key
// is used. When no randomness is available at start-up the service runs in
// degraded mode: blobs become base64(JSON) and hashing switches to a 32-bit
// rolling hash. Degraded output is not confidential.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	mrand "math/rand/v2"
	"strconv"
	"unicode/utf16"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize   = 16
	IVSize     = 12
	KeySize    = 32
	Iterations = 100000
)

var (
	// ErrDecrypt is returned for blobs that are neither sealed with the given key nor legacy encoded.
	ErrDecrypt = errors.New("decryption failed")
	// ErrRandom reports that the randomness provider failed.
	ErrRandom = errors.New("randomness unavailable")
)

// Service performs sealing and hashing. Safe for concurrent use.
type Service struct {
	random     io.Reader
	sessionKey []byte
	degraded   bool
	logger     *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithRandom overrides the randomness provider.
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.random = r }
}

// WithLogger attaches a logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New generates the session key. A failing randomness provider leaves the
// service degraded instead of returning an error.
func New(opts ...Option) *Service {
	s := &Service{random: rand.Reader}
	for _, opt := range opts {
		opt(s)
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(s.random, key); err != nil {
		s.degraded = true
		if s.logger != nil {
			s.logger.Warn("session key unavailable, running degraded crypto", slog.Any("error", err))
		}
		return s
	}
	s.sessionKey = key
	return s
}

// Degraded reports whether sealing falls back to plain encoding.
func (s *Service) Degraded() bool { return s.degraded }

// Encrypt seals the JSON encoding of data. An empty password selects the session key.
func (s *Service) Encrypt(data any, password string) (string, error) {
	plain, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	if s.degraded {
		return base64.StdEncoding.EncodeToString(plain), nil
	}

	buf := make([]byte, SaltSize+IVSize)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRandom, err)
	}
	salt, iv := buf[:SaltSize], buf[SaltSize:]

	gcm, err := s.aead(password, salt)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(buf, iv, plain, nil)), nil
}

// Decrypt opens blob into out. Blobs that fail authentication are retried as
// legacy base64(JSON); when that fails too ErrDecrypt is returned and out is untouched.
func (s *Service) Decrypt(blob, password string, out any) error {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return ErrDecrypt
	}

	if !s.degraded && len(raw) > SaltSize+IVSize {
		salt, iv, sealed := raw[:SaltSize], raw[SaltSize:SaltSize+IVSize], raw[SaltSize+IVSize:]
		gcm, err := s.aead(password, salt)
		if err != nil {
			return err
		}
		if plain, err := gcm.Open(nil, iv, sealed, nil); err == nil {
			if err := json.Unmarshal(plain, out); err != nil {
				return fmt.Errorf("%w: %v", ErrDecrypt, err)
			}
			return nil
		}
	}

	if !json.Valid(raw) {
		return ErrDecrypt
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return nil
}

// Hash fingerprints data: strings are hashed as-is, everything else as JSON.
func (s *Service) Hash(data any) string {
	var payload string
	switch v := data.(type) {
	case string:
		payload = v
	case []byte:
		payload = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			payload = fmt.Sprint(v)
		} else {
			payload = string(b)
		}
	}
	if s.degraded {
		return LegacyHash(payload)
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// RandomDigits returns n decimal digits without a leading zero.
func (s *Service) RandomDigits(n int) string {
	if n <= 0 {
		return ""
	}
	if n > 18 {
		n = 18
	}
	low := uint64(1)
	for i := 1; i < n; i++ {
		low *= 10
	}
	span := 9 * low

	var b [8]byte
	var v uint64
	if _, err := io.ReadFull(s.random, b[:]); err == nil {
		v = binary.BigEndian.Uint64(b[:]) % span
	} else {
		v = mrand.Uint64N(span)
	}
	return strconv.FormatUint(low+v, 10)
}

func (s *Service) aead(password string, salt []byte) (cipher.AEAD, error) {
	key := s.sessionKey
	if password != "" {
		key = pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha256.New)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

// LegacyHash is the 32-bit rolling hash h = h*31 + c over UTF-16 code units,
// rendered as signed hexadecimal.
func LegacyHash(s string) string {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(unit)
	}
	return strconv.FormatInt(int64(h), 16)
}
