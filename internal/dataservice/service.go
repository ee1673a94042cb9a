package dataservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cardgift/cardgift/internal/cache"
	"github.com/cardgift/cardgift/internal/config"
	"github.com/cardgift/cardgift/internal/ledger"
	"github.com/cardgift/cardgift/internal/moderation"
	"github.com/cardgift/cardgift/internal/ratelimit"
	"github.com/cardgift/cardgift/internal/secure"
	"github.com/cardgift/cardgift/internal/store"
)

// Deps are the collaborators of a Service. Store is required; the rest fall
// back to in-process defaults. Gateway is optional.
type Deps struct {
	Store     *store.Store
	Cache     cache.Cache
	Limiter   ratelimit.Limiter
	Moderator *moderation.Moderator
	Crypto    *secure.Service
	Gateway   ledger.Gateway
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service orchestrates moderation, quotas, persistence, caching and the
// ledger mirror. Mutations are serialized; reads are not.
type Service struct {
	cfg       config.Config
	store     *store.Store
	cache     cache.Cache
	limiter   ratelimit.Limiter
	moderator *moderation.Moderator
	crypto    *secure.Service
	gateway   ledger.Gateway
	mirror    *ledger.Mirror
	logger    *slog.Logger
	now       func() time.Time

	privileged map[string]struct{}

	// mu is held exclusively by mutations and shared by cached reads from
	// the store load until the cache fill.
	mu sync.RWMutex
}

// NewService wires a Service and starts its ledger mirror.
func NewService(cfg config.Config, d Deps) (*Service, error) {
	if d.Store == nil {
		return nil, errors.New("dataservice: store is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Cache == nil {
		d.Cache = cache.NewMemory()
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.NewMemory(cfg.RateLimit.MaxPerWindow, cfg.RateLimit.Window)
	}
	if d.Moderator == nil {
		d.Moderator = moderation.New()
	}
	if d.Crypto == nil {
		d.Crypto = secure.New(secure.WithLogger(d.Logger))
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	s := &Service{
		cfg:        cfg,
		store:      d.Store,
		cache:      d.Cache,
		limiter:    d.Limiter,
		moderator:  d.Moderator,
		crypto:     d.Crypto,
		gateway:    d.Gateway,
		logger:     d.Logger,
		now:        d.Now,
		privileged: make(map[string]struct{}, len(cfg.Quota.PrivilegedAddresses)),
	}
	for _, addr := range cfg.Quota.PrivilegedAddresses {
		s.privileged[normalizeAddress(addr)] = struct{}{}
	}
	s.mirror = ledger.NewMirror(d.Gateway, cfg.Ledger.MirrorQueueSize, cfg.Ledger.CallTimeout, d.Logger)
	return s, nil
}

// MirrorEvents exposes the outcome of every mirrored ledger write.
func (s *Service) MirrorEvents() <-chan ledger.Event { return s.mirror.Events() }

// FlushMirror waits until queued ledger writes have been executed.
func (s *Service) FlushMirror() { s.mirror.Flush() }

// CryptoDegraded reports whether sealing runs without confidentiality.
func (s *Service) CryptoDegraded() bool { return s.crypto.Degraded() }

// Close drains the ledger mirror and sweeps the cache.
func (s *Service) Close(ctx context.Context) {
	s.mirror.Close()
	if _, err := s.cache.Sweep(ctx); err != nil {
		s.logger.Warn("final cache sweep failed", slog.Any("error", err))
	}
}

func (s *Service) clock() time.Time { return s.now().UTC() }

func cacheKeyUser(id string) string      { return "user_" + id }
func cacheKeyUserCards(id string) string { return "user_cards_" + id }
func cacheKeyCard(id string) string      { return "card_" + id }
func cacheKeyReferrals(id string) string { return "referrals_" + id }

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	for _, k := range keys {
		if err := s.cache.Invalidate(ctx, k); err != nil {
			s.logger.Warn("cache invalidation failed", slog.String("key", k), slog.Any("error", err))
		}
	}
}

func (s *Service) cacheGet(ctx context.Context, key string, dst any) bool {
	ok, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		s.logger.Warn("cache read failed", slog.String("key", key), slog.Any("error", err))
		return false
	}
	return ok
}

func (s *Service) cacheSet(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warn("cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

// ledgerCtx bounds a synchronous ledger read.
func (s *Service) ledgerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Ledger.CallTimeout)
}

func (s *Service) ledgerReady() bool {
	return s.gateway != nil && s.gateway.IsConnected()
}

// --- persisted collections ---

func (s *Service) loadCurrentUser(ctx context.Context) (*User, error) {
	var u User
	ok, err := s.store.Load(ctx, store.KeyCurrentUser, &u)
	if err != nil || !ok {
		return nil, err
	}
	return &u, nil
}

func (s *Service) loadUsers(ctx context.Context) ([]User, error) {
	var users []User
	if _, err := s.store.Load(ctx, store.KeyRegisteredUsers, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Service) loadUserCards(ctx context.Context) (map[string][]Card, error) {
	cards := map[string][]Card{}
	if _, err := s.store.Load(ctx, store.KeyUserCards, &cards); err != nil {
		return nil, err
	}
	if cards == nil {
		cards = map[string][]Card{}
	}
	return cards, nil
}

func (s *Service) loadAllCards(ctx context.Context) ([]Card, error) {
	var cards []Card
	if _, err := s.store.Load(ctx, store.KeyAllCards, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

func (s *Service) loadReferralStats(ctx context.Context) (map[string]ReferralStats, error) {
	stats := map[string]ReferralStats{}
	if _, err := s.store.Load(ctx, store.KeyReferralStats, &stats); err != nil {
		return nil, err
	}
	if stats == nil {
		stats = map[string]ReferralStats{}
	}
	return stats, nil
}

// findLocalUser looks at the current user first, then the registered list.
func (s *Service) findLocalUser(ctx context.Context, userID string) (*User, error) {
	cur, err := s.loadCurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if cur != nil && cur.UserID == userID {
		return cur, nil
	}
	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	if i := slices.IndexFunc(users, func(u User) bool { return u.UserID == userID }); i >= 0 {
		return &users[i], nil
	}
	return nil, nil
}

// saveUser writes u to the registered list, and to currentUser when it is the current user.
func (s *Service) saveUser(ctx context.Context, u User) error {
	users, err := s.loadUsers(ctx)
	if err != nil {
		return err
	}
	if i := slices.IndexFunc(users, func(x User) bool { return x.UserID == u.UserID }); i >= 0 {
		users[i] = u
	} else {
		users = append(users, u)
	}
	if err := s.store.Save(ctx, store.KeyRegisteredUsers, users); err != nil {
		return err
	}

	cur, err := s.loadCurrentUser(ctx)
	if err != nil {
		return err
	}
	if cur != nil && cur.UserID == u.UserID {
		return s.store.Save(ctx, store.KeyCurrentUser, u)
	}
	return nil
}

// adjustCardCount applies delta to the owner's cardCount, never below zero.
func (s *Service) adjustCardCount(ctx context.Context, userID string, delta int) error {
	u, err := s.findLocalUser(ctx, userID)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u.CardCount = max(u.CardCount+delta, 0)
	return s.saveUser(ctx, *u)
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
