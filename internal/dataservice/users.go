package dataservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/cardgift/cardgift/internal/ledger"
	"github.com/cardgift/cardgift/internal/store"
)

const userIDDigits = 7

// RegisterUser validates and persists a new user and credits the referrer.
func (s *Service) RegisterUser(ctx context.Context, in RegisterInput) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.limiter.Allow(ctx, "register"); err != nil {
		s.logSecurityEvent(ctx, EventRegistrationFailed, map[string]any{"reason": err.Error()})
		return User{}, err
	}

	in = in.sanitized()
	if msgs := s.validateRegistration(in); len(msgs) > 0 {
		s.logSecurityEvent(ctx, EventRegistrationFailed, map[string]any{"errors": msgs})
		return User{}, &ValidationError{Messages: msgs}
	}

	users, err := s.loadUsers(ctx)
	if err != nil {
		return User{}, fmt.Errorf("load users: %w", err)
	}
	id := s.uniqueUserID(users)

	u := User{
		UserID:           id,
		Name:             in.Name,
		Messenger:        in.Messenger,
		Contact:          in.Contact,
		ReferrerID:       in.ReferrerID,
		WalletAddress:    in.WalletAddress,
		Level:            LevelFree,
		RegistrationDate: s.clock(),
		DataHash:         s.crypto.Hash(id + in.Name + in.Contact),
	}

	if err := s.store.Save(ctx, store.KeyCurrentUser, u); err != nil {
		return User{}, fmt.Errorf("save current user: %w", err)
	}
	if err := s.store.Save(ctx, store.KeyRegisteredUsers, append(users, u)); err != nil {
		return User{}, fmt.Errorf("save registered users: %w", err)
	}

	if u.ReferrerID != "" {
		if err := s.addReferral(ctx, u.ReferrerID, u.UserID); err != nil {
			s.logger.Warn("referral stats not updated", slog.String("referrer_id", u.ReferrerID), slog.Any("error", err))
		}
	}

	referrerID := u.ReferrerID
	s.mirror.Submit(ledger.OpRegisterUser, u.UserID, func(ctx context.Context, gw ledger.Gateway) (ledger.Receipt, error) {
		return gw.RegisterUser(ctx, id, referrerID, ledger.Payment{Value: "0", Gas: s.cfg.Ledger.RegisterGas})
	})

	s.logSecurityEvent(ctx, EventUserRegistered, map[string]any{
		"userId":      u.UserID,
		"messenger":   u.Messenger,
		"hasReferral": u.ReferrerID != "",
	})
	return u, nil
}

func (s *Service) uniqueUserID(users []User) string {
	taken := make(map[string]struct{}, len(users))
	for _, u := range users {
		taken[u.UserID] = struct{}{}
	}
	for {
		id := s.crypto.RandomDigits(userIDDigits)
		if _, dup := taken[id]; !dup {
			return id
		}
	}
}

// ActivateUser records a paid level upgrade and mirrors the payment to the ledger.
func (s *Service) ActivateUser(ctx context.Context, userID string, in ActivateInput) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.limiter.Allow(ctx, "activate"); err != nil {
		return User{}, err
	}

	var msgs []string
	if in.Level < LevelActivated || in.Level > LevelSuperAdmin {
		msgs = append(msgs, fmt.Sprintf("unsupported activation level %d", in.Level))
	}
	wallet := normalizeAddress(Sanitize(in.WalletAddress))
	if wallet != "" && !walletRe.MatchString(wallet) {
		msgs = append(msgs, "invalid wallet address")
	}
	if len(msgs) > 0 {
		return User{}, &ValidationError{Messages: msgs}
	}

	u, err := s.findLocalUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if u == nil {
		return User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	now := s.clock()
	u.Level = in.Level
	u.IsActive = true
	if wallet != "" {
		u.WalletAddress = wallet
	}
	u.ActivationTxHash = Sanitize(in.TxHash)
	u.ActivationDate = &now
	if err := s.saveUser(ctx, *u); err != nil {
		return User{}, fmt.Errorf("save user: %w", err)
	}
	s.invalidate(ctx, cacheKeyUser(userID))
	if u.ReferrerID != "" {
		s.invalidate(ctx, cacheKeyReferrals(u.ReferrerID))
	}

	op, payment, call := s.activationCall(in.Level)
	s.mirror.Submit(op, userID, func(ctx context.Context, gw ledger.Gateway) (ledger.Receipt, error) {
		return call(ctx, gw, userID, payment)
	})

	s.logSecurityEvent(ctx, EventUserActivated, map[string]any{"userId": userID, "level": int(in.Level)})
	return *u, nil
}

type activateFunc func(ctx context.Context, gw ledger.Gateway, userID string, p ledger.Payment) (ledger.Receipt, error)

func (s *Service) activationCall(level Level) (string, ledger.Payment, activateFunc) {
	l := s.cfg.Ledger
	switch level {
	case LevelMiniAdmin:
		return ledger.OpActivateMiniAdmin, ledger.Payment{Value: l.MiniAdminPrice, Gas: l.MiniAdminGas},
			func(ctx context.Context, gw ledger.Gateway, id string, p ledger.Payment) (ledger.Receipt, error) {
				return gw.ActivateMiniAdmin(ctx, id, p)
			}
	case LevelSuperAdmin:
		return ledger.OpActivateSuperAdmin, ledger.Payment{Value: l.SuperAdminPrice, Gas: l.SuperAdminGas},
			func(ctx context.Context, gw ledger.Gateway, id string, p ledger.Payment) (ledger.Receipt, error) {
				return gw.ActivateSuperAdmin(ctx, id, p)
			}
	default:
		return ledger.OpActivateUser, ledger.Payment{Value: l.ActivationPrice, Gas: l.ActivationGas},
			func(ctx context.Context, gw ledger.Gateway, id string, p ledger.Payment) (ledger.Receipt, error) {
				return gw.ActivateUser(ctx, id, p)
			}
	}
}

// GetUser returns the user, merged with the ledger record when one is reachable.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := cacheKeyUser(userID)
	var cached User
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	local, err := s.findLocalUser(ctx, userID)
	if err != nil {
		return User{}, err
	}

	var u User
	if remote, ok := s.ledgerUser(ctx, userID); ok {
		u = mergeUser(local, remote)
	} else if local != nil {
		u = *local
	} else {
		return User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	s.cacheSet(ctx, key, u, s.cfg.Cache.DefaultTTL)
	return u, nil
}

// ledgerUser reads the ledger record. Any failure is logged and reported as absent.
func (s *Service) ledgerUser(ctx context.Context, userID string) (ledger.User, bool) {
	if !s.ledgerReady() {
		return ledger.User{}, false
	}
	lctx, cancel := s.ledgerCtx(ctx)
	defer cancel()

	remote, err := s.gateway.GetUser(lctx, userID)
	if err != nil {
		if !errors.Is(err, ledger.ErrUserNotFound) {
			s.logger.Warn("ledger user read failed, using local data", slog.String("user_id", userID), slog.Any("error", err))
		}
		return ledger.User{}, false
	}
	return remote, true
}

// mergeUser overlays ledger state on the local record. Levels and activation
// only ever move forward; cardCount stays local.
func mergeUser(local *User, remote ledger.User) User {
	var u User
	if local != nil {
		u = *local
	} else {
		u = User{UserID: remote.UserID, RegistrationDate: remote.RegistrationTime}
	}
	if lvl := Level(remote.Level); lvl > u.Level {
		u.Level = lvl
	}
	u.IsActive = u.IsActive || remote.IsActive
	if u.WalletAddress == "" {
		u.WalletAddress = remote.Wallet
	}
	if remote.ReferrerID != "" {
		u.ReferrerID = remote.ReferrerID
	}
	if u.RegistrationDate.IsZero() {
		u.RegistrationDate = remote.RegistrationTime
	}
	return u
}

// ClearUserData removes the user record and their card index. Cards stay in
// the global list as archived entries.
func (s *Service) ClearUserData(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.loadCurrentUser(ctx)
	if err != nil {
		return err
	}
	if cur != nil && cur.UserID == userID {
		if err := s.store.Delete(ctx, store.KeyCurrentUser); err != nil {
			return fmt.Errorf("delete current user: %w", err)
		}
	}

	users, err := s.loadUsers(ctx)
	if err != nil {
		return err
	}
	users = slices.DeleteFunc(users, func(u User) bool { return u.UserID == userID })
	if err := s.store.Save(ctx, store.KeyRegisteredUsers, users); err != nil {
		return fmt.Errorf("save registered users: %w", err)
	}

	byUser, err := s.loadUserCards(ctx)
	if err != nil {
		return err
	}
	owned := byUser[userID]
	delete(byUser, userID)
	if err := s.store.Save(ctx, store.KeyUserCards, byUser); err != nil {
		return fmt.Errorf("save user cards: %w", err)
	}

	all, err := s.loadAllCards(ctx)
	if err != nil {
		return err
	}
	now := s.clock()
	for i := range all {
		if all[i].UserID == userID && !all[i].IsArchived {
			all[i].IsArchived = true
			all[i].DeletedAt = &now
		}
	}
	if err := s.store.Save(ctx, store.KeyAllCards, all); err != nil {
		return fmt.Errorf("save all cards: %w", err)
	}

	keys := []string{cacheKeyUser(userID), cacheKeyUserCards(userID), cacheKeyReferrals(userID)}
	for _, c := range owned {
		keys = append(keys, cacheKeyCard(c.CardID))
	}
	s.invalidate(ctx, keys...)

	s.logSecurityEvent(ctx, EventUserDataCleared, map[string]any{"userId": userID, "cards": len(owned)})
	return nil
}
