package dataservice

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/cardgift/cardgift/internal/store"
)

type backupPayload struct {
	User      User            `json:"user"`
	Referrals ReferralSummary `json:"referrals"`
	UserCards []Card          `json:"userCards"`
}

func (s *Service) checksum(b Backup) string {
	return s.crypto.Hash(backupPayload{User: b.User, Referrals: b.Referrals, UserCards: b.Cards})
}

// BackupUserData bundles the user, their referrals and cards with a checksum.
func (s *Service) BackupUserData(ctx context.Context, userID string) (Backup, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return Backup{}, err
	}
	refs, err := s.GetUserReferrals(ctx, userID)
	if err != nil {
		return Backup{}, err
	}
	byUser, err := s.loadUserCards(ctx)
	if err != nil {
		return Backup{}, err
	}

	b := Backup{
		Version:   BackupVersion,
		Timestamp: s.clock(),
		User:      u,
		Referrals: refs,
		Cards:     slices.Clone(byUser[userID]),
	}
	if b.Cards == nil {
		b.Cards = []Card{}
	}
	b.Checksum = s.checksum(b)
	return b, nil
}

// RestoreUserData applies a backup after verifying its checksum and that every
// card in it belongs to userID. Nothing is written when a check fails. Live
// cards of userID missing from the backup are archived.
func (s *Service) RestoreUserData(ctx context.Context, b Backup, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Checksum == "" || s.checksum(b) != b.Checksum {
		s.logger.Warn("backup checksum mismatch", slog.String("user_id", userID))
		return ErrIntegrity
	}
	if b.User.UserID != userID {
		return fmt.Errorf("backup belongs to %s: %w", b.User.UserID, ErrForbidden)
	}

	for _, c := range b.Cards {
		if c.UserID != userID {
			return fmt.Errorf("backup card %s belongs to %s: %w", c.CardID, c.UserID, ErrForbidden)
		}
	}

	byUser, err := s.loadUserCards(ctx)
	if err != nil {
		return err
	}
	all, err := s.loadAllCards(ctx)
	if err != nil {
		return err
	}
	// A card id may not be re-pointed at a record another user owns.
	for _, c := range b.Cards {
		if i := slices.IndexFunc(all, func(x Card) bool { return x.CardID == c.CardID }); i >= 0 && all[i].UserID != userID {
			return fmt.Errorf("card %s belongs to %s: %w", c.CardID, all[i].UserID, ErrForbidden)
		}
	}

	u := b.User
	u.CardCount = 0
	kept := make(map[string]struct{}, len(b.Cards))
	for _, c := range b.Cards {
		kept[c.CardID] = struct{}{}
		if !c.IsArchived {
			u.CardCount++
		}
	}

	now := s.clock()
	for i := range all {
		if all[i].UserID != userID || all[i].IsArchived {
			continue
		}
		if _, ok := kept[all[i].CardID]; !ok {
			all[i].IsArchived = true
			all[i].DeletedAt = &now
		}
	}
	for _, c := range b.Cards {
		if i := slices.IndexFunc(all, func(x Card) bool { return x.CardID == c.CardID }); i >= 0 {
			all[i] = c
		} else {
			all = append(all, c)
		}
	}
	byUser[userID] = b.Cards

	if err := s.store.Save(ctx, store.KeyCurrentUser, u); err != nil {
		return fmt.Errorf("save current user: %w", err)
	}
	if err := s.saveUser(ctx, u); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	if err := s.store.Save(ctx, store.KeyUserCards, byUser); err != nil {
		return fmt.Errorf("save user cards: %w", err)
	}
	if err := s.store.Save(ctx, store.KeyAllCards, all); err != nil {
		return fmt.Errorf("save all cards: %w", err)
	}

	if err := s.cache.Clear(ctx); err != nil {
		s.logger.Warn("cache clear after restore failed", slog.Any("error", err))
	}
	s.logSecurityEvent(ctx, EventDataRestored, map[string]any{"userId": userID, "cards": len(b.Cards), "version": b.Version})
	return nil
}

// SealBackup encrypts a backup for export. An empty password seals it under
// the process session key.
func (s *Service) SealBackup(b Backup, password string) (string, error) {
	blob, err := s.crypto.Encrypt(b, password)
	if err != nil {
		return "", fmt.Errorf("seal backup: %w", err)
	}
	return blob, nil
}

// OpenBackup reverses SealBackup. A wrong password or a tampered blob yields ErrIntegrity.
func (s *Service) OpenBackup(blob, password string) (Backup, error) {
	var b Backup
	if err := s.crypto.Decrypt(blob, password, &b); err != nil {
		return Backup{}, fmt.Errorf("open backup: %w", ErrIntegrity)
	}
	return b, nil
}
