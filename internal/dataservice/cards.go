package dataservice

import (
	"cmp"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/cardgift/cardgift/internal/ledger"
	"github.com/cardgift/cardgift/internal/store"
)

const cardViewPath = "/card-viewer.html?id="

// CreateCard moderates, quota-checks and persists a new card.
func (s *Service) CreateCard(ctx context.Context, in CardInput) (CreatedCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.limiter.Allow(ctx, "createCard"); err != nil {
		return CreatedCard{}, err
	}

	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return CreatedCard{}, &ValidationError{Messages: []string{"field userId is required"}}
	}
	owner, err := s.findLocalUser(ctx, userID)
	if err != nil {
		return CreatedCard{}, err
	}
	if owner == nil {
		return CreatedCard{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	info, err := s.limitInfo(ctx, owner, userID, in.ActingAddress)
	if err != nil {
		return CreatedCard{}, err
	}
	if !info.CanCreate {
		return CreatedCard{}, &QuotaExceededError{Current: info.CurrentCount, Limit: info.Limit, Tier: info.UserLevel}
	}

	now := s.clock()
	card := Card{
		CardID:          "card_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + s.crypto.RandomDigits(7),
		UserID:          userID,
		Greeting:        Sanitize(in.Greeting),
		PersonalMessage: Sanitize(in.PersonalMessage),
		VideoURL:        Sanitize(in.VideoURL),
		Style:           cmp.Or(Sanitize(in.Style), DefaultStyle),
		TextPosition:    cmp.Or(Sanitize(in.TextPosition), DefaultTextPosition),
		QREnabled:       in.QREnabled,
		QRURL:           Sanitize(in.QRURL),
		QRPosition:      cmp.Or(Sanitize(in.QRPosition), DefaultQRPosition),
		QRSize:          cmp.Or(in.QRSize, DefaultQRSize),
		CTAEnabled:      in.CTAEnabled,
		CTATitle:        Sanitize(in.CTATitle),
		CTAButton:       Sanitize(in.CTAButton),
		CTAURL:          Sanitize(in.CTAURL),
		CTAPosition:     cmp.Or(Sanitize(in.CTAPosition), DefaultCTAPosition),
		BannerEnabled:   in.BannerEnabled,
		BannerHTML:      Sanitize(in.BannerHTML),
		BannerURL:       Sanitize(in.BannerURL),
		Timers:          cmp.Or(strings.TrimSpace(in.Timers), DefaultTimers),
		CreatedAt:       now,
	}

	rejected := map[string][]string{}
	for field, text := range map[string]string{"greeting": card.Greeting, "personalMessage": card.PersonalMessage} {
		if res := s.moderator.Check(text); !res.IsValid {
			rejected[field] = res.Errors
		}
	}
	if len(rejected) > 0 {
		return CreatedCard{}, &ContentRejectedError{Fields: rejected}
	}

	if in.Media != nil {
		if err := s.checkMedia(in.Media); err != nil {
			return CreatedCard{}, err
		}
	}

	card.ContentHash = s.crypto.Hash(card)
	if in.Media != nil {
		card.MediaType = "image"
		if strings.HasPrefix(in.Media.ContentType, "video/") {
			card.MediaType = "video"
		}
		card.MediaURL = "data:" + in.Media.ContentType + ";base64," + base64.StdEncoding.EncodeToString(in.Media.Data)
	}

	if err := s.persistNewCard(ctx, card); err != nil {
		return CreatedCard{}, err
	}
	if err := s.adjustCardCount(ctx, userID, 1); err != nil {
		s.logger.Warn("card count not updated", slog.String("user_id", userID), slog.Any("error", err))
	}
	s.invalidate(ctx, cacheKeyUser(userID), cacheKeyUserCards(userID), cacheKeyCard(card.CardID))

	cardID, metadataHash := card.CardID, card.ContentHash
	s.mirror.Submit(ledger.OpCreateCard, cardID, func(ctx context.Context, gw ledger.Gateway) (ledger.Receipt, error) {
		return gw.CreateCard(ctx, userID, cardID, metadataHash, ledger.Payment{Value: "0", Gas: s.cfg.Ledger.CreateCardGas})
	})

	s.logSecurityEvent(ctx, EventCardCreated, map[string]any{
		"userId":      userID,
		"cardId":      card.CardID,
		"hasMedia":    in.Media != nil,
		"contentHash": card.ContentHash,
	})
	return CreatedCard{CardID: card.CardID, ViewURL: cardViewPath + card.CardID}, nil
}

func (s *Service) checkMedia(m *Media) error {
	if int64(len(m.Data)) > s.cfg.Limits.MediaMaxBytes {
		return fmt.Errorf("%d bytes exceeds %d: %w", len(m.Data), s.cfg.Limits.MediaMaxBytes, ErrMediaTooLarge)
	}
	ct := strings.ToLower(strings.TrimSpace(m.ContentType))
	if !strings.HasPrefix(ct, "image/") && !strings.HasPrefix(ct, "video/") {
		return fmt.Errorf("%q: %w", m.ContentType, ErrUnsupportedMedia)
	}
	m.ContentType = ct
	return nil
}

// persistNewCard writes the card to both indexes. The per-user index is
// restored when the global list cannot be written.
func (s *Service) persistNewCard(ctx context.Context, card Card) error {
	byUser, err := s.loadUserCards(ctx)
	if err != nil {
		return err
	}
	previous := byUser[card.UserID]
	byUser[card.UserID] = append(slices.Clone(previous), card)
	if err := s.store.Save(ctx, store.KeyUserCards, byUser); err != nil {
		return fmt.Errorf("save user cards: %w", err)
	}

	all, err := s.loadAllCards(ctx)
	if err == nil {
		err = s.store.Save(ctx, store.KeyAllCards, append(all, card))
	}
	if err != nil {
		byUser[card.UserID] = previous
		if rbErr := s.store.Save(ctx, store.KeyUserCards, byUser); rbErr != nil {
			s.logger.Error("card index rollback failed", slog.String("card_id", card.CardID), slog.Any("error", rbErr))
		}
		return fmt.Errorf("save all cards: %w", err)
	}
	return nil
}

// DeleteCard archives a card owned by userID.
func (s *Service) DeleteCard(ctx context.Context, cardID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.limiter.Allow(ctx, "deleteCard"); err != nil {
		return err
	}

	all, err := s.loadAllCards(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(all, func(c Card) bool { return c.CardID == cardID })
	if i < 0 || all[i].IsArchived {
		return fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}
	if all[i].UserID != userID {
		return fmt.Errorf("card %s: %w", cardID, ErrForbidden)
	}

	now := s.clock()
	all[i].IsArchived = true
	all[i].DeletedAt = &now

	byUser, err := s.loadUserCards(ctx)
	if err != nil {
		return err
	}
	previous := byUser[userID]
	owned := slices.Clone(previous)
	for j := range owned {
		if owned[j].CardID == cardID {
			owned[j].IsArchived = true
			owned[j].DeletedAt = &now
		}
	}
	byUser[userID] = owned
	if err := s.store.Save(ctx, store.KeyUserCards, byUser); err != nil {
		return fmt.Errorf("save user cards: %w", err)
	}
	if err := s.store.Save(ctx, store.KeyAllCards, all); err != nil {
		byUser[userID] = previous
		if rbErr := s.store.Save(ctx, store.KeyUserCards, byUser); rbErr != nil {
			s.logger.Error("card index rollback failed", slog.String("card_id", cardID), slog.Any("error", rbErr))
		}
		return fmt.Errorf("save all cards: %w", err)
	}

	if err := s.adjustCardCount(ctx, userID, -1); err != nil {
		s.logger.Warn("card count not updated", slog.String("user_id", userID), slog.Any("error", err))
	}
	s.invalidate(ctx, cacheKeyUser(userID), cacheKeyUserCards(userID), cacheKeyCard(cardID))

	s.mirror.Submit(ledger.OpDeleteCard, cardID, func(ctx context.Context, gw ledger.Gateway) (ledger.Receipt, error) {
		return gw.DeleteCard(ctx, userID, cardID, ledger.Payment{Value: "0", Gas: s.cfg.Ledger.DeleteCardGas})
	})

	s.logSecurityEvent(ctx, EventCardDeleted, map[string]any{"userId": userID, "cardId": cardID})
	return nil
}

// GetCard returns a live card.
func (s *Service) GetCard(ctx context.Context, cardID string) (Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := cacheKeyCard(cardID)
	var card Card
	if s.cacheGet(ctx, key, &card) {
		return card, nil
	}

	all, err := s.loadAllCards(ctx)
	if err != nil {
		return Card{}, err
	}
	i := slices.IndexFunc(all, func(c Card) bool { return c.CardID == cardID })
	if i < 0 || all[i].IsArchived {
		return Card{}, fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}
	s.cacheSet(ctx, key, all[i], s.cfg.Cache.DefaultTTL)
	return all[i], nil
}

// GetUserCards lists the live cards of userID, newest first. Cards known to
// the ledger but missing from the per-user index are recovered from the
// global list.
func (s *Service) GetUserCards(ctx context.Context, userID string) ([]Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := cacheKeyUserCards(userID)
	var cards []Card
	if s.cacheGet(ctx, key, &cards) {
		return cards, nil
	}

	byUser, err := s.loadUserCards(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	cards = []Card{}
	for _, c := range byUser[userID] {
		seen[c.CardID] = struct{}{}
		if !c.IsArchived {
			cards = append(cards, c)
		}
	}

	if ids := s.ledgerCardIDs(ctx, userID); len(ids) > 0 {
		all, err := s.loadAllCards(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			if i := slices.IndexFunc(all, func(c Card) bool { return c.CardID == id }); i >= 0 && !all[i].IsArchived && all[i].UserID == userID {
				cards = append(cards, all[i])
				seen[id] = struct{}{}
			}
		}
	}

	slices.SortFunc(cards, func(a, b Card) int { return b.CreatedAt.Compare(a.CreatedAt) })
	s.cacheSet(ctx, key, cards, s.cfg.Cache.ListTTL)
	return cards, nil
}

func (s *Service) ledgerCardIDs(ctx context.Context, userID string) []string {
	if !s.ledgerReady() {
		return nil
	}
	lctx, cancel := s.ledgerCtx(ctx)
	defer cancel()
	ids, err := s.gateway.GetUserCards(lctx, userID)
	if err != nil {
		s.logger.Warn("ledger card read failed, using local data", slog.String("user_id", userID), slog.Any("error", err))
		return nil
	}
	return ids
}

// RecordCardView increments the view counter of a live card.
func (s *Service) RecordCardView(ctx context.Context, cardID string) (Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadAllCards(ctx)
	if err != nil {
		return Card{}, err
	}
	i := slices.IndexFunc(all, func(c Card) bool { return c.CardID == cardID })
	if i < 0 || all[i].IsArchived {
		return Card{}, fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}
	all[i].ViewCount++
	card := all[i]

	byUser, err := s.loadUserCards(ctx)
	if err != nil {
		return Card{}, err
	}
	for j, c := range byUser[card.UserID] {
		if c.CardID == cardID {
			byUser[card.UserID][j].ViewCount = card.ViewCount
		}
	}
	if err := s.store.Save(ctx, store.KeyUserCards, byUser); err != nil {
		return Card{}, fmt.Errorf("save user cards: %w", err)
	}
	if err := s.store.Save(ctx, store.KeyAllCards, all); err != nil {
		return Card{}, fmt.Errorf("save all cards: %w", err)
	}
	s.invalidate(ctx, cacheKeyCard(cardID), cacheKeyUserCards(card.UserID))
	return card, nil
}
