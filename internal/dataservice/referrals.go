package dataservice

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/cardgift/cardgift/internal/store"
)

func monthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// addReferral appends newUserID to the referrer's stats and recomputes the month count.
func (s *Service) addReferral(ctx context.Context, referrerID, newUserID string) error {
	stats, err := s.loadReferralStats(ctx)
	if err != nil {
		return err
	}
	now := s.clock()
	st := stats[referrerID]
	st.Referrals = append(st.Referrals, Referral{UserID: newUserID, Date: now})
	st.Total = len(st.Referrals)
	st.ThisMonth = countSince(st.Referrals, monthStart(now))
	stats[referrerID] = st

	if err := s.store.Save(ctx, store.KeyReferralStats, stats); err != nil {
		return err
	}
	s.invalidate(ctx, cacheKeyReferrals(referrerID))
	return nil
}

func countSince(refs []Referral, from time.Time) int {
	n := 0
	for _, r := range refs {
		if !r.Date.Before(from) {
			n++
		}
	}
	return n
}

// ReferralStats returns the persisted stats of referrerID.
func (s *Service) ReferralStats(ctx context.Context, referrerID string) (ReferralStats, error) {
	stats, err := s.loadReferralStats(ctx)
	if err != nil {
		return ReferralStats{}, err
	}
	st := stats[referrerID]
	st.ThisMonth = countSince(st.Referrals, monthStart(s.clock()))
	return st, nil
}

// GetUserReferrals merges the ledger's referral list with locally registered
// users naming userID as their referrer.
func (s *Service) GetUserReferrals(ctx context.Context, userID string) (ReferralSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.limiter.Allow(ctx, "getReferrals"); err != nil {
		return ReferralSummary{}, err
	}

	key := cacheKeyReferrals(userID)
	var summary ReferralSummary
	if s.cacheGet(ctx, key, &summary) {
		return summary, nil
	}

	users, err := s.loadUsers(ctx)
	if err != nil {
		return ReferralSummary{}, err
	}
	byID := make(map[string]User, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}

	direct := []User{}
	seen := map[string]struct{}{}
	add := func(u User) {
		if _, dup := seen[u.UserID]; dup {
			return
		}
		seen[u.UserID] = struct{}{}
		direct = append(direct, u)
	}

	earnings := "0"
	if s.ledgerReady() {
		ids, total, err := s.ledgerReferrals(ctx, userID)
		if err != nil {
			s.logger.Warn("ledger referral read failed, using local data", slog.String("user_id", userID), slog.Any("error", err))
		} else {
			for _, id := range ids {
				if u, ok := byID[id]; ok {
					add(u)
				} else {
					add(User{UserID: id, ReferrerID: userID})
				}
			}
			earnings = total
		}
	}
	for _, u := range users {
		if u.ReferrerID == userID {
			add(u)
		}
	}

	from := monthStart(s.clock())
	active := 0
	for _, u := range direct {
		if !u.RegistrationDate.IsZero() && !u.RegistrationDate.Before(from) {
			active++
		}
	}

	summary = ReferralSummary{
		Total:           len(direct),
		ActiveThisMonth: active,
		DirectReferrals: direct,
		Earnings:        earnings,
	}
	s.cacheSet(ctx, key, summary, s.cfg.Cache.ListTTL)
	return summary, nil
}

func (s *Service) ledgerReferrals(ctx context.Context, userID string) ([]string, string, error) {
	lctx, cancel := s.ledgerCtx(ctx)
	defer cancel()

	ids, err := s.gateway.GetUserReferrals(lctx, userID)
	if err != nil {
		return nil, "", err
	}
	earned := "0"
	if u, err := s.gateway.GetUser(lctx, userID); err == nil {
		if v, ok := new(big.Int).SetString(u.TotalEarned, 10); ok {
			earned = v.String()
		}
	}
	return ids, earned, nil
}

// GetUserContacts returns the referrals of an admin grouped by messenger.
func (s *Service) GetUserContacts(ctx context.Context, userID string) (map[string][]Contact, error) {
	if err := s.limiter.Allow(ctx, "getContacts"); err != nil {
		return nil, err
	}
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Level < LevelMiniAdmin {
		return nil, fmt.Errorf("contacts of %s require level %s: %w", userID, LevelMiniAdmin, ErrForbidden)
	}

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	grouped := map[string][]Contact{}
	for _, r := range users {
		if r.ReferrerID != userID {
			continue
		}
		messenger := r.Messenger
		if messenger == "" {
			messenger = "unknown"
		}
		grouped[messenger] = append(grouped[messenger], Contact{
			UserID:           r.UserID,
			Name:             r.Name,
			Contact:          r.Contact,
			RegistrationDate: r.RegistrationDate,
			Level:            r.Level,
			ReferrerID:       r.ReferrerID,
			DataHash:         r.DataHash,
		})
	}
	return grouped, nil
}
