package dataservice

import (
	"context"
	"fmt"
)

// claims is the outcome of role resolution for a request.
type claims struct {
	privileged bool
	level      Level
}

// resolveClaims decides which role the request runs under. The acting wallet
// wins over the wallet stored on the user.
func (s *Service) resolveClaims(u *User, actingAddress string) claims {
	addr := normalizeAddress(actingAddress)
	if addr == "" && u != nil {
		addr = normalizeAddress(u.WalletAddress)
	}
	if _, ok := s.privileged[addr]; ok && addr != "" {
		return claims{privileged: true, level: LevelSuperAdmin}
	}
	c := claims{level: LevelFree}
	if u != nil {
		c.level = u.Level
	}
	return c
}

func (s *Service) limitFor(c claims) (int, Level) {
	q := s.cfg.Quota
	if c.privileged {
		return q.UnlimitedLimit, LevelSuperAdmin
	}
	if !q.HonorPaidTiers {
		return q.FreeLimit, LevelFree
	}
	switch c.level {
	case LevelActivated:
		return q.ActivatedLimit, c.level
	case LevelMiniAdmin:
		return q.MiniAdminLimit, c.level
	case LevelSuperAdmin:
		return q.SuperAdminLimit, c.level
	default:
		return q.FreeLimit, LevelFree
	}
}

// CheckUserLimit reports how many more cards userID may create.
func (s *Service) CheckUserLimit(ctx context.Context, userID, actingAddress string) (LimitInfo, error) {
	u, err := s.findLocalUser(ctx, userID)
	if err != nil {
		return LimitInfo{}, err
	}
	return s.limitInfo(ctx, u, userID, actingAddress)
}

func (s *Service) limitInfo(ctx context.Context, u *User, userID, actingAddress string) (LimitInfo, error) {
	limit, tier := s.limitFor(s.resolveClaims(u, actingAddress))

	count, err := s.liveCardCount(ctx, userID)
	if err != nil {
		return LimitInfo{}, fmt.Errorf("count cards: %w", err)
	}
	return LimitInfo{
		CanCreate:    count < limit,
		CurrentCount: count,
		Limit:        limit,
		UserLevel:    tier.String(),
		Remaining:    max(limit-count, 0),
	}, nil
}

func (s *Service) liveCardCount(ctx context.Context, userID string) (int, error) {
	byUser, err := s.loadUserCards(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range byUser[userID] {
		if !c.IsArchived {
			n++
		}
	}
	return n, nil
}
