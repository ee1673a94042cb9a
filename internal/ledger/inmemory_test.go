package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

var testPrices = Prices{Activation: "2500000000000000", MiniAdmin: "50000000000000000", SuperAdmin: "250000000000000000"}

func connected(t *testing.T) *InMemory {
	t.Helper()
	l := NewInMemory("0xABCDEF", WithPrices(testPrices), WithChain(204))
	addr, err := l.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if addr != "0xabcdef" {
		t.Fatalf("expected lower-cased address, got %s", addr)
	}
	return l
}

func TestInMemoryWritesRequireConnection(t *testing.T) {
	l := NewInMemory("0xabc")
	if _, err := l.RegisterUser(context.Background(), "1000001", "", Payment{Gas: 300000}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if _, err := NewInMemory("").Connect(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected connect to fail without an account, got %v", err)
	}
}

func TestInMemoryRegistrationAndReferrals(t *testing.T) {
	l := connected(t)
	ctx := context.Background()

	if _, err := l.RegisterUser(ctx, "1000001", "", Payment{Gas: 300000}); err != nil {
		t.Fatalf("register referrer: %v", err)
	}
	r, err := l.RegisterUser(ctx, "1000002", "1000001", Payment{Gas: 300000})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if r.GasLimit != 300000 || r.Status != StatusConfirmed || len(r.TxHash) != 34 {
		t.Fatalf("unexpected receipt: %+v", r)
	}
	if _, ok := l.Receipt(r.TxHash); !ok {
		t.Fatalf("receipt not retrievable")
	}
	if _, err := l.RegisterUser(ctx, "1000002", "", Payment{}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	// unknown referrers are dropped
	if _, err := l.RegisterUser(ctx, "1000003", "9999999", Payment{}); err != nil {
		t.Fatalf("register with unknown referrer: %v", err)
	}

	refs, err := l.GetUserReferrals(ctx, "1000001")
	if err != nil {
		t.Fatalf("referrals: %v", err)
	}
	if len(refs) != 1 || refs[0] != "1000002" {
		t.Fatalf("unexpected referrals: %v", refs)
	}
	u, err := l.GetUser(ctx, "1000003")
	if err != nil || u.ReferrerID != "" || u.Wallet != "0xabcdef" {
		t.Fatalf("unexpected user: %+v %v", u, err)
	}
}

func TestInMemoryActivationCreditsReferrer(t *testing.T) {
	l := connected(t)
	ctx := context.Background()
	_, _ = l.RegisterUser(ctx, "1000001", "", Payment{})
	_, _ = l.RegisterUser(ctx, "1000002", "1000001", Payment{})

	if _, err := l.ActivateUser(ctx, "1000002", Payment{Value: "1", Gas: 200000}); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
	if _, err := l.ActivateUser(ctx, "1000002", Payment{Value: testPrices.Activation, Gas: 200000}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := l.ActivateMiniAdmin(ctx, "1000002", Payment{Value: testPrices.MiniAdmin, Gas: 250000}); err != nil {
		t.Fatalf("mini admin: %v", err)
	}

	u, _ := l.GetUser(ctx, "1000002")
	if u.Level != LevelMiniAdmin || !u.IsActive {
		t.Fatalf("unexpected level state: %+v", u)
	}
	// 10% of 0.0025 + 10% of 0.05 BNB
	ref, _ := l.GetUser(ctx, "1000001")
	if ref.TotalEarned != "5250000000000000" {
		t.Fatalf("unexpected referrer earnings %s", ref.TotalEarned)
	}

	// activating a lower level never downgrades
	_, _ = l.ActivateUser(ctx, "1000002", Payment{Value: testPrices.Activation})
	if u, _ := l.GetUser(ctx, "1000002"); u.Level != LevelMiniAdmin {
		t.Fatalf("level downgraded to %d", u.Level)
	}
}

func TestInMemoryCards(t *testing.T) {
	l := connected(t)
	ctx := context.Background()
	_, _ = l.RegisterUser(ctx, "1000001", "", Payment{})

	if _, err := l.CreateCard(ctx, "7777777", "card_1", "h", Payment{}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	_, _ = l.CreateCard(ctx, "1000001", "card_1", "h1", Payment{Gas: 200000})
	_, _ = l.CreateCard(ctx, "1000001", "card_2", "h2", Payment{Gas: 200000})
	if _, err := l.DeleteCard(ctx, "1000001", "card_1", Payment{Gas: 150000}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := l.DeleteCard(ctx, "1000001", "card_1", Payment{}); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}

	cards, _ := l.GetUserCards(ctx, "1000001")
	if len(cards) != 1 || cards[0] != "card_2" {
		t.Fatalf("unexpected cards %v", cards)
	}
	if u, _ := l.GetUser(ctx, "1000001"); u.CardCount != 1 {
		t.Fatalf("unexpected card count %d", u.CardCount)
	}
}

func TestInMemoryFailNext(t *testing.T) {
	l := connected(t)
	boom := errors.New("rpc timeout")
	l.FailNext(boom)
	if _, err := l.GetUser(context.Background(), "1000001"); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if _, err := l.GetUser(context.Background(), "1000001"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("failure must only apply once, got %v", err)
	}
}

func TestInMemoryConcurrentRegistrations(t *testing.T) {
	l := connected(t)
	ctx := context.Background()
	_, _ = l.RegisterUser(ctx, "1000000", "", Payment{})

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.RegisterUser(ctx, fmt.Sprintf("2%06d", i), "1000000", Payment{}); err != nil {
				t.Errorf("register %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	refs, _ := l.GetUserReferrals(ctx, "1000000")
	if len(refs) != workers {
		t.Fatalf("expected %d referrals, got %d", workers, len(refs))
	}
}
