package dataservice

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cardgift/cardgift/internal/config"
	"github.com/cardgift/cardgift/internal/store"
)

func TestCardLifecycleTracksCardCount(t *testing.T) {
	f := newFixture(t, nil, false)
	ctx := context.Background()
	ann := f.register(t, "ann", "")

	created, err := f.svc.CreateCard(ctx, CardInput{UserID: ann.UserID, Greeting: "Happy birthday", PersonalMessage: "See you soon"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if !strings.HasPrefix(created.CardID, "card_") || created.ViewURL != "/card-viewer.html?id="+created.CardID {
		t.Fatalf("unexpected created card: %+v", created)
	}

	u, err := f.svc.GetUser(ctx, ann.UserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.CardCount != 1 {
		t.Fatalf("expected card count 1, got %d", u.CardCount)
	}

	card, err := f.svc.GetCard(ctx, created.CardID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if card.Style != DefaultStyle || card.QRSize != DefaultQRSize || card.Timers != DefaultTimers || card.ContentHash == "" {
		t.Fatalf("expected defaults to be applied, got %+v", card)
	}

	cards, err := f.svc.GetUserCards(ctx, ann.UserID)
	if err != nil || len(cards) != 1 {
		t.Fatalf("expected one card, got %d (%v)", len(cards), err)
	}

	if err := f.svc.DeleteCard(ctx, created.CardID, ann.UserID); err != nil {
		t.Fatalf("delete card: %v", err)
	}
	u, err = f.svc.GetUser(ctx, ann.UserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.CardCount != 0 {
		t.Fatalf("expected card count 0, got %d", u.CardCount)
	}
	cards, err = f.svc.GetUserCards(ctx, ann.UserID)
	if err != nil || len(cards) != 0 {
		t.Fatalf("expected archived card to be hidden, got %d (%v)", len(cards), err)
	}
	if _, err := f.svc.GetCard(ctx, created.CardID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected archived card to be not found, got %v", err)
	}

	var all []Card
	if _, err := f.store.Load(ctx, store.KeyAllCards, &all); err != nil || len(all) != 1 || !all[0].IsArchived || all[0].DeletedAt == nil {
		t.Fatalf("expected the archived card to be retained, got %+v", all)
	}
}

func TestCreateCardRejectsProfanityWithoutPersisting(t *testing.T) {
	f := newFixture(t, nil, false)
	ctx := context.Background()
	ann := f.register(t, "ann", "")

	before, _, _ := f.backend.Get(ctx, store.KeyUserCards)

	_, err := f.svc.CreateCard(ctx, CardInput{UserID: ann.UserID, Greeting: "fuck this", PersonalMessage: "aaaaaaaaaaaaaaaa"})
	var cerr *ContentRejectedError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ContentRejectedError, got %v", err)
	}
	if len(cerr.Fields["greeting"]) != 1 || len(cerr.Fields["personalMessage"]) != 1 {
		t.Fatalf("expected both fields to be reported, got %+v", cerr.Fields)
	}
	if !strings.Contains(cerr.Fields["greeting"][0], "fuck") {
		t.Fatalf("expected the offending term to be named, got %q", cerr.Fields["greeting"][0])
	}

	after, _, _ := f.backend.Get(ctx, store.KeyUserCards)
	if !bytes.Equal(before, after) {
		t.Fatalf("per-user card index changed")
	}
	if _, ok, _ := f.backend.Get(ctx, store.KeyAllCards); ok {
		t.Fatalf("global card list must not be written")
	}
	res := Fail(err)
	if res.Code != CodeContentRejected || res.Details == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCreateCardAuthorization(t *testing.T) {
	f := newFixture(t, nil, false)
	ctx := context.Background()
	ann := f.register(t, "ann", "")
	bob := f.register(t, "bob", "")

	if _, err := f.svc.CreateCard(ctx, CardInput{Greeting: "hi"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error without user id, got %v", err)
	}
	if _, err := f.svc.CreateCard(ctx, CardInput{UserID: "1234567", Greeting: "hi"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}

	created, err := f.svc.CreateCard(ctx, CardInput{UserID: ann.UserID, Greeting: "hi"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.svc.DeleteCard(ctx, created.CardID, bob.UserID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := f.svc.DeleteCard(ctx, "card_missing", ann.UserID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateCardEnforcesQuota(t *testing.T) {
	f := newFixture(t, nil, false)
	ctx := context.Background()
	ann := f.register(t, "ann", "")

	for i := 0; i < 5; i++ {
		if _, err := f.svc.CreateCard(ctx, CardInput{UserID: ann.UserID, Greeting: "hi"}); err != nil {
			t.Fatalf("card %d: %v", i+1, err)
		}
	}
	_, err := f.svc.CreateCard(ctx, CardInput{UserID: ann.UserID, Greeting: "hi"})
	var qerr *QuotaExceededError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if qerr.Current != 5 || qerr.Limit != 5 || qerr.Tier != "FREE" {
		t.Fatalf("unexpected quota error: %+v", qerr)
	}

	info, err := f.svc.CheckUserLimit(ctx, ann.UserID, "")
	if err != nil {
		t.Fatalf("check limit: %v", err)
	}
	if info.CanCreate || info.Remaining != 0 {
		t.Fatalf("unexpected limit info: %+v", info)
	}
}

func TestCheckUserLimitClaims(t *testing.T) {
	admin := "0x1111111111111111111111111111111111111111"
	f := newFixture(t, func(c *config.Config) {
		c.Quota.PrivilegedAddresses = []string{admin}
	}, false)
	ctx := context.Background()
	ann := f.register(t, "ann", "")

	info, err := f.svc.CheckUserLimit(ctx, ann.UserID, strings.ToUpper(admin[2:]))
	if err != nil {
		t.Fatalf("check limit: %v", err)
	}
	if info.Limit != 5 {
		t.Fatalf("a malformed address must not match, got %+v", info)
	}

	info, err = f.svc.CheckUserLimit(ctx, ann.UserID, "0x"+strings.ToUpper(admin[2:]))
	if err != nil {
		t.Fatalf("check limit: %v", err)
	}
	if info.Limit != 999999 || info.UserLevel != "SUPER_ADMIN" || !info.CanCreate {
		t.Fatalf("expected unlimited quota for privileged address, got %+v", info)
	}

	if _, err := f.svc.ActivateUser(ctx, ann.UserID, ActivateInput{Level: LevelActivated}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	info, err = f.svc.CheckUserLimit(ctx, ann.UserID, "")
	if err != nil {
		t.Fatalf("check limit: %v", err)
	}
	if info.Limit != 5 || info.UserLevel != "FREE" {
		t.Fatalf("paid tiers are ignored by default, got %+v", info)
	}
}

func TestCheckUserLimitHonorsPaidTiers(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Quota.HonorPaidTiers = true }, false)
	ctx := context.Background()
	ann := f.register(t, "ann", "")

	if _, err := f.svc.ActivateUser(ctx, ann.UserID, ActivateInput{Level: LevelActivated}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	info, err := f.svc.CheckUserLimit(ctx, ann.UserID, "")
	if err != nil {
		t.Fatalf("check limit: %v", err)
	}
	if info.Limit != 20 || info.UserLevel != "ACTIVATED" || info.Remaining != 20 {
		t.Fatalf("unexpected limit info: %+v", info)
	}
}

func TestCreateCardValidatesMedia(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Limits.MediaMaxBytes = 8 }, false)
	ctx := context.Background()
	ann := f.register(t, "ann", "")

	_, err := f.svc.CreateCard(ctx, CardInput{UserID: ann.UserID, Greeting: "hi", Media: &Media{ContentType: "image/png", Data: make([]byte, 9)}})
	if !errors.Is(err, ErrMediaTooLarge) {
		t.Fatalf("expected media too large, got %v", err)
	}
	_, err = f.svc.CreateCard(ctx, CardInput{UserID: ann.UserID, Greeting: "hi", Media: &Media{ContentType: "application/pdf", Data: []byte("%PDF")}})
	if !errors.Is(err, ErrUnsupportedMedia) || Code(err) != CodeUnsupportedMedia {
		t.Fatalf("expected unsupported media, got %v", err)
	}

	created, err := f.svc.CreateCard(ctx, CardInput{UserID: ann.UserID, Greeting: "hi", Media: &Media{ContentType: "Image/PNG", Data: []byte{0x89, 'P', 'N', 'G'}}})
	if err != nil {
		t.Fatalf("create with media: %v", err)
	}
	card, err := f.svc.GetCard(ctx, created.CardID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if card.MediaType != "image" || !strings.HasPrefix(card.MediaURL, "data:image/png;base64,") {
		t.Fatalf("unexpected media fields: %q %q", card.MediaType, card.MediaURL)
	}

	created, err = f.svc.CreateCard(ctx, CardInput{UserID: ann.UserID, Greeting: "hi", Media: &Media{ContentType: "video/mp4", Data: []byte("ftyp")}})
	if err != nil {
		t.Fatalf("create with video: %v", err)
	}
	card, err = f.svc.GetCard(ctx, created.CardID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if card.MediaType != "video" || !strings.HasPrefix(card.MediaURL, "data:video/mp4;base64,") {
		t.Fatalf("unexpected media fields: %q %q", card.MediaType, card.MediaURL)
	}

	u, err := f.svc.GetUser(ctx, ann.UserID)
	if err != nil || u.CardCount != 2 {
		t.Fatalf("rejected media must not count, got %d (%v)", u.CardCount, err)
	}
}

func TestDeleteCardRestoresUserIndexWhenGlobalWriteFails(t *testing.T) {
	f := newFixture(t, nil, false)
	ctx := context.Background()
	ann := f.register(t, "ann", "")
	created, err := f.svc.CreateCard(ctx, CardInput{UserID: ann.UserID, Greeting: "hi"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before, _, _ := f.backend.Get(ctx, store.KeyUserCards)

	f.hooks.failPutOn(store.KeyAllCards, errors.New("disk full"))
	if err := f.svc.DeleteCard(ctx, created.CardID, ann.UserID); err == nil {
		t.Fatalf("expected delete to fail")
	}

	after, _, _ := f.backend.Get(ctx, store.KeyUserCards)
	if !bytes.Equal(before, after) {
		t.Fatalf("per-user index left archived after a failed delete")
	}
	cards, err := f.svc.GetUserCards(ctx, ann.UserID)
	if err != nil || len(cards) != 1 || cards[0].IsArchived {
		t.Fatalf("expected the card to stay live, got %+v (%v)", cards, err)
	}
	if _, err := f.svc.GetCard(ctx, created.CardID); err != nil {
		t.Fatalf("get card: %v", err)
	}
}

func TestRecordCardView(t *testing.T) {
	f := newFixture(t, nil, false)
	ctx := context.Background()
	ann := f.register(t, "ann", "")
	created, err := f.svc.CreateCard(ctx, CardInput{UserID: ann.UserID, Greeting: "hi"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := f.svc.RecordCardView(ctx, created.CardID); err != nil {
			t.Fatalf("view: %v", err)
		}
	}
	card, err := f.svc.GetCard(ctx, created.CardID)
	if err != nil || card.ViewCount != 2 {
		t.Fatalf("expected two views, got %d (%v)", card.ViewCount, err)
	}
	cards, err := f.svc.GetUserCards(ctx, ann.UserID)
	if err != nil || cards[0].ViewCount != 2 {
		t.Fatalf("per-user index out of sync: %+v (%v)", cards, err)
	}
}
