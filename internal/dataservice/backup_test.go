package dataservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cardgift/cardgift/internal/store"
)

var persistedKeys = []string{
	store.KeyCurrentUser, store.KeyRegisteredUsers, store.KeyUserCards,
	store.KeyAllCards, store.KeyReferralStats, store.KeySecurityLogs,
}

func snapshot(t *testing.T, f *fixture) map[string][]byte {
	t.Helper()
	out := map[string][]byte{}
	for _, k := range persistedKeys {
		v, _, err := f.backend.Get(context.Background(), k)
		if err != nil {
			t.Fatalf("read %s: %v", k, err)
		}
		out[k] = v
	}
	return out
}

func TestBackupRoundTrip(t *testing.T) {
	f := newFixture(t, nil, false)
	ctx := context.Background()
	ann := f.register(t, "ann", "")
	f.register(t, "bob", ann.UserID)
	created, err := f.svc.CreateCard(ctx, CardInput{UserID: ann.UserID, Greeting: "hi"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	b, err := f.svc.BackupUserData(ctx, ann.UserID)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if b.Version != BackupVersion || b.Checksum == "" || len(b.Cards) != 1 || b.Referrals.Total != 1 {
		t.Fatalf("unexpected backup: %+v", b)
	}

	// transport through JSON as the HTTP layer does
	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var restored Backup
	if err := json.Unmarshal(raw, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if err := f.svc.DeleteCard(ctx, created.CardID, ann.UserID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.svc.RestoreUserData(ctx, restored, ann.UserID); err != nil {
		t.Fatalf("restore: %v", err)
	}

	cards, err := f.svc.GetUserCards(ctx, ann.UserID)
	if err != nil || len(cards) != 1 || cards[0].CardID != created.CardID {
		t.Fatalf("expected restored card, got %+v (%v)", cards, err)
	}
	u, err := f.svc.GetUser(ctx, ann.UserID)
	if err != nil || u.CardCount != 1 {
		t.Fatalf("expected recomputed card count, got %+v (%v)", u, err)
	}
}

func TestRestoreRejectsTamperedBackup(t *testing.T) {
	f := newFixture(t, nil, false)
	ctx := context.Background()
	ann := f.register(t, "ann", "")
	if _, err := f.svc.CreateCard(ctx, CardInput{UserID: ann.UserID, Greeting: "hi"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	b, err := f.svc.BackupUserData(ctx, ann.UserID)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	b.User.Level = LevelSuperAdmin

	before := snapshot(t, f)
	err = f.svc.RestoreUserData(ctx, b, ann.UserID)
	if !errors.Is(err, ErrIntegrity) || Code(err) != CodeIntegrity {
		t.Fatalf("expected integrity error, got %v", err)
	}
	after := snapshot(t, f)
	for _, k := range persistedKeys {
		if !bytes.Equal(before[k], after[k]) {
			t.Fatalf("key %s was overwritten", k)
		}
	}
}

func TestRestoreRejectsForeignBackup(t *testing.T) {
	f := newFixture(t, nil, false)
	ctx := context.Background()
	ann := f.register(t, "ann", "")
	bob := f.register(t, "bob", "")

	b, err := f.svc.BackupUserData(ctx, ann.UserID)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if err := f.svc.RestoreUserData(ctx, b, bob.UserID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestSealedBackup(t *testing.T) {
	f := newFixture(t, nil, false)
	ctx := context.Background()
	ann := f.register(t, "ann", "")

	b, err := f.svc.BackupUserData(ctx, ann.UserID)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	blob, err := f.svc.SealBackup(b, "correct horse")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := f.svc.OpenBackup(blob, "wrong"); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected integrity error for a wrong password, got %v", err)
	}
	opened, err := f.svc.OpenBackup(blob, "correct horse")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened.Checksum != b.Checksum {
		t.Fatalf("checksum changed across sealing")
	}
	if err := f.svc.RestoreUserData(ctx, opened, ann.UserID); err != nil {
		t.Fatalf("restore opened backup: %v", err)
	}
}

func TestRestoreRejectsForeignCards(t *testing.T) {
	f := newFixture(t, nil, false)
	ctx := context.Background()
	ann := f.register(t, "ann", "")
	bob := f.register(t, "bob", "")
	bobCard, err := f.svc.CreateCard(ctx, CardInput{UserID: bob.UserID, Greeting: "bob's"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	b, err := f.svc.BackupUserData(ctx, ann.UserID)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	stolen, err := f.svc.GetCard(ctx, bobCard.CardID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}

	cases := map[string]Card{
		"card owned by another user": stolen,
		"card id of another user's card": func() Card {
			c := stolen
			c.UserID = ann.UserID
			c.Greeting = "mine now"
			return c
		}(),
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			forged := b
			forged.Cards = []Card{c}
			forged.Checksum = f.svc.checksum(forged)

			before := snapshot(t, f)
			err := f.svc.RestoreUserData(ctx, forged, ann.UserID)
			if !errors.Is(err, ErrForbidden) || Code(err) != CodeForbidden {
				t.Fatalf("expected forbidden, got %v", err)
			}
			after := snapshot(t, f)
			for _, k := range persistedKeys {
				if !bytes.Equal(before[k], after[k]) {
					t.Fatalf("key %s was overwritten", k)
				}
			}
		})
	}

	card, err := f.svc.GetCard(ctx, bobCard.CardID)
	if err != nil || card.UserID != bob.UserID || card.Greeting != "bob's" {
		t.Fatalf("expected bob's card untouched, got %+v (%v)", card, err)
	}
}

func TestRestoreArchivesCardsMissingFromBackup(t *testing.T) {
	f := newFixture(t, nil, false)
	ctx := context.Background()
	ann := f.register(t, "ann", "")
	kept, err := f.svc.CreateCard(ctx, CardInput{UserID: ann.UserID, Greeting: "kept"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := f.svc.BackupUserData(ctx, ann.UserID)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	later, err := f.svc.CreateCard(ctx, CardInput{UserID: ann.UserID, Greeting: "later"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.svc.RestoreUserData(ctx, b, ann.UserID); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if _, err := f.svc.GetCard(ctx, later.CardID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected card missing from the backup to be archived, got %v", err)
	}
	if _, err := f.svc.GetCard(ctx, kept.CardID); err != nil {
		t.Fatalf("get kept card: %v", err)
	}
	cards, err := f.svc.GetUserCards(ctx, ann.UserID)
	if err != nil || len(cards) != 1 || cards[0].CardID != kept.CardID {
		t.Fatalf("expected only the backed up card, got %+v (%v)", cards, err)
	}

	var all []Card
	if _, err := f.store.Load(ctx, store.KeyAllCards, &all); err != nil || len(all) != 2 {
		t.Fatalf("expected both cards retained, got %+v (%v)", all, err)
	}
	for _, c := range all {
		if c.CardID == later.CardID && (!c.IsArchived || c.DeletedAt == nil) {
			t.Fatalf("expected %s archived, got %+v", c.CardID, c)
		}
	}
}
