package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cardgift/cardgift/internal/logging"
)

func drain(m *Mirror) []Event {
	var out []Event
	for {
		select {
		case ev := <-m.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestMirrorExecutesInOrder(t *testing.T) {
	gw := connected(t)
	m := NewMirror(gw, 8, time.Second, logging.Discard())
	defer m.Close()

	m.Submit(OpRegisterUser, "1000001", func(ctx context.Context, g Gateway) (Receipt, error) {
		return g.RegisterUser(ctx, "1000001", "", Payment{Gas: 300000})
	})
	m.Submit(OpCreateCard, "card_1", func(ctx context.Context, g Gateway) (Receipt, error) {
		return g.CreateCard(ctx, "1000001", "card_1", "hash", Payment{Gas: 200000})
	})
	m.Flush()

	events := drain(m)
	if len(events) != 2 {
		t.Fatalf("expected two events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.Drift() {
			t.Fatalf("unexpected drift: %+v", ev)
		}
		if ev.Receipt.TxHash == "" {
			t.Fatalf("missing receipt: %+v", ev)
		}
	}
	if events[0].Op != OpRegisterUser || events[1].Op != OpCreateCard {
		t.Fatalf("events out of order: %+v", events)
	}
}

func TestMirrorPublishesDrift(t *testing.T) {
	gw := connected(t)
	m := NewMirror(gw, 8, time.Second, logging.Discard())
	defer m.Close()

	m.Submit(OpDeleteCard, "card_x", func(ctx context.Context, g Gateway) (Receipt, error) {
		return g.DeleteCard(ctx, "1000001", "card_x", Payment{})
	})
	m.Flush()

	events := drain(m)
	if len(events) != 1 || !events[0].Drift() || !errors.Is(events[0].Err, ErrUserNotFound) {
		t.Fatalf("expected one drift event, got %+v", events)
	}
}

func TestMirrorSkipsWithoutWallet(t *testing.T) {
	m := NewMirror(NewInMemory("0xabc"), 8, time.Second, logging.Discard())
	defer m.Close()
	if m.Submit(OpRegisterUser, "1", func(context.Context, Gateway) (Receipt, error) {
		t.Fatalf("call must not run")
		return Receipt{}, nil
	}) {
		t.Fatalf("expected submit to be skipped")
	}

	nilMirror := NewMirror(nil, 1, time.Second, logging.Discard())
	defer nilMirror.Close()
	if nilMirror.Submit(OpRegisterUser, "1", nil) {
		t.Fatalf("nil gateway must skip")
	}
}

func TestMirrorQueueFull(t *testing.T) {
	gw := connected(t)
	m := NewMirror(gw, 1, time.Second, logging.Discard())

	release := make(chan struct{})
	started := make(chan struct{})
	block := func(context.Context, Gateway) (Receipt, error) {
		close(started)
		<-release
		return Receipt{}, nil
	}
	noop := func(context.Context, Gateway) (Receipt, error) { return Receipt{}, nil }

	m.Submit(OpCreateCard, "a", block)
	<-started
	if !m.Submit(OpCreateCard, "b", noop) {
		t.Fatalf("second task should fit the queue")
	}
	if m.Submit(OpCreateCard, "c", noop) {
		t.Fatalf("third task should overflow")
	}
	close(release)
	m.Close()

	var overflow int
	for ev := range m.Events() {
		if errors.Is(ev.Err, ErrQueueFull) {
			overflow++
			if ev.Key != "c" {
				t.Fatalf("unexpected overflow key %s", ev.Key)
			}
		}
	}
	if overflow != 1 {
		t.Fatalf("expected one overflow event, got %d", overflow)
	}
}

func TestMirrorCloseIsIdempotent(t *testing.T) {
	m := NewMirror(connected(t), 1, time.Second, logging.Discard())
	m.Close()
	m.Close()
	if m.Submit(OpRegisterUser, "1", nil) {
		t.Fatalf("closed mirror must reject tasks")
	}
}
