// Package notification forwards operational events, such as ledger drift, to
// whoever watches the service.
package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// KindLedgerDrift marks a local commit that never reached the ledger.
const KindLedgerDrift = "ledger_drift"

// Message is a single notification.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured log at warn level.
type LoggerNotifier struct {
	logger *slog.Logger
}

func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Warn("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("body", message.Body),
	)
	return nil
}

type dedupKey struct {
	kind        string
	destination string
}

// Deduplicator drops messages whose kind and destination were already sent
// within the window. A user whose ledger writes keep failing produces one
// alert per window instead of one per write.
type Deduplicator struct {
	next   Notifier
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[dedupKey]time.Time
}

// NewDeduplicator wraps next.
func NewDeduplicator(next Notifier, window time.Duration) *Deduplicator {
	return &Deduplicator{next: next, window: window, now: time.Now, seen: make(map[dedupKey]time.Time)}
}

func (d *Deduplicator) Send(ctx context.Context, message Message) error {
	key := dedupKey{kind: message.Kind, destination: message.Destination}
	now := d.now()

	d.mu.Lock()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		d.mu.Unlock()
		return nil
	}
	d.seen[key] = now
	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}
	d.mu.Unlock()

	return d.next.Send(ctx, message)
}
