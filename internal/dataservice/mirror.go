package dataservice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cardgift/cardgift/internal/notification"
)

// WatchMirror consumes mirror events until the mirror is closed. Drift is
// recorded in the security log and sent to n. The returned channel is closed
// once the event stream ends.
func (s *Service) WatchMirror(ctx context.Context, n notification.Notifier) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range s.mirror.Events() {
			if !ev.Drift() {
				continue
			}
			s.RecordLedgerDrift(ctx, ev)
			if n == nil {
				continue
			}
			msg := notification.Message{
				Kind:        notification.KindLedgerDrift,
				Destination: ev.Key,
				Body:        fmt.Sprintf("%s for %s failed: %v", ev.Op, ev.Key, ev.Err),
			}
			if err := n.Send(ctx, msg); err != nil {
				s.logger.Warn("drift notification failed", slog.String("op", ev.Op), slog.Any("error", err))
			}
		}
	}()
	return done
}
