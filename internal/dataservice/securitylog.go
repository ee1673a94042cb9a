package dataservice

import (
	"context"
	"log/slog"

	"github.com/cardgift/cardgift/internal/ledger"
	"github.com/cardgift/cardgift/internal/store"
)

// logSecurityEvent appends to the capped security log. Persistence failures
// are logged and never fail the calling operation.
func (s *Service) logSecurityEvent(ctx context.Context, event string, data map[string]any) {
	entry := SecurityLogEntry{Event: event, Data: data, Timestamp: s.clock()}
	s.logger.Info("security event", slog.String("event", event), slog.Any("data", data))

	var logs []SecurityLogEntry
	if _, err := s.store.Load(ctx, store.KeySecurityLogs, &logs); err != nil {
		s.logger.Warn("security log unavailable", slog.Any("error", err))
		return
	}
	logs = append(logs, entry)
	if len(logs) > MaxSecurityLogs {
		logs = logs[len(logs)-MaxSecurityLogs:]
	}
	if err := s.store.Save(ctx, store.KeySecurityLogs, logs); err != nil {
		s.logger.Warn("security log not persisted", slog.String("event", event), slog.Any("error", err))
	}
}

func (s *Service) securityLogs(ctx context.Context) ([]SecurityLogEntry, error) {
	var logs []SecurityLogEntry
	if _, err := s.store.Load(ctx, store.KeySecurityLogs, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// SecurityStats summarises the persisted security log.
func (s *Service) SecurityStats(ctx context.Context) (SecurityStats, error) {
	logs, err := s.securityLogs(ctx)
	if err != nil {
		return SecurityStats{}, err
	}
	stats := SecurityStats{TotalEvents: len(logs)}
	for _, l := range logs {
		switch l.Event {
		case EventUserRegistered:
			stats.Registrations++
		case EventUserActivated:
			stats.Activations++
		case EventCardCreated:
			stats.CardsCreated++
		case EventRegistrationFailed:
			stats.FailedRegistrations++
		}
	}
	if n := len(logs); n > 0 {
		last := logs[n-1].Timestamp
		stats.LastActivity = &last
	}
	return stats, nil
}

// ExportSecurityLogs returns the whole log in its downloadable envelope.
func (s *Service) ExportSecurityLogs(ctx context.Context) (SecurityLogExport, error) {
	logs, err := s.securityLogs(ctx)
	if err != nil {
		return SecurityLogExport{}, err
	}
	if logs == nil {
		logs = []SecurityLogEntry{}
	}
	return SecurityLogExport{Version: BackupVersion, ExportedAt: s.clock(), Logs: logs}, nil
}

// RecordLedgerDrift persists a failed mirror write so operators can reconcile it.
func (s *Service) RecordLedgerDrift(ctx context.Context, ev ledger.Event) {
	if !ev.Drift() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logSecurityEvent(ctx, EventLedgerDrift, map[string]any{
		"op":    ev.Op,
		"key":   ev.Key,
		"error": ev.Err.Error(),
	})
}
