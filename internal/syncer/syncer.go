// Package syncer drains the pending write queue against the remote store.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"farehop/internal/domain"
	"farehop/internal/events"
	"farehop/internal/gateway"
	"farehop/internal/netmon"
	"farehop/internal/repo"
)

// Syncer runs at most one drain cycle at a time. A trigger arriving while a
// cycle is in flight is dropped, not queued; whatever that trigger wanted to
// sync is still in the queue and the next online transition (or explicit
// drain) picks it up.
type Syncer struct {
	Repo   repo.Repo
	Store  gateway.Store
	Events events.Writer
	Logger *log.Logger
	Now    func() time.Time

	mu       sync.Mutex
	draining bool
}

func New(r repo.Repo, store gateway.Store) *Syncer {
	return &Syncer{
		Repo:   r,
		Store:  store,
		Events: events.Writer{DB: r.DB},
		Now:    time.Now,
	}
}

func (s *Syncer) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// Draining reports whether a drain cycle is currently in flight.
func (s *Syncer) Draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// Drain snapshots the queue, clears it, and sends each entry to the remote
// store in submission order. Entries that fail retryably are requeued ahead
// of anything enqueued during the cycle, preserving their relative order;
// permanently rejected entries are discarded and logged. Returns the number
// of entries confirmed.
func (s *Syncer) Drain(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return 0, nil
	}
	s.draining = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()
	}()

	entries, err := s.Repo.Drain(ctx)
	if err != nil {
		return 0, fmt.Errorf("drain queue: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	synced := 0
	var failed []domain.PendingEntry
	for _, entry := range entries {
		err := s.send(ctx, entry)
		switch {
		case err == nil:
			synced++
			_ = s.Events.Append(ctx, nil, "sync.confirmed", "pending_entry", entry.TempID,
				events.EventPayload{"kind": entry.Kind})
		case gateway.Retryable(err):
			entry.Attempts++
			failed = append(failed, entry)
		default:
			// Permanent rejection: retrying forever would never succeed.
			s.logger().Printf("discarding %s entry %s: %v", entry.Kind, entry.TempID, err)
			_ = s.Events.Append(ctx, nil, "sync.discarded", "pending_entry", entry.TempID,
				events.EventPayload{"kind": entry.Kind, "error": err.Error()})
		}
	}

	if len(failed) > 0 {
		if err := s.Repo.Requeue(ctx, failed); err != nil {
			return synced, fmt.Errorf("requeue %d entries: %w", len(failed), err)
		}
	}
	_ = s.Events.Append(ctx, nil, "sync.completed", "queue", "",
		events.EventPayload{"synced": synced, "failed": len(failed)})
	return synced, nil
}

func (s *Syncer) send(ctx context.Context, entry domain.PendingEntry) error {
	switch entry.Kind {
	case domain.EntryReport:
		var p domain.ReportPayload
		if err := json.Unmarshal([]byte(entry.Payload), &p); err != nil {
			return fmt.Errorf("malformed report payload: %w", err)
		}
		var confirmed domain.Report
		return s.Store.Create(ctx, gateway.CollectionReports, p, &confirmed)
	case domain.EntryTicketValidation:
		var p domain.TicketValidationPayload
		if err := json.Unmarshal([]byte(entry.Payload), &p); err != nil {
			return fmt.Errorf("malformed validation payload: %w", err)
		}
		patch := domain.TicketPatch{
			Status:         domain.TicketValidated,
			ValidatedAt:    p.ValidatedAt,
			ValidatedOnBus: p.ValidatedOnBus,
		}
		if err := s.Store.Update(ctx, gateway.CollectionTickets, p.TicketID, patch); err != nil {
			return err
		}
		if err := s.Repo.MarkTicketSynced(ctx, p.TicketID); err != nil {
			s.logger().Printf("mark ticket %s synced: %v", p.TicketID, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown entry kind %q", entry.Kind)
	}
}

// Attach subscribes the syncer to online transitions. The drain runs
// synchronously inside the transition callback so callers observe a settled
// queue once Set returns.
func (s *Syncer) Attach(m *netmon.Monitor) (cancel func()) {
	return m.Subscribe(func(online bool) {
		if !online {
			return
		}
		if n, err := s.Drain(context.Background()); err != nil {
			s.logger().Printf("sync after reconnect: %v", err)
		} else if n > 0 {
			s.logger().Printf("synced %d pending write(s)", n)
		}
	})
}
