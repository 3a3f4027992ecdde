// Package broadcast fans progress events out to live observers and
// appends them to the durable run log. Observability must never abort
// the pipeline, so every delivery and persistence failure is absorbed.
package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"NewsAgency/internal/domain"
	"NewsAgency/internal/ports"
)

// Broadcaster delivers events to registered observers and the run store.
// Attach, Detach and Publish are safe for concurrent use.
type Broadcaster struct {
	mu        sync.RWMutex
	observers map[int]ports.Observer
	nextID    int

	store  ports.RunStore
	logger *slog.Logger
}

// New builds a broadcaster. The store may be nil (no durable log).
func New(store ports.RunStore, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		observers: map[int]ports.Observer{},
		store:     store,
		logger:    logger,
	}
}

// Attach registers a live observer and returns its detach function.
func (b *Broadcaster) Attach(obs ports.Observer) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.observers[id] = obs
	b.mu.Unlock()

	return func() { b.remove(id) }
}

// ObserverCount reports currently attached observers.
func (b *Broadcaster) ObserverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Publish delivers the event to every observer and appends it to the run
// log when the event belongs to a run. A failing observer is dropped
// without affecting the others; log failures are swallowed.
func (b *Broadcaster) Publish(ctx context.Context, event domain.ProgressEvent) {
	b.mu.RLock()
	snapshot := make(map[int]ports.Observer, len(b.observers))
	for id, obs := range b.observers {
		snapshot[id] = obs
	}
	b.mu.RUnlock()

	for id, obs := range snapshot {
		if err := obs.Send(event); err != nil {
			b.remove(id)
			if b.logger != nil {
				b.logger.Debug("observer dropped", "observer", id, "error", err)
			}
		}
	}

	if b.store == nil || event.RunID == "" {
		return
	}
	if err := b.store.AppendLog(ctx, event); err != nil && b.logger != nil {
		b.logger.Warn("progress log write failed", "run_id", event.RunID, "error", err)
	}
}

func (b *Broadcaster) remove(id int) {
	b.mu.Lock()
	delete(b.observers, id)
	b.mu.Unlock()
}
