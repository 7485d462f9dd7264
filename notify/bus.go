// Package notify carries best-effort side flows triggered by record
// creation. Nothing here shares transactional guarantees with the
// redemption engine: handlers run asynchronously, tolerate at-least-once
// delivery, and their failures never reach the code that created the
// record.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// RecordCreated describes a document newly written to the store.
type RecordCreated struct {
	Collection string
	Key        string
	Doc        json.RawMessage
	OccurredAt time.Time
}

// Handler consumes record-created events.
type Handler interface {
	HandleRecordCreated(ctx context.Context, ev RecordCreated)
}

// Bus fans record-created events out to subscribers. Publish never
// blocks the caller and never returns an error; each delivery runs in
// its own goroutine.
type Bus struct {
	mu       sync.Mutex
	handlers []Handler
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

func (b *Bus) Publish(ctx context.Context, ev RecordCreated) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						"collection", ev.Collection, "key", ev.Key, "panic", r)
				}
			}()
			h.HandleRecordCreated(ctx, ev)
		}(h)
	}
}

// Drain blocks until all in-flight deliveries finish. Used by tests and
// graceful shutdown.
func (b *Bus) Drain() {
	b.wg.Wait()
}
