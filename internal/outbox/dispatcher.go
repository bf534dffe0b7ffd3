package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/carorbit/reservations/internal/idgen"
)

// Handler processes one claimed event. A returned error causes the event
// to be rescheduled (or poisoned past MaxAttempts); a nil error marks it
// done.
type Handler func(ctx context.Context, event Event) error

// Dispatcher polls the outbox for due events and delivers them to a
// handler registry keyed by event type, at-least-once: a ticker loop with
// panic recovery, plus an inner claim-until-exhausted loop per tick so a
// backlog drains within one tick instead of trickling out one batch per
// interval.
type Dispatcher struct {
	store        Store
	handlers     map[string]Handler
	interval     time.Duration
	batchSize    int
	workerID     string
	logger       *slog.Logger
	stop         chan struct{}
	running      atomic.Bool
	claimedTotal atomic.Int64
	doneTotal    atomic.Int64
	failedTotal  atomic.Int64
}

// NewDispatcher creates a Dispatcher with a default poll interval of 5
// seconds and a 50-event batch size, identifying its claims
// with a random worker id so stuck locks from a crashed process can be
// attributed in logs.
func NewDispatcher(store Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		handlers:  make(map[string]Handler),
		interval:  5 * time.Second,
		batchSize: 50,
		workerID:  idgen.WithPrefix("worker"),
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// WithInterval overrides the poll interval.
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

// WithBatchSize overrides the per-claim batch size.
func (d *Dispatcher) WithBatchSize(n int) *Dispatcher {
	d.batchSize = n
	return d
}

// Register attaches a handler for an event type. Registering the same
// type twice replaces the previous handler.
func (d *Dispatcher) Register(eventType string, handler Handler) *Dispatcher {
	d.handlers[eventType] = handler
	return d
}

// Running reports whether the dispatch loop is active.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Counts returns the lifetime claimed/done/failed totals, for metrics
// wiring by the caller.
func (d *Dispatcher) Counts() (claimed, done, failed int64) {
	return d.claimedTotal.Load(), d.doneTotal.Load(), d.failedTotal.Load()
}

// Start begins the poll loop. Call in a goroutine; it returns when ctx is
// canceled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.running.Store(true)
	defer d.running.Store(false)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			d.safeDrain(ctx)
		}
	}
}

// Stop signals the poll loop to stop.
func (d *Dispatcher) Stop() {
	select {
	case d.stop <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) safeDrain(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in outbox dispatcher", "panic", fmt.Sprint(r))
		}
	}()
	d.drain(ctx)
}

// drain claims and processes batches until a batch comes back smaller
// than batchSize, so a deep backlog clears within one tick.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		events, err := d.store.Claim(ctx, d.batchSize, d.workerID)
		if err != nil {
			d.logger.Warn("outbox claim failed", "error", err)
			return
		}
		if len(events) == 0 {
			return
		}
		d.claimedTotal.Add(int64(len(events)))

		for _, event := range events {
			d.process(ctx, event)
		}

		if len(events) < d.batchSize {
			return
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, event Event) {
	handler, ok := d.handlers[event.EventType]
	if !ok {
		// Left NEW, untouched: never silently dropped. The lock this
		// claim took expires after StaleLockTimeout and the event
		// becomes reclaimable again, so it surfaces on every poll until
		// someone registers a handler or reconciliation flags it.
		d.logger.Warn("no handler registered for outbox event type", "eventType", event.EventType, "eventId", event.ID)
		return
	}

	if err := handler(ctx, event); err != nil {
		d.markFailed(ctx, event, err)
		return
	}

	if err := d.store.MarkDone(ctx, event.ID); err != nil {
		d.logger.Error("failed to mark outbox event done", "eventId", event.ID, "error", err)
		return
	}
	d.doneTotal.Add(1)
}

func (d *Dispatcher) markFailed(ctx context.Context, event Event, cause error) {
	attempts := event.Attempts + 1
	if err := d.store.MarkFailed(ctx, event.ID, attempts, cause.Error()); err != nil {
		d.logger.Error("failed to record outbox event failure", "eventId", event.ID, "error", err)
		return
	}
	d.failedTotal.Add(1)

	if attempts >= MaxAttempts {
		d.logger.Error("outbox event exhausted retries, left in poison queue",
			"eventId", event.ID, "eventType", event.EventType, "attempts", attempts, "cause", cause)
		return
	}
	d.logger.Warn("outbox event delivery failed, rescheduled",
		"eventId", event.ID, "eventType", event.EventType, "attempts", attempts, "cause", cause)
}
