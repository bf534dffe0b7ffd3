package outbox

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu       sync.Mutex
	pending  []Event
	done     []int64
	failed   map[int64]struct {
		attempts int
		lastErr  string
	}
	claimErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		failed: make(map[int64]struct {
			attempts int
			lastErr  string
		}),
	}
}

func (f *fakeStore) Append(_ context.Context, _ *sql.Tx, _, _ string, _ int64, _ any) error {
	return nil
}

func (f *fakeStore) Claim(_ context.Context, n int, _ string) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if n > len(f.pending) {
		n = len(f.pending)
	}
	batch := f.pending[:n]
	f.pending = f.pending[n:]
	return batch, nil
}

func (f *fakeStore) MarkDone(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = append(f.done, id)
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id int64, attempts int, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = struct {
		attempts int
		lastErr  string
	}{attempts, lastErr}
	return nil
}

func TestDispatcher_DrainsUntilBatchSmallerThanSize(t *testing.T) {
	store := newFakeStore()
	store.pending = []Event{{ID: 1, EventType: "X"}, {ID: 2, EventType: "X"}, {ID: 3, EventType: "X"}}

	d := NewDispatcher(store, testLogger()).WithBatchSize(2)
	var processed []int64
	d.Register("X", func(_ context.Context, e Event) error {
		processed = append(processed, e.ID)
		return nil
	})

	d.drain(context.Background())

	assert.Equal(t, []int64{1, 2, 3}, processed)
	assert.ElementsMatch(t, []int64{1, 2, 3}, store.done)
}

func TestDispatcher_HandlerError_MarksFailedWithIncrementedAttempts(t *testing.T) {
	store := newFakeStore()
	store.pending = []Event{{ID: 7, EventType: "Y", Attempts: 2}}

	d := NewDispatcher(store, testLogger())
	d.Register("Y", func(_ context.Context, _ Event) error {
		return errors.New("boom")
	})

	d.drain(context.Background())

	rec, ok := store.failed[7]
	require.True(t, ok)
	assert.Equal(t, 3, rec.attempts)
	assert.Contains(t, rec.lastErr, "boom")
}

func TestDispatcher_NoHandlerRegistered_LeftUntouchedNotDropped(t *testing.T) {
	store := newFakeStore()
	store.pending = []Event{{ID: 9, EventType: "Unknown"}}

	d := NewDispatcher(store, testLogger())
	d.drain(context.Background())

	_, failedRecorded := store.failed[9]
	assert.False(t, failedRecorded, "an unhandled event type must not be marked failed/poisoned")
	assert.NotContains(t, store.done, int64(9))
}

func TestDispatcher_ClaimError_StopsDrainWithoutPanic(t *testing.T) {
	store := newFakeStore()
	store.claimErr = errors.New("db down")

	d := NewDispatcher(store, testLogger())
	assert.NotPanics(t, func() { d.drain(context.Background()) })
}

func TestDispatcher_StartStop(t *testing.T) {
	store := newFakeStore()
	d := NewDispatcher(store, testLogger()).WithInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	assert.True(t, d.Running())

	d.Stop()
	time.Sleep(30 * time.Millisecond)
	assert.False(t, d.Running())
}

func TestBackoffFor_DoublesPerAttempt(t *testing.T) {
	assert.Equal(t, 2*time.Minute, backoffFor(1))
	assert.Equal(t, 4*time.Minute, backoffFor(2))
	assert.Equal(t, 16*time.Minute, backoffFor(4))
}
