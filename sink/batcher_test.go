package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"can-entry-core/entry"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]entry.LogEntry
	err     error
}

func (r *recorder) flush(_ context.Context, batch []entry.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]entry.LogEntry(nil), batch...))
	return r.err
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func logEntry(id uint32) entry.LogEntry {
	return entry.LogEntry{FrameID: id, Direction: entry.DirSent, Data: []byte{byte(id)}, Timestamp: time.Now()}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBatcherFlushesFullBatch(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher("test", 4, time.Hour, rec.flush, nil)
	b.Start(t.Context())
	defer b.Close()

	for i := range 4 {
		b.Write(logEntry(uint32(i)))
	}
	waitFor(t, func() bool { return rec.total() == 4 })

	rec.mu.Lock()
	if len(rec.batches) != 1 {
		t.Errorf("expected a single batch, got %d", len(rec.batches))
	}
	for i, e := range rec.batches[0] {
		if e.FrameID != uint32(i) {
			t.Errorf("entry %d has id %d", i, e.FrameID)
		}
	}
	rec.mu.Unlock()
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher("test", 100, 5*time.Millisecond, rec.flush, nil)
	b.Start(t.Context())
	defer b.Close()

	b.Write(logEntry(1))
	waitFor(t, func() bool { return rec.total() == 1 })
}

func TestBatcherFlushesOnClose(t *testing.T) {
	rec := &recorder{}
	b := NewBatcher("test", 100, time.Hour, rec.flush, nil)
	b.Start(context.Background())

	for i := range 10 {
		b.Write(logEntry(uint32(i)))
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if rec.total() != 10 {
		t.Fatalf("expected 10 entries flushed on close, got %d", rec.total())
	}
	written, dropped := b.Stats()
	if written != 10 || dropped != 0 {
		t.Errorf("stats = %d written, %d dropped", written, dropped)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestBatcherCountsFailedFlushAsDropped(t *testing.T) {
	rec := &recorder{err: errors.New("store down")}
	b := NewBatcher("test", 2, time.Hour, rec.flush, nil)
	b.Start(t.Context())

	b.Write(logEntry(1))
	b.Write(logEntry(2))
	waitFor(t, func() bool { return rec.total() == 2 })
	b.Close()

	written, dropped := b.Stats()
	if written != 0 || dropped != 2 {
		t.Errorf("stats = %d written, %d dropped", written, dropped)
	}
}

func TestBatcherDropsWhenQueueIsFull(t *testing.T) {
	rec := &recorder{}
	// Not started: nothing drains the queue.
	b := NewBatcher("test", 2, time.Hour, rec.flush, nil)
	for i := range 10 {
		b.Write(logEntry(uint32(i)))
	}
	_, dropped := b.Stats()
	if dropped != 6 {
		t.Errorf("expected 6 dropped, got %d", dropped)
	}
}

type countSink struct{ n int }

func (c *countSink) Write(entry.LogEntry) { c.n++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &countSink{}, &countSink{}
	m := Multi{a, b}
	m.Write(logEntry(1))
	m.Write(logEntry(2))
	if a.n != 2 || b.n != 2 {
		t.Errorf("got %d and %d writes", a.n, b.n)
	}
}
