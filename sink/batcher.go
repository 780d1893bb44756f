// Package sink mirrors recorded frames to external time-series stores.
package sink

import (
	"context"
	"sync"
	"time"

	"can-entry-core/entry"
	"can-entry-core/utils"
)

const (
	DefaultBatchSize     = 500
	DefaultFlushInterval = time.Second
	closeFlushTimeout    = 5 * time.Second
)

// FlushFunc writes one batch to the backing store.
type FlushFunc func(ctx context.Context, batch []entry.LogEntry) error

// Batcher queues entries without blocking and flushes them when the batch is full
// or the flush interval elapses.
type Batcher struct {
	name     string
	size     int
	interval time.Duration
	flushFn  FlushFunc
	log      *utils.Logger

	ch     chan entry.LogEntry
	batch  []entry.LogEntry
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	dropped uint64
	written uint64
}

func NewBatcher(name string, size int, interval time.Duration, flush FlushFunc, log *utils.Logger) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if log == nil {
		log = utils.Discard()
	}
	return &Batcher{
		name:     name,
		size:     size,
		interval: interval,
		flushFn:  flush,
		log:      log,
		ch:       make(chan entry.LogEntry, size*2),
		batch:    make([]entry.LogEntry, 0, size),
		done:     make(chan struct{}),
	}
}

// Start runs the write loop until Close or ctx is done.
func (b *Batcher) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	go b.writeLoop(ctx)
}

func (b *Batcher) writeLoop(ctx context.Context) {
	defer close(b.done)
	t := time.NewTicker(b.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case e := <-b.ch:
					b.batch = append(b.batch, e)
				default:
					break drain
				}
			}
			fctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
			b.flush(fctx)
			cancel()
			return

		case e := <-b.ch:
			b.batch = append(b.batch, e)
			if len(b.batch) >= b.size {
				b.flush(ctx)
			}

		case <-t.C:
			b.flush(ctx)
		}
	}
}

func (b *Batcher) flush(ctx context.Context) {
	if len(b.batch) == 0 {
		return
	}
	n := len(b.batch)
	if err := b.flushFn(ctx, b.batch); err != nil {
		b.log.Error("%s: flush of %d entries failed: %v", b.name, n, err)
		b.mu.Lock()
		b.dropped += uint64(n)
		b.mu.Unlock()
	} else {
		b.log.Debug("%s: flushed %d entries", b.name, n)
		b.mu.Lock()
		b.written += uint64(n)
		b.mu.Unlock()
	}
	b.batch = b.batch[:0]
}

// Write queues e. A full queue drops the entry.
func (b *Batcher) Write(e entry.LogEntry) {
	select {
	case b.ch <- e:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
	}
}

// Stats reports entries written to the store and entries lost.
func (b *Batcher) Stats() (written, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written, b.dropped
}

// Close stops the loop after a final flush.
func (b *Batcher) Close() error {
	if b.cancel == nil {
		return nil
	}
	b.cancel()
	<-b.done
	return nil
}
