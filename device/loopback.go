package device

import (
	"context"
	"sync"
	"time"

	"go.einride.tech/can"
)

// Loopback is an in-memory CAN bus for tests and simulation.
// Frames sent on one port reach every other port of the same bus.
type Loopback struct {
	mu     sync.RWMutex
	closed bool
	ports  map[*Port]struct{}
}

func NewLoopback() *Loopback {
	return &Loopback{ports: make(map[*Port]struct{})}
}

// Open attaches a new port. Each port delivers frames in send order on its own goroutine,
// so a handler may send from inside its callback without blocking the sender.
func (b *Loopback) Open() *Port {
	p := &Port{bus: b, done: make(chan struct{})}
	p.cond = sync.NewCond(&p.mu)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		p.dead = true
		close(p.done)
		return p
	}
	b.ports[p] = struct{}{}
	b.mu.Unlock()

	go p.deliver()
	return p
}

func (b *Loopback) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	ports := make([]*Port, 0, len(b.ports))
	for p := range b.ports {
		ports = append(ports, p)
	}
	b.ports = nil
	b.mu.Unlock()

	for _, p := range ports {
		p.shutdown()
	}
	return nil
}

// Port is one endpoint of a Loopback bus.
type Port struct {
	bus *Loopback

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []can.Frame
	busy    bool
	dead    bool
	handler func(can.Frame)
	done    chan struct{}
}

func (p *Port) SetReceiveHandler(h func(can.Frame)) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *Port) Send(ctx context.Context, frame can.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := frame.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	dead := p.dead
	p.mu.Unlock()
	if dead {
		return ErrClosed
	}

	p.bus.mu.RLock()
	if p.bus.closed {
		p.bus.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*Port, 0, len(p.bus.ports))
	for t := range p.bus.ports {
		if t != p {
			targets = append(targets, t)
		}
	}
	// enqueue under the read lock so concurrent senders keep a single global order per port
	for _, t := range targets {
		t.enqueue(frame)
	}
	p.bus.mu.RUnlock()
	return nil
}

func (p *Port) enqueue(f can.Frame) {
	p.mu.Lock()
	if !p.dead {
		p.queue = append(p.queue, f)
		p.cond.Broadcast()
	}
	p.mu.Unlock()
}

func (p *Port) deliver() {
	defer close(p.done)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.dead {
			p.cond.Wait()
		}
		if p.dead {
			p.queue = nil
			p.mu.Unlock()
			return
		}
		f := p.queue[0]
		p.queue = p.queue[1:]
		p.busy = true
		h := p.handler
		p.mu.Unlock()

		if h != nil {
			h(f)
		}

		p.mu.Lock()
		p.busy = false
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

// Pending reports whether frames are queued or being handled.
func (p *Port) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) > 0 || p.busy
}

// Drain waits until every frame queued for this port has been handled.
func (p *Port) Drain(ctx context.Context) error {
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for p.Pending() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (p *Port) shutdown() {
	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		return
	}
	p.dead = true
	p.cond.Broadcast()
	p.mu.Unlock()
	<-p.done
}

// Close detaches the port. Frames still queued are dropped.
func (p *Port) Close() error {
	p.bus.mu.Lock()
	if p.bus.ports != nil {
		delete(p.bus.ports, p)
	}
	p.bus.mu.Unlock()
	p.shutdown()
	return nil
}
