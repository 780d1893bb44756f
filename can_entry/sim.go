package main

import (
	"context"
	"sync"
	"time"

	"go.einride.tech/can"

	"can-entry-core/device"
	"can-entry-core/isotp"
	"can-entry-core/utils"
)

// simPeer is the node at the other end of the simulated bus. Plain frames are echoed
// back unchanged; ISO-TP requests are answered with the same payload.
type simPeer struct {
	port *device.Port
	log  *utils.Logger

	mu     sync.Mutex
	link   *isotp.Link
	echoed uint64
}

func newSimPeer(port *device.Port, lc *isotp.Config, log *utils.Logger) (*simPeer, error) {
	p := &simPeer{port: port, log: log}
	if lc != nil {
		cfg := *lc
		cfg.TxID, cfg.RxID = lc.RxID, lc.TxID
		link, err := isotp.NewLink(cfg, p.send)
		if err != nil {
			return nil, err
		}
		p.link = link
	}
	port.SetReceiveHandler(p.onFrame)
	return p, nil
}

func (p *simPeer) send(id uint32, data []byte) error {
	f, err := device.NewFrame(id, data)
	if err != nil {
		return err
	}
	return p.port.Send(context.Background(), f)
}

func (p *simPeer) onFrame(f can.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.link != nil && f.ID == p.link.Config().RxID {
		msg, err := p.link.OnFrame(device.Payload(f), now)
		if err != nil {
			p.log.Warn("sim peer iso-tp: %v", err)
		}
		if msg != nil {
			if err := p.link.Send(msg, now); err != nil {
				p.log.Warn("sim peer iso-tp reply: %v", err)
			}
		}
		return
	}
	if err := p.port.Send(context.Background(), f); err != nil {
		p.log.Warn("sim peer echo: %v", err)
		return
	}
	p.echoed++
}

// Run polls the peer's ISO-TP timers until ctx is cancelled.
func (p *simPeer) Run(ctx context.Context, tick time.Duration) {
	if p.link == nil {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			p.mu.Lock()
			if err := p.link.Poll(now); err != nil {
				p.log.Warn("sim peer iso-tp: %v", err)
			}
			p.mu.Unlock()
		}
	}
}

func (p *simPeer) Echoed() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.echoed
}
