package entry

import (
	"context"
	"fmt"
)

// SendIsoTpFrame starts an ISO-TP transmission of data on the configured link.
// Consecutive frames follow on received flow control and on later ticks.
func (h *Handler) SendIsoTpFrame(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.link == nil {
		return ErrIsoTpDisabled
	}
	if err := h.link.Send(data, h.now()); err != nil {
		return fmt.Errorf("iso-tp send: %w", err)
	}
	return nil
}

// IsoTpMessages delivers reassembled messages. Nil when ISO-TP is not configured.
func (h *Handler) IsoTpMessages() <-chan []byte { return h.isoRx }

// IsoTpErrors delivers protocol errors. Nil when ISO-TP is not configured.
func (h *Handler) IsoTpErrors() <-chan error { return h.isoErr }

func (h *Handler) ResetIsoTp() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.link != nil {
		h.link.Reset()
	}
}

// sendIsoTpRaw is the link's SendFunc. The link only runs under h.mu.
func (h *Handler) sendIsoTpRaw(id uint32, data []byte) error {
	if err := h.transmit(context.Background(), id, data); err != nil {
		return err
	}
	h.record(id, DirSent, data, h.now(), 0)
	return nil
}

func (h *Handler) deliverIsoTp(msg []byte) {
	select {
	case h.isoRx <- msg:
	default:
		h.log.Warn("iso-tp message of %d bytes dropped, queue full", len(msg))
	}
}

func (h *Handler) reportIsoTp(err error) {
	h.log.Warn("iso-tp: %v", err)
	select {
	case h.isoErr <- err:
	default:
	}
}
