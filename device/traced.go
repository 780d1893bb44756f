package device

import (
	"context"

	"go.einride.tech/can"

	"can-entry-core/utils"
)

// Traced logs every frame passing through the wrapped device at TRACE level.
type Traced struct {
	inner Device
	log   *utils.Logger
}

func NewTraced(inner Device, log *utils.Logger) *Traced {
	if log == nil {
		log = utils.Discard()
	}
	return &Traced{inner: inner, log: log}
}

func (t *Traced) Send(ctx context.Context, frame can.Frame) error {
	t.log.Trace("tx %s", frame.String())
	err := t.inner.Send(ctx, frame)
	if err != nil {
		t.log.Warn("tx %08X failed: %v", frame.ID, err)
	}
	return err
}

func (t *Traced) SetReceiveHandler(h func(can.Frame)) {
	if h == nil {
		t.inner.SetReceiveHandler(nil)
		return
	}
	t.inner.SetReceiveHandler(func(f can.Frame) {
		t.log.Trace("rx %s", f.String())
		h(f)
	})
}
