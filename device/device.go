// Package device abstracts the CAN bus the entry engine talks to.
package device

import (
	"context"
	"errors"
	"fmt"

	"go.einride.tech/can"

	"can-entry-core/utils"
)

var (
	ErrPayloadTooLong = errors.New("payload longer than 8 bytes")
	ErrClosed         = errors.New("device closed")
)

// Device sends frames and pushes received frames to a handler.
type Device interface {
	Send(ctx context.Context, frame can.Frame) error
	SetReceiveHandler(h func(can.Frame))
}

// NewFrame builds a classic CAN frame. Ids above 0x7FF use the extended format.
func NewFrame(id uint32, data []byte) (can.Frame, error) {
	if len(data) > 8 {
		return can.Frame{}, fmt.Errorf("%w: %d", ErrPayloadTooLong, len(data))
	}
	id = utils.MaskFrameID(id)
	f := can.Frame{
		ID:         id,
		Length:     uint8(len(data)),
		IsExtended: id > can.MaxID,
	}
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		return can.Frame{}, err
	}
	return f, nil
}

// Payload copies the used bytes of the frame.
func Payload(f can.Frame) []byte {
	n := int(f.Length)
	if n > len(f.Data) {
		n = len(f.Data)
	}
	return append([]byte(nil), f.Data[:n]...)
}
