package device

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"

	"can-entry-core/utils"
)

// SocketCAN is a Linux CAN interface (can0, vcan0, ...).
type SocketCAN struct {
	iface string
	conn  net.Conn
	tx    *socketcan.Transmitter
	rx    *socketcan.Receiver
	log   *utils.Logger

	mu      sync.Mutex
	handler func(can.Frame)

	closeOnce sync.Once
}

func DialSocketCAN(ctx context.Context, iface string, log *utils.Logger) (*SocketCAN, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	if log == nil {
		log = utils.Discard()
	}
	return &SocketCAN{
		iface: iface,
		conn:  conn,
		tx:    socketcan.NewTransmitter(conn),
		rx:    socketcan.NewReceiver(conn),
		log:   log,
	}, nil
}

func (s *SocketCAN) Send(ctx context.Context, frame can.Frame) error {
	return s.tx.TransmitFrame(ctx, frame)
}

func (s *SocketCAN) SetReceiveHandler(h func(can.Frame)) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Run delivers received frames to the handler until ctx is cancelled or the socket fails.
func (s *SocketCAN) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.log.Info("socketcan receive loop started on %s", s.iface)
	for s.rx.Receive() {
		if s.rx.HasErrorFrame() {
			s.log.Warn("error frame on %s: %v", s.iface, s.rx.ErrorFrame())
			continue
		}
		f := s.rx.Frame()
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h != nil {
			h(f)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return s.rx.Err()
}

func (s *SocketCAN) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
