package isotp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// SendFunc puts one CAN frame on the bus.
type SendFunc func(id uint32, data []byte) error

type RxState int

const (
	RxIdle RxState = iota
	RxReceiving
)

func (s RxState) String() string {
	if s == RxReceiving {
		return "receiving"
	}
	return "idle"
}

type TxState int

const (
	TxIdle TxState = iota
	TxWaitFC
	TxSending
)

func (s TxState) String() string {
	switch s {
	case TxWaitFC:
		return "wait-fc"
	case TxSending:
		return "sending"
	default:
		return "idle"
	}
}

// Link is one ISO-TP channel: a receive and a transmit state machine sharing a pair of ids.
// Time is supplied by the caller so the owner's tick drives all timers.
// Link is not safe for concurrent use.
type Link struct {
	cfg  Config
	send SendFunc

	rxState    RxState
	rxBuf      []byte
	rxLen      int
	rxSeq      uint8
	rxBlock    int
	rxDeadline time.Time

	txState    TxState
	txBuf      []byte
	txPos      int
	txSeq      uint8
	txBlock    int
	txDeadline time.Time
	txNext     time.Time
	peerBS     int
	peerSTmin  time.Duration
	waitCount  int
}

func NewLink(cfg Config, send SendFunc) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if send == nil {
		return nil, errors.New("isotp: nil send function")
	}
	return &Link{cfg: cfg, send: send}, nil
}

func (l *Link) Config() Config   { return l.cfg }
func (l *Link) RxState() RxState { return l.rxState }
func (l *Link) TxState() TxState { return l.txState }

// Reset drops any message in flight in both directions.
func (l *Link) Reset() {
	l.resetRx()
	l.resetTx()
}

func (l *Link) resetRx() {
	l.rxState = RxIdle
	l.rxBuf = nil
	l.rxLen = 0
	l.rxSeq = 0
	l.rxBlock = 0
}

func (l *Link) resetTx() {
	l.txState = TxIdle
	l.txBuf = nil
	l.txPos = 0
	l.txSeq = 0
	l.txBlock = 0
	l.waitCount = 0
}

func (l *Link) pad(b []byte) []byte {
	if !l.cfg.Padding || len(b) >= 8 {
		return b
	}
	out := make([]byte, 8)
	copy(out, b)
	for i := len(b); i < 8; i++ {
		out[i] = l.cfg.PaddingByte
	}
	return out
}

func (l *Link) transmit(b []byte) error {
	return l.send(l.cfg.TxID, l.pad(b))
}

// Send starts transmitting data. Up to 7 bytes go out as a single frame,
// longer messages as a first frame whose remainder follows the peer's flow control.
func (l *Link) Send(data []byte, now time.Time) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) > l.cfg.MaxMessageLen {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLong, len(data), l.cfg.MaxMessageLen)
	}
	if l.txState != TxIdle {
		return ErrBusy
	}

	if len(data) <= 7 {
		frame := make([]byte, 0, 1+len(data))
		frame = append(frame, byte(len(data)))
		frame = append(frame, data...)
		return l.transmit(frame)
	}

	var frame []byte
	if len(data) <= 0xFFF {
		frame = []byte{0x10 | byte(len(data)>>8), byte(len(data))}
	} else {
		frame = []byte{0x10, 0x00, 0, 0, 0, 0}
		binary.BigEndian.PutUint32(frame[2:], uint32(len(data)))
	}
	n := 8 - len(frame)
	frame = append(frame, data[:n]...)

	l.txBuf = append([]byte(nil), data...)
	l.txPos = n
	l.txSeq = 1
	l.txBlock = 0
	l.waitCount = 0
	if err := l.transmit(frame); err != nil {
		l.resetTx()
		return err
	}
	l.txState = TxWaitFC
	l.txDeadline = now.Add(l.cfg.TimeoutFC)
	return nil
}

// OnFrame handles one frame received on RxID. It returns a message once one is complete.
// A message and an error can come back together when a single frame interrupts a reception.
func (l *Link) OnFrame(data []byte, now time.Time) ([]byte, error) {
	p, err := parsePDU(data)
	if err != nil {
		l.resetRx()
		return nil, err
	}

	switch p.typ {
	case pduFlowControl:
		return nil, l.onFlowControl(p, now)

	case pduSingle:
		msg := append([]byte(nil), p.data...)
		if l.rxState == RxReceiving {
			l.resetRx()
			return msg, ErrReceptionInterrupted
		}
		return msg, nil

	case pduFirst:
		var interrupted error
		if l.rxState == RxReceiving {
			interrupted = ErrReceptionInterrupted
		}
		l.resetRx()
		if p.length > l.cfg.MaxMessageLen {
			_ = l.transmit(flowControlData(flowOverflow, 0, 0))
			return nil, errors.Join(interrupted, fmt.Errorf("%w: first frame announces %d bytes", ErrMessageTooLong, p.length))
		}
		l.rxLen = p.length
		l.rxBuf = make([]byte, 0, p.length)
		l.rxBuf = append(l.rxBuf, p.data...)
		if len(l.rxBuf) >= l.rxLen {
			msg := l.rxBuf[:l.rxLen]
			l.resetRx()
			return msg, interrupted
		}
		l.rxState = RxReceiving
		l.rxSeq = 1
		l.rxDeadline = now.Add(l.cfg.TimeoutCF)
		if err := l.transmit(flowControlData(flowContinue, l.cfg.BlockSize, l.cfg.StMin)); err != nil {
			l.resetRx()
			return nil, errors.Join(interrupted, err)
		}
		return nil, interrupted

	case pduConsecutive:
		if l.rxState != RxReceiving {
			return nil, fmt.Errorf("%w: %s with no reception in progress", ErrUnexpectedConsecutive, p.typ)
		}
		if p.seq != l.rxSeq {
			want := l.rxSeq
			l.resetRx()
			return nil, fmt.Errorf("%w: got %d, want %d", ErrWrongSequence, p.seq, want)
		}
		remaining := l.rxLen - len(l.rxBuf)
		chunk := p.data
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		l.rxBuf = append(l.rxBuf, chunk...)
		l.rxSeq = (l.rxSeq + 1) & 0x0F
		l.rxDeadline = now.Add(l.cfg.TimeoutCF)

		if len(l.rxBuf) >= l.rxLen {
			msg := l.rxBuf
			l.resetRx()
			return msg, nil
		}
		l.rxBlock++
		if l.cfg.BlockSize > 0 && l.rxBlock >= int(l.cfg.BlockSize) {
			l.rxBlock = 0
			if err := l.transmit(flowControlData(flowContinue, l.cfg.BlockSize, l.cfg.StMin)); err != nil {
				l.resetRx()
				return nil, err
			}
		}
		return nil, nil
	}
	return nil, nil
}

func (l *Link) onFlowControl(p pdu, now time.Time) error {
	if l.txState == TxIdle {
		return ErrUnexpectedFlowControl
	}
	switch p.status {
	case flowOverflow:
		l.resetTx()
		return ErrOverflow

	case flowWait:
		l.waitCount++
		if l.waitCount > l.cfg.MaxWaitFrames {
			l.resetTx()
			return ErrWaitLimit
		}
		l.txState = TxWaitFC
		l.txDeadline = now.Add(l.cfg.TimeoutFC)
		return nil

	default:
		if l.txState != TxWaitFC {
			return nil
		}
		l.waitCount = 0
		l.peerBS = int(p.bs)
		l.peerSTmin = decodeSTmin(p.stmin)
		l.txBlock = 0
		l.txState = TxSending
		l.txNext = now
		return l.pump(now)
	}
}

// pump sends the consecutive frames that are due at now.
func (l *Link) pump(now time.Time) error {
	for l.txState == TxSending && !now.Before(l.txNext) {
		n := len(l.txBuf) - l.txPos
		if n > 7 {
			n = 7
		}
		frame := make([]byte, 0, 1+n)
		frame = append(frame, 0x20|l.txSeq)
		frame = append(frame, l.txBuf[l.txPos:l.txPos+n]...)
		if err := l.transmit(frame); err != nil {
			l.resetTx()
			return err
		}
		l.txPos += n
		l.txSeq = (l.txSeq + 1) & 0x0F

		if l.txPos >= len(l.txBuf) {
			l.resetTx()
			return nil
		}
		l.txBlock++
		if l.peerBS > 0 && l.txBlock >= l.peerBS {
			l.txBlock = 0
			l.txState = TxWaitFC
			l.txDeadline = now.Add(l.cfg.TimeoutFC)
			return nil
		}
		l.txNext = now.Add(l.peerSTmin)
	}
	return nil
}

// Poll expires timers and sends consecutive frames whose separation time has elapsed.
func (l *Link) Poll(now time.Time) error {
	var errs []error
	if l.rxState == RxReceiving && !now.Before(l.rxDeadline) {
		l.resetRx()
		errs = append(errs, ErrTimeout)
	}
	switch l.txState {
	case TxWaitFC:
		if !now.Before(l.txDeadline) {
			l.resetTx()
			errs = append(errs, ErrFlowControlTimeout)
		}
	case TxSending:
		if err := l.pump(now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
