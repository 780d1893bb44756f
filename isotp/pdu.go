package isotp

import (
	"encoding/binary"
	"fmt"
)

type pduType uint8

const (
	pduSingle pduType = iota
	pduFirst
	pduConsecutive
	pduFlowControl
)

func (t pduType) String() string {
	switch t {
	case pduSingle:
		return "SF"
	case pduFirst:
		return "FF"
	case pduConsecutive:
		return "CF"
	case pduFlowControl:
		return "FC"
	default:
		return "??"
	}
}

type flowStatus uint8

const (
	flowContinue flowStatus = iota
	flowWait
	flowOverflow
)

type pdu struct {
	typ    pduType
	length int // SF and FF
	seq    uint8
	status flowStatus
	bs     uint8
	stmin  uint8
	data   []byte
}

// parsePDU decodes one classic CAN payload. Returned data aliases the input.
func parsePDU(b []byte) (pdu, error) {
	if len(b) == 0 {
		return pdu{}, fmt.Errorf("%w: empty frame", ErrInvalidFrame)
	}
	p := pdu{typ: pduType(b[0] >> 4)}
	switch p.typ {
	case pduSingle:
		p.length = int(b[0] & 0x0F)
		if p.length == 0 || p.length > len(b)-1 {
			return pdu{}, fmt.Errorf("%w: single frame length %d with %d data bytes", ErrInvalidFrame, p.length, len(b)-1)
		}
		p.data = b[1 : 1+p.length]

	case pduFirst:
		if len(b) < 2 {
			return pdu{}, fmt.Errorf("%w: short first frame", ErrInvalidFrame)
		}
		p.length = int(b[0]&0x0F)<<8 | int(b[1])
		start := 2
		if p.length == 0 {
			if len(b) < 6 {
				return pdu{}, fmt.Errorf("%w: short escaped first frame", ErrInvalidFrame)
			}
			p.length = int(binary.BigEndian.Uint32(b[2:6]))
			start = 6
		}
		end := len(b)
		if start+p.length < end {
			end = start + p.length
		}
		p.data = b[start:end]

	case pduConsecutive:
		p.seq = b[0] & 0x0F
		p.data = b[1:]

	case pduFlowControl:
		if len(b) < 3 {
			return pdu{}, fmt.Errorf("%w: short flow control", ErrInvalidFrame)
		}
		p.status = flowStatus(b[0] & 0x0F)
		if p.status > flowOverflow {
			return pdu{}, fmt.Errorf("%w: unknown flow status %d", ErrInvalidFrame, p.status)
		}
		p.bs = b[1]
		p.stmin = b[2]

	default:
		return pdu{}, fmt.Errorf("%w: unknown frame type %d", ErrInvalidFrame, p.typ)
	}
	return p, nil
}

func flowControlData(status flowStatus, bs, stmin uint8) []byte {
	return []byte{0x30 | byte(status), bs, stmin}
}
