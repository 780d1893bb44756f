package isotp

import (
	"fmt"
	"time"

	"can-entry-core/utils"
)

// Config describes one ISO-TP channel.
type Config struct {
	TxID uint32 // id our frames are sent on
	RxID uint32 // id the peer answers on

	// Advertised to the peer in our flow control frames.
	BlockSize uint8
	StMin     uint8

	Padding     bool
	PaddingByte byte

	TimeoutFC time.Duration // N_Bs, waiting for the peer's flow control
	TimeoutCF time.Duration // N_Cr, waiting for the next consecutive frame

	// WAIT flow control frames tolerated in a row before giving up.
	MaxWaitFrames int
	MaxMessageLen int
}

const MaxMessageLen = 4096

func DefaultConfig() Config {
	return Config{
		TxID:          0x7E0,
		RxID:          0x7E8,
		BlockSize:     0,
		StMin:         0,
		Padding:       false,
		PaddingByte:   0xAA,
		TimeoutFC:     1000 * time.Millisecond,
		TimeoutCF:     1000 * time.Millisecond,
		MaxWaitFrames: 10,
		MaxMessageLen: MaxMessageLen,
	}
}

func (c Config) Validate() error {
	if c.TxID > utils.MaxFrameID || c.RxID > utils.MaxFrameID {
		return fmt.Errorf("isotp: ids must fit in 29 bits (tx=%X rx=%X)", c.TxID, c.RxID)
	}
	if c.TxID == c.RxID {
		return fmt.Errorf("isotp: tx and rx id are both %X", c.TxID)
	}
	if !validSTmin(c.StMin) {
		return fmt.Errorf("isotp: reserved STmin value 0x%02X", c.StMin)
	}
	if c.TimeoutFC <= 0 || c.TimeoutCF <= 0 {
		return fmt.Errorf("isotp: timeouts must be positive")
	}
	if c.MaxWaitFrames < 0 {
		return fmt.Errorf("isotp: negative MaxWaitFrames")
	}
	if c.MaxMessageLen <= 0 || c.MaxMessageLen > MaxMessageLen {
		return fmt.Errorf("isotp: MaxMessageLen must be 1..%d", MaxMessageLen)
	}
	return nil
}

func validSTmin(b uint8) bool {
	return b <= 0x7F || (b >= 0xF1 && b <= 0xF9)
}

// decodeSTmin turns the wire value into a duration. Reserved values mean the maximum, 127 ms.
func decodeSTmin(b uint8) time.Duration {
	switch {
	case b <= 0x7F:
		return time.Duration(b) * time.Millisecond
	case b >= 0xF1 && b <= 0xF9:
		return time.Duration(b-0xF0) * 100 * time.Microsecond
	default:
		return 127 * time.Millisecond
	}
}
