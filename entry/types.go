package entry

import (
	"errors"
	"fmt"
	"time"

	"can-entry-core/mapping"
	"can-entry-core/utils"
)

var (
	ErrDuplicateID     = errors.New("frame id already exists")
	ErrIndexOutOfRange = errors.New("entry index out of range")
	ErrInvalidEntry    = errors.New("invalid entry")
	ErrUnknownFrame    = errors.New("unknown frame id")
	ErrIsoTpDisabled   = errors.New("iso-tp link not configured")
	ErrNoLoader        = errors.New("no loader configured")
)

const MaxPayload = 8

// TxEntry is one transmittable frame definition.
type TxEntry struct {
	ID            uint32
	Data          []byte
	Period        time.Duration // 0 means manual only
	Send          bool
	SingleShot    bool
	Count         uint64
	Comment       string
	LogLevel      uint8
	LastExecution time.Time
}

func (e TxEntry) clone() TxEntry {
	e.Data = append([]byte(nil), e.Data...)
	return e
}

// validate normalises the id and checks payload and period.
func (e *TxEntry) validate() error {
	e.ID = utils.MaskFrameID(e.ID)
	if len(e.Data) > MaxPayload {
		return fmt.Errorf("%w: %X payload has %d bytes", ErrInvalidEntry, e.ID, len(e.Data))
	}
	if e.Period < 0 {
		return fmt.Errorf("%w: %X has negative period", ErrInvalidEntry, e.ID)
	}
	return nil
}

func (e *TxEntry) due(now time.Time) bool {
	return e.Send && e.Period > 0 && now.Sub(e.LastExecution) >= e.Period
}

// RxData is the last observed state of one received frame id.
type RxData struct {
	ID            uint32
	Data          []byte
	Count         uint64
	Period        time.Duration // interval to the previous reception, 0 on the first
	LastExecution time.Time
	Comment       string
	LogLevel      uint8
	Signals       []mapping.Signal
}

// RxListEntry is the persisted part of the RX side: comment and recording level per id.
type RxListEntry struct {
	ID       uint32
	Comment  string
	LogLevel uint8
}

type Direction uint8

const (
	DirSent Direction = iota
	DirReceived
)

func (d Direction) String() string {
	if d == DirReceived {
		return "RX"
	}
	return "TX"
}

// LogEntry is one recorded frame.
type LogEntry struct {
	FrameID   uint32
	Direction Direction
	Data      []byte
	Timestamp time.Time
}

const logTimeLayout = "2006.01.02 15:04:05.000"

func (l LogEntry) String() string {
	s := fmt.Sprintf("%s %s %X [%d]", l.Timestamp.Format(logTimeLayout), l.Direction, l.FrameID, len(l.Data))
	if len(l.Data) > 0 {
		s += " " + utils.FormatHexBytes(l.Data)
	}
	return s
}

// Sink receives a copy of every recorded entry. Write must not block.
type Sink interface {
	Write(e LogEntry)
}

type TxLoader interface {
	Load(path string) ([]TxEntry, error)
	Save(path string, entries []TxEntry) error
}

type RxLoader interface {
	Load(path string) ([]RxListEntry, error)
	Save(path string, entries []RxListEntry) error
}

type MappingLoader interface {
	Load(path string) (*mapping.Table, error)
	Save(path string, table *mapping.Table) error
}
