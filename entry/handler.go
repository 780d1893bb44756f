package entry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.einride.tech/can"

	"can-entry-core/device"
	"can-entry-core/isotp"
	"can-entry-core/mapping"
	"can-entry-core/utils"
)

const (
	DefaultTickInterval      = 10 * time.Millisecond
	DefaultRecordingLogLevel = 1
	defaultIsoTpQueue        = 16
)

type Options struct {
	Log          *utils.Logger
	TickInterval time.Duration
	Now          func() time.Time

	// IsoTp enables the ISO-TP link when set.
	IsoTp      *isotp.Config
	IsoTpQueue int

	Sink Sink

	TxLoader      TxLoader
	RxLoader      RxLoader
	MappingLoader MappingLoader
}

// Handler owns the frame store, mapping table, recording and ISO-TP link.
// One mutex guards all of it; the worker loop and the receive callback both go through it.
type Handler struct {
	mu sync.Mutex

	dev  device.Device
	log  *utils.Logger
	now  func() time.Time
	tick time.Duration

	store    Store
	table    *mapping.Table
	autoSend bool

	recording bool
	paused    bool
	recLevel  uint8
	entries   []LogEntry
	sink      Sink

	txCount uint64
	rxCount uint64

	link   *isotp.Link
	isoRx  chan []byte
	isoErr chan error

	txLoader      TxLoader
	rxLoader      RxLoader
	mappingLoader MappingLoader
}

// NewHandler wires the handler to dev and registers itself as the receive callback.
func NewHandler(dev device.Device, opts Options) (*Handler, error) {
	if dev == nil {
		return nil, fmt.Errorf("entry: nil device")
	}
	h := &Handler{
		dev:           dev,
		log:           opts.Log,
		now:           opts.Now,
		tick:          opts.TickInterval,
		store:         newStore(),
		table:         mapping.NewTable(),
		recLevel:      DefaultRecordingLogLevel,
		sink:          opts.Sink,
		txLoader:      opts.TxLoader,
		rxLoader:      opts.RxLoader,
		mappingLoader: opts.MappingLoader,
	}
	if h.log == nil {
		h.log = utils.Discard()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.tick <= 0 {
		h.tick = DefaultTickInterval
	}

	if opts.IsoTp != nil {
		link, err := isotp.NewLink(*opts.IsoTp, h.sendIsoTpRaw)
		if err != nil {
			return nil, err
		}
		q := opts.IsoTpQueue
		if q <= 0 {
			q = defaultIsoTpQueue
		}
		h.link = link
		h.isoRx = make(chan []byte, q)
		h.isoErr = make(chan error, q)
	}

	dev.SetReceiveHandler(h.OnFrameReceived)
	return h, nil
}

// Run calls Tick every tick interval until ctx is cancelled. A tick in progress completes.
func (h *Handler) Run(ctx context.Context) error {
	t := time.NewTicker(h.tick)
	defer t.Stop()

	sendCtx := context.WithoutCancel(ctx)
	h.log.Info("worker loop started, tick %s", h.tick)
	for {
		select {
		case <-ctx.Done():
			h.log.Info("worker loop stopped")
			return nil
		case <-t.C:
			h.Tick(sendCtx, h.now())
		}
	}
}

// Tick sends every due TX entry in list order and drives the ISO-TP timers.
// A failed send leaves the entry untouched so the next tick retries it.
func (h *Handler) Tick(ctx context.Context, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range h.store.tx {
		if !e.due(now) {
			continue
		}
		if err := h.transmit(ctx, e.ID, e.Data); err != nil {
			h.log.Warn("periodic send %X failed: %v", e.ID, err)
			continue
		}
		e.LastExecution = now
		e.Count++
		h.record(e.ID, DirSent, e.Data, now, e.LogLevel)
		if e.SingleShot {
			e.Send = false
		}
	}

	if h.link != nil {
		if err := h.link.Poll(now); err != nil {
			h.reportIsoTp(err)
		}
	}
}

// transmit must be called with h.mu held.
func (h *Handler) transmit(ctx context.Context, id uint32, data []byte) error {
	f, err := device.NewFrame(id, data)
	if err != nil {
		return err
	}
	if err := h.dev.Send(ctx, f); err != nil {
		return err
	}
	h.txCount++
	return nil
}

// OnFrameReceived is the device receive callback.
func (h *Handler) OnFrameReceived(f can.Frame) {
	h.OnFrameReceivedAt(f, h.now())
}

func (h *Handler) OnFrameReceivedAt(f can.Frame, now time.Time) {
	if f.IsRemote {
		return
	}
	id := utils.MaskFrameID(f.ID)
	data := device.Payload(f)

	h.mu.Lock()
	defer h.mu.Unlock()

	rx, ok := h.store.rx[id]
	if !ok {
		rx = &RxData{ID: id}
		h.store.rx[id] = rx
	} else {
		rx.Period = now.Sub(rx.LastExecution)
	}
	rx.Data = data
	rx.Count++
	rx.LastExecution = now
	if h.table.Has(id) {
		if sigs, err := h.table.Decode(id, data); err == nil {
			rx.Signals = sigs
		}
	}
	h.rxCount++
	h.record(id, DirReceived, data, now, h.store.rxLogLevels[id])

	if h.link != nil && id == h.link.Config().RxID {
		msg, err := h.link.OnFrame(data, now)
		if msg != nil {
			h.deliverIsoTp(msg)
		}
		if err != nil {
			h.reportIsoTp(err)
		}
	}
}

// ToggleAutoSend sets or clears Send on every entry with a non-zero period.
func (h *Handler) ToggleAutoSend(enable bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.autoSend = enable
	for _, e := range h.store.tx {
		if e.Period > 0 {
			e.Send = enable
		}
	}
}

func (h *Handler) IsAutoSend() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.autoSend
}

// SendDataFrame sends one frame immediately, outside the schedule.
func (h *Handler) SendDataFrame(ctx context.Context, id uint32, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.transmit(ctx, id, data); err != nil {
		return fmt.Errorf("send %X: %w", id, err)
	}
	h.record(utils.MaskFrameID(id), DirSent, data, h.now(), 0)
	return nil
}

func (h *Handler) TxFrameCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.txCount
}

func (h *Handler) RxFrameCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rxCount
}

// Add appends a new TX entry. Its period counts from now.
func (h *Handler) Add(e TxEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e.LastExecution.IsZero() {
		e.LastExecution = h.now()
	}
	return h.store.add(e)
}

// Copy appends a copy of entry i with id+1. Payload, period, comment and log level are kept.
func (h *Handler) Copy(i int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	src, err := h.store.at(i)
	if err != nil {
		return err
	}
	cp := src.clone()
	cp.ID = utils.MaskFrameID(src.ID + 1)
	cp.Count = 0
	cp.Send = false
	cp.LastExecution = h.now()
	return h.store.add(cp)
}

// RemoveLast deletes the last TX entry. Entries are only ever removed from the end.
func (h *Handler) RemoveLast() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.store.tx)
	if n == 0 {
		return false
	}
	h.store.tx[n-1] = nil
	h.store.tx = h.store.tx[:n-1]
	return true
}

func (h *Handler) SetID(i int, id uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, err := h.store.at(i)
	if err != nil {
		return err
	}
	id = utils.MaskFrameID(id)
	if j := h.store.indexOf(id); j >= 0 && j != i {
		return fmt.Errorf("%w: %X", ErrDuplicateID, id)
	}
	e.ID = id
	return nil
}

func (h *Handler) SetTxData(i int, data []byte) error {
	if len(data) > MaxPayload {
		return fmt.Errorf("%w: payload has %d bytes", ErrInvalidEntry, len(data))
	}
	return h.editTx(i, func(e *TxEntry) { e.Data = append([]byte(nil), data...) })
}

func (h *Handler) SetTxPeriod(i int, period time.Duration) error {
	if period < 0 {
		return fmt.Errorf("%w: negative period", ErrInvalidEntry)
	}
	return h.editTx(i, func(e *TxEntry) { e.Period = period })
}

func (h *Handler) SetTxComment(i int, comment string) error {
	return h.editTx(i, func(e *TxEntry) { e.Comment = comment })
}

func (h *Handler) SetTxSend(i int, send bool) error {
	return h.editTx(i, func(e *TxEntry) { e.Send = send })
}

func (h *Handler) SetTxSingleShot(i int, single bool) error {
	return h.editTx(i, func(e *TxEntry) { e.SingleShot = single })
}

func (h *Handler) SetTxLogLevel(i int, level uint8) error {
	return h.editTx(i, func(e *TxEntry) { e.LogLevel = level })
}

func (h *Handler) editTx(i int, fn func(*TxEntry)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, err := h.store.at(i)
	if err != nil {
		return err
	}
	fn(e)
	return nil
}

// SearchTx returns the indices of entries whose comment contains pattern, ignoring case.
func (h *Handler) SearchTx(pattern string) []int {
	p := strings.ToLower(pattern)
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []int
	for i, e := range h.store.tx {
		if strings.Contains(strings.ToLower(e.Comment), p) {
			out = append(out, i)
		}
	}
	return out
}

func (h *Handler) TxEntries() []TxEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.txSnapshot()
}

func (h *Handler) RxEntries() []RxData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.rxSnapshot()
}

func (h *Handler) SetRxComment(id uint32, comment string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id = utils.MaskFrameID(id)
	if comment == "" {
		delete(h.store.rxComments, id)
		return
	}
	h.store.rxComments[id] = comment
}

func (h *Handler) SetRxLogLevel(id uint32, level uint8) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.store.rxLogLevels[utils.MaskFrameID(id)] = level
}
