package entry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.einride.tech/can"

	"can-entry-core/device"
	"can-entry-core/mapping"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeDevice struct {
	mu      sync.Mutex
	sent    []can.Frame
	fail    bool
	handler func(can.Frame)
}

func (d *fakeDevice) Send(_ context.Context, f can.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.New("bus off")
	}
	d.sent = append(d.sent, f)
	return nil
}

func (d *fakeDevice) SetReceiveHandler(h func(can.Frame)) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

func (d *fakeDevice) setFail(v bool) {
	d.mu.Lock()
	d.fail = v
	d.mu.Unlock()
}

func (d *fakeDevice) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func newTestHandler(t *testing.T, opts Options) (*Handler, *fakeDevice) {
	t.Helper()
	dev := &fakeDevice{}
	if opts.Now == nil {
		opts.Now = func() time.Time { return t0 }
	}
	h, err := NewHandler(dev, opts)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h, dev
}

func frame(t *testing.T, id uint32, data ...byte) can.Frame {
	t.Helper()
	f, err := device.NewFrame(id, data)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestNewHandlerRegistersCallback(t *testing.T) {
	h, dev := newTestHandler(t, Options{})
	dev.handler(frame(t, 0x55, 1))
	if got := h.RxFrameCount(); got != 1 {
		t.Fatalf("RxFrameCount = %d, want 1", got)
	}
}

func TestTickPeriodicScenario(t *testing.T) {
	h, dev := newTestHandler(t, Options{})
	if err := h.Add(TxEntry{ID: 0x123, Data: make([]byte, 8), Period: 100 * time.Millisecond, Send: true}); err != nil {
		t.Fatal(err)
	}
	for ms := 10; ms <= 350; ms += 10 {
		h.Tick(context.Background(), t0.Add(time.Duration(ms)*time.Millisecond))
	}
	count := h.TxEntries()[0].Count
	if count != 3 && count != 4 {
		t.Fatalf("count = %d, want 3 or 4", count)
	}
	if dev.sentCount() != int(count) {
		t.Errorf("device saw %d frames, entry counted %d", dev.sentCount(), count)
	}
}

func TestTickSendsExactlyOncePerPeriod(t *testing.T) {
	h, dev := newTestHandler(t, Options{})
	_ = h.Add(TxEntry{ID: 0x10, Data: []byte{1}, Period: 50 * time.Millisecond, Send: true})

	h.Tick(context.Background(), t0.Add(49*time.Millisecond))
	if dev.sentCount() != 0 {
		t.Fatal("sent before the period elapsed")
	}
	now := t0.Add(50 * time.Millisecond)
	h.Tick(context.Background(), now)
	h.Tick(context.Background(), now)
	e := h.TxEntries()[0]
	if e.Count != 1 || dev.sentCount() != 1 {
		t.Fatalf("count = %d, sent = %d, want 1", e.Count, dev.sentCount())
	}
	if !e.LastExecution.Equal(now) {
		t.Errorf("LastExecution = %v, want %v", e.LastExecution, now)
	}
}

func TestTickFailureRetriesNextTick(t *testing.T) {
	h, dev := newTestHandler(t, Options{})
	_ = h.Add(TxEntry{ID: 0x10, Period: 10 * time.Millisecond, Send: true})
	_ = h.Add(TxEntry{ID: 0x11, Period: 10 * time.Millisecond, Send: true})

	dev.setFail(true)
	h.Tick(context.Background(), t0.Add(10*time.Millisecond))
	for _, e := range h.TxEntries() {
		if e.Count != 0 || !e.LastExecution.Equal(t0) {
			t.Fatalf("failed send changed entry %X: %+v", e.ID, e)
		}
	}

	dev.setFail(false)
	h.Tick(context.Background(), t0.Add(20*time.Millisecond))
	for _, e := range h.TxEntries() {
		if e.Count != 1 {
			t.Errorf("entry %X count = %d after retry", e.ID, e.Count)
		}
	}
	if ids := []uint32{dev.sent[0].ID, dev.sent[1].ID}; ids[0] != 0x10 || ids[1] != 0x11 {
		t.Errorf("send order = %X, want list order", ids)
	}
}

func TestTickSkipsManualAndSingleShot(t *testing.T) {
	h, dev := newTestHandler(t, Options{})
	_ = h.Add(TxEntry{ID: 0x1, Period: 0, Send: true})
	_ = h.Add(TxEntry{ID: 0x2, Period: 10 * time.Millisecond, Send: true, SingleShot: true})

	for ms := 10; ms <= 100; ms += 10 {
		h.Tick(context.Background(), t0.Add(time.Duration(ms)*time.Millisecond))
	}
	entries := h.TxEntries()
	if entries[0].Count != 0 {
		t.Errorf("period 0 entry was sent %d times", entries[0].Count)
	}
	if entries[1].Count != 1 || entries[1].Send {
		t.Errorf("single shot entry: count %d send %v", entries[1].Count, entries[1].Send)
	}
	if dev.sentCount() != 1 {
		t.Errorf("device saw %d frames", dev.sentCount())
	}
}

func TestToggleAutoSendIdempotent(t *testing.T) {
	h, _ := newTestHandler(t, Options{})
	_ = h.Add(TxEntry{ID: 0x1, Period: 10 * time.Millisecond, Send: true, Comment: "engine"})
	_ = h.Add(TxEntry{ID: 0x2, Period: 0, Send: false, Comment: "manual"})

	h.Tick(context.Background(), t0.Add(10*time.Millisecond))
	before := h.TxEntries()

	h.ToggleAutoSend(false)
	h.Tick(context.Background(), t0.Add(20*time.Millisecond))
	if got := h.TxEntries()[0].Count; got != before[0].Count {
		t.Fatalf("sent while auto send was off: %d", got)
	}
	h.ToggleAutoSend(true)
	if !h.IsAutoSend() {
		t.Error("IsAutoSend = false after enabling")
	}

	after := h.TxEntries()
	for i := range before {
		if after[i].Count != before[i].Count || after[i].Comment != before[i].Comment {
			t.Errorf("entry %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	if after[1].Send {
		t.Error("manual entry was enabled by ToggleAutoSend")
	}
	h.Tick(context.Background(), t0.Add(30*time.Millisecond))
	if got := h.TxEntries()[0].Count; got != before[0].Count+1 {
		t.Errorf("transmission not restored, count = %d", got)
	}
}

func TestDuplicateIDsRejected(t *testing.T) {
	h, _ := newTestHandler(t, Options{})
	if err := h.Add(TxEntry{ID: 0x100}); err != nil {
		t.Fatal(err)
	}
	if err := h.Add(TxEntry{ID: 0x101}); err != nil {
		t.Fatal(err)
	}
	if err := h.Add(TxEntry{ID: 0x100}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Add duplicate: %v", err)
	}
	if err := h.Copy(0); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Copy onto existing id: %v", err)
	}
	if err := h.SetID(1, 0x100); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("SetID duplicate: %v", err)
	}
	if err := h.SetID(1, 0x101); err != nil {
		t.Errorf("SetID to own id: %v", err)
	}
	if n := len(h.TxEntries()); n != 2 {
		t.Errorf("store has %d entries", n)
	}
}

func TestEditing(t *testing.T) {
	h, _ := newTestHandler(t, Options{})
	_ = h.Add(TxEntry{ID: 0x1FFFFFFF + 0x10, Data: []byte{1, 2}, Period: time.Second, Comment: "Wheel Speed", LogLevel: 3})

	if got := h.TxEntries()[0].ID; got != 0x0F {
		t.Fatalf("id not masked to 29 bits: %X", got)
	}
	if err := h.Copy(0); err != nil {
		t.Fatal(err)
	}
	cp := h.TxEntries()[1]
	if cp.ID != 0x10 || cp.Comment != "Wheel Speed" || cp.LogLevel != 3 || cp.Period != time.Second || len(cp.Data) != 2 {
		t.Errorf("copy = %+v", cp)
	}
	if err := h.Copy(5); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Copy(5): %v", err)
	}

	if err := h.SetTxData(0, make([]byte, 9)); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("9 byte payload: %v", err)
	}
	if err := h.SetTxPeriod(0, -time.Millisecond); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("negative period: %v", err)
	}
	_ = h.SetTxComment(1, "brake pressure")

	if got := h.SearchTx("WHEEL"); len(got) != 1 || got[0] != 0 {
		t.Errorf("SearchTx(WHEEL) = %v", got)
	}
	if got := h.SearchTx("e"); len(got) != 2 {
		t.Errorf("SearchTx(e) = %v", got)
	}

	if !h.RemoveLast() || len(h.TxEntries()) != 1 {
		t.Fatal("RemoveLast did not remove")
	}
	if got := h.TxEntries()[0].ID; got != 0x0F {
		t.Errorf("RemoveLast removed the wrong entry, left %X", got)
	}
	h.RemoveLast()
	if h.RemoveLast() {
		t.Error("RemoveLast on empty store returned true")
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	h, _ := newTestHandler(t, Options{})
	_ = h.Add(TxEntry{ID: 0x1, Data: []byte{1}})
	snap := h.TxEntries()
	snap[0].Data[0] = 0xFF
	if h.TxEntries()[0].Data[0] != 1 {
		t.Error("TxEntries exposed internal payload")
	}
}

func TestOnFrameReceived(t *testing.T) {
	h, _ := newTestHandler(t, Options{})
	table := mapping.NewTable()
	if err := table.Add(0x200, mapping.NewBitfield("Speed", mapping.TypeUint16, 0, 16)); err != nil {
		t.Fatal(err)
	}
	h.SetMapping(table)
	h.SetRxComment(0x200, "vehicle")

	h.OnFrameReceivedAt(frame(t, 0x200, 0x64, 0x00, 0, 0, 0, 0, 0, 0), t0)
	h.OnFrameReceivedAt(frame(t, 0x200, 0x65, 0x00), t0.Add(20*time.Millisecond))

	rx := h.RxEntries()
	if len(rx) != 1 {
		t.Fatalf("%d rx entries", len(rx))
	}
	r := rx[0]
	if r.Count != 2 || r.Period != 20*time.Millisecond || r.Comment != "vehicle" {
		t.Errorf("rx = %+v", r)
	}
	if len(r.Signals) != 1 || r.Signals[0].Value != "101" {
		t.Errorf("signals = %+v", r.Signals)
	}

	h.OnFrameReceivedAt(frame(t, 0x200, 0x64, 0x00, 0, 0, 0, 0, 0, 0), t0.Add(40*time.Millisecond))
	sigs, err := h.MapForFrame(0x200, true)
	if err != nil {
		t.Fatal(err)
	}
	if sigs[0].Name != "Speed" || sigs[0].Value != "100" {
		t.Errorf("Speed = %+v, want 100", sigs[0])
	}
	if _, err := h.MapForFrame(0x300, true); !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("unknown rx frame: %v", err)
	}
}

func TestApplyFieldValues(t *testing.T) {
	h, _ := newTestHandler(t, Options{})
	table := mapping.NewTable()
	f := mapping.NewBitfield("Torque", mapping.TypeInt16, 8, 12)
	f.Min, f.Max = mapping.IntBound(-1000), mapping.IntBound(1000)
	_ = table.Add(0x300, f)
	h.SetMapping(table)
	_ = h.Add(TxEntry{ID: 0x300, Data: []byte{0xAA, 0, 0, 0xBB}})

	if err := h.ApplyFieldValues(0x300, map[string]string{"Torque": "1000"}); err != nil {
		t.Fatal(err)
	}
	if err := h.ApplyFieldValues(0x300, map[string]string{"Torque": "1001"}); !errors.Is(err, mapping.ErrOutOfRange) {
		t.Fatalf("max+1: %v", err)
	}
	got := h.TxEntries()[0].Data
	// 1000 = 0x3E8 at bits 8..19, neighbours untouched
	want := []byte{0xAA, 0xE8, 0x03, 0xBB}
	if fmt.Sprintf("% X", got) != fmt.Sprintf("% X", want) {
		t.Errorf("payload = % X, want % X", got, want)
	}
	sigs, _ := h.MapForFrame(0x300, false)
	if sigs[0].Value != "1000" {
		t.Errorf("Torque = %s", sigs[0].Value)
	}
	if err := h.ApplyFieldValues(0x999, map[string]string{"Torque": "1"}); !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("unknown tx frame: %v", err)
	}
}

func TestConcurrentReceiveAndTick(t *testing.T) {
	h, _ := newTestHandler(t, Options{})
	_ = h.Add(TxEntry{ID: 0x7FF0, Data: []byte{1}, Period: 10 * time.Millisecond, Send: true})
	h.ToggleRecording(true, false)

	var wg sync.WaitGroup
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			f, _ := device.NewFrame(id, []byte{byte(id)})
			h.OnFrameReceived(f)
		}(uint32(0x1000 + i))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 100; i++ {
			h.Tick(context.Background(), t0.Add(time.Duration(i)*10*time.Millisecond))
		}
	}()
	wg.Wait()

	if n := len(h.RxEntries()); n != 1000 {
		t.Errorf("%d rx entries, want 1000", n)
	}
	sent, recv := h.TxFrameCount(), h.RxFrameCount()
	if sent != 100 || recv != 1000 {
		t.Errorf("sent %d received %d", sent, recv)
	}
	if n := h.LogEntryCount(); uint64(n) != sent+recv {
		t.Errorf("log has %d entries, want %d", n, sent+recv)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h, dev := newTestHandler(t, Options{TickInterval: time.Millisecond, Now: time.Now})
	_ = h.Add(TxEntry{ID: 0x1, Period: time.Millisecond, Send: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for dev.sentCount() < 3 {
		select {
		case <-deadline:
			t.Fatal("worker loop never sent")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	n := dev.sentCount()
	time.Sleep(10 * time.Millisecond)
	if dev.sentCount() != n {
		t.Error("frames sent after Run returned")
	}
}
