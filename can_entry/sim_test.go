package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"can-entry-core/device"
	"can-entry-core/entry"
	"can-entry-core/isotp"
	"can-entry-core/utils"
)

func TestSimPeerEchoesIsoTp(t *testing.T) {
	bus := device.NewLoopback()
	defer bus.Close()

	lc := isotp.DefaultConfig()
	h, err := entry.NewHandler(bus.Open(), entry.Options{IsoTp: &lc, TickInterval: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	peer, err := newSimPeer(bus.Open(), &lc, utils.Discard())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go h.Run(ctx)
	go peer.Run(ctx, time.Millisecond)

	msg := make([]byte, 300)
	for i := range msg {
		msg[i] = byte(i)
	}
	if err := h.SendIsoTpFrame(msg); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-h.IsoTpMessages():
		if !bytes.Equal(got, msg) {
			t.Errorf("echo differs: %d bytes", len(got))
		}
	case err := <-h.IsoTpErrors():
		t.Fatalf("iso-tp error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("no echo received")
	}
}

func TestSimPeerEchoesPlainFrames(t *testing.T) {
	bus := device.NewLoopback()
	defer bus.Close()

	h, err := entry.NewHandler(bus.Open(), entry.Options{})
	if err != nil {
		t.Fatal(err)
	}
	peer, err := newSimPeer(bus.Open(), nil, utils.Discard())
	if err != nil {
		t.Fatal(err)
	}

	for i := range 5 {
		if err := h.SendDataFrame(t.Context(), 0x300, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.RxFrameCount() < 5 || peer.Echoed() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("received %d of %d echoes", h.RxFrameCount(), peer.Echoed())
		}
		time.Sleep(time.Millisecond)
	}
	rx := h.RxEntries()
	if len(rx) != 1 || rx[0].ID != 0x300 || rx[0].Data[0] != 4 {
		t.Errorf("unexpected rx state %+v", rx)
	}
}

func TestRunnerSimulated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulated = true
	cfg.TickMS = 1
	cfg.IsoTp.Enabled = true

	r, err := NewRunner(t.Context(), cfg, utils.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := r.Handler().Add(entry.TxEntry{ID: 0x123, Data: []byte{1}, Period: 5 * time.Millisecond, Send: true}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for r.Handler().RxFrameCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d frames came back", r.Handler().RxFrameCount())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("run: %v", err)
	}
}
