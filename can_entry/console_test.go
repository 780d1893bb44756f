package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"can-entry-core/device"
	"can-entry-core/entry"
)

func newTestConsole(t *testing.T) (*console, *entry.Handler) {
	t.Helper()
	bus := device.NewLoopback()
	t.Cleanup(func() { bus.Close() })
	h, err := entry.NewHandler(bus.Open(), entry.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return newConsole(t.Context(), h), h
}

func run(t *testing.T, c *console, line string) []string {
	t.Helper()
	out, err := c.exec(strings.Fields(line))
	if err != nil {
		t.Fatalf("%s: %v", line, err)
	}
	return out
}

func TestConsoleTxCommands(t *testing.T) {
	c, h := newTestConsole(t)

	run(t, c, "tx add 123 100 00 11")
	run(t, c, "tx comment 0 Engine status")
	run(t, c, "tx copy 0")
	run(t, c, "tx single 1 on")
	run(t, c, "tx level 1 4")

	entries := h.TxEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != 0x123 || entries[0].Period != 100*time.Millisecond {
		t.Errorf("unexpected first entry %+v", entries[0])
	}
	if entries[1].ID != 0x124 || !entries[1].SingleShot || entries[1].LogLevel != 4 {
		t.Errorf("unexpected copy %+v", entries[1])
	}
	if entries[1].Comment != "Engine status" {
		t.Errorf("copy lost the comment: %q", entries[1].Comment)
	}

	if out := run(t, c, "tx search ENGINE"); len(out) != 2 {
		t.Errorf("search found %d entries", len(out))
	}
	if out := run(t, c, "tx list"); len(out) != 2 || !strings.Contains(out[0], "00 11") {
		t.Errorf("unexpected list %q", out)
	}

	if _, err := c.exec(strings.Fields("tx add 123 10")); !errors.Is(err, entry.ErrDuplicateID) {
		t.Errorf("expected duplicate id error, got %v", err)
	}

	run(t, c, "tx rmlast")
	run(t, c, "tx rmlast")
	if out := run(t, c, "tx rmlast"); out[0] != "list is empty" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestConsoleMapping(t *testing.T) {
	c, _ := newTestConsole(t)

	run(t, c, "tx add 200 0 00 00")
	run(t, c, "map add 200 Speed uint16_t 0 16")
	run(t, c, "map set 200 Speed=300")

	out := run(t, c, "map show 200")
	if len(out) != 1 || !strings.Contains(out[0], "300") {
		t.Errorf("unexpected decode %q", out)
	}
	if _, err := c.exec(strings.Fields("map set 200 Speed=70000")); err == nil {
		t.Error("expected out of range value to fail")
	}
	if _, err := c.exec(strings.Fields("map add 200 Bad nosuchtype 16 8")); err == nil {
		t.Error("expected unknown type to fail")
	}
	if out := run(t, c, "map frames"); len(out) != 1 {
		t.Errorf("unexpected frames %q", out)
	}
}

func TestConsoleRecording(t *testing.T) {
	c, h := newTestConsole(t)

	run(t, c, "record on")
	run(t, c, "send 200 0A")
	out := run(t, c, "record show 200")
	if len(out) != 1 || !strings.HasSuffix(out[0], "TX 200 [1] 0A") {
		t.Errorf("unexpected log %q", out)
	}
	if h.TxFrameCount() != 1 {
		t.Errorf("expected one frame sent, got %d", h.TxFrameCount())
	}

	run(t, c, "record clear")
	if h.LogEntryCount() != 0 {
		t.Error("log not cleared")
	}
}

func TestConsoleErrors(t *testing.T) {
	c, _ := newTestConsole(t)

	cases := []struct {
		line  string
		usage bool
	}{
		{"bogus", false},
		{"tx", true},
		{"tx add 123", true},
		{"autosend maybe", false},
		{"load nothing path", true},
		{"isotp send 00", false},
	}
	for _, tc := range cases {
		_, err := c.exec(strings.Fields(tc.line))
		if err == nil {
			t.Errorf("%q: expected an error", tc.line)
			continue
		}
		if errors.Is(err, errUsage) != tc.usage {
			t.Errorf("%q: usage error = %v, got %v", tc.line, tc.usage, err)
		}
	}
}
