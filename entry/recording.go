package entry

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"can-entry-core/utils"
)

// record appends a log entry when recording is active and level passes the gate.
// Lower levels are more important: an entry is kept when level <= the recording level.
// Must be called with h.mu held.
func (h *Handler) record(id uint32, dir Direction, data []byte, now time.Time, level uint8) {
	if !h.recording || h.paused || level > h.recLevel {
		return
	}
	e := LogEntry{
		FrameID:   utils.MaskFrameID(id),
		Direction: dir,
		Data:      append([]byte(nil), data...),
		Timestamp: now,
	}
	h.entries = append(h.entries, e)
	if h.sink != nil {
		h.sink.Write(e)
	}
}

// ToggleRecording starts, pauses or stops recording. The existing log is kept.
func (h *Handler) ToggleRecording(enable, pause bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recording = enable
	h.paused = pause
}

func (h *Handler) IsRecording() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recording && !h.paused
}

func (h *Handler) IsRecordingPaused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

func (h *Handler) SetRecordingLogLevel(level uint8) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recLevel = level
}

func (h *Handler) RecordingLogLevel() uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recLevel
}

// ClearRecording empties the log and forgets all RX observations in one step.
func (h *Handler) ClearRecording() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	h.store.rx = make(map[uint32]*RxData)
}

func (h *Handler) LogEntries() []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]LogEntry, len(h.entries))
	for i, e := range h.entries {
		e.Data = append([]byte(nil), e.Data...)
		out[i] = e
	}
	return out
}

func (h *Handler) LogEntryCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// GenerateLogForFrame formats the recorded rows of one frame id and direction, oldest first.
func (h *Handler) GenerateLogForFrame(id uint32, isRx bool) []string {
	dir := DirSent
	if isRx {
		dir = DirReceived
	}
	id = utils.MaskFrameID(id)

	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, e := range h.entries {
		if e.FrameID == id && e.Direction == dir {
			out = append(out, e.String())
		}
	}
	return out
}

// SaveRecordingToFile writes every recorded row to path. The log is snapshotted under
// the lock and written outside it.
func (h *Handler) SaveRecordingToFile(path string) error {
	h.mu.Lock()
	lines := make([]string, len(h.entries))
	for i, e := range h.entries {
		lines[i] = e.String()
	}
	h.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save recording: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := w.WriteString(l + "\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("save recording: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("save recording: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("save recording: %w", err)
	}
	h.log.Info("saved %d recorded frames to %s", len(lines), path)
	return nil
}
