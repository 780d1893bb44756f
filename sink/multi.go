package sink

import "can-entry-core/entry"

// Multi fans every entry out to all sinks.
type Multi []entry.Sink

func (m Multi) Write(e entry.LogEntry) {
	for _, s := range m {
		s.Write(e)
	}
}
