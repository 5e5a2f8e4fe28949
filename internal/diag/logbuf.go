// Package diag captures the process log for the desktop UI's diagnostics
// screen. Call setup problems (devices, relay, ICE) are much easier to debug
// from the running app than from a terminal the user never opened.
package diag

import (
	"bytes"
	"strings"
	"sync"
	"time"
)

// LogEntry is one captured log line.
type LogEntry struct {
	TS  time.Time `json:"ts"`
	Msg string    `json:"msg"`
}

// LogBuffer keeps the last lines of the process log and fans new lines out to
// live subscribers. It implements io.Writer so it can sit in an
// io.MultiWriter behind log.SetOutput.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	entries []LogEntry // oldest first, at most max
	subs    map[chan LogEntry]struct{}
	partial bytes.Buffer
}

// NewLogBuffer creates a buffer holding up to max lines.
func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 500
	}
	return &LogBuffer{
		max:  max,
		subs: make(map[chan LogEntry]struct{}),
	}
}

// Write implements io.Writer. Partial lines are held back until their
// newline arrives.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)

	for {
		data := b.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i == -1 {
			break
		}

		line := strings.TrimRight(string(data[:i]), "\r")
		b.partial.Next(i + 1)
		if strings.TrimSpace(line) == "" {
			continue
		}

		e := LogEntry{TS: time.Now(), Msg: line}
		if len(b.entries) == b.max {
			copy(b.entries, b.entries[1:])
			b.entries[b.max-1] = e
		} else {
			b.entries = append(b.entries, e)
		}
		for ch := range b.subs {
			select {
			case ch <- e:
			default:
				// Slow subscriber; drop rather than stall logging.
			}
		}
	}

	return len(p), nil
}

// Snapshot returns the captured lines, oldest first.
func (b *LogBuffer) Snapshot() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]LogEntry(nil), b.entries...)
}

// Subscribe returns a channel of log lines appearing after this call.
// cancel unsubscribes; safe to call more than once.
func (b *LogBuffer) Subscribe() (ch chan LogEntry, cancel func()) {
	ch = make(chan LogEntry, 64)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
