// stream_manager.go - Besitzer aller lebenden Token-Streams
//
// Der StreamManager haelt jeden Stream, solange ein HTTP-Handler oder
// der Runner ihn braucht, und raeumt verwaiste Streams per Idle-Sweep
// auf. Ein Stream, der laenger als sein idle_timeout keinen Token
// gesehen hat, wird mit Grund "idle" geschlossen; geschlossene Streams
// bleiben genau einen weiteren Sweep-Takt sichtbar, damit ein
// gleichzeitig laufender drain() die Terminierung noch beobachten kann,
// bevor der Eintrag entfernt wird.
package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type streamEntry struct {
	stream       *TokenStream
	closedSweeps int // Anzahl Sweeps seit dem Schliessen, 0 solange offen
}

// StreamManager verwaltet den Lebenszyklus aller TokenStreams.
type StreamManager struct {
	mu      sync.Mutex
	streams map[string]*streamEntry

	bufferSize  int
	idleTimeout time.Duration
	pushWait    time.Duration
	sweepEvery  time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewStreamManager constructs a manager with the given defaults and
// starts its background idle-sweep goroutine.
func NewStreamManager(bufferSize int, idleTimeout, pushWait, sweepEvery time.Duration) *StreamManager {
	m := &StreamManager{
		streams:     make(map[string]*streamEntry),
		bufferSize:  bufferSize,
		idleTimeout: idleTimeout,
		pushWait:    pushWait,
		sweepEvery:  sweepEvery,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Create allocates a new TokenStream for requestID (or a generated id
// if requestID is empty) and registers it for idle sweeping.
func (m *StreamManager) Create(requestID string) *TokenStream {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	s := newTokenStream(requestID, m.bufferSize, m.idleTimeout, m.pushWait)

	m.mu.Lock()
	m.streams[requestID] = &streamEntry{stream: s}
	m.mu.Unlock()

	return s
}

// Get looks up a live or recently-closed stream by request id.
func (m *StreamManager) Get(requestID string) (*TokenStream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.streams[requestID]
	if !ok {
		return nil, false
	}
	return e.stream, true
}

// Close closes the named stream, if present, with the given reason.
func (m *StreamManager) Close(requestID string, reason CloseReason, errMsg string) {
	m.mu.Lock()
	e, ok := m.streams[requestID]
	m.mu.Unlock()
	if ok {
		e.stream.Close(reason, errMsg)
	}
}

// Count returns the number of streams not yet reaped (open or within
// their grace sweep).
func (m *StreamManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// OpenCount returns the number of streams still accepting pushes.
// Shutdown drains on this, not Count: closed streams waiting out their
// grace sweep must not hold up the process.
func (m *StreamManager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.streams {
		if !e.stream.IsClosed() {
			n++
		}
	}
	return n
}

// Snapshot returns diagnostics for every tracked stream, for /status.
func (m *StreamManager) Snapshot() []Stats {
	m.mu.Lock()
	entries := make([]*streamEntry, 0, len(m.streams))
	for _, e := range m.streams {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]Stats, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.stream.Snapshot())
	}
	return out
}

// Shutdown stops the sweep goroutine, waits for it to exit, then closes
// every tracked stream with reason shutdown.
func (m *StreamManager) Shutdown() {
	close(m.stopCh)
	<-m.doneCh

	m.mu.Lock()
	entries := make([]*streamEntry, 0, len(m.streams))
	for _, e := range m.streams {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		e.stream.Close(CloseShutdown, "")
	}
}

func (m *StreamManager) sweepLoop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep closes streams that have sat idle past their timeout, then
// reaps any entry that has already been closed for a full prior sweep
// cycle. Keeping one grace cycle before deletion gives a concurrent
// drain() caller a chance to observe the closed channel via Get()
// before the entry disappears from the map.
func (m *StreamManager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.streams {
		if !e.stream.IsClosed() && e.stream.IsIdleExpired() {
			e.stream.Close(CloseIdle, "")
			slog.Debug("stream idle timeout", "request_id", id)
		}

		if e.stream.IsClosed() {
			e.closedSweeps++
			if e.closedSweeps > 1 {
				delete(m.streams, id)
			}
		}
	}
}
