// Package tracker keeps the bookkeeping that stops engine-originated edits
// from being echoed back to the engine.
//
// Two counters are kept:
//
//   - bufferTick is the engine b:changedtick that corresponds to the last host
//     document revision the bridge produced itself. A tick greater than it
//     means the engine buffer holds edits the host has not seen.
//   - pending counts host document changes the bridge is about to cause.
//     The document change listener consumes one unit per change and skips
//     forwarding while units remain.
package tracker

import "sync"

// Tracker is safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	bufferTick int
	pending    int
}

// New returns a tracker with no recorded tick.
func New() *Tracker {
	return &Tracker{bufferTick: -1}
}

// ExpectEcho announces that the bridge is about to change the host document.
// Call it immediately before the change so the listener can recognize it.
func (t *Tracker) ExpectEcho() {
	t.mu.Lock()
	t.pending++
	t.mu.Unlock()
}

// CancelEcho withdraws one ExpectEcho whose change was never applied.
func (t *Tracker) CancelEcho() {
	t.mu.Lock()
	if t.pending > 0 {
		t.pending--
	}
	t.mu.Unlock()
}

// ConsumeEcho reports whether the current host change was caused by the
// bridge. It decrements the counter when it returns true.
func (t *Tracker) ConsumeEcho() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == 0 {
		return false
	}
	t.pending--
	return true
}

// Pending returns the number of expected echoes not yet consumed.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// BufferTick returns the engine tick of the last revision the bridge
// produced, or -1 when none has been recorded.
func (t *Tracker) BufferTick() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bufferTick
}

// ShouldPull reports whether the engine buffer at tick holds changes the
// host document has not received.
func (t *Tracker) ShouldPull(tick int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return tick != t.bufferTick
}

// MarkPulled records that the host document now matches the engine buffer
// at tick.
func (t *Tracker) MarkPulled(tick int) {
	t.mu.Lock()
	t.bufferTick = tick
	t.mu.Unlock()
}

// Reset forgets the recorded tick and pending echoes, for example when a
// different buffer becomes active.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.bufferTick = -1
	t.pending = 0
	t.mu.Unlock()
}
