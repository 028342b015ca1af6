// Package queue implements the sequence scheduler: the active sequence,
// a bounded FIFO of pending sequences, and an optional repeat order.
// All mutating operations take a single mutex; the
// boundary-advance algorithm is the sole path that moves active_idx to a
// new sequence (ReplaceRegistrySize only resets it to -1).
package queue

import (
	"sync"

	"github.com/snapetech/splashcast/internal/events"
	"github.com/snapetech/splashcast/internal/metrics"
)

// Cap is the FIFO capacity (must be at least 256).
const Cap = 256

// RepeatMode selects what set_repeat_order installs when a combo with
// loop_at_end is enqueued (see Combo, combo_loop_mode).
type RepeatMode int

const (
	RepeatNone RepeatMode = iota
	RepeatLast
	RepeatFull
)

// Engine is the queue engine. Zero value is not usable; use New.
type Engine struct {
	mu   sync.Mutex
	sink events.Sink

	nseq int

	activeIdx int
	pending   []int
	repeat    []int

	queueVersion  uint64
	repeatVersion uint64
}

// New returns an engine sized for a registry of nseq sequences.
// activeIdx starts at -1 ("before start").
func New(nseq int, sink events.Sink) *Engine {
	if sink == nil {
		sink = events.Discard
	}
	return &Engine{
		nseq:      nseq,
		activeIdx: -1,
		sink:      sink,
	}
}

// ActiveIndex returns the currently playing sequence index, or -1.
func (e *Engine) ActiveIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeIdx
}

// PendingLen returns len(pending).
func (e *Engine) PendingLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Snapshot returns copies of the active index, pending FIFO, and repeat
// order, for tests and diagnostics.
func (e *Engine) Snapshot() (active int, pending, repeat []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := make([]int, len(e.pending))
	copy(p, e.pending)
	r := make([]int, len(e.repeat))
	copy(r, e.repeat)
	return e.activeIdx, p, r
}

func (e *Engine) validIndex(idx int) bool {
	return idx >= 0 && idx < e.nseq
}

// EnqueueMany appends indices to pending. It fails (returning false,
// without mutating state) if any index is invalid or the FIFO would
// overflow Cap. One QueuedNext event is emitted per index on success.
func (e *Engine) EnqueueMany(indices []int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enqueueManyLocked(indices)
}

func (e *Engine) enqueueManyLocked(indices []int) bool {
	for _, idx := range indices {
		if !e.validIndex(idx) {
			return false
		}
	}
	if len(e.pending)+len(indices) > Cap {
		return false
	}
	e.pending = append(e.pending, indices...)
	e.queueVersion++
	for _, idx := range indices {
		e.sink.Emit(events.Event{Type: events.QueuedNext, A: idx})
	}
	metrics.QueueDepth.Set(float64(len(e.pending)))
	return true
}

// EnqueueWithRepeat calls EnqueueMany, then installs a repeat order per
// mode: RepeatNone installs nothing, RepeatLast installs {last index},
// RepeatFull installs the full indices list.
func (e *Engine) EnqueueWithRepeat(indices []int, mode RepeatMode) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.enqueueManyLocked(indices) {
		return false
	}
	switch mode {
	case RepeatNone:
		// no-op
	case RepeatLast:
		last := indices[len(indices)-1]
		e.setRepeatOrderLocked([]int{last})
	case RepeatFull:
		e.setRepeatOrderLocked(indices)
	}
	return true
}

// Clear empties pending and repeat order and bumps queue_version.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	e.repeat = nil
	e.queueVersion++
	e.sink.Emit(events.Event{Type: events.ClearedQueue})
	metrics.QueueDepth.Set(0)
}

// SetRepeatOrder replaces the repeat order. An invalid index list is
// silently treated as empty ("Any index invalid (silently
// clears)"). repeat_version is stamped to the current queue_version.
func (e *Engine) SetRepeatOrder(indices []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setRepeatOrderLocked(indices)
}

func (e *Engine) setRepeatOrderLocked(indices []int) {
	for _, idx := range indices {
		if !e.validIndex(idx) {
			e.repeat = nil
			e.repeatVersion = e.queueVersion
			return
		}
	}
	e.repeat = append([]int(nil), indices...)
	e.repeatVersion = e.queueVersion
}

// AdvanceAtBoundary implements the boundary-advance algorithm:
//  1. pop pending head into active_idx if non-empty
//  2. else, if repeat order is non-empty and still fresh (repeat_version
//     == queue_version), replay it: active_idx = repeat[0], and the rest
//     of repeat is appended back into pending (truncated to Cap) — this
//     step does NOT bump queue_version, since it's an internal replay of
//     an already-installed program rather than an external mutation.
//  3. else, active_idx is unchanged (the current sequence loops).
//
// Returns the new active index, whether it changed, and the previous
// index (for the SwitchedAtBoundary event, which this method emits).
func (e *Engine) AdvanceAtBoundary() (newActive int, changed bool, from int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	from = e.activeIdx

	switch {
	case len(e.pending) > 0:
		e.activeIdx = e.pending[0]
		e.pending = e.pending[1:]
	case len(e.repeat) > 0 && e.repeatVersion == e.queueVersion:
		e.activeIdx = e.repeat[0]
		rest := e.repeat[1:]
		room := Cap - len(e.pending)
		if room > len(rest) {
			room = len(rest)
		}
		if room > 0 {
			e.pending = append(e.pending, rest[:room]...)
		}
	default:
		// active_idx unchanged: current sequence loops.
	}

	changed = e.activeIdx != from
	if changed {
		e.sink.Emit(events.Event{Type: events.SwitchedAtBoundary, A: from, B: e.activeIdx})
		metrics.SwitchTotal.Inc()
	}
	metrics.QueueDepth.Set(float64(len(e.pending)))
	return e.activeIdx, changed, from
}

// ReplaceRegistrySize is called when the registry is replaced:
// it prunes pending and repeat entries that no longer fall in [0, nseq),
// preserving the remaining order (P4), and resets active_idx to -1 if it
// is now out of range.
func (e *Engine) ReplaceRegistrySize(nseq int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nseq = nseq
	e.pending = pruneInvalid(e.pending, nseq)
	e.repeat = pruneInvalid(e.repeat, nseq)
	if e.activeIdx >= nseq {
		e.activeIdx = -1
	}
	e.queueVersion++
	metrics.QueueDepth.Set(float64(len(e.pending)))
}

func pruneInvalid(indices []int, nseq int) []int {
	if len(indices) == 0 {
		return indices
	}
	out := make([]int, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < nseq {
			out = append(out, idx)
		}
	}
	return out
}
