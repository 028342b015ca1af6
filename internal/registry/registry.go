// Package registry holds the immutable-after-build table of named frame
// ranges (sequences) and compiled combo playlists, and resolves names to
// indices for the queue engine and control surface.
package registry

import "fmt"

// Sequence is a named, frame-inclusive playback range with its derived
// half-open time bounds for the configured fps.
type Sequence struct {
	Name       string
	StartFrame int
	EndFrame   int
	SegStartNS int64
	SegStopNS  int64
}

// Combo is a named ordered list of sequence indices, optionally looping.
type Combo struct {
	Name       string
	Order      []int // resolved sequence indices
	LoopAtEnd  bool
}

// SequenceDef and ComboDef are the pre-resolution inputs parsed from config.
type SequenceDef struct {
	Name       string
	StartFrame int
	EndFrame   int
}

type ComboDef struct {
	Name      string
	Order     []string // sequence names, resolved at Build time
	LoopAtEnd bool
}

// Registry is immutable once built; callers that need atomic replacement
// (e.g. on config reload) swap the pointer under their own lock —
// replacement is a pointer-swap under the queue lock.
type Registry struct {
	sequences []Sequence
	combos    []Combo
	seqIndex  map[string]int
	comboIndex map[string]int
}

// Build validates sequence/combo definitions, derives time bounds from fps,
// resolves combo name references against the sequence table, and returns an
// immutable Registry. Unresolved combo references fail the load.
func Build(fps float64, seqDefs []SequenceDef, comboDefs []ComboDef) (*Registry, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("registry: fps must be > 0, got %v", fps)
	}
	if len(seqDefs) == 0 {
		return nil, fmt.Errorf("registry: at least one sequence must be defined")
	}

	seqIndex := make(map[string]int, len(seqDefs))
	sequences := make([]Sequence, 0, len(seqDefs))
	for _, d := range seqDefs {
		if d.Name == "" {
			return nil, fmt.Errorf("registry: sequence name must not be empty")
		}
		if _, dup := seqIndex[d.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate sequence name %q", d.Name)
		}
		if d.StartFrame < 0 || d.EndFrame < d.StartFrame {
			return nil, fmt.Errorf("registry: sequence %q has invalid frame range [%d,%d]", d.Name, d.StartFrame, d.EndFrame)
		}
		segStart, segStop := deriveBounds(d.StartFrame, d.EndFrame, fps)
		seqIndex[d.Name] = len(sequences)
		sequences = append(sequences, Sequence{
			Name:       d.Name,
			StartFrame: d.StartFrame,
			EndFrame:   d.EndFrame,
			SegStartNS: segStart,
			SegStopNS:  segStop,
		})
	}

	comboIndex := make(map[string]int, len(comboDefs))
	combos := make([]Combo, 0, len(comboDefs))
	for _, d := range comboDefs {
		if d.Name == "" {
			return nil, fmt.Errorf("registry: combo name must not be empty")
		}
		if _, dup := seqIndex[d.Name]; dup {
			return nil, fmt.Errorf("registry: combo %q collides with a sequence name", d.Name)
		}
		if _, dup := comboIndex[d.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate combo name %q", d.Name)
		}
		if len(d.Order) == 0 {
			return nil, fmt.Errorf("registry: combo %q has an empty order", d.Name)
		}
		order := make([]int, 0, len(d.Order))
		for _, ref := range d.Order {
			idx, ok := seqIndex[ref]
			if !ok {
				return nil, fmt.Errorf("registry: combo %q references unknown sequence %q", d.Name, ref)
			}
			order = append(order, idx)
		}
		comboIndex[d.Name] = len(combos)
		combos = append(combos, Combo{Name: d.Name, Order: order, LoopAtEnd: d.LoopAtEnd})
	}

	return &Registry{
		sequences:  sequences,
		combos:     combos,
		seqIndex:   seqIndex,
		comboIndex: comboIndex,
	}, nil
}

// deriveBounds computes the half-open segment time bounds for a frame range
// at the given fps: seg_start_ns = start_frame * 1e9/fps,
// seg_stop_ns = (end_frame+1) * 1e9/fps.
func deriveBounds(startFrame, endFrame int, fps float64) (int64, int64) {
	const nsPerSec = 1e9
	segStart := int64(float64(startFrame) * nsPerSec / fps)
	segStop := int64(float64(endFrame+1) * nsPerSec / fps)
	return segStart, segStop
}

// Len returns the number of sequences.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.sequences)
}

// Sequence returns the sequence at idx. ok is false if idx is out of range.
func (r *Registry) Sequence(idx int) (Sequence, bool) {
	if r == nil || idx < 0 || idx >= len(r.sequences) {
		return Sequence{}, false
	}
	return r.sequences[idx], true
}

// Sequences returns a defensive copy of all sequences, in registry order.
func (r *Registry) Sequences() []Sequence {
	if r == nil {
		return nil
	}
	out := make([]Sequence, len(r.sequences))
	copy(out, r.sequences)
	return out
}

// Combos returns a defensive copy of all combos, in registry order.
func (r *Registry) Combos() []Combo {
	if r == nil {
		return nil
	}
	out := make([]Combo, len(r.combos))
	copy(out, r.combos)
	return out
}

// ResolveSequence looks up a sequence by name.
func (r *Registry) ResolveSequence(name string) (int, bool) {
	if r == nil {
		return 0, false
	}
	idx, ok := r.seqIndex[name]
	return idx, ok
}

// ResolveCombo looks up a combo by name.
func (r *Registry) ResolveCombo(name string) (Combo, bool) {
	if r == nil {
		return Combo{}, false
	}
	idx, ok := r.comboIndex[name]
	if !ok {
		return Combo{}, false
	}
	return r.combos[idx], true
}

// Resolve implements the shared sequence/combo namespace lookup:
// lookup checks sequences first, combos second. isCombo
// reports which table matched.
func (r *Registry) Resolve(name string) (indices []int, isCombo bool, loopAtEnd bool, ok bool) {
	if r == nil {
		return nil, false, false, false
	}
	if idx, found := r.seqIndex[name]; found {
		return []int{idx}, false, false, true
	}
	if combo, found := r.ResolveCombo(name); found {
		out := make([]int, len(combo.Order))
		copy(out, combo.Order)
		return out, true, combo.LoopAtEnd, true
	}
	return nil, false, false, false
}
