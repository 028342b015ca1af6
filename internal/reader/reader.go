// Package reader implements segmented seek over an H.265 Annex-B
// elementary stream file: given a
// [start_frame, end_frame] range, it delivers exactly the access units
// in that range, access-unit by access-unit, reporting segment-done at
// the boundary rather than end-of-stream.
package reader

import (
	"fmt"
	"os"

	"github.com/snapetech/splashcast/internal/annexb"
)

// Caps is the current media-format descriptor: the VPS/SPS/PPS NAL
// payloads in effect, each nil if never observed.
type Caps struct {
	VPS, SPS, PPS []byte
}

// Reader holds the whole elementary stream in memory (these clips are
// short splash/loop sources, not long-form video) indexed into access
// units once at Open time.
type Reader struct {
	data []byte
	aus  []annexb.AccessUnit
	caps Caps
}

// Open reads path and indexes it into access units.
func Open(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reader: open %s: %w", path, err)
	}
	nals := annexb.Split(data)
	aus := annexb.GroupAccessUnits(nals)
	if len(aus) == 0 {
		return nil, fmt.Errorf("reader: %s: no access units found", path)
	}
	vps, sps, pps := annexb.LatestParameterSets(nals)
	return &Reader{
		data: data,
		aus:  aus,
		caps: Caps{VPS: vps, SPS: sps, PPS: pps},
	}, nil
}

// NumAccessUnits returns the total access-unit (frame) count in the file.
func (r *Reader) NumAccessUnits() int {
	return len(r.aus)
}

// InitialCaps returns the most recent parameter sets found anywhere in
// the file, used to prime a sender before the first access unit of the
// first-ever segment is sent.
func (r *Reader) InitialCaps() Caps {
	return r.caps
}

// Segment is an open cursor over [startFrame, endFrame] (inclusive),
// yielded by Seek. It is not safe for concurrent use.
type Segment struct {
	r      *Reader
	cursor int // next access-unit index to deliver
	end    int // last access-unit index (inclusive) in this segment
}

// Seek validates [startFrame, endFrame] against the access-unit count
// and returns a new Segment cursor positioned at startFrame.
func (r *Reader) Seek(startFrame, endFrame int) (*Segment, error) {
	if startFrame < 0 || endFrame >= len(r.aus) || startFrame > endFrame {
		return nil, fmt.Errorf("reader: seek [%d,%d] out of range [0,%d]", startFrame, endFrame, len(r.aus)-1)
	}
	return &Segment{r: r, cursor: startFrame, end: endFrame}, nil
}

// nalBytes returns the coded bytes of access unit idx.
func (r *Reader) nalBytes(idx int) []byte {
	au := r.aus[idx]
	return r.data[au.Offset : au.Offset+au.Length]
}

// Next advances the segment cursor by one access unit. ok is false once
// the segment is exhausted (cursor passed end); the caller must stop
// calling Next after that point.
// Next returns the next access unit's data. capsChanged reports whether
// parameter-set NALs precede this access unit in file order (a fact of
// the file, not of the order in which segments deliver access units).
// caps is only meaningful when capsChanged is true, in which case it
// holds the VPS/SPS/PPS in effect as of this access unit. done is true
// when this was the last access unit of the segment (the caller should
// treat this identically to end-of-stream).
func (s *Segment) Next() (data []byte, caps Caps, capsChanged bool, done bool, ok bool) {
	if s.cursor > s.end {
		return nil, Caps{}, false, true, false
	}
	au := s.r.aus[s.cursor]
	data = s.r.nalBytes(s.cursor)
	capsChanged = au.CapsChanged
	if capsChanged {
		caps = Caps{VPS: au.VPS, SPS: au.SPS, PPS: au.PPS}
	}
	done = s.cursor == s.end
	s.cursor++
	return data, caps, capsChanged, done, true
}

// Remaining returns how many access units (including the current one)
// are left to deliver in this segment.
func (s *Segment) Remaining() int {
	if s.cursor > s.end {
		return 0
	}
	return s.end - s.cursor + 1
}
