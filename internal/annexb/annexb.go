// Package annexb scans an H.265 Annex-B elementary stream into NAL units
// and groups them into access units, the granularity at which the media
// pipeline re-timestamps and forwards samples.
package annexb

// NAL unit types relevant to access-unit grouping (Rec. ITU-T H.265 §7.4.2.2).
const (
	TypeVPS = 32
	TypeSPS = 33
	TypePPS = 34
	TypeAUD = 35
)

// NALUnit is one Annex-B NAL unit, header included, start code excluded.
type NALUnit struct {
	Type   int
	Offset int64 // byte offset of the NAL unit (header) within the source
	Data   []byte
}

// IsParameterSet reports whether t is VPS, SPS, or PPS — the "configuration
// interval" NALs that make up current_caps.
func IsParameterSet(t int) bool {
	return t == TypeVPS || t == TypeSPS || t == TypePPS
}

// IsVCL reports whether t is a coded-slice NAL unit type (0..21).
func IsVCL(t int) bool {
	return t >= 0 && t <= 21
}

// nalType extracts nal_unit_type from a 2-byte NAL header: byte0 bits
// [6:1] (forbidden_zero_bit is byte0 bit 7, layer_id/temporal_id follow).
func nalType(b0 byte) int {
	return int((b0 >> 1) & 0x3F)
}

// firstSliceSegmentInPicFlag reads the first bit of a VCL NAL's RBSP
// payload (the byte immediately after the 2-byte NAL header), which per
// the H.265 slice segment header syntax is first_slice_segment_in_pic_flag.
func firstSliceSegmentInPicFlag(data []byte) bool {
	if len(data) < 3 {
		return true // malformed/truncated NAL: treat conservatively as a new AU
	}
	return data[2]&0x80 != 0
}

// Split scans data for Annex-B start codes (00 00 01 or 00 00 00 01) and
// returns every NAL unit found, in stream order, with byte offsets
// relative to the start of data.
func Split(data []byte) []NALUnit {
	var units []NALUnit
	starts := findStartCodes(data)
	for i, s := range starts {
		nalStart := s.nalOffset
		var nalEnd int64
		if i+1 < len(starts) {
			nalEnd = starts[i+1].scOffset
		} else {
			nalEnd = int64(len(data))
		}
		if nalEnd <= nalStart || nalStart >= int64(len(data)) {
			continue
		}
		nalData := data[nalStart:nalEnd]
		if len(nalData) < 2 {
			continue
		}
		units = append(units, NALUnit{
			Type:   nalType(nalData[0]),
			Offset: nalStart,
			Data:   nalData,
		})
	}
	return units
}

type startCode struct {
	scOffset  int64 // offset of the 00 00 01 (or 00 00 00 01) marker itself
	nalOffset int64 // offset of the first byte of the NAL unit (after the marker)
}

// findStartCodes locates every Annex-B start code in data.
func findStartCodes(data []byte) []startCode {
	var out []startCode
	n := len(data)
	for i := 0; i+2 < n; i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		if data[i+2] == 1 {
			sc := int64(i)
			nalOff := int64(i + 3)
			// Prefer the 4-byte form 00 00 00 01: if this 3-byte match is
			// immediately preceded by another 0x00, the true marker start
			// is one byte earlier; nalOffset is unaffected either way.
			if i > 0 && data[i-1] == 0 {
				sc = int64(i - 1)
			}
			out = append(out, startCode{scOffset: sc, nalOffset: nalOff})
			i += 2
			continue
		}
	}
	return out
}

// AccessUnit is one coded picture's worth of VCL NAL data: a contiguous
// byte range in the source plus the parameter-set NALs (if any changed)
// that should be (re-)sent to the decoder ahead of it.
type AccessUnit struct {
	Offset        int64
	Length        int64
	CapsChanged   bool // true if VPS/SPS/PPS changed since the previous access unit
	VPS, SPS, PPS []byte
	// VPS/SPS/PPS hold the caps in effect as of this access unit; only
	// populated when CapsChanged is true, since configuration-interval=1
	// means the sender re-sends the same caps on every access unit anyway.
}

// GroupAccessUnits walks nals in order and groups VCL NALs into access
// units, splitting whenever a VCL NAL's first_slice_segment_in_pic_flag is
// set. Parameter-set NALs (VPS/SPS/PPS) are not included in any access
// unit's byte range; instead they update a "latest caps" set and mark the
// next access unit as CapsChanged, snapshotting the caps in effect at that
// point. AUD/SEI and other non-VCL NALs are ignored for grouping purposes.
func GroupAccessUnits(nals []NALUnit) []AccessUnit {
	var aus []AccessUnit
	var capsChangedPending bool
	var curVPS, curSPS, curPPS []byte
	var cur *AccessUnit

	closeCurrent := func() {
		if cur != nil {
			aus = append(aus, *cur)
			cur = nil
		}
	}

	for _, nal := range nals {
		switch nal.Type {
		case TypeVPS:
			curVPS = nal.Data
			capsChangedPending = true
		case TypeSPS:
			curSPS = nal.Data
			capsChangedPending = true
		case TypePPS:
			curPPS = nal.Data
			capsChangedPending = true
		default:
			if !IsVCL(nal.Type) {
				// AUD, SEI, and other non-VCL NALs: ignored for grouping.
				continue
			}
			startsNew := cur == nil || firstSliceSegmentInPicFlag(nal.Data)
			if startsNew {
				closeCurrent()
				cur = &AccessUnit{Offset: nal.Offset}
				if capsChangedPending {
					cur.CapsChanged = true
					cur.VPS, cur.SPS, cur.PPS = curVPS, curSPS, curPPS
					capsChangedPending = false
				}
			}
			cur.Length = nal.Offset + int64(len(nal.Data)) - cur.Offset
		}
	}
	closeCurrent()
	return aus
}

// LatestParameterSets returns the last VPS/SPS/PPS NAL payloads found
// anywhere in nals (each nil if absent); the reader uses it to compute
// the initial caps.
func LatestParameterSets(nals []NALUnit) (vps, sps, pps []byte) {
	for _, nal := range nals {
		switch nal.Type {
		case TypeVPS:
			vps = nal.Data
		case TypeSPS:
			sps = nal.Data
		case TypePPS:
			pps = nal.Data
		}
	}
	return vps, sps, pps
}
