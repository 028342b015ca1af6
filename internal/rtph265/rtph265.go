// Package rtph265 packetizes H.265 access units into RTP (RFC 7798) and
// sends them over UDP, rate-limited against the stream's own frame
// clock, using payload type 97.
package rtph265

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// PayloadType is the fixed RTP payload type used on the wire.
const PayloadType = 97

// MTU is the maximum RTP packet size (header + payload) a single NAL
// unit is fragmented to fit within.
const MTU = 1200

const (
	rtpHeaderLen = 12
	rtpVersion   = 2
	clockRateHz  = 90000

	nalTypeFU = 49 // fragmentation unit (RFC 7798 §4.4.3)
)

// Packetizer turns one H.265 access unit (Annex-B bytes, start codes
// included or not — both are handled) into a sequence of RTP packets.
// It is not safe for concurrent use.
type Packetizer struct {
	ssrc    uint32
	seq     uint16
	started bool
}

// NewPacketizer returns a packetizer using the given RTP SSRC.
func NewPacketizer(ssrc uint32) *Packetizer {
	return &Packetizer{ssrc: ssrc}
}

// Packetize splits one access unit's NAL units into RTP packets
// carrying the given 90kHz RTP timestamp. marker is set on the last
// packet of the access unit, matching RFC 7798 §4.4.
func (p *Packetizer) Packetize(auData []byte, rtpTimestamp uint32) [][]byte {
	nals := splitAnnexB(auData)
	var packets [][]byte
	for ni, nal := range nals {
		isLastNAL := ni == len(nals)-1
		if rtpHeaderLen+len(nal) <= MTU {
			pkt := p.buildPacket(rtpTimestamp, isLastNAL, nal)
			packets = append(packets, pkt)
			continue
		}
		packets = append(packets, p.fragment(nal, rtpTimestamp, isLastNAL)...)
	}
	return packets
}

func (p *Packetizer) buildPacket(ts uint32, marker bool, payload []byte) []byte {
	pkt := make([]byte, rtpHeaderLen+len(payload))
	p.writeHeader(pkt, ts, marker)
	copy(pkt[rtpHeaderLen:], payload)
	return pkt
}

// fragment splits a single oversized NAL unit into FU packets per RFC
// 7798 §4.4.3: a 3-byte FU header (2-byte PayloadHdr + 1-byte FU header)
// replaces the original 2-byte NAL header on every fragment.
func (p *Packetizer) fragment(nal []byte, ts uint32, isLastNAL bool) [][]byte {
	if len(nal) < 2 {
		return nil
	}
	nalHeader := nal[:2]
	nalType := (nalHeader[0] >> 1) & 0x3F
	layerIDHigh := nalHeader[0] & 0x01
	rest := nal[2:]

	maxFragment := MTU - rtpHeaderLen - 3
	if maxFragment <= 0 {
		maxFragment = 1
	}

	var packets [][]byte
	for off := 0; off < len(rest); off += maxFragment {
		end := off + maxFragment
		if end > len(rest) {
			end = len(rest)
		}
		chunk := rest[off:end]
		isFirst := off == 0
		isLastFrag := end == len(rest)

		payloadHdr0 := (nalTypeFU << 1) | layerIDHigh
		payloadHdr1 := nalHeader[1]
		fuHeader := nalType
		if isFirst {
			fuHeader |= 0x80
		}
		if isLastFrag {
			fuHeader |= 0x40
		}

		payload := make([]byte, 3+len(chunk))
		payload[0] = payloadHdr0
		payload[1] = payloadHdr1
		payload[2] = fuHeader
		copy(payload[3:], chunk)

		marker := isLastFrag && isLastNAL
		packets = append(packets, p.buildPacket(ts, marker, payload))
	}
	return packets
}

func (p *Packetizer) writeHeader(buf []byte, ts uint32, marker bool) {
	buf[0] = rtpVersion << 6
	buf[1] = PayloadType
	if marker {
		buf[1] |= 0x80
	}
	binary.BigEndian.PutUint16(buf[2:4], p.seq)
	binary.BigEndian.PutUint32(buf[4:8], ts)
	binary.BigEndian.PutUint32(buf[8:12], p.ssrc)
	p.seq++
}

// FramesToRTPTimestamp converts a monotonic PTS in nanoseconds to the
// 90kHz RTP timestamp domain, wrapping at uint32 as RFC 3550 requires.
func FramesToRTPTimestamp(ptsNS int64) uint32 {
	// 128-bit product so long-running PTS values do not overflow before
	// the division.
	hi, lo := bits.Mul64(uint64(ptsNS), clockRateHz)
	q, _ := bits.Div64(hi, lo, 1_000_000_000)
	return uint32(q)
}

// splitAnnexB splits Annex-B start-coded bytes into bare NAL units
// (start codes stripped). Inputs without a leading start code are
// treated as a single already-bare NAL unit.
func splitAnnexB(data []byte) [][]byte {
	starts := findStarts(data)
	if len(starts) == 0 {
		return [][]byte{data}
	}
	var out [][]byte
	for i, s := range starts {
		var end int
		if i+1 < len(starts) {
			end = starts[i+1].scOffset
		} else {
			end = len(data)
		}
		if s.nalOffset < end {
			out = append(out, data[s.nalOffset:end])
		}
	}
	return out
}

type startMarker struct {
	scOffset, nalOffset int
}

func findStarts(data []byte) []startMarker {
	var out []startMarker
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			sc := i
			if i > 0 && data[i-1] == 0 {
				sc = i - 1
			}
			out = append(out, startMarker{scOffset: sc, nalOffset: i + 3})
			i += 2
		}
	}
	return out
}

// ConfigNALs assembles the VPS/SPS/PPS payload (each may be nil) that
// the sender prepends ahead of every access unit — the Go equivalent of an RTP payloader's configuration-interval=1 behavior
// (parameter sets repeated every frame
// rather than relying on the source stream to carry them).
func ConfigNALs(vps, sps, pps []byte) ([]byte, error) {
	if vps == nil && sps == nil && pps == nil {
		return nil, fmt.Errorf("rtph265: no parameter sets available")
	}
	var out []byte
	for _, nal := range [][]byte{vps, sps, pps} {
		if nal == nil {
			continue
		}
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, nal...)
	}
	return out, nil
}
