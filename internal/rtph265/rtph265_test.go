package rtph265

import "testing"

func buildAU(nalLens ...int) []byte {
	var out []byte
	for i, n := range nalLens {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		// 2-byte NAL header: type=19 (IDR_W_RADL), layer 0, tid 1
		out = append(out, (19<<1)&0xFE, 0x01)
		for j := 0; j < n-2; j++ {
			out = append(out, byte(i))
		}
	}
	return out
}

func TestPacketize_singleSmallNAL(t *testing.T) {
	p := NewPacketizer(0xABCD1234)
	au := buildAU(20)
	packets := p.Packetize(au, 1000)
	if len(packets) != 1 {
		t.Fatalf("expected 1 RTP packet, got %d", len(packets))
	}
	pkt := packets[0]
	if pkt[1]&0x7F != PayloadType {
		t.Fatalf("unexpected payload type byte: %x", pkt[1])
	}
	if pkt[1]&0x80 == 0 {
		t.Fatal("expected marker bit set on the only (last) packet")
	}
}

func TestPacketize_fragmentsOversizedNAL(t *testing.T) {
	p := NewPacketizer(1)
	au := buildAU(MTU * 3) // far larger than one RTP packet
	packets := p.Packetize(au, 0)
	if len(packets) < 2 {
		t.Fatalf("expected fragmentation into multiple packets, got %d", len(packets))
	}
	// First fragment: FU header start bit set.
	first := packets[0]
	fuHeader := first[rtpHeaderLen+2]
	if fuHeader&0x80 == 0 {
		t.Fatal("expected start bit set on first fragment's FU header")
	}
	last := packets[len(packets)-1]
	fuHeaderLast := last[rtpHeaderLen+2]
	if fuHeaderLast&0x40 == 0 {
		t.Fatal("expected end bit set on last fragment's FU header")
	}
	if last[1]&0x80 == 0 {
		t.Fatal("expected RTP marker bit on the final fragment of the access unit")
	}
	for _, mid := range packets[1 : len(packets)-1] {
		if mid[1]&0x80 != 0 {
			t.Fatal("expected no marker bit on intermediate packets")
		}
	}
}

func TestPacketize_sequenceNumbersIncrement(t *testing.T) {
	p := NewPacketizer(1)
	au := buildAU(20, 20)
	packets := p.Packetize(au, 0)
	if len(packets) != 2 {
		t.Fatalf("expected 2 packets for 2 small NALs, got %d", len(packets))
	}
	seq0 := uint16(packets[0][2])<<8 | uint16(packets[0][3])
	seq1 := uint16(packets[1][2])<<8 | uint16(packets[1][3])
	if seq1 != seq0+1 {
		t.Fatalf("sequence numbers not incrementing: %d -> %d", seq0, seq1)
	}
}

func TestFramesToRTPTimestamp(t *testing.T) {
	// 1 second at 90kHz clock.
	if got := FramesToRTPTimestamp(1_000_000_000); got != 90000 {
		t.Fatalf("FramesToRTPTimestamp(1s) = %d, want 90000", got)
	}
	if got := FramesToRTPTimestamp(0); got != 0 {
		t.Fatalf("FramesToRTPTimestamp(0) = %d, want 0", got)
	}
}

func TestConfigNALs_requiresAtLeastOne(t *testing.T) {
	if _, err := ConfigNALs(nil, nil, nil); err == nil {
		t.Fatal("expected error when no parameter sets are available")
	}
	out, err := ConfigNALs([]byte{0x40, 0x01}, nil, nil)
	if err != nil {
		t.Fatalf("ConfigNALs: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty output")
	}
}
