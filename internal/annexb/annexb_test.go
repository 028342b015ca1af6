package annexb

import "testing"

// buildStream assembles a minimal Annex-B byte stream from (type, firstSlice, payload)
// triples. Non-VCL NALs ignore firstSlice.
func buildStream(units [][3]interface{}) []byte {
	var out []byte
	for _, u := range units {
		typ := u[0].(int)
		first := u[1].(bool)
		extra := u[2].(byte)
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		b0 := byte(typ<<1) & 0xFE
		b1 := byte(0x01)
		out = append(out, b0, b1)
		if first {
			out = append(out, 0x80|extra)
		} else {
			out = append(out, 0x00|extra)
		}
	}
	return out
}

func TestSplit_findsAllNALUnits(t *testing.T) {
	data := buildStream([][3]interface{}{
		{TypeVPS, false, byte(0)},
		{TypeSPS, false, byte(0)},
		{TypePPS, false, byte(0)},
		{19, true, byte(1)}, // IDR_W_RADL, first slice
	})
	units := Split(data)
	if len(units) != 4 {
		t.Fatalf("expected 4 NAL units, got %d", len(units))
	}
	wantTypes := []int{TypeVPS, TypeSPS, TypePPS, 19}
	for i, u := range units {
		if u.Type != wantTypes[i] {
			t.Errorf("unit[%d].Type = %d, want %d", i, u.Type, wantTypes[i])
		}
	}
}

func TestGroupAccessUnits_singleSlicePerAU(t *testing.T) {
	data := buildStream([][3]interface{}{
		{TypeVPS, false, byte(0)},
		{TypeSPS, false, byte(0)},
		{TypePPS, false, byte(0)},
		{19, true, byte(0)}, // AU 0
		{1, true, byte(0)},  // AU 1 (trailing picture, no param sets before it)
		{1, true, byte(0)},  // AU 2
	})
	nals := Split(data)
	aus := GroupAccessUnits(nals)
	if len(aus) != 3 {
		t.Fatalf("expected 3 access units, got %d", len(aus))
	}
	if !aus[0].CapsChanged {
		t.Error("AU 0 should report CapsChanged (VPS/SPS/PPS preceded it)")
	}
	if aus[1].CapsChanged || aus[2].CapsChanged {
		t.Error("AU 1 and 2 should not report CapsChanged")
	}
}

func TestGroupAccessUnits_multiSliceSamePicture(t *testing.T) {
	data := buildStream([][3]interface{}{
		{19, true, byte(0)},  // AU 0, first slice segment
		{19, false, byte(0)}, // AU 0 continued (second slice segment, e.g. tiling)
		{1, true, byte(0)},   // AU 1
	})
	nals := Split(data)
	aus := GroupAccessUnits(nals)
	if len(aus) != 2 {
		t.Fatalf("expected 2 access units, got %d", len(aus))
	}
	// AU 0 should span both slice NALs.
	if aus[0].Length <= int64(len(nals[0].Data)) {
		t.Errorf("AU 0 length %d should include both slice segments", aus[0].Length)
	}
}

func TestLatestParameterSets(t *testing.T) {
	data := buildStream([][3]interface{}{
		{TypeVPS, false, byte(0)},
		{TypeSPS, false, byte(0)},
		{TypePPS, false, byte(0)},
		{19, true, byte(0)},
	})
	nals := Split(data)
	vps, sps, pps := LatestParameterSets(nals)
	if vps == nil || sps == nil || pps == nil {
		t.Fatal("expected all three parameter sets to be found")
	}
}

func TestIsVCLAndIsParameterSet(t *testing.T) {
	if !IsVCL(0) || !IsVCL(21) || IsVCL(22) || IsVCL(32) {
		t.Fatal("IsVCL boundary check failed")
	}
	if !IsParameterSet(TypeVPS) || !IsParameterSet(TypeSPS) || !IsParameterSet(TypePPS) {
		t.Fatal("IsParameterSet should accept VPS/SPS/PPS")
	}
	if IsParameterSet(TypeAUD) {
		t.Fatal("AUD is not a parameter set")
	}
}
