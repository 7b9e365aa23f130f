package jtag

import (
	"testing"

	"periph.io/x/conn/v3/physic"
)

func TestShortestPathScenarios(t *testing.T) {
	cases := []struct {
		name       string
		from, to   State
		wantMoves  int
		wantTMS    uint16
	}{
		{"reset-to-idle", TestLogicReset, RunTestIdle, 1, 0b0},
		{"idle-to-shiftdr", RunTestIdle, ShiftDR, 3, 0b001},
		{"idle-to-shiftir", RunTestIdle, ShiftIR, 4, 0b0011},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := ShortestPath(c.from, c.to)
			if p.Moves != c.wantMoves || p.TMS != c.wantTMS {
				t.Fatalf("ShortestPath(%s, %s) = {%d, %#b}, want {%d, %#b}", c.from, c.to, p.Moves, p.TMS, c.wantMoves, c.wantTMS)
			}
		})
	}
}

func TestShortestPathMovesBound(t *testing.T) {
	for from := TestLogicReset; from <= UpdateIR; from++ {
		for to := TestLogicReset; to <= UpdateIR; to++ {
			p := ShortestPath(from, to)
			if p.Moves > 14 {
				t.Fatalf("ShortestPath(%s, %s).Moves = %d, want <= 14", from, to, p.Moves)
			}
		}
	}
}

func TestShortestPathReachesTarget(t *testing.T) {
	for from := TestLogicReset; from <= UpdateIR; from++ {
		for to := TestLogicReset; to <= UpdateIR; to++ {
			p := ShortestPath(from, to)
			s := from
			for i := 0; i < p.Moves; i++ {
				tms := (p.TMS>>uint(i))&1 != 0
				s = transition(s, tms)
			}
			if s != to {
				t.Fatalf("applying TMS plan from %s to %s landed on %s", from, to, s)
			}
		}
	}
}

func TestReverseBits(t *testing.T) {
	for x := 0; x < 256; x++ {
		b := byte(x)
		if got := reverseBits(reverseBits(b)); got != b {
			t.Fatalf("reverseBits(reverseBits(%#x)) = %#x, want %#x", b, got, b)
		}
	}
}

func TestReverseBytes(t *testing.T) {
	got := ReverseBytes([]byte{0xAB, 0xCD})
	want := []byte{0xB3, 0xD5}
	if !bytesEqual(got, want) {
		t.Fatalf("ReverseBytes({0xAB, 0xCD}) = %x, want %x", got, want)
	}
	in := []byte{0x12, 0x34, 0x56, 0x78}
	if got := ReverseBytes(ReverseBytes(in)); !bytesEqual(got, in) {
		t.Fatalf("ReverseBytes(ReverseBytes(%x)) = %x, want %x", in, got, in)
	}
}

func TestMaskCompare(t *testing.T) {
	// Only the mask's set bits must agree; here they already do, so the
	// compare is true despite the unmasked bytes differing entirely.
	got := []byte{0x3f, 0x5e, 0x0d, 0x40}
	expected := []byte{0x00, 0x00, 0x08, 0x00}
	mask := []byte{0x00, 0x00, 0x08, 0x00}
	ok, err := MaskCompare(got, expected, mask)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("MaskCompare(%x, %x, %x) = false, want true", got, expected, mask)
	}

	if ok, _ := MaskCompare(got, []byte{0xff, 0xff, 0x0d, 0xff}, mask); !ok {
		t.Fatalf("unmasked-byte differences must not affect the result")
	}

	if _, err := MaskCompare(got, []byte{0x00}, mask); err == nil {
		t.Fatal("expected a length-mismatch error")
	}

	if ok, err := MaskCompare(got, got, nil); err != nil || !ok {
		t.Fatalf("nil mask should require exact equality: ok=%v err=%v", ok, err)
	}
}

type fakeFramer struct {
	writes [][]byte
	tmsOut []struct {
		tms   byte
		nbits int
	}
}

func (f *fakeFramer) TMSOut(tms byte, nbits int) error {
	f.tmsOut = append(f.tmsOut, struct {
		tms   byte
		nbits int
	}{tms, nbits})
	return nil
}
func (f *fakeFramer) TMSFrame(tms byte, nbits int, tdi bool, read bool) (byte, error) { return 0, nil }
func (f *fakeFramer) ClockBits(b byte, nbits int, read bool) (byte, error)            { return 0, nil }
func (f *fakeFramer) ClockBytes(w []byte, read bool) ([]byte, error) {
	f.writes = append(f.writes, append([]byte(nil), w...))
	if read {
		return make([]byte, len(w)), nil
	}
	return nil, nil
}
func (f *fakeFramer) SendClocks(n int) error                  { return nil }
func (f *fakeFramer) SetFreq(freq physic.Frequency) error     { return nil }

func TestNavigateSplitsLongPaths(t *testing.T) {
	f := &fakeFramer{}
	d := NewDriver(f)
	// ShiftDR -> Exit2IR takes 8 moves (Exit1DR, UpdateDR, SelectDRScan,
	// SelectIRScan, CaptureIR, Exit1IR, PauseIR, Exit2IR), one more than a
	// single TMSOut frame carries, so it must be split into two calls.
	d.State = ShiftDR
	if err := d.Navigate(Exit2IR); err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, c := range f.tmsOut {
		total += c.nbits
		if c.nbits > 7 {
			t.Fatalf("single TMSOut call carried %d bits, want <= 7", c.nbits)
		}
	}
	if d.State != Exit2IR {
		t.Fatalf("State = %s, want Exit2IR", d.State)
	}
	if len(f.tmsOut) != 2 || total != 8 {
		t.Fatalf("expected the 8-move path split into two TMSOut calls, got %v", f.tmsOut)
	}
}

func TestShiftDataUpdatesState(t *testing.T) {
	f := &fakeFramer{}
	d := NewDriver(f)
	d.State = ShiftDR
	if _, err := d.ShiftData(8, []byte{0x55}, false); err != nil {
		t.Fatal(err)
	}
	if d.State != Exit1DR {
		t.Fatalf("State = %s, want Exit1DR", d.State)
	}
}

func TestResetStateForcesTLR(t *testing.T) {
	f := &fakeFramer{}
	d := NewDriver(f)
	d.State = PauseIR
	if err := d.ResetState(); err != nil {
		t.Fatal(err)
	}
	if d.State != TestLogicReset {
		t.Fatalf("State = %s, want TestLogicReset", d.State)
	}
	if len(f.tmsOut) != 1 || f.tmsOut[0].nbits != 5 {
		t.Fatalf("ResetState should emit one 5-bit TMS=1 frame, got %v", f.tmsOut)
	}
}
