// Package au implements the Xilinx Artix-7 JTAG configuration and indirect
// flash-programming sequences for the Alchitry Au board (component D),
// built on the jtag package's TAP driver.
package au

import (
	"encoding/hex"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/alchitry/alchitry-loader/jtag"
)

// Six-bit Artix-7 IR instructions (Xilinx UG470).
const (
	irEXTEST      byte = 0x26
	irUSER1       byte = 0x02
	irUSER2       byte = 0x03
	irCFGOUT      byte = 0x04
	irCFGIN       byte = 0x05
	irUSERCODE    byte = 0x08
	irIDCODE      byte = 0x09
	irJPROGRAM    byte = 0x0B
	irJSTART      byte = 0x0C
	irJSHUTDOWN   byte = 0x0D
	irISCNOOP     byte = 0x14
	irISCDISABLE  byte = 0x16
	irBYPASS      byte = 0x2F
)

const (
	jtagConfigFreq = 10 * physic.MegaHertz
	jtagBridgeFreq = 1500 * physic.KiloHertz
)

// statusCheckBitstream is the literal post-CFG_IN probe payload, already in
// the byte order load_bin's other DR shifts expect (spec.md §4.D step 8).
const statusCheckBitstream = "0000000400000004800700140000000466aa9955"

// Loader sequences TAP states and IR/DR shifts to configure the Artix-7 from
// RAM and to erase/program its attached SPI flash indirectly through a
// "bridge" bitstream (component D). It borrows a jtag.Driver for the
// duration of a programming run.
type Loader struct {
	d *jtag.Driver
}

// NewLoader wraps d, a JTAG driver already Init'd with ftdi.ProfileJTAG.
func NewLoader(d *jtag.Driver) *Loader {
	return &Loader{d: d}
}

// SetIR navigates to Shift-IR, shifts instr with no capture, and returns to
// Run-Test/Idle (spec.md §4.D set_ir).
func (l *Loader) SetIR(instr byte) error {
	if err := l.d.Navigate(jtag.ShiftIR); err != nil {
		return err
	}
	if _, err := l.d.ShiftData(6, []byte{instr}, false); err != nil {
		return err
	}
	return l.d.Navigate(jtag.RunTestIdle)
}

// ShiftDR navigates to Shift-DR, shifts bits of tdi, and returns to
// Run-Test/Idle, optionally comparing the captured response against expected
// under mask (spec.md §4.D shift_dr).
func (l *Loader) ShiftDR(bits int, tdi, expected, mask []byte) error {
	if err := l.d.Navigate(jtag.ShiftDR); err != nil {
		return err
	}
	got, err := l.d.ShiftData(bits, tdi, expected != nil)
	if err != nil {
		return err
	}
	if err := l.d.Navigate(jtag.RunTestIdle); err != nil {
		return err
	}
	if expected == nil {
		return nil
	}
	ok, err := jtag.MaskCompare(got, expected, mask)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("au: DR compare mismatch: got % x, want % x under mask % x", got, expected, mask)
	}
	return nil
}

// shiftIRStatus shifts instr into IR with capture and compares the response,
// used by load_bin's ISC/IDCODE status probes which read back through the IR
// path rather than DR (spec.md §4.D step 5 and step 7).
func (l *Loader) shiftIRStatus(instr, expected, mask byte) error {
	if err := l.d.Navigate(jtag.ShiftIR); err != nil {
		return err
	}
	got, err := l.d.ShiftData(6, []byte{instr}, true)
	if err != nil {
		return err
	}
	if err := l.d.Navigate(jtag.RunTestIdle); err != nil {
		return err
	}
	ok, err := jtag.MaskCompare(got, []byte{expected}, []byte{mask})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("au: IR status probe mismatch: got %#x, want %#x under mask %#x", got[0], expected, mask)
	}
	return nil
}

// ResetState forces the tracked TAP state to Test-Logic-Reset. Five TMS=1
// clocks reach Test-Logic-Reset from any state, which is exactly the path
// jtag.ShortestPath computes from Capture-DR — so driving that fixed
// five-bit pattern directly is a superset traversal safe to issue regardless
// of the true current state (spec.md §4.D reset_state).
func (l *Loader) ResetState() error {
	return l.d.ResetState()
}

// LoadBin configures the FPGA from RAM with the contents of bin, the
// canonical Xilinx JTAG configuration sequence (spec.md §4.D load_bin).
func (l *Loader) LoadBin(bin []byte) error {
	reversed := jtag.ReverseBytes(bin)
	bitCount := len(bin) * 8

	if err := l.d.SetFreq(jtagConfigFreq); err != nil {
		return err
	}
	if err := l.ResetState(); err != nil {
		return err
	}
	if err := l.d.Navigate(jtag.RunTestIdle); err != nil {
		return err
	}
	if err := l.SetIR(irJPROGRAM); err != nil {
		return err
	}
	if err := l.SetIR(irISCNOOP); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)

	if err := l.d.SendClocks(10000); err != nil {
		return err
	}
	if err := l.shiftIRStatus(irISCNOOP, 0x11, 0x31); err != nil {
		return err
	}

	if err := l.SetIR(irCFGIN); err != nil {
		return err
	}
	if err := l.ShiftDR(bitCount, reversed, nil, nil); err != nil {
		return err
	}

	if err := l.d.Navigate(jtag.RunTestIdle); err != nil {
		return err
	}
	if err := l.d.SendClocks(100000); err != nil {
		return err
	}
	if err := l.SetIR(irJSTART); err != nil {
		return err
	}
	if err := l.d.Navigate(jtag.RunTestIdle); err != nil {
		return err
	}
	if err := l.d.SendClocks(100); err != nil {
		return err
	}
	if err := l.shiftIRStatus(irIDCODE, 0x31, 0x11); err != nil {
		return err
	}

	if err := l.d.Navigate(jtag.TestLogicReset); err != nil {
		return err
	}
	if err := l.d.SendClocks(5); err != nil {
		return err
	}
	if err := l.SetIR(irCFGIN); err != nil {
		return err
	}
	statusBits, err := hex.DecodeString(statusCheckBitstream)
	if err != nil {
		return fmt.Errorf("au: bad status bitstream literal: %w", err)
	}
	if err := l.ShiftDR(160, statusBits, nil, nil); err != nil {
		return err
	}
	if err := l.SetIR(irCFGOUT); err != nil {
		return err
	}
	expected, _ := hex.DecodeString("3f5e0d40")
	mask, _ := hex.DecodeString("08000000")
	if err := l.ShiftDR(32, make([]byte, 4), expected, mask); err != nil {
		return err
	}
	if err := l.d.Navigate(jtag.TestLogicReset); err != nil {
		return err
	}
	return l.d.SendClocks(5)
}

// shiftUserDR shifts a USER1/USER2-addressed DR payload, the path the flash
// write-enable and status helpers use to talk to the attached bridge
// bitstream's SPI tunnel. When reading, the capture path carries a fixed
// 4-cycle pipeline delay, so the payload is padded with one extra nibble and
// the shifted bit count is bumped by 4 before the response is taken from the
// trailing byte (spec supplement, loader.cpp: shiftUDR).
func (l *Loader) shiftUserDR(instr byte, bits int, tdi []byte, read bool) ([]byte, error) {
	if err := l.SetIR(instr); err != nil {
		return nil, err
	}
	if !read {
		return nil, l.ShiftDR(bits, tdi, nil, nil)
	}
	padded := append(append([]byte(nil), tdi...), 0x00)
	if err := l.d.Navigate(jtag.ShiftDR); err != nil {
		return nil, err
	}
	got, err := l.d.ShiftData(bits+4, padded, true)
	if err != nil {
		return nil, err
	}
	if err := l.d.Navigate(jtag.RunTestIdle); err != nil {
		return nil, err
	}
	return got, nil
}

// FlashWriteEnable shifts the flash write-enable opcode over the bridge
// bitstream's USER1 SPI tunnel, independent of a full write or erase cycle
// (spec supplement, loader.cpp: SetWREN).
func (l *Loader) FlashWriteEnable() error {
	_, err := l.shiftUserDR(irUSER1, 8, []byte{0x06}, false)
	return err
}

// FlashStatus reads the attached flash's status register 1 over the bridge
// bitstream's USER1 SPI tunnel (spec supplement, loader.cpp: GetStatus).
func (l *Loader) FlashStatus() (byte, error) {
	got, err := l.shiftUserDR(irUSER1, 8, []byte{0x05}, true)
	if err != nil {
		return 0, err
	}
	if len(got) == 0 {
		return 0, fmt.Errorf("au: flash status shift returned no data")
	}
	return got[len(got)-1], nil
}

// expectedIDCODELow28 is the Artix-7's IDCODE with the top nibble (a die
// revision code, not part identity) masked out.
const expectedIDCODELow28 = "0362d093"

var idcodeMask = []byte{0x0f, 0xff, 0xff, 0xff}

// CheckIDCODE reads the Artix-7's 32-bit IDCODE and compares it, masked to
// the low 28 bits, against the expected Artix-7 IDCODE (spec supplement,
// loader.cpp: checkIDCODE).
func (l *Loader) CheckIDCODE() error {
	if err := l.ResetState(); err != nil {
		return err
	}
	if err := l.SetIR(irIDCODE); err != nil {
		return err
	}
	expected, err := hex.DecodeString(expectedIDCODELow28)
	if err != nil {
		return fmt.Errorf("au: bad IDCODE literal: %w", err)
	}
	return l.ShiftDR(32, make([]byte, 4), expected, idcodeMask)
}

// EraseFlash loads bridgeBin (the user bitstream that forwards JTAG
// USER1/USER2 shifts to the attached SPI flash) and issues the erase
// handshake over it (spec.md §4.D erase_flash). The actual flash erase
// happens on the FPGA side of the bridge bitstream; this only drives the
// JTAG side of that handshake.
func (l *Loader) EraseFlash(bridgeBin []byte) error {
	if err := l.LoadBin(bridgeBin); err != nil {
		return err
	}
	if err := l.d.SetFreq(jtagBridgeFreq); err != nil {
		return err
	}
	if err := l.SetIR(irUSER1); err != nil {
		return err
	}
	if err := l.ShiftDR(1, []byte{0x00}, nil, nil); err != nil {
		return err
	}
	time.Sleep(1 * time.Second)
	if err := l.SetIR(irJPROGRAM); err != nil {
		return err
	}
	return l.ResetState()
}

// WriteBin writes file either to FPGA RAM directly (flash == false) or,
// through bridgeBin's USER2 DR path, to the attached SPI flash (flash ==
// true) (spec.md §4.D write_bin).
func (l *Loader) WriteBin(file []byte, flash bool, bridgeBin []byte) error {
	if !flash {
		if err := l.LoadBin(file); err != nil {
			return err
		}
		return l.ResetState()
	}

	if err := l.LoadBin(bridgeBin); err != nil {
		return err
	}
	if err := l.d.SetFreq(jtagBridgeFreq); err != nil {
		return err
	}
	if err := l.SetIR(irUSER1); err != nil {
		return err
	}
	if err := l.ShiftDR(1, []byte{0x00}, nil, nil); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := l.SetIR(irUSER2); err != nil {
		return err
	}
	reversed := jtag.ReverseBytes(file)
	if err := l.ShiftDR(len(file)*8, reversed, nil, nil); err != nil {
		return err
	}
	if err := l.ResetState(); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := l.SetIR(irJPROGRAM); err != nil {
		return err
	}
	return l.ResetState()
}
