package jtag

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// Framer is the subset of the MPSSE framer (component B, *ftdi.Device) the
// JTAG driver needs: TMS-only navigation and bit/byte clocking with optional
// capture.
type Framer interface {
	TMSOut(tms byte, nbits int) error
	TMSFrame(tms byte, nbits int, tdi bool, read bool) (byte, error)
	ClockBits(b byte, nbits int, read bool) (byte, error)
	ClockBytes(w []byte, read bool) ([]byte, error)
	SendClocks(n int) error
	SetFreq(freq physic.Frequency) error
}

// shiftData emits bitCount bits of tdi (in natural, most-significant-byte-
// first order — only the low-order ceil(bitCount/8) bytes of tdi are used,
// matching the original's right-aligned string framing) while closing the
// shift with the TMS frame that leaves Shift-DR/IR, ported bit-for-bit from
// jtag.cpp's Jtag::shiftData. If read is true, the captured response is
// returned in the same natural byte order as tdi.
func shiftData(f Framer, bitCount int, tdi []byte, read bool) ([]byte, error) {
	if bitCount <= 0 {
		return nil, fmt.Errorf("jtag: bitCount must be positive, got %d", bitCount)
	}
	reqBytes := (bitCount + 7) / 8
	if len(tdi) < reqBytes {
		return nil, fmt.Errorf("jtag: tdi too short: need %d bytes for %d bits, got %d", reqBytes, bitCount, len(tdi))
	}
	// wire[0] is the first byte clocked onto TDI; wire[reqBytes-1] holds the
	// final (possibly partial) bits and the very last bit.
	wire := reverseByteOrder(tdi[len(tdi)-reqBytes:])

	if bitCount < 9 {
		data := wire[0]
		var b0 byte
		if bitCount > 1 {
			var err error
			b0, err = f.ClockBits(data, bitCount-1, read)
			if err != nil {
				return nil, err
			}
		}
		lastBit := (data >> uint((bitCount-1)%8)) & 1
		b1, err := f.TMSFrame(0x01, 1, lastBit != 0, read)
		if err != nil {
			return nil, err
		}
		if !read {
			return nil, nil
		}
		got := b0>>uint(8-(bitCount-1)) | b1>>uint(7-(bitCount-1))
		return []byte{got}, nil
	}

	fullBytes := (bitCount - 1) / 8
	captured := make([]byte, 0, fullBytes+2)
	for offset := 0; offset < fullBytes; {
		chunk := fullBytes - offset
		if chunk > 65536 {
			chunk = 65536
		}
		got, err := f.ClockBytes(wire[offset:offset+chunk], read)
		if err != nil {
			return nil, err
		}
		if read {
			captured = append(captured, got...)
		}
		offset += chunk
	}

	partialBits := bitCount - 1 - fullBytes*8
	hasPartial := fullBytes*8+1 != bitCount
	var partialGot byte
	if hasPartial {
		var err error
		partialGot, err = f.ClockBits(wire[reqBytes-1], partialBits, read)
		if err != nil {
			return nil, err
		}
	}

	lastBit := (wire[reqBytes-1] >> uint((bitCount-1)%8)) & 1
	lastGot, err := f.TMSFrame(0x01, 1, lastBit != 0, read)
	if err != nil {
		return nil, err
	}
	if !read {
		return nil, nil
	}
	if hasPartial {
		combined := partialGot>>uint(8-partialBits) | lastGot>>uint(7-partialBits)
		captured = append(captured, combined)
	} else {
		captured = append(captured, lastGot>>7)
	}
	return reverseByteOrder(captured), nil
}
