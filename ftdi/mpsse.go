// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// MPSSE is the Multi-Protocol Synchronous Serial Engine, the byte-stream
// command protocol the FT2232H exposes over its bulk USB pipe once switched
// into MPSSE bit mode. This file assembles and parses exactly the opcode
// frames component C (JTAG) and component E (SPI) need.
//
// MPSSE basics:
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_135_MPSSE_Basics.pdf

package ftdi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Opcodes, named per spec.md §4.B.
const (
	opClockBytesOut   byte = 0x19 // clock N+1 bytes out, LSB first, -ve edge
	opClockBitsOut    byte = 0x1B // clock N+1 bits out, same edges
	opClockBytesInOut byte = 0x39 // clock N+1 bytes in+out, LSB first
	opClockBitsInOut  byte = 0x3B // clock N+1 bits in+out
	opTMSOut          byte = 0x4B // clock N+1 TMS bits out, no read
	opTMSOutTDI       byte = 0x4E // clock N+1 TMS bits out, TDI in bit 7, no read
	opTMSInOutTDI     byte = 0x6E // clock N+1 TMS bits in+out, TDI in bit 7

	// SPI (+ve edge) variants used by the iCE40 flash programmer; JTAG uses
	// the -ve edge opcodes above instead.
	opSPISendBytes byte = 0x11 // clock N+1 bytes out, MSB first, +ve edge, no read
	opSPIXferBytes byte = 0x31 // clock N+1 bytes in+out, +ve edge out / -ve edge in
	opSPIXferBits  byte = 0x33 // clock N+1 bits in+out, same edges

	opSetLowGPIO  byte = 0x80 // set ADBUS value, direction
	opSetHighGPIO byte = 0x82 // set ACBUS value, direction
	opReadLowGPIO byte = 0x81
	opReadHighGPIO byte = 0x83

	opLoopbackDisable byte = 0x85
	opSetClockDivisor byte = 0x86
	opDisable5xClock  byte = 0x8A // 60MHz master clock, no /5 prescaler
	opDisable3Phase   byte = 0x8D
	opSendClocks      byte = 0x8F // clock N+1 bytes, no data lines
	opDisableAdaptive byte = 0x97
	opBadCommand      byte = 0xAA // invalid opcode, used only for sync

	opFlush byte = 0x87 // force buffered bytes back to the host now
)

// syncProbe writes a single invalid opcode and confirms the chip echoes it
// back prefixed with 0xFA ("bad command"), per spec.md §4.B.
//
// Open question (b): the original implementation bounds its read to an
// 8-byte stack buffer but checks the wrong counter (dwNumBytesRead, still
// zero) against that bound instead of dwNumBytesToRead. This rewrite checks
// the byte count actually about to be read against the buffer size, which is
// what the original evidently intended.
func (d *Device) syncProbe() error {
	if _, err := d.Write([]byte{opBadCommand, opFlush}); err != nil {
		return fmt.Errorf("ftdi: MPSSE sync failed: %w", err)
	}
	var buf [8]byte
	for {
		n, err := d.QueuedInputBytes()
		if err != nil {
			return fmt.Errorf("ftdi: MPSSE sync failed: %w", err)
		}
		if n > 0 {
			if n > len(buf) {
				n = len(buf)
			}
			break
		}
	}
	ctx, cancel := context200ms()
	defer cancel()
	got, err := d.readAvailable(ctx, buf[:])
	if err != nil {
		return fmt.Errorf("ftdi: MPSSE sync failed: %w", err)
	}
	for i := 0; i+1 < got; i++ {
		if buf[i] == 0xFA && buf[i+1] == opBadCommand {
			return nil
		}
	}
	return errors.New("ftdi: MPSSE sync failed")
}

// readAvailable reads whatever the chip has queued right now, up to len(b),
// blocking for at least one byte unless ctx expires.
func (d *Device) readAvailable(ctx context.Context, b []byte) (int, error) {
	for {
		n, err := d.Read(b)
		if err != nil || n > 0 {
			return n, err
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
}

// configureJTAG applies the post-sync JTAG profile (spec.md §4.B): TCK/TDI/
// TMS outputs, TDO input, TMS idle high, ~20kHz clock.
func (d *Device) configureJTAG() error {
	cmd := []byte{
		opDisable5xClock, opDisableAdaptive, opDisable3Phase,
		opSetLowGPIO, 0x08, 0x0B,
		opSetHighGPIO, 0x00, 0x00,
		opSetClockDivisor, 0xDB, 0x05,
		opLoopbackDisable,
	}
	_, err := d.Write(cmd)
	return err
}

// configureSPI applies the post-sync SPI profile (spec.md §4.B): SCK/MOSI/
// CS/CRESET outputs, MISO/CDONE inputs, 30MHz clock.
func (d *Device) configureSPI() error {
	cmd := []byte{
		opDisable5xClock, opDisableAdaptive, opDisable3Phase,
		opSetLowGPIO, 0x00, 0xBB,
		opSetClockDivisor, 0x00, 0x00,
		opLoopbackDisable,
	}
	_, err := d.Write(cmd)
	return err
}

// masterClock is the MPSSE clock feeding the divisor once the 5x prescaler
// and adaptive/3-phase clocking are disabled (configureJTAG/configureSPI).
const masterClock = 30 * physic.MegaHertz

// SetFreq reprograms the clock divisor: div = round(masterClock/freq) - 1,
// the way gentam-gice/cmd/gice/main.go expresses its SPI rate as a
// physic.Frequency rather than a bare integer.
func (d *Device) SetFreq(freq physic.Frequency) error {
	if freq <= 0 {
		return errors.New("ftdi: frequency must be positive")
	}
	div := int((int64(masterClock)+int64(freq)/2)/int64(freq) - 1)
	if div < 0 {
		div = 0
	}
	if div > 0xFFFF {
		div = 0xFFFF
	}
	_, err := d.Write([]byte{opSetClockDivisor, byte(div), byte(div >> 8)})
	return err
}

// SetLowGPIO sets ADBUS0-7 value and direction (1 = output).
func (d *Device) SetLowGPIO(value, dir byte) error {
	_, err := d.Write([]byte{opSetLowGPIO, value, dir})
	return err
}

// SetHighGPIO sets ACBUS0-7 value and direction (1 = output).
func (d *Device) SetHighGPIO(value, dir byte) error {
	_, err := d.Write([]byte{opSetHighGPIO, value, dir})
	return err
}

// ReadLowGPIO reads ADBUS0-7.
func (d *Device) ReadLowGPIO() (byte, error) {
	return d.readGPIO(opReadLowGPIO)
}

// ReadHighGPIO reads ACBUS0-7.
func (d *Device) ReadHighGPIO() (byte, error) {
	return d.readGPIO(opReadHighGPIO)
}

func (d *Device) readGPIO(op byte) (byte, error) {
	if _, err := d.Write([]byte{op, opFlush}); err != nil {
		return 0, err
	}
	var b [1]byte
	ctx, cancel := context200ms()
	defer cancel()
	if _, err := d.ReadAll(ctx, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ClockBytes clocks len(w) whole bytes (1..65536), each LSB first, on the
// falling edge. If read is true it also captures the same count of bytes back.
func (d *Device) ClockBytes(w []byte, read bool) ([]byte, error) {
	n := len(w)
	if n == 0 || n > 65536 {
		return nil, errors.New("ftdi: byte count out of range [1, 65536]")
	}
	op := opClockBytesOut
	if read {
		op = opClockBytesInOut
	}
	cmd := make([]byte, 0, n+4)
	cmd = append(cmd, op, byte(n-1), byte((n-1)>>8))
	cmd = append(cmd, w...)
	if read {
		cmd = append(cmd, opFlush)
	}
	if _, err := d.Write(cmd); err != nil {
		return nil, err
	}
	if !read {
		return nil, nil
	}
	out := make([]byte, n)
	ctx, cancel := context200ms()
	defer cancel()
	_, err := d.ReadAll(ctx, out)
	return out, err
}

// ClockBits clocks nbits (1..8) of b, LSB first, same edges as ClockBytes.
// If read is true, one byte is captured back (left-justified at bit 7 down
// to 8-nbits).
func (d *Device) ClockBits(b byte, nbits int, read bool) (byte, error) {
	if nbits < 1 || nbits > 8 {
		return 0, errors.New("ftdi: bit count out of range [1, 8]")
	}
	op := opClockBitsOut
	if read {
		op = opClockBitsInOut
	}
	cmd := []byte{op, byte(nbits - 1), b}
	if read {
		cmd = append(cmd, opFlush)
	}
	if _, err := d.Write(cmd); err != nil {
		return 0, err
	}
	if !read {
		return 0, nil
	}
	var out [1]byte
	ctx, cancel := context200ms()
	defer cancel()
	_, err := d.ReadAll(ctx, out[:])
	return out[0], err
}

// SendSPI writes data (1..65536 bytes) over MOSI with no capture, for SPI
// command/address/payload bytes the flash never needs to echo.
func (d *Device) SendSPI(data []byte) error {
	n := len(data)
	if n == 0 || n > 65536 {
		return errors.New("ftdi: SPI byte count out of range [1, 65536]")
	}
	cmd := make([]byte, 0, n+3)
	cmd = append(cmd, opSPISendBytes, byte(n-1), byte((n-1)>>8))
	cmd = append(cmd, data...)
	_, err := d.Write(cmd)
	return err
}

// XferSPI writes data over MOSI while capturing the same count of bytes on
// MISO, for SPI reads and status polling.
func (d *Device) XferSPI(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 || n > 65536 {
		return nil, errors.New("ftdi: SPI byte count out of range [1, 65536]")
	}
	cmd := make([]byte, 0, n+4)
	cmd = append(cmd, opSPIXferBytes, byte(n-1), byte((n-1)>>8))
	cmd = append(cmd, data...)
	cmd = append(cmd, opFlush)
	if _, err := d.Write(cmd); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	ctx, cancel := context200ms()
	defer cancel()
	_, err := d.ReadAll(ctx, out)
	return out, err
}

// XferSPIBits clocks nbits (1..8) of b over MOSI while capturing one byte on
// MISO, for reset pulses shorter than a full byte.
func (d *Device) XferSPIBits(b byte, nbits int) (byte, error) {
	if nbits < 1 || nbits > 8 {
		return 0, errors.New("ftdi: SPI bit count out of range [1, 8]")
	}
	cmd := []byte{opSPIXferBits, byte(nbits - 1), b, opFlush}
	if _, err := d.Write(cmd); err != nil {
		return 0, err
	}
	var out [1]byte
	ctx, cancel := context200ms()
	defer cancel()
	_, err := d.ReadAll(ctx, out[:])
	return out[0], err
}

// TMSFrame clocks nbits (1..7) of TMS (LSB first, bit 0 of tms sent first),
// holding TDI/DO at the tdi value throughout (sent as bit 7 of the data
// byte; bit 7 of tms is ignored). When read is true, one captured
// byte is returned (opcode 0x6E); otherwise nothing is captured (0x4E).
//
// Navigation frames that do not need to carry a TDI value use plain TMSOut
// instead (opcode 0x4B), matching the distinction spec.md §4.C draws between
// the navigation opcode and the shift-closing opcode pair.
func (d *Device) TMSFrame(tms byte, nbits int, tdi bool, read bool) (byte, error) {
	if nbits < 1 || nbits > 7 {
		return 0, errors.New("ftdi: TMS bit count out of range [1, 7]")
	}
	data := tms & 0x7F
	if tdi {
		data |= 0x80
	}
	op := opTMSOutTDI
	if read {
		op = opTMSInOutTDI
	}
	cmd := []byte{op, byte(nbits - 1), data}
	if read {
		cmd = append(cmd, opFlush)
	}
	if _, err := d.Write(cmd); err != nil {
		return 0, err
	}
	if !read {
		return 0, nil
	}
	var out [1]byte
	ctx, cancel := context200ms()
	defer cancel()
	_, err := d.ReadAll(ctx, out[:])
	return out[0], err
}

// TMSOut clocks nbits (1..7) of TMS with no TDI/DO change and no capture;
// used for pure TAP navigation (spec.md §4.C Navigate).
func (d *Device) TMSOut(tms byte, nbits int) error {
	if nbits < 1 || nbits > 7 {
		return errors.New("ftdi: TMS bit count out of range [1, 7]")
	}
	_, err := d.Write([]byte{opTMSOut, byte(nbits - 1), tms & 0x7F})
	return err
}

// SendClocks pulses the clock n times without driving any data line. Requests
// exceeding 65536 bytes (524288 clocks) are split recursively.
func (d *Device) SendClocks(n int) error {
	if n <= 0 {
		return nil
	}
	const maxBytes = 65536
	bytes := (n + 7) / 8
	if bytes > maxBytes {
		// Split at a clock-count boundary whose byte count is exactly maxBytes.
		chunk := maxBytes * 8
		if err := d.SendClocks(chunk); err != nil {
			return err
		}
		return d.SendClocks(n - chunk)
	}
	_, err := d.Write([]byte{opSendClocks, byte(bytes - 1), byte((bytes - 1) >> 8)})
	return err
}

func context200ms() (context.Context, func()) {
	return context.WithTimeout(context.Background(), 200*time.Millisecond)
}
