// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"context"
	"errors"
	"io"
	"time"

	"periph.io/x/d2xx"
)

// bitMode is used by SetBitMode to change the chip behavior.
type bitMode uint8

const (
	// bitModeReset resets all pins to their default value.
	bitModeReset bitMode = 0x00
	// bitModeMPSSE switches to MPSSE mode (FT2232, FT2232H, FT4232H, FT232H).
	bitModeMPSSE bitMode = 0x02
)

// Profile selects the latency/clock configuration applied by Device.Init, per
// the two post-sync GPIO/clock profiles this system drives (spec.md §4.B).
type Profile int

const (
	// ProfileJTAG configures the bridge for the Au board: TCK/TDI/TMS driven,
	// TDO read, TMS idle high, ~20kHz default clock, 16ms latency timer.
	ProfileJTAG Profile = iota
	// ProfileSPI configures the bridge for the Cu board: SCK/MOSI/CS/CRESET
	// driven, MISO/CDONE read, 30MHz default clock, 1ms latency timer.
	ProfileSPI
)

func (p Profile) latencyMS() uint8 {
	if p == ProfileSPI {
		return 1
	}
	return 16
}

// numDevices returns the number of detected devices.
func numDevices() (int, error) {
	num, e := d2xx.CreateDeviceInfoList()
	if e != 0 {
		return 0, toErr("GetNumDevices", e)
	}
	return num, nil
}

// Device is a bridge-chip session: the USB bulk channel of component A. It
// owns the d2xx handle exclusively for its lifetime; neither the JTAG driver
// nor the SPI programmer retain it past Close.
type Device struct {
	h     d2xx.Handle
	t     DevType
	venID uint16
	devID uint16

	enabled bool // MPSSE mode has been entered successfully.
	Verbose bool
}

// Open opens the bridge at the given enumeration index.
func Open(index int) (*Device, error) {
	return open(d2xx.Open, index)
}

func open(opener func(i int) (d2xx.Handle, d2xx.Err), index int) (*Device, error) {
	h, e := opener(index)
	if e != 0 {
		return nil, toErr("Open", e)
	}
	d := &Device{h: h}
	t, vid, did, e := h.GetDeviceInfo()
	if e != 0 {
		_ = d.Close()
		return nil, toErr("GetDeviceInfo", e)
	}
	d.t = DevType(t)
	d.venID = vid
	d.devID = did
	return d, nil
}

// VendorProduct returns the USB vendor and product IDs reported when the
// bridge was opened, the pair an EEPROM image must match to be programmed
// onto this device (see WriteEEPROM).
func (d *Device) VendorProduct() (vendor, product uint16) {
	return d.venID, d.devID
}

// Close releases the USB handle. Safe to call on a partially initialized
// Device, so callers can defer it immediately after Open succeeds (spec.md
// §5: scoped acquisition with guaranteed release on all exit paths).
func (d *Device) Close() error {
	return toErr("Close", d.h.Close())
}

// Reset resets the device (step 1 of Init).
func (d *Device) Reset() error {
	return toErr("Reset", d.h.ResetDevice())
}

// SetUSBTransferSizes sets the USB transfer block sizes (step 3 of Init).
func (d *Device) SetUSBTransferSizes(in, out int) error {
	return toErr("SetUSBParameters", d.h.SetUSBParameters(in, out))
}

// disableChars disables the event/error character interpretation (step 4).
func (d *Device) disableChars() error {
	return toErr("SetChars", d.h.SetChars(0, false, 0, false))
}

// SetTimeouts sets the read/write timeouts in milliseconds (step 5).
func (d *Device) SetTimeouts(readMS, writeMS int) error {
	return toErr("SetTimeouts", d.h.SetTimeouts(readMS, writeMS))
}

// SetLatency sets the USB latency timer in milliseconds (step 6).
func (d *Device) SetLatency(ms uint8) error {
	return toErr("SetLatencyTimer", d.h.SetLatencyTimer(ms))
}

// SetBitMode sets the bridge's bit mode (step 7, twice: reset then MPSSE).
func (d *Device) SetBitMode(mask byte, mode bitMode) error {
	return toErr("SetBitMode", d.h.SetBitMode(mask, byte(mode)))
}

// GetBitMode returns the current bit mode.
func (d *Device) GetBitMode() (byte, error) {
	l, e := d.h.GetBitMode()
	if e != 0 {
		return 0, toErr("GetBitMode", e)
	}
	return l, nil
}

// QueuedInputBytes returns the number of bytes presently queued for read.
func (d *Device) QueuedInputBytes() (int, error) {
	p, e := d.h.GetQueueStatus()
	if e != 0 {
		return 0, toErr("GetQueueStatus", e)
	}
	return int(p), nil
}

// PurgeInput drains and discards whatever is presently queued for read (step
// 2 of Init). Only Init calls it: the framer's capturing operations
// (ClockBytes, ClockBits, TMSFrame, XferSPI, XferSPIBits, readGPIO) do not
// drain the queue before writing their command.
func (d *Device) PurgeInput() error {
	for {
		n, err := d.QueuedInputBytes()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		buf := make([]byte, n)
		if _, err := d.h.Read(buf); err != 0 {
			return toErr("Read", err)
		}
	}
}

// Read returns as much as is available in the read buffer without blocking.
func (d *Device) Read(b []byte) (int, error) {
	p, err := d.QueuedInputBytes()
	if err != nil || p == 0 {
		return 0, err
	}
	if p > len(b) {
		p = len(b)
	}
	n, e := d.h.Read(b[:p])
	return n, toErr("Read", e)
}

// ReadAll blocks until len(b) bytes have been read or ctx is canceled.
func (d *Device) ReadAll(ctx context.Context, b []byte) (int, error) {
	for offset := 0; offset != len(b); {
		if ctx.Err() != nil {
			return offset, io.EOF
		}
		n, err := d.Read(b[offset:])
		offset += n
		if err != nil {
			return offset, err
		}
	}
	return len(b), nil
}

// Write blocks until all of b is written.
func (d *Device) Write(b []byte) (int, error) {
	for offset := 0; offset != len(b); {
		chunk := len(b) - offset
		if chunk > 4096 {
			chunk = 4096
		}
		n, e := d.h.Write(b[offset : offset+chunk])
		if e != 0 {
			return offset + n, toErr("Write", e)
		}
		if n == 0 {
			return offset, errors.New("ftdi: short write")
		}
		offset += n
	}
	return len(b), nil
}

// Init runs the initialization sequence of spec.md §4.A, in the exact order
// the spec treats as a contract. Any step failing aborts initialization and
// surfaces the vendor status code.
func (d *Device) Init(profile Profile) error {
	if err := d.Reset(); err != nil {
		return err
	}
	if err := d.PurgeInput(); err != nil {
		return err
	}
	if err := d.SetUSBTransferSizes(65536, 65535); err != nil {
		return err
	}
	if err := d.disableChars(); err != nil {
		return err
	}
	if err := d.SetTimeouts(0, 5000); err != nil {
		return err
	}
	if err := d.SetLatency(profile.latencyMS()); err != nil {
		return err
	}
	if err := d.SetBitMode(0, bitModeReset); err != nil {
		return err
	}
	if err := d.SetBitMode(0, bitModeMPSSE); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := d.syncProbe(); err != nil {
		return err
	}
	d.enabled = true
	switch profile {
	case ProfileJTAG:
		return d.configureJTAG()
	case ProfileSPI:
		return d.configureSPI()
	}
	return nil
}

func toErr(s string, e d2xx.Err) error {
	if e == 0 {
		return nil
	}
	return errors.New("ftdi: " + s + ": " + e.String())
}
