// Package cu implements the iCE40 SPI flash programmer for the Alchitry Cu
// board (component E): a plain SPI master built on the ftdi MPSSE framer,
// driving chip-select and CRESET GPIOs and issuing Winbond-compatible
// serial-NOR flash commands.
package cu

import "time"

// GPIO bit positions on ADBUS, per spec.md §4.E.
const (
	bitCS     byte = 0x10 // ADBUS4
	bitCRESET byte = 0x80 // ADBUS7
	bitCDONE  byte = 0x40 // ADBUS6 (input)

	gpioDir byte = 0x93 // CS/CRESET/SCK/MOSI outputs; MISO/CDONE inputs
)

// Winbond-compatible serial-NOR opcodes.
const (
	opWriteEnable      byte = 0x06
	opPageProgram      byte = 0x02
	opRead             byte = 0x03
	opReadStatus1      byte = 0x05
	opBulkErase        byte = 0xC7
	opSectorErase      byte = 0xD8
	opReadJEDECID      byte = 0x9F
	opReleasePowerDown byte = 0xAB
	opPowerDown        byte = 0xB9
	opWriteStatus1     byte = 0x01
)

// Extended opcode set beyond the core set above, named from spi.cpp's
// flash_cmd enum. Eight are wired to a Flash method (the 4KiB and 32KiB
// erases, manufacturer ID, unique ID, fast read, status register 2, and the
// enable-reset/reset pair); the rest have no caller on this board and exist
// only as named constants (see DESIGN.md).
const (
	opErase4KiB             byte = 0x20
	opErase32KiB            byte = 0x52
	opReadManufacturerID    byte = 0x90
	opReadUniqueID          byte = 0x4B
	opReadFast              byte = 0x0B
	opReadStatus2           byte = 0x35
	opWriteStatus2          byte = 0x31
	opWriteStatus3          byte = 0x33
	opReadSFDP              byte = 0x5A
	opEraseSecurityRegister byte = 0x44
	opProgramSecurityRegister byte = 0x42
	opReadSecurityRegister  byte = 0x48
	opBlockLock             byte = 0x36
	opBlockUnlock           byte = 0x39
	opEraseSuspend          byte = 0x75
	opEraseResume           byte = 0x7A
	opEnableReset           byte = 0x66
	opReset                 byte = 0x99
	opEnableQPI             byte = 0x38
	opDisableQPI            byte = 0xFF
)

const (
	sectorSize = 64 * 1024
	pageSize   = 256
)

// Framer is the subset of the MPSSE framer the flash programmer needs.
type Framer interface {
	SetLowGPIO(value, dir byte) error
	ReadLowGPIO() (byte, error)
	SendSPI(data []byte) error
	XferSPI(data []byte) ([]byte, error)
	XferSPIBits(b byte, nbits int) (byte, error)
}

// AbortError marks a fatal SPI transport failure (spec.md §7 "SPI abort"):
// once a write/read to the flash fails mid-sequence, flash state is
// undefined, so callers must treat the operation as atomic at the process
// level rather than retry it. main wraps this into the documented ABORT
// diagnostic and exit code 2 (spec.md §9 "Exit-on-error in the SPI layer").
type AbortError struct {
	Err error
}

func (e *AbortError) Error() string { return "cu: SPI ABORT: " + e.Err.Error() }
func (e *AbortError) Unwrap() error { return e.Err }

// abortFramer wraps a Framer so every transport-level error it returns is
// reported as an AbortError, regardless of which SPI primitive failed.
type abortFramer struct{ f Framer }

func (a abortFramer) SetLowGPIO(value, dir byte) error {
	if err := a.f.SetLowGPIO(value, dir); err != nil {
		return &AbortError{err}
	}
	return nil
}

func (a abortFramer) ReadLowGPIO() (byte, error) {
	v, err := a.f.ReadLowGPIO()
	if err != nil {
		return 0, &AbortError{err}
	}
	return v, nil
}

func (a abortFramer) SendSPI(data []byte) error {
	if err := a.f.SendSPI(data); err != nil {
		return &AbortError{err}
	}
	return nil
}

func (a abortFramer) XferSPI(data []byte) ([]byte, error) {
	got, err := a.f.XferSPI(data)
	if err != nil {
		return nil, &AbortError{err}
	}
	return got, nil
}

func (a abortFramer) XferSPIBits(b byte, nbits int) (byte, error) {
	got, err := a.f.XferSPIBits(b, nbits)
	if err != nil {
		return 0, &AbortError{err}
	}
	return got, nil
}

// Flash is an iCE40 configuration-flash programmer bound to an MPSSE framer
// already Init'd with ftdi.ProfileSPI.
type Flash struct {
	f Framer

	// Logf, if set, receives progress lines such as the CDONE state
	// observed before an erase or write (spec.md §4.E "log CDONE bit").
	Logf func(format string, args ...interface{})
}

// NewFlash wraps f. Every transport error f returns is reported as an
// AbortError (spec.md §7 "SPI abort").
func NewFlash(f Framer) *Flash {
	return &Flash{f: abortFramer{f}}
}

func (fl *Flash) logf(format string, args ...interface{}) {
	if fl.Logf != nil {
		fl.Logf(format, args...)
	}
}

// SetGPIO drives chip-select and CRESET (spec.md §4.E set_gpio).
func (fl *Flash) SetGPIO(csHigh, cresetHigh bool) error {
	var v byte
	if csHigh {
		v |= bitCS
	}
	if cresetHigh {
		v |= bitCRESET
	}
	return fl.f.SetLowGPIO(v, gpioDir)
}

func (fl *Flash) cdone() (bool, error) {
	v, err := fl.f.ReadLowGPIO()
	if err != nil {
		return false, err
	}
	return v&bitCDONE != 0, nil
}

func (fl *Flash) writeEnable() error {
	return fl.f.SendSPI([]byte{opWriteEnable})
}

func (fl *Flash) readStatus1() (byte, error) {
	got, err := fl.f.XferSPI([]byte{opReadStatus1, 0x00})
	if err != nil {
		return 0, err
	}
	return got[1], nil
}

// flashWait polls status register 1 until the BUSY bit (bit 0) reads clear
// on two consecutive reads, a deliberate debounce (spec.md §4.E
// "Status polling").
func (fl *Flash) flashWait() error {
	clearSeen := false
	for {
		sr1, err := fl.readStatus1()
		if err != nil {
			return err
		}
		if sr1&0x01 == 0 {
			if clearSeen {
				return nil
			}
			clearSeen = true
		} else {
			clearSeen = false
		}
		time.Sleep(1 * time.Millisecond)
	}
}

func address24(addr uint32) []byte {
	return []byte{byte(addr >> 16), byte(addr >> 8), byte(addr)}
}

// readJEDECID reads the 3-byte JEDEC ID plus any extended bytes (spec.md
// §4.E "Erase": "if the 5th byte is 0xFF treat extended-length as zero;
// otherwise read ext_len more bytes").
func (fl *Flash) readJEDECID() ([]byte, error) {
	got, err := fl.f.XferSPI([]byte{opReadJEDECID, 0x00, 0x00, 0x00, 0x00})
	if err != nil {
		return nil, err
	}
	id := got[1:4]
	extLen := got[4]
	if extLen == 0xFF {
		return id, nil
	}
	if extLen == 0 {
		return id, nil
	}
	req := make([]byte, int(extLen)+1)
	ext, err := fl.f.XferSPI(req)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), id...), ext[1:]...), nil
}

func (fl *Flash) powerUpPreamble() ([]byte, error) {
	if err := fl.SetGPIO(false, false); err != nil {
		return nil, err
	}
	time.Sleep(250 * time.Millisecond)
	done, err := fl.cdone()
	if err != nil {
		return nil, err
	}
	fl.logf("CDONE: %v", done)

	// Two reset pulses: an 8-bit and a 2-bit all-ones SPI shift.
	if _, err := fl.f.XferSPIBits(0xFF, 8); err != nil {
		return nil, err
	}
	if _, err := fl.f.XferSPIBits(0xFF, 2); err != nil {
		return nil, err
	}
	if err := fl.f.SendSPI([]byte{opReleasePowerDown}); err != nil {
		return nil, err
	}
	return fl.readJEDECID()
}

func (fl *Flash) eraseAt(op byte, addr uint32) error {
	if err := fl.writeEnable(); err != nil {
		return err
	}
	cmd := append([]byte{op}, address24(addr)...)
	if err := fl.f.SendSPI(cmd); err != nil {
		return err
	}
	return fl.flashWait()
}

// Erase4KiB erases the 4KiB sector containing addr.
func (fl *Flash) Erase4KiB(addr uint32) error { return fl.eraseAt(opErase4KiB, addr) }

// Erase32KiB erases the 32KiB block containing addr.
func (fl *Flash) Erase32KiB(addr uint32) error { return fl.eraseAt(opErase32KiB, addr) }

// ReadManufacturerID reads the flash's manufacturer and device ID pair.
func (fl *Flash) ReadManufacturerID() (manufacturer, device byte, err error) {
	got, err := fl.f.XferSPI([]byte{opReadManufacturerID, 0x00, 0x00, 0x00, 0x00, 0x00})
	if err != nil {
		return 0, 0, err
	}
	return got[4], got[5], nil
}

// ReadUniqueID reads the flash's 64-bit factory-programmed unique ID.
func (fl *Flash) ReadUniqueID() ([]byte, error) {
	cmd := append([]byte{opReadUniqueID, 0x00, 0x00, 0x00, 0x00}, make([]byte, 8)...)
	got, err := fl.f.XferSPI(cmd)
	if err != nil {
		return nil, err
	}
	return got[5:13], nil
}

// ReadFast reads n bytes starting at addr using the fast-read opcode, which
// adds a dummy byte after the address in exchange for a higher clock rate.
func (fl *Flash) ReadFast(addr uint32, n int) ([]byte, error) {
	cmd := append([]byte{opReadFast}, address24(addr)...)
	cmd = append(cmd, 0x00)
	cmd = append(cmd, make([]byte, n)...)
	got, err := fl.f.XferSPI(cmd)
	if err != nil {
		return nil, err
	}
	return got[5:], nil
}

// ReadStatus2 reads status register 2.
func (fl *Flash) ReadStatus2() (byte, error) {
	got, err := fl.f.XferSPI([]byte{opReadStatus2, 0x00})
	if err != nil {
		return 0, err
	}
	return got[1], nil
}

// WriteStatus1 writes status register 1, e.g. to clear block-protect bits
// left set by a previous session (spec.md §4.E core opcode set).
func (fl *Flash) WriteStatus1(sr1 byte) error {
	if err := fl.writeEnable(); err != nil {
		return err
	}
	return fl.f.SendSPI([]byte{opWriteStatus1, sr1})
}

// Reset issues the enable-reset/reset opcode pair, restoring the flash to
// its power-on default state without toggling CRESET.
func (fl *Flash) Reset() error {
	if err := fl.f.SendSPI([]byte{opEnableReset}); err != nil {
		return err
	}
	return fl.f.SendSPI([]byte{opReset})
}

func (fl *Flash) powerDownPostamble() error {
	if err := fl.f.SendSPI([]byte{opPowerDown}); err != nil {
		return err
	}
	if err := fl.SetGPIO(true, true); err != nil {
		return err
	}
	time.Sleep(250 * time.Millisecond)
	return nil
}

// Erase bulk-erases the entire flash chip (spec.md §4.E "Erase").
func (fl *Flash) Erase() error {
	if _, err := fl.powerUpPreamble(); err != nil {
		return err
	}
	if err := fl.writeEnable(); err != nil {
		return err
	}
	if err := fl.f.SendSPI([]byte{opBulkErase}); err != nil {
		return err
	}
	if err := fl.flashWait(); err != nil {
		return err
	}
	return fl.powerDownPostamble()
}

// Write programs image starting at rwOffset, erasing every 64KiB sector the
// write touches first (spec.md §4.E "Write image").
func (fl *Flash) Write(image []byte, rwOffset uint32) error {
	if _, err := fl.powerUpPreamble(); err != nil {
		return err
	}

	begin := rwOffset &^ 0xFFFF
	end := (rwOffset + uint32(len(image)) + 0xFFFF) &^ 0xFFFF
	for addr := begin; addr < end; addr += sectorSize {
		if err := fl.writeEnable(); err != nil {
			return err
		}
		cmd := append([]byte{opSectorErase}, address24(addr)...)
		if err := fl.f.SendSPI(cmd); err != nil {
			return err
		}
		if err := fl.flashWait(); err != nil {
			return err
		}
	}

	offset := 0
	for offset < len(image) {
		addr := rwOffset + uint32(offset)
		room := pageSize - int((rwOffset+uint32(offset))%pageSize)
		chunk := len(image) - offset
		if chunk > room {
			chunk = room
		}
		if err := fl.writeEnable(); err != nil {
			return err
		}
		cmd := append([]byte{opPageProgram}, address24(addr)...)
		cmd = append(cmd, image[offset:offset+chunk]...)
		if err := fl.f.SendSPI(cmd); err != nil {
			return err
		}
		if err := fl.flashWait(); err != nil {
			return err
		}
		offset += chunk
	}

	return fl.powerDownPostamble()
}
