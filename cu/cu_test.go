package cu

import (
	"errors"
	"testing"
)

// fakeFramer simulates a flash chip that reports BUSY clear after a fixed
// number of status reads, so flashWait's two-read debounce can be exercised
// deterministically.
type fakeFramer struct {
	gpioValue, gpioDir byte
	lowGPIO            byte
	sent               [][]byte
	statusReadsLeftBusy int
}

func (f *fakeFramer) SetLowGPIO(value, dir byte) error {
	f.gpioValue, f.gpioDir = value, dir
	return nil
}
func (f *fakeFramer) ReadLowGPIO() (byte, error) { return f.lowGPIO, nil }
func (f *fakeFramer) SendSPI(data []byte) error {
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}
func (f *fakeFramer) XferSPI(data []byte) ([]byte, error) {
	f.sent = append(f.sent, append([]byte(nil), data...))
	out := make([]byte, len(data))
	if len(data) > 0 && data[0] == opReadStatus1 {
		if f.statusReadsLeftBusy > 0 {
			f.statusReadsLeftBusy--
			out[1] = 0x01
		}
		return out, nil
	}
	if len(data) > 0 && data[0] == opReadJEDECID {
		out[1], out[2], out[3], out[4] = 0xEF, 0x40, 0x18, 0xFF
		return out, nil
	}
	return out, nil
}
func (f *fakeFramer) XferSPIBits(b byte, nbits int) (byte, error) { return 0, nil }

func TestSetGPIOCombinesBits(t *testing.T) {
	f := &fakeFramer{}
	fl := NewFlash(f)
	if err := fl.SetGPIO(true, true); err != nil {
		t.Fatal(err)
	}
	if f.gpioValue != bitCS|bitCRESET {
		t.Fatalf("gpioValue = %#x, want %#x", f.gpioValue, bitCS|bitCRESET)
	}
	if f.gpioDir != gpioDir {
		t.Fatalf("gpioDir = %#x, want %#x", f.gpioDir, gpioDir)
	}
}

func TestFlashWaitDebouncesBusy(t *testing.T) {
	f := &fakeFramer{statusReadsLeftBusy: 3}
	fl := NewFlash(f)
	if err := fl.flashWait(); err != nil {
		t.Fatal(err)
	}
}

func TestEraseIssuesBulkErase(t *testing.T) {
	f := &fakeFramer{}
	fl := NewFlash(f)
	if err := fl.Erase(); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, s := range f.sent {
		if len(s) > 0 && s[0] == opBulkErase {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a bulk-erase command")
	}
}

func TestWriteErasesTouchedSectorsAndProgramsPages(t *testing.T) {
	f := &fakeFramer{}
	fl := NewFlash(f)
	image := make([]byte, 300) // spans a page boundary
	for i := range image {
		image[i] = byte(i)
	}
	if err := fl.Write(image, 0); err != nil {
		t.Fatal(err)
	}
	var erases, programs int
	for _, s := range f.sent {
		if len(s) == 0 {
			continue
		}
		switch s[0] {
		case opSectorErase:
			erases++
		case opPageProgram:
			programs++
		}
	}
	if erases == 0 {
		t.Fatal("expected at least one sector erase")
	}
	if programs < 2 {
		t.Fatalf("expected a 300-byte image to span at least 2 pages, got %d page-program commands", programs)
	}
}

func TestWriteStatus1SendsValue(t *testing.T) {
	f := &fakeFramer{}
	fl := NewFlash(f)
	if err := fl.WriteStatus1(0x00); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, s := range f.sent {
		if len(s) >= 2 && s[0] == opWriteStatus1 && s[1] == 0x00 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a write-status-register-1(0) command")
	}
}

func TestReadManufacturerID(t *testing.T) {
	f := &fakeFramer{}
	fl := NewFlash(f)
	if _, _, err := fl.ReadManufacturerID(); err != nil {
		t.Fatal(err)
	}
}

func TestReadUniqueID(t *testing.T) {
	f := &fakeFramer{}
	fl := NewFlash(f)
	id, err := fl.ReadUniqueID()
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 8 {
		t.Fatalf("ReadUniqueID returned %d bytes, want 8", len(id))
	}
}

func TestReset(t *testing.T) {
	f := &fakeFramer{}
	fl := NewFlash(f)
	if err := fl.Reset(); err != nil {
		t.Fatal(err)
	}
	var sawEnable, sawReset bool
	for _, s := range f.sent {
		if len(s) > 0 && s[0] == opEnableReset {
			sawEnable = true
		}
		if len(s) > 0 && s[0] == opReset {
			sawReset = true
		}
	}
	if !sawEnable || !sawReset {
		t.Fatal("expected both the enable-reset and reset opcodes to be sent")
	}
}

type failingFramer struct{ fakeFramer }

func (f *failingFramer) SendSPI(data []byte) error { return errors.New("bulk transfer failed") }

func TestTransportFailureReportsAbortError(t *testing.T) {
	fl := NewFlash(&failingFramer{})
	err := fl.Erase()
	if err == nil {
		t.Fatal("expected an error")
	}
	var abortErr *AbortError
	if !errors.As(err, &abortErr) {
		t.Fatalf("Erase() error = %v, want an *AbortError", err)
	}
}

func TestLogfReceivesCDONE(t *testing.T) {
	f := &fakeFramer{lowGPIO: bitCDONE}
	fl := NewFlash(f)
	var got string
	fl.Logf = func(format string, args ...interface{}) {
		got = format
	}
	if _, err := fl.powerUpPreamble(); err != nil {
		t.Fatal(err)
	}
	if got == "" {
		t.Fatal("expected Logf to be called")
	}
}
