package jtag

import "periph.io/x/conn/v3/physic"

// Driver is a JTAG TAP driver (component C): a Framer plus the TAP state it
// must always mirror (spec.md §3: "the JTAG driver holds a current state
// whose value must always equal the physical TAP state of the device").
type Driver struct {
	f     Framer
	State State
}

// NewDriver wraps f, a freshly configured MPSSE framer. The physical TAP is
// assumed to start in Test-Logic-Reset, matching the post-power-up/Init
// state of a JTAG target.
func NewDriver(f Framer) *Driver {
	return &Driver{f: f, State: TestLogicReset}
}

// Navigate drives TMS from the current state to 'to' along the shortest
// path, splitting into two frames when the path needs more than 7 TMS bits
// (a single MPSSE 0x4B frame carries at most 7 TMS bits: spec.md §4.C).
func (d *Driver) Navigate(to State) error {
	p := ShortestPath(d.State, to)
	if p.Moves == 0 {
		d.State = to
		return nil
	}
	if p.Moves <= 7 {
		if err := d.f.TMSOut(byte(p.TMS), p.Moves); err != nil {
			return err
		}
	} else {
		if err := d.f.TMSOut(byte(p.TMS&0x7F), 7); err != nil {
			return err
		}
		if err := d.f.TMSOut(byte((p.TMS>>7)&0x7F), p.Moves-7); err != nil {
			return err
		}
	}
	d.State = to
	return nil
}

// ShiftData clocks bitCount bits of tdi while the TAP is already positioned
// in Shift-DR or Shift-IR, leaving it in the corresponding Exit1 state. The
// caller is responsible for navigating there first (see au.Loader.ShiftDR).
func (d *Driver) ShiftData(bitCount int, tdi []byte, read bool) ([]byte, error) {
	got, err := shiftData(d.f, bitCount, tdi, read)
	if err != nil {
		return nil, err
	}
	switch d.State {
	case ShiftDR:
		d.State = Exit1DR
	case ShiftIR:
		d.State = Exit1IR
	}
	return got, nil
}

// SendClocks pulses the clock n times without shifting any TAP data.
func (d *Driver) SendClocks(n int) error {
	return d.f.SendClocks(n)
}

// SetFreq reprograms the JTAG clock rate.
func (d *Driver) SetFreq(freq physic.Frequency) error {
	return d.f.SetFreq(freq)
}

// ResetState forces the tracked state to Test-Logic-Reset by issuing five
// TMS=1 pulses directly rather than trusting the tracked state to compute a
// BFS path — five TMS=1 cycles reach Test-Logic-Reset from any physical TAP
// state, which is what makes this the recovery primitive after an aborted
// sequence (spec.md §4.D reset_state).
func (d *Driver) ResetState() error {
	if err := d.f.TMSOut(0x1F, 5); err != nil {
		return err
	}
	d.State = TestLogicReset
	return nil
}
