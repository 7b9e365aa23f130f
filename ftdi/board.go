// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import "fmt"

// BoardKind identifies which Alchitry board a bridge is attached to, read
// from the bridge's EEPROM Description string (component F, spec.md §3).
type BoardKind int

const (
	BoardUnknown BoardKind = iota
	BoardAu                // Alchitry Au: Xilinx Artix-7 over JTAG.
	BoardCu                // Alchitry Cu: Lattice iCE40 over SPI.
)

func (k BoardKind) String() string {
	switch k {
	case BoardAu:
		return "au"
	case BoardCu:
		return "cu"
	default:
		return "unknown"
	}
}

// classify maps a bridge's EEPROM description string to a board kind, per
// Alchitry_Loader.cpp's desciptionToType (spec.md §6: exact match on
// "Alchitry Au A" / "Alchitry Cu A").
func classify(desc string) BoardKind {
	switch desc {
	case "Alchitry Au A":
		return BoardAu
	case "Alchitry Cu A":
		return BoardCu
	default:
		return BoardUnknown
	}
}

// Board describes one enumerated, unopened bridge.
type Board struct {
	Index       int
	Kind        BoardKind
	Description string
}

// List enumerates every attached bridge and classifies it, opening and
// closing each one in turn to read its EEPROM description. A device that
// fails to open is reported with BoardUnknown rather than aborting the scan.
func List() ([]Board, error) {
	num, err := numDevices()
	if err != nil {
		return nil, err
	}
	boards := make([]Board, 0, num)
	for i := 0; i < num; i++ {
		b := Board{Index: i}
		d, err := Open(i)
		if err != nil {
			boards = append(boards, b)
			continue
		}
		ee := &EEPROM{}
		if err := d.ReadEEPROM(ee); err == nil {
			b.Description = ee.Desc
			b.Kind = classify(ee.Desc)
		}
		_ = d.Close()
		boards = append(boards, b)
	}
	return boards, nil
}

// FindFirstOfKind returns the index of the first attached bridge classified
// as kind, or an error if none is present.
func FindFirstOfKind(kind BoardKind) (int, error) {
	boards, err := List()
	if err != nil {
		return 0, err
	}
	for _, b := range boards {
		if b.Kind == kind {
			return b.Index, nil
		}
	}
	return 0, fmt.Errorf("ftdi: no %s board found", kind)
}
