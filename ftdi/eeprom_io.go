// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"

	"periph.io/x/d2xx"
)

// ReadEEPROM reads the bridge's EEPROM (spec.md §6, `-d`).
func (d *Device) ReadEEPROM(ee *EEPROM) error {
	eepromSize := d.t.EEPROMSize()
	if len(ee.Raw) != eepromSize {
		ee.Raw = make([]byte, eepromSize)
	}
	ee2 := d2xx.EEPROM{Raw: ee.Raw}
	e := d.h.EEPROMRead(uint32(d.t), &ee2)
	ee.Manufacturer = ee2.Manufacturer
	ee.ManufacturerID = ee2.ManufacturerID
	ee.Desc = ee2.Desc
	ee.Serial = ee2.Serial
	if e != 0 {
		// 15 == FT_EEPROM_NOT_PROGRAMMED: treat as a blank-but-valid EEPROM.
		if e != 15 {
			return toErr("EEPROMRead", e)
		}
		ee.Raw = make([]byte, eepromSize)
		hdr := ee.AsHeader()
		hdr.DeviceType = d.t
		hdr.VendorID = d.venID
		hdr.ProductID = d.devID
	}
	return nil
}

// WriteEEPROM programs the bridge's EEPROM (spec.md §6, `-u`).
func (d *Device) WriteEEPROM(ee *EEPROM) error {
	if err := ee.Validate(); err != nil {
		return err
	}
	if len(ee.Raw) != 0 {
		hdr := ee.AsHeader()
		if hdr == nil {
			return errors.New("ftdi: unexpected EEPROM header size")
		}
		if hdr.VendorID != d.venID || hdr.ProductID != d.devID {
			return errors.New("ftdi: EEPROM image does not match the attached bridge's vendor/product ID")
		}
	}
	ee2 := d2xx.EEPROM{
		Raw:            ee.Raw,
		Manufacturer:   ee.Manufacturer,
		ManufacturerID: ee.ManufacturerID,
		Desc:           ee.Desc,
		Serial:         ee.Serial,
	}
	return toErr("EEPROMProgram", d.h.EEPROMProgram(&ee2))
}
