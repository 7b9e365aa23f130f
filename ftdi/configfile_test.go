// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import "testing"

func sampleConfigFile() *ConfigFile {
	c := &ConfigFile{
		Signature1: 0x00000000,
		Signature2: 0xFFFFFFFF,
		Version:    3,

		VendorID:  0x0403,
		ProductID: 0x6010,
		MaxPower:  500,

		PullDownEnable7: 1,
		SerNumEnable7:   1,
		ALDriveCurrent:  8,
		BHDriveCurrent:  8,
		IFAIsFifo7:      0,
		AIsVCP7:         1,
		BIsVCP7:         1,
		PowerSaveEnable: 0,

		Manufacturer:   "Alchitry",
		ManufacturerID: "ALCH",
		Description:    "Alchitry Au",
		SerialNumber:   "AU0001",
	}
	return c
}

// A record written by Marshal must read back byte-identical: the on-disk
// format is the actual contract with the bridge programming tool, so a
// round-trip mismatch means the wire layout is wrong.
func TestConfigFileRoundTrip(t *testing.T) {
	want := sampleConfigFile()
	b, err := want.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != configFileSize {
		t.Fatalf("Marshal produced %d bytes, want %d", len(b), configFileSize)
	}

	got := &ConfigFile{}
	if err := got.Unmarshal(b); err != nil {
		t.Fatal(err)
	}
	if *got != *want {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, want)
	}

	// Encoding the decoded record must reproduce the exact same bytes.
	b2, err := got.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != string(b2) {
		t.Fatal("re-marshaling the decoded record produced different bytes")
	}
}

func TestConfigFileUnmarshalRejectsBadSignature(t *testing.T) {
	c := sampleConfigFile()
	b, err := c.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	b[0] = 0x01 // corrupt Signature1

	got := &ConfigFile{}
	if err := got.Unmarshal(b); err == nil {
		t.Fatal("expected a signature mismatch error")
	}
}

func TestConfigFileUnmarshalRejectsWrongLength(t *testing.T) {
	c := &ConfigFile{}
	if err := c.Unmarshal([]byte{0, 1, 2}); err == nil {
		t.Fatal("expected a length error")
	}
}

// ToEEPROM/FromEEPROM must agree on the fields they share, so a dumped
// EEPROM file re-programmed onto another bridge reproduces its settings.
func TestConfigFileToFromEEPROM(t *testing.T) {
	c := sampleConfigFile()
	ee := c.ToEEPROM(0x0403, 0x6014)

	back := FromEEPROM(ee)
	if back.VendorID != 0x0403 || back.ProductID != 0x6014 {
		t.Fatalf("VendorID/ProductID = %#x/%#x, want 0x0403/0x6014", back.VendorID, back.ProductID)
	}
	if back.MaxPower != c.MaxPower {
		t.Fatalf("MaxPower = %d, want %d", back.MaxPower, c.MaxPower)
	}
	if back.PullDownEnable7 != c.PullDownEnable7 || back.SerNumEnable7 != c.SerNumEnable7 {
		t.Fatal("PullDownEnable7/SerNumEnable7 did not round-trip")
	}
	if back.ALDriveCurrent != c.ALDriveCurrent || back.BHDriveCurrent != c.BHDriveCurrent {
		t.Fatal("drive-current fields did not round-trip")
	}
	if back.AIsVCP7 != c.AIsVCP7 || back.BIsVCP7 != c.BIsVCP7 {
		t.Fatal("VCP driver-type fields did not round-trip")
	}
	if back.Manufacturer != c.Manufacturer || back.Description != c.Description || back.SerialNumber != c.SerialNumber {
		t.Fatal("string fields did not round-trip")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		desc string
		want BoardKind
	}{
		{"Alchitry Au A", BoardAu},
		{"Alchitry Cu A", BoardCu},
		{"Alchitry Au", BoardUnknown},
		{"Alchitry Cu", BoardUnknown},
		{"Some Other Device", BoardUnknown},
		{"", BoardUnknown},
	}
	for _, c := range cases {
		if got := classify(c.desc); got != c.want {
			t.Errorf("classify(%q) = %s, want %s", c.desc, got, c.want)
		}
	}
}
