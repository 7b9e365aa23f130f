// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
)

// ConfigFile is the on-disk layout `-u`/`-d` read and write (spec.md §6): a
// 220-byte fixed record mirroring FTDI's own FT_PROGRAM_DATA/CONFIG_DATA
// structure, immediately followed by four NUL-padded string buffers
// (Manufacturer 32, ManufacturerID 16, Description 64, SerialNumber 16).
//
// Only the header and the FT2232H (Rev7) extension fields are meaningful for
// this bridge; the Rev4/5/6/8/9 fields exist purely so a file produced by the
// original tool against any FTDI part round-trips byte for byte.
type ConfigFile struct {
	Signature1 uint32 // must be 0x00000000
	Signature2 uint32 // must be 0xFFFFFFFF
	Version    uint32 // 5 == FT232H extensions; this bridge always writes 3 (FT2232H)

	VendorID     uint16
	ProductID    uint16
	MaxPower     uint16
	PnP          uint16
	SelfPowered  uint16
	RemoteWakeup uint16

	// Rev4 (FT232B)
	Rev4             uint8
	IsoIn            uint8
	IsoOut           uint8
	PullDownEnable   uint8
	SerNumEnable     uint8
	USBVersionEnable uint8
	USBVersion       uint16

	// Rev5 (FT2232)
	Rev5              uint8
	IsoInA            uint8
	IsoInB            uint8
	IsoOutA           uint8
	IsoOutB           uint8
	PullDownEnable5   uint8
	SerNumEnable5     uint8
	USBVersionEnable5 uint8
	USBVersion5       uint16
	AIsHighCurrent    uint8
	BIsHighCurrent    uint8
	IFAIsFifo         uint8
	IFAIsFifoTar      uint8
	IFAIsFastSer      uint8
	AIsVCP            uint8
	IFBIsFifo         uint8
	IFBIsFifoTar      uint8
	IFBIsFastSer      uint8
	BIsVCP            uint8

	// Rev6 (FT232R)
	UseExtOsc      uint8
	HighDriveIOs   uint8
	EndpointSize   uint8
	PullDownEnableR uint8
	SerNumEnableR  uint8
	InvertTXD      uint8
	InvertRXD      uint8
	InvertRTS      uint8
	InvertCTS      uint8
	InvertDTR      uint8
	InvertDSR      uint8
	InvertDCD      uint8
	InvertRI       uint8
	Cbus0R         uint8
	Cbus1R         uint8
	Cbus2R         uint8
	Cbus3R         uint8
	Cbus4R         uint8
	RIsD2XX        uint8

	// Rev7 (FT2232H) -- the fields this bridge actually uses.
	PullDownEnable7 uint8
	SerNumEnable7   uint8
	ALSlowSlew      uint8
	ALSchmittInput  uint8
	ALDriveCurrent  uint8
	AHSlowSlew      uint8
	AHSchmittInput  uint8
	AHDriveCurrent  uint8
	BLSlowSlew      uint8
	BLSchmittInput  uint8
	BLDriveCurrent  uint8
	BHSlowSlew      uint8
	BHSchmittInput  uint8
	BHDriveCurrent  uint8
	IFAIsFifo7      uint8
	IFAIsFifoTar7   uint8
	IFAIsFastSer7   uint8
	AIsVCP7         uint8
	IFBIsFifo7      uint8
	IFBIsFifoTar7   uint8
	IFBIsFastSer7   uint8
	BIsVCP7         uint8
	PowerSaveEnable uint8

	// Rev8 (FT4232H)
	PullDownEnable8 uint8
	SerNumEnable8   uint8
	ASlowSlew       uint8
	ASchmittInput   uint8
	ADriveCurrent   uint8
	BSlowSlew       uint8
	BSchmittInput   uint8
	BDriveCurrent   uint8
	CSlowSlew       uint8
	CSchmittInput   uint8
	CDriveCurrent   uint8
	DSlowSlew       uint8
	DSchmittInput   uint8
	DDriveCurrent   uint8
	ARIIsTXDEN      uint8
	BRIIsTXDEN      uint8
	CRIIsTXDEN      uint8
	DRIIsTXDEN      uint8
	AIsVCP8         uint8
	BIsVCP8         uint8
	CIsVCP8         uint8
	DIsVCP8         uint8

	// Rev9 (FT232H)
	PullDownEnableH   uint8
	SerNumEnableH     uint8
	ACSlowSlewH       uint8
	ACSchmittInputH   uint8
	ACDriveCurrentH   uint8
	ADSlowSlewH       uint8
	ADSchmittInputH   uint8
	ADDriveCurrentH   uint8
	Cbus0H            uint8
	Cbus1H            uint8
	Cbus2H            uint8
	Cbus3H            uint8
	Cbus4H            uint8
	Cbus5H            uint8
	Cbus6H            uint8
	Cbus7H            uint8
	Cbus8H            uint8
	Cbus9H            uint8
	IsFifoH           uint8
	IsFifoTarH        uint8
	IsFastSerH        uint8
	IsFT1248H         uint8
	FT1248CpolH       uint8
	FT1248LsbH        uint8
	FT1248FlowControlH uint8
	IsVCPH            uint8
	PowerSaveEnableH  uint8

	Manufacturer   string
	ManufacturerID string
	Description    string
	SerialNumber   string
}

const (
	configFileRecordSize = 220
	manufacturerSize     = 32
	manufacturerIDSize   = 16
	descriptionSize      = 64
	serialNumberSize     = 16
	configFileSize       = configFileRecordSize + manufacturerSize + manufacturerIDSize + descriptionSize + serialNumberSize
)

// fields lists every struct field in on-disk order, tagged with its encoded
// width, so the record can be walked without relying on Go's own (possibly
// padded) struct layout.
func (c *ConfigFile) fields() []interface{} {
	return []interface{}{
		&c.Signature1, &c.Signature2, &c.Version,
		&c.VendorID, &c.ProductID, &c.MaxPower, &c.PnP, &c.SelfPowered, &c.RemoteWakeup,
		&c.Rev4, &c.IsoIn, &c.IsoOut, &c.PullDownEnable, &c.SerNumEnable, &c.USBVersionEnable, &c.USBVersion,
		&c.Rev5, &c.IsoInA, &c.IsoInB, &c.IsoOutA, &c.IsoOutB, &c.PullDownEnable5, &c.SerNumEnable5, &c.USBVersionEnable5, &c.USBVersion5,
		&c.AIsHighCurrent, &c.BIsHighCurrent, &c.IFAIsFifo, &c.IFAIsFifoTar, &c.IFAIsFastSer, &c.AIsVCP,
		&c.IFBIsFifo, &c.IFBIsFifoTar, &c.IFBIsFastSer, &c.BIsVCP,
		&c.UseExtOsc, &c.HighDriveIOs, &c.EndpointSize, &c.PullDownEnableR, &c.SerNumEnableR,
		&c.InvertTXD, &c.InvertRXD, &c.InvertRTS, &c.InvertCTS, &c.InvertDTR, &c.InvertDSR, &c.InvertDCD, &c.InvertRI,
		&c.Cbus0R, &c.Cbus1R, &c.Cbus2R, &c.Cbus3R, &c.Cbus4R, &c.RIsD2XX,
		&c.PullDownEnable7, &c.SerNumEnable7,
		&c.ALSlowSlew, &c.ALSchmittInput, &c.ALDriveCurrent, &c.AHSlowSlew, &c.AHSchmittInput, &c.AHDriveCurrent,
		&c.BLSlowSlew, &c.BLSchmittInput, &c.BLDriveCurrent, &c.BHSlowSlew, &c.BHSchmittInput, &c.BHDriveCurrent,
		&c.IFAIsFifo7, &c.IFAIsFifoTar7, &c.IFAIsFastSer7, &c.AIsVCP7,
		&c.IFBIsFifo7, &c.IFBIsFifoTar7, &c.IFBIsFastSer7, &c.BIsVCP7, &c.PowerSaveEnable,
		&c.PullDownEnable8, &c.SerNumEnable8,
		&c.ASlowSlew, &c.ASchmittInput, &c.ADriveCurrent, &c.BSlowSlew, &c.BSchmittInput, &c.BDriveCurrent,
		&c.CSlowSlew, &c.CSchmittInput, &c.CDriveCurrent, &c.DSlowSlew, &c.DSchmittInput, &c.DDriveCurrent,
		&c.ARIIsTXDEN, &c.BRIIsTXDEN, &c.CRIIsTXDEN, &c.DRIIsTXDEN,
		&c.AIsVCP8, &c.BIsVCP8, &c.CIsVCP8, &c.DIsVCP8,
		&c.PullDownEnableH, &c.SerNumEnableH,
		&c.ACSlowSlewH, &c.ACSchmittInputH, &c.ACDriveCurrentH, &c.ADSlowSlewH, &c.ADSchmittInputH, &c.ADDriveCurrentH,
		&c.Cbus0H, &c.Cbus1H, &c.Cbus2H, &c.Cbus3H, &c.Cbus4H, &c.Cbus5H, &c.Cbus6H, &c.Cbus7H, &c.Cbus8H, &c.Cbus9H,
		&c.IsFifoH, &c.IsFifoTarH, &c.IsFastSerH, &c.IsFT1248H,
		&c.FT1248CpolH, &c.FT1248LsbH, &c.FT1248FlowControlH, &c.IsVCPH, &c.PowerSaveEnableH,
	}
}

// Marshal encodes the record to its exact 220+32+16+64+16 byte wire layout.
func (c *ConfigFile) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range c.fields() {
		if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	if buf.Len() != configFileRecordSize {
		return nil, errors.New("ftdi: config record encoded to unexpected size")
	}
	buf.Write(fixedString(c.Manufacturer, manufacturerSize))
	buf.Write(fixedString(c.ManufacturerID, manufacturerIDSize))
	buf.Write(fixedString(c.Description, descriptionSize))
	buf.Write(fixedString(c.SerialNumber, serialNumberSize))
	return buf.Bytes(), nil
}

// Unmarshal decodes a buffer produced by Marshal.
func (c *ConfigFile) Unmarshal(b []byte) error {
	if len(b) != configFileSize {
		return errors.New("ftdi: config file has unexpected size")
	}
	r := bytes.NewReader(b[:configFileRecordSize])
	for _, f := range c.fields() {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	if c.Signature1 != 0x00000000 || c.Signature2 != 0xFFFFFFFF {
		return errors.New("ftdi: config file signature mismatch")
	}
	off := configFileRecordSize
	c.Manufacturer = trimFixedString(b[off : off+manufacturerSize])
	off += manufacturerSize
	c.ManufacturerID = trimFixedString(b[off : off+manufacturerIDSize])
	off += manufacturerIDSize
	c.Description = trimFixedString(b[off : off+descriptionSize])
	off += descriptionSize
	c.SerialNumber = trimFixedString(b[off : off+serialNumberSize])
	return nil
}

func fixedString(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

func trimFixedString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// ToEEPROM maps the Rev7 extension fields onto the wire-format EEPROMFT2232H
// record this bridge's d2xx handle actually reads and writes.
func (c *ConfigFile) ToEEPROM(venID, devID uint16) *EEPROM {
	raw := make([]byte, DevTypeFT2232H.EEPROMSize())
	ee := &EEPROM{
		Raw:            raw,
		Manufacturer:   c.Manufacturer,
		ManufacturerID: c.ManufacturerID,
		Desc:           c.Description,
		Serial:         c.SerialNumber,
	}
	h := ee.AsFT2232H()
	h.DeviceType = DevTypeFT2232H
	h.VendorID = venID
	h.ProductID = devID
	h.MaxPower = c.MaxPower
	h.SelfPowered = uint8(c.SelfPowered)
	h.RemoteWakeup = uint8(c.RemoteWakeup)
	h.PullDownEnable = c.PullDownEnable7
	h.SerNumEnable = c.SerNumEnable7
	h.ALSlowSlew = c.ALSlowSlew
	h.ALSchmittInput = c.ALSchmittInput
	h.ALDriveCurrent = c.ALDriveCurrent
	h.AHSlowSlew = c.AHSlowSlew
	h.AHSchmittInput = c.AHSchmittInput
	h.AHDriveCurrent = c.AHDriveCurrent
	h.BLSlowSlew = c.BLSlowSlew
	h.BLSchmittInput = c.BLSchmittInput
	h.BLDriveCurrent = c.BLDriveCurrent
	h.BHSlowSlew = c.BHSlowSlew
	h.BHSchmittInput = c.BHSchmittInput
	h.BHDriveCurrent = c.BHDriveCurrent
	h.AIsFifo = c.IFAIsFifo7
	h.AIsFifoTar = c.IFAIsFifoTar7
	h.AIsFastSer = c.IFAIsFastSer7
	h.BIsFifo = c.IFBIsFifo7
	h.BIsFifoTar = c.IFBIsFifoTar7
	h.BIsFastSer = c.IFBIsFastSer7
	h.PowerSaveEnable = c.PowerSaveEnable
	h.ADriverType = boolToUint8(c.AIsVCP7 != 0)
	h.BDriverType = boolToUint8(c.BIsVCP7 != 0)
	return ee
}

// FromEEPROM fills the Rev7 extension fields (and header) from a bridge EEPROM
// that was just read off the device, leaving the unrelated Rev4/5/6/8/9
// fields zeroed; a freshly dumped file only ever describes an FT2232H.
func FromEEPROM(ee *EEPROM) *ConfigFile {
	h := ee.AsFT2232H()
	c := &ConfigFile{
		Signature1:     0x00000000,
		Signature2:     0xFFFFFFFF,
		Version:        3, // FT2232H extensions
		VendorID:       h.VendorID,
		ProductID:      h.ProductID,
		MaxPower:       h.MaxPower,
		SelfPowered:    uint16(h.SelfPowered),
		RemoteWakeup:   uint16(h.RemoteWakeup),
		PullDownEnable7: h.PullDownEnable,
		SerNumEnable7:   h.SerNumEnable,
		ALSlowSlew:      h.ALSlowSlew,
		ALSchmittInput:  h.ALSchmittInput,
		ALDriveCurrent:  h.ALDriveCurrent,
		AHSlowSlew:      h.AHSlowSlew,
		AHSchmittInput:  h.AHSchmittInput,
		AHDriveCurrent:  h.AHDriveCurrent,
		BLSlowSlew:      h.BLSlowSlew,
		BLSchmittInput:  h.BLSchmittInput,
		BLDriveCurrent:  h.BLDriveCurrent,
		BHSlowSlew:      h.BHSlowSlew,
		BHSchmittInput:  h.BHSchmittInput,
		BHDriveCurrent:  h.BHDriveCurrent,
		IFAIsFifo7:      h.AIsFifo,
		IFAIsFifoTar7:   h.AIsFifoTar,
		IFAIsFastSer7:   h.AIsFastSer,
		IFBIsFifo7:      h.BIsFifo,
		IFBIsFifoTar7:   h.BIsFifoTar,
		IFBIsFastSer7:   h.BIsFastSer,
		PowerSaveEnable: h.PowerSaveEnable,
		AIsVCP7:         boolToUint8(h.ADriverType != 0),
		BIsVCP7:         boolToUint8(h.BDriverType != 0),
		Manufacturer:    ee.Manufacturer,
		ManufacturerID:  ee.ManufacturerID,
		Description:     ee.Desc,
		SerialNumber:    ee.Serial,
	}
	return c
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// LoadConfigFile reads and decodes a bridge EEPROM image from disk, for `-u`.
func LoadConfigFile(path string) (*ConfigFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b := make([]byte, configFileSize)
	if _, err := io.ReadFull(f, b); err != nil {
		return nil, err
	}
	c := &ConfigFile{}
	if err := c.Unmarshal(b); err != nil {
		return nil, err
	}
	return c, nil
}

// SaveConfigFile encodes and writes a bridge EEPROM image to disk, for `-d`.
func SaveConfigFile(path string, c *ConfigFile) error {
	b, err := c.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
