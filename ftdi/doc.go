// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ftdi drives the FT2232H USB-to-MPSSE bridge chip found on the
// Alchitry Au and Cu boards: opening and resetting the bulk USB channel,
// switching it into MPSSE mode, and framing the low-level JTAG and SPI
// opcodes the jtag and cu packages build programming sequences from. It
// also reads and writes the chip's configuration EEPROM, which is how
// boards self-identify during enumeration.
//
// # Datasheets
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT2232H.pdf
//
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_135_MPSSE_Basics.pdf
package ftdi
