// Command alchitry-loader programs the Alchitry Au (Xilinx Artix-7) and Cu
// (Lattice iCE40) FPGA boards through their on-board FT2232H USB-to-MPSSE
// bridge: loading bitstreams into configuration RAM or SPI flash, erasing
// flash, and reprogramming the bridge's own configuration EEPROM.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"periph.io/x/conn/v3/physic"

	"github.com/alchitry/alchitry-loader/au"
	"github.com/alchitry/alchitry-loader/cu"
	"github.com/alchitry/alchitry-loader/ftdi"
	"github.com/alchitry/alchitry-loader/jtag"

	host "github.com/alchitry/alchitry-loader"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: alchitry-loader [flags]

Flags:
  -e          Erase FPGA flash
  -f PATH     Write PATH to FPGA flash
  -r PATH     Write PATH to FPGA RAM (Au only)
  -u PATH     Program bridge EEPROM from PATH
  -d PATH     Dump bridge EEPROM to PATH
  -p PATH     Au bridge bitstream (required for -e/-f/-s on Au)
  -b N        Select device index N (default: first of requested kind)
  -t au|cu    Board kind (default au)
  -i          Check Au IDCODE before any other Au operation
  -s          Report flash status through the Au bridge bitstream, then exit
  -l          List devices
  -h          Print this help
`)
}

func fatalUsage(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	usage()
	os.Exit(1)
}

func fatal(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(2)
}

func main() {
	var (
		erase       = flag.Bool("e", false, "erase FPGA flash")
		flashPath   = flag.String("f", "", "write PATH to FPGA flash")
		ramPath     = flag.String("r", "", "write PATH to FPGA RAM (Au only)")
		eepromPath  = flag.String("u", "", "program bridge EEPROM from PATH")
		dumpPath    = flag.String("d", "", "dump bridge EEPROM to PATH")
		bridgePath  = flag.String("p", "", "Au bridge bitstream")
		index       = flag.Int("b", -1, "select device index (default: first of requested kind)")
		kindFlag    = flag.String("t", "au", "board kind: au or cu")
		checkIDCODE = flag.Bool("i", false, "check Au IDCODE before any other Au operation")
		flashStatus = flag.Bool("s", false, "report flash status through the Au bridge bitstream, then exit")
		list        = flag.Bool("l", false, "list devices")
		help        = flag.Bool("h", false, "print help")
	)
	flag.Usage = usage
	flag.Parse()

	if *help {
		usage()
		os.Exit(0)
	}

	if _, err := host.Init(); err != nil {
		fatal("host initialization failed: %v", err)
	}

	if *list {
		boards, err := ftdi.List()
		if err != nil {
			fatal("enumeration failed: %v", err)
		}
		for _, b := range boards {
			fmt.Printf("%d: %s (%s)\n", b.Index, b.Description, b.Kind)
		}
		os.Exit(0)
	}

	var kind ftdi.BoardKind
	switch *kindFlag {
	case "au":
		kind = ftdi.BoardAu
	case "cu":
		kind = ftdi.BoardCu
	default:
		fatalUsage("unknown board kind %q", *kindFlag)
	}

	if !*erase && *flashPath == "" && *ramPath == "" && *eepromPath == "" && *dumpPath == "" && !*flashStatus {
		fatalUsage("no action selected: specify at least one of -e, -f, -r, -u, -d, -s")
	}
	if kind == ftdi.BoardCu && *ramPath != "" {
		fatalUsage("-r is not supported on the Cu board")
	}
	if kind == ftdi.BoardAu && (*erase || *flashPath != "" || *flashStatus) && *bridgePath == "" {
		fatalUsage("-p (bridge bitstream) is required for -e/-f/-s on the Au board")
	}

	idx := *index
	if idx < 0 {
		found, err := ftdi.FindFirstOfKind(kind)
		if err != nil {
			fatal("%v", err)
		}
		idx = found
	}

	if *eepromPath != "" {
		if err := programEEPROM(idx, *eepromPath); err != nil {
			fatal("EEPROM programming failed: %v", err)
		}
	}
	if *dumpPath != "" {
		if err := dumpEEPROM(idx, *dumpPath); err != nil {
			fatal("EEPROM dump failed: %v", err)
		}
	}

	switch kind {
	case ftdi.BoardAu:
		if err := runAu(idx, *erase, *flashPath, *ramPath, *bridgePath, *checkIDCODE, *flashStatus); err != nil {
			fatal("%v", err)
		}
	case ftdi.BoardCu:
		if err := runCu(idx, *erase, *flashPath); err != nil {
			var abortErr *cu.AbortError
			if errors.As(err, &abortErr) {
				fmt.Fprintln(os.Stderr, "ABORT.")
				os.Exit(2)
			}
			fatal("%v", err)
		}
	}
}

func programEEPROM(index int, path string) error {
	cfg, err := ftdi.LoadConfigFile(path)
	if err != nil {
		return err
	}
	d, err := ftdi.Open(index)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Init(ftdi.ProfileJTAG); err != nil {
		return err
	}
	vendor, product := d.VendorProduct()
	return d.WriteEEPROM(cfg.ToEEPROM(vendor, product))
}

func dumpEEPROM(index int, path string) error {
	d, err := ftdi.Open(index)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Init(ftdi.ProfileJTAG); err != nil {
		return err
	}
	ee := &ftdi.EEPROM{}
	if err := d.ReadEEPROM(ee); err != nil {
		return err
	}
	return ftdi.SaveConfigFile(path, ftdi.FromEEPROM(ee))
}

func runAu(index int, erase bool, flashPath, ramPath, bridgePath string, checkIDCODE, flashStatus bool) error {
	if !erase && flashPath == "" && ramPath == "" && !flashStatus {
		return nil
	}
	d, err := ftdi.Open(index)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Init(ftdi.ProfileJTAG); err != nil {
		return err
	}

	drv := jtag.NewDriver(d)
	loader := au.NewLoader(drv)

	if checkIDCODE {
		if err := loader.CheckIDCODE(); err != nil {
			return fmt.Errorf("IDCODE check failed: %w", err)
		}
	}

	var bridgeBin []byte
	if bridgePath != "" {
		bridgeBin, err = os.ReadFile(bridgePath)
		if err != nil {
			return err
		}
	}

	if flashStatus {
		if len(bridgeBin) == 0 {
			return fmt.Errorf("-s requires -p (bridge bitstream)")
		}
		if err := loader.LoadBin(bridgeBin); err != nil {
			return fmt.Errorf("bridge load failed: %w", err)
		}
		status, err := loader.FlashStatus()
		if err != nil {
			return fmt.Errorf("flash status read failed: %w", err)
		}
		fmt.Printf("flash status register 1: %#02x\n", status)
		return nil
	}

	if erase {
		if err := loader.EraseFlash(bridgeBin); err != nil {
			return fmt.Errorf("erase failed: %w", err)
		}
	}
	if flashPath != "" {
		file, err := os.ReadFile(flashPath)
		if err != nil {
			return err
		}
		if err := loader.WriteBin(file, true, bridgeBin); err != nil {
			return fmt.Errorf("flash write failed: %w", err)
		}
	}
	if ramPath != "" {
		file, err := os.ReadFile(ramPath)
		if err != nil {
			return err
		}
		if err := loader.WriteBin(file, false, nil); err != nil {
			return fmt.Errorf("RAM write failed: %w", err)
		}
	}
	return nil
}

func runCu(index int, erase bool, flashPath string) error {
	if !erase && flashPath == "" {
		return nil
	}
	d, err := ftdi.Open(index)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Init(ftdi.ProfileSPI); err != nil {
		return err
	}
	if err := d.SetFreq(30 * physic.MegaHertz); err != nil {
		return err
	}

	fl := cu.NewFlash(d)
	fl.Logf = func(format string, a ...interface{}) {
		fmt.Printf(format+"\n", a...)
	}

	if erase {
		if err := fl.Erase(); err != nil {
			return fmt.Errorf("erase failed: %w", err)
		}
	}
	if flashPath != "" {
		image, err := os.ReadFile(flashPath)
		if err != nil {
			return err
		}
		if err := fl.Write(image, 0); err != nil {
			return fmt.Errorf("flash write failed: %w", err)
		}
	}
	return nil
}
