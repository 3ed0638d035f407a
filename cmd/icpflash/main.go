package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/n76tools/icpflash/internal/icp"
	"github.com/n76tools/icpflash/internal/pgm"
	"github.com/n76tools/icpflash/internal/target"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	pigpioFlag   string
	datFlag      int
	clkFlag      int
	rstFlag      int
	triggerFlag  int
	resetSeqFlag bool
	verboseFlag  bool

	ldromFlag  string
	lockFlag   bool
	verifyFlag bool
	forceFlag  bool
	addrFlag   uint32

	delay1Flag    uint32
	delay2Flag    uint32
	delay3Flag    uint32
	afterHighFlag uint32
	lowStartFlag  uint32
	lowEndFlag    uint32
	lowStepFlag   uint32
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "icpflash",
		Short: "Program Nuvoton N76E003 chips over GPIO ICP",
		Long: `icpflash drives the Nuvoton In-Circuit Programming protocol over three
GPIO lines (DAT/CLK/RST), with an optional fourth TRIGGER line for
fault-injection experiments.

Pins use BCM numbering. The default wiring is GPIO20 = DAT, GPIO26 = CLK,
GPIO21 = RST. The GPIO character device backend is used unless --pigpio
selects a pigpiod daemon address.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if verboseFlag {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&pigpioFlag, "pigpio", "", "pigpiod address (e.g. localhost:8888); empty uses the GPIO character device")
	pf.IntVar(&datFlag, "dat", pgm.DefaultPins.DAT, "DAT pin (BCM)")
	pf.IntVar(&clkFlag, "clk", pgm.DefaultPins.CLK, "CLK pin (BCM)")
	pf.IntVar(&rstFlag, "rst", pgm.DefaultPins.RST, "RST pin (BCM)")
	pf.IntVar(&triggerFlag, "trigger", -1, "TRIGGER pin (BCM), -1 for none")
	pf.BoolVar(&resetSeqFlag, "reset-seq", false, "toggle the ICP reset sequence onto RST during entry")
	pf.BoolVarP(&verboseFlag, "verbose", "v", false, "debug logging")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show target identifiers and configuration",
		RunE:  runInfo,
	}

	readCmd := &cobra.Command{
		Use:   "read <out.bin>",
		Short: "Dump the full flash array to a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runRead,
	}

	writeCmd := &cobra.Command{
		Use:   "write <firmware.bin>",
		Short: "Mass erase and program the chip",
		Long: `Mass erase the chip, program the APROM image and optionally an LDROM
image at the top of flash, verify by reading everything back, then write
the config block last so that --lock cannot get in the way of the verify.`,
		Args: cobra.ExactArgs(1),
		RunE: runWrite,
	}
	writeCmd.Flags().StringVar(&ldromFlag, "ldrom", "", "LDROM image to place at the top of flash")
	writeCmd.Flags().BoolVar(&lockFlag, "lock", false, "set the security lock after a successful verify")
	writeCmd.Flags().BoolVar(&verifyFlag, "verify", true, "read back and compare after programming")
	writeCmd.Flags().BoolVar(&forceFlag, "force", false, "program even if the device ID is not recognized")

	eraseCmd := &cobra.Command{
		Use:   "erase",
		Short: "Mass erase the chip (also clears the security lock)",
		RunE:  runErase,
	}

	erasePageCmd := &cobra.Command{
		Use:   "erase-page",
		Short: "Erase one 128-byte flash page",
		RunE:  runErasePage,
	}
	erasePageCmd.Flags().Uint32Var(&addrFlag, "addr", 0, "address inside the page to erase")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Read and decode the config block",
		RunE:  runConfig,
	}

	glitchCmd := &cobra.Command{
		Use:   "glitch",
		Short: "Sweep fault-injection timings and dump what each attempt reads",
		Long: `Repeat the fault-injection re-entry across a range of trigger release
delays, reading the 5 config bytes after each attempt. Whether an attempt
did anything has to be judged from the dumped bytes; the tool cannot tell.
Requires --trigger.`,
		RunE: runGlitch,
	}
	glitchCmd.Flags().Uint32Var(&delay1Flag, "delay1", icp.DefaultTiming().Delay1, "RST high pulse width (µs)")
	glitchCmd.Flags().Uint32Var(&delay2Flag, "delay2", icp.DefaultTiming().Delay2, "wait after RST falls (µs)")
	glitchCmd.Flags().Uint32Var(&delay3Flag, "delay3", icp.DefaultTiming().Delay3, "settle after entry bits (µs)")
	glitchCmd.Flags().Uint32Var(&afterHighFlag, "after-high", 0, "wait between TRIGGER rise and RST rise (µs)")
	glitchCmd.Flags().Uint32Var(&lowStartFlag, "low-start", 200, "first TRIGGER release delay to try (µs)")
	glitchCmd.Flags().Uint32Var(&lowEndFlag, "low-end", 360, "last TRIGGER release delay to try (µs)")
	glitchCmd.Flags().Uint32Var(&lowStepFlag, "low-step", 10, "sweep step (µs)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("icpflash %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(infoCmd, readCmd, writeCmd, eraseCmd, erasePageCmd, configCmd, glitchCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func pins() pgm.Pins {
	return pgm.Pins{DAT: datFlag, CLK: clkFlag, RST: rstFlag, Trigger: triggerFlag}
}

func provider() pgm.Provider {
	if pigpioFlag != "" {
		return pgm.NewPigpioProvider(pigpioFlag, pins())
	}
	return pgm.NewPeriphProvider(pins())
}

// connect opens a session and enters programming mode. The caller must
// defer shutdown.
func connect() (*icp.Session, error) {
	s := icp.New(provider(), pins())
	if err := s.Init(resetSeqFlag); err != nil {
		return nil, err
	}
	if err := s.Entry(resetSeqFlag); err != nil {
		s.Deinit(false)
		return nil, err
	}

	// A locked chip often answers the first CID read with 0xFF; one
	// re-entry reloads its config and settles it.
	cid, err := s.ReadCID()
	if err != nil {
		s.Deinit(false)
		return nil, err
	}
	if cid == 0xFF {
		log.Debug().Msg("cid reads 0xFF, re-entering programming mode")
		if err := s.Reentry(icp.DefaultTiming()); err != nil {
			s.Deinit(false)
			return nil, err
		}
	}
	return s, nil
}

func shutdown(s *icp.Session) {
	if s.State() == icp.StateProgramming {
		if err := s.Exit(); err != nil {
			log.Warn().Err(err).Msg("exit failed")
		}
	}
	if err := s.Deinit(false); err != nil {
		log.Warn().Err(err).Msg("deinit failed")
	}
}

// checkDevice verifies the target answers with a known device ID.
func checkDevice(s *icp.Session) (uint32, error) {
	devid, err := s.ReadDeviceID()
	if err != nil {
		return 0, err
	}
	if devid == 0xFFFF || devid == 0x0000 {
		return devid, fmt.Errorf("no target detected (device id 0x%04X); check wiring and power", devid)
	}
	if devid != target.DeviceIDN76E003 && !forceFlag {
		return devid, fmt.Errorf("unsupported device id 0x%04X (use --force to program anyway)", devid)
	}
	return devid, nil
}

func newBar(total int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func readConfig(s *icp.Session) (*target.Config, []byte, error) {
	raw, err := s.ReadFlash(target.ConfigAddr, target.ConfigLen)
	if err != nil {
		return nil, nil, err
	}
	var cfg target.Config
	if err := cfg.UnmarshalBinary(raw); err != nil {
		return nil, nil, err
	}
	return &cfg, raw, nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	s, err := connect()
	if err != nil {
		return err
	}
	defer shutdown(s)

	devid, err := s.ReadDeviceID()
	if err != nil {
		return err
	}
	pid, err := s.ReadPID()
	if err != nil {
		return err
	}
	cid, err := s.ReadCID()
	if err != nil {
		return err
	}
	uid, err := s.ReadUID()
	if err != nil {
		return err
	}
	ucid, err := s.ReadUCID()
	if err != nil {
		return err
	}
	cfg, raw, err := readConfig(s)
	if err != nil {
		return err
	}

	fmt.Printf("Device:    %s\n", target.ChipName(devid))
	fmt.Printf("Device ID: 0x%04X\n", devid)
	fmt.Printf("Product ID: 0x%04X\n", pid)
	fmt.Printf("CID:       0x%02X\n", cid)
	fmt.Printf("UID:       % X\n", uid)
	fmt.Printf("UCID:      % X\n", ucid)
	fmt.Printf("Config:    % X\n", raw)
	fmt.Println()
	fmt.Println(cfg)
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	s, err := connect()
	if err != nil {
		return err
	}
	defer shutdown(s)

	if _, err := checkDevice(s); err != nil {
		return err
	}

	bar := newBar(target.FlashSize, "Reading")
	s.SetProgress(func(done, total int) { bar.Set(done) })
	data, err := s.ReadFlash(target.APROMAddr, target.FlashSize)
	bar.Finish()
	if err != nil {
		return err
	}

	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", args[0], err)
	}
	fmt.Printf("Read %d bytes to %s\n", len(data), args[0])
	return nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	aprom, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read firmware file: %w", err)
	}

	var ldrom []byte
	if ldromFlag != "" {
		ldrom, err = os.ReadFile(ldromFlag)
		if err != nil {
			return fmt.Errorf("read LDROM file: %w", err)
		}
		if len(ldrom) > target.LDROMMaxSize {
			return fmt.Errorf("LDROM image is %d bytes, max %d", len(ldrom), target.LDROMMaxSize)
		}
	}

	// The LDROM occupies whole kilobytes at the top of flash; the APROM
	// gets whatever remains below it.
	ldromKB := (len(ldrom) + 1023) / 1024
	apromSize := target.FlashSize - ldromKB*1024
	if len(aprom) > apromSize {
		return fmt.Errorf("firmware is %d bytes, only %d available with a %d KB LDROM",
			len(aprom), apromSize, ldromKB)
	}

	cfg := target.DefaultConfig()
	cfg.LDROMSizeKB = ldromKB
	if ldromKB > 0 {
		cfg.BootSelect = target.BootFromLDROM
	}
	cfg.Locked = lockFlag
	cfgRaw, err := cfg.MarshalBinary()
	if err != nil {
		return err
	}

	s, err := connect()
	if err != nil {
		return err
	}
	defer shutdown(s)

	devid, err := checkDevice(s)
	if err != nil {
		return err
	}
	fmt.Printf("Device: %s (0x%04X)\n", target.ChipName(devid), devid)

	fmt.Println("Mass erasing...")
	if err := s.MassErase(); err != nil {
		return err
	}
	// A previously locked chip only drops its read protection after the
	// erase has been followed by a fresh entry.
	if err := s.Reentry(icp.DefaultTiming()); err != nil {
		return err
	}

	total := len(aprom) + len(ldrom)
	done := 0
	bar := newBar(total, "Programming")

	fmt.Printf("Programming APROM at 0x%X (%d bytes)...\n", target.APROMAddr, len(aprom))
	s.SetProgress(func(cur, _ int) { bar.Set(done + cur) })
	status, err := s.WriteFlash(target.APROMAddr, aprom)
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("target rejected APROM write (status 0x%02X)", status)
	}
	done += len(aprom)

	if len(ldrom) > 0 {
		base := cfg.LDROMBase()
		fmt.Printf("Programming LDROM at 0x%X (%d bytes)...\n", base, len(ldrom))
		status, err = s.WriteFlash(base, ldrom)
		if err != nil {
			return err
		}
		if status != 0 {
			return fmt.Errorf("target rejected LDROM write (status 0x%02X)", status)
		}
		done += len(ldrom)
	}
	bar.Finish()

	if verifyFlag {
		fmt.Println("Verifying...")
		got, err := s.ReadFlash(target.APROMAddr, len(aprom))
		if err != nil {
			return err
		}
		if !bytes.Equal(got, aprom) {
			return fmt.Errorf("APROM verify failed")
		}
		if len(ldrom) > 0 {
			got, err = s.ReadFlash(cfg.LDROMBase(), len(ldrom))
			if err != nil {
				return err
			}
			if !bytes.Equal(got, ldrom) {
				return fmt.Errorf("LDROM verify failed")
			}
		}
	}

	fmt.Println("Writing config block...")
	status, err = s.WriteFlash(target.ConfigAddr, cfgRaw)
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("target rejected config write (status 0x%02X)", status)
	}
	if lockFlag {
		fmt.Println("Security lock set.")
	}

	fmt.Println("Done!")
	return nil
}

func runErase(cmd *cobra.Command, args []string) error {
	s, err := connect()
	if err != nil {
		return err
	}
	defer shutdown(s)

	fmt.Println("Mass erasing...")
	if err := s.MassErase(); err != nil {
		return err
	}
	fmt.Println("Done!")
	return nil
}

func runErasePage(cmd *cobra.Command, args []string) error {
	s, err := connect()
	if err != nil {
		return err
	}
	defer shutdown(s)

	base := target.PageBase(addrFlag)
	fmt.Printf("Erasing page at 0x%X...\n", base)
	if err := s.PageErase(addrFlag); err != nil {
		return err
	}
	fmt.Println("Done!")
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	s, err := connect()
	if err != nil {
		return err
	}
	defer shutdown(s)

	cfg, raw, err := readConfig(s)
	if err != nil {
		return err
	}
	fmt.Printf("Config bytes: % X\n\n", raw)
	fmt.Println(cfg)
	return nil
}

func runGlitch(cmd *cobra.Command, args []string) error {
	if triggerFlag < 0 {
		return fmt.Errorf("glitch requires --trigger")
	}
	if lowStepFlag == 0 {
		return fmt.Errorf("--low-step must be positive")
	}
	if lowEndFlag < lowStartFlag {
		return fmt.Errorf("--low-end must be >= --low-start")
	}

	s, err := connect()
	if err != nil {
		return err
	}
	defer shutdown(s)

	tm := icp.Timing{
		Delay1:                delay1Flag,
		Delay2:                delay2Flag,
		Delay3:                delay3Flag,
		DelayAfterTriggerHigh: afterHighFlag,
	}

	fmt.Printf("Sweeping trigger release %d..%dµs in %dµs steps\n",
		lowStartFlag, lowEndFlag, lowStepFlag)
	for low := lowStartFlag; ; {
		tm.DelayBeforeTriggerLow = low
		capture, err := s.ReentryGlitchRead(tm)
		if err != nil {
			return err
		}
		fmt.Printf("  before-low %4dµs: % X\n", low, capture)

		next, ok := advanceSweep(low, lowStepFlag, lowEndFlag)
		if !ok {
			break
		}
		low = next
	}
	return nil
}

// advanceSweep returns the next sweep value, or false when the sweep is done.
// The wrap check keeps a sweep ending near the top of the uint32 range from
// cycling forever.
func advanceSweep(low, step, end uint32) (uint32, bool) {
	next := low + step
	if next < low || next > end {
		return 0, false
	}
	return next, true
}
