package main

import (
	"AtmSP/internal/adapters/eventbus"
	"AtmSP/internal/adapters/metrics"
	"AtmSP/internal/adapters/observer"
	"AtmSP/internal/shared/config"
	"AtmSP/internal/shared/logger"
	"AtmSP/internal/terminal"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// 1. Parse flags
	flags := pflag.NewFlagSet("atmsp-demo", pflag.ContinueOnError)
	cfgPath := flags.String("config", config.DefaultPath, "Path to devices.json")
	failRate := flags.Int("fail-rate", -1, "Percent chance (0..100) to drop Track2Read in MockCardReader")
	pinError := flags.Bool("pin-error", false, "Force the next RequestPin to fail with KeypadFailure")
	flags.String("log-level", "", "Override the configured log level (debug, info, warn, error)")
	help := flags.BoolP("help", "h", false, "Show this help and exit")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "atmsp-demo usage:")
		fmt.Fprintln(os.Stderr, "  atmsp-demo [--config <path>] [--fail-rate <0-100>] [--pin-error] [--log-level <level>] [--help]")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *help {
		flags.Usage()
		return 0
	}
	if flags.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Unknown argument: %s\n", flags.Arg(0))
		flags.Usage()
		return 2
	}
	if *failRate >= 0 {
		*failRate = min(*failRate, 100)
	}

	// 2. Load Configuration
	cfg, found, err := config.LoadOrDefault(*cfgPath, flags)
	if err != nil {
		fmt.Printf("FATAL: Failed to load configuration: %v\n", err)
		return 1
	}

	// 3. Initialize Logger
	isDevMode := cfg.AppEnv == "dev"
	baseLogger := logger.NewWithOptions(logger.Options{
		DevMode:     isDevMode,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		RotateMB:    cfg.Logging.RotateMB,
		RotateFiles: cfg.Logging.RotateFiles,
	})
	if !found {
		baseLogger.Warn().Str("path", *cfgPath).Msg("Config not found; using defaults")
	}
	baseLogger.Info().
		Str("config", *cfgPath).
		Int("fail_rate", *failRate).
		Bool("pin_error", *pinError).
		Msg("ATM SP demo starting")

	// 4. Event bus and observers
	bus := eventbus.NewInMemoryEventBus(&baseLogger)
	observer.NewLoggingObserver(&baseLogger, cfg.Logging.MaskPAN).Attach(bus)

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		baseLogger.Error().Err(err).Msg("Failed to initialize metrics")
		return 1
	}
	collector.Attach(bus)

	// 5. Run one transaction until done or interrupted
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := terminal.DefaultOptions()
	opts.FailRate = *failRate
	opts.PinError = *pinError
	opts.Observer = collector

	res, err := terminal.NewOrchestrator(cfg, bus, opts, &baseLogger).Run(ctx)
	if err != nil {
		baseLogger.Error().Err(err).Msg("Transaction aborted")
		return 1
	}

	baseLogger.Info().
		Str("session_id", res.SessionID).
		Int("result_code", res.Code).
		Msg("ATM SP demo finished")
	return 0
}
