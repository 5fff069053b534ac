package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Scusemua/go-utils/config"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/scusemua/notebook-step/common/configuration"
	"github.com/scusemua/notebook-step/common/dumper"
	"github.com/scusemua/notebook-step/common/jupyter/client"
	"github.com/scusemua/notebook-step/common/metrics"
	"github.com/scusemua/notebook-step/common/storage"
	"github.com/scusemua/notebook-step/runner"
	"go.uber.org/zap"
)

const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
)

var (
	options      = configuration.NewStepOptions()
	globalLogger = config.GetLogger("")
	sig          = make(chan os.Signal, 1)
)

func init() {
	lipgloss.SetColorProfile(termenv.ANSI256)

	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
}

// ValidateOptions ensures that the options/configuration is valid.
func ValidateOptions() {
	flags, err := config.ValidateOptions(options)
	if errors.Is(err, config.ErrPrintUsage) {
		flags.PrintDefaults()
		os.Exit(ExitSuccess)
	} else if err != nil {
		log.Fatal(err)
	}

	if err = options.Validate(); err != nil {
		globalLogger.Error("%v", err)
		flags.PrintDefaults()
		os.Exit(ExitUsage)
	}
}

func newZapLogger() *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)

	if options.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}

	if err != nil {
		log.Printf("Failed to create zap logger: %v", err)
		return zap.NewNop()
	}

	return logger
}

func pushMetrics(stepMetrics *metrics.StepMetrics) {
	if options.Pushgateway == "" {
		return
	}

	if err := stepMetrics.Push(options.Pushgateway, options.JobName); err != nil {
		globalLogger.Warn("Failed to push metrics to %s: %v", options.Pushgateway, err)
	}
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stepMetrics := metrics.NewStepMetrics()
	defer pushMetrics(stepMetrics)

	session := client.NewKernelSession(options.SessionConfig(), options.TransportFactory(), client.WithMetrics(stepMetrics))

	go func() {
		s, ok := <-sig
		if !ok {
			return
		}

		globalLogger.Warn("Received signal %v. Shutting down the kernel.", s)
		cancel()
		_ = session.Close()
	}()

	zapLogger := newZapLogger()
	defer func() {
		_ = zapLogger.Sync()
	}()

	provider, err := storage.NewProvider(options.Storage, options.StorageOptions(zapLogger))
	if err != nil {
		globalLogger.Error("%v", err)
		return ExitUsage
	}

	r := runner.New(session, dumper.New(provider, dumper.WithMetrics(stepMetrics)), options.OutputDir)

	if options.ValidateOnly {
		if err = r.CheckConnection(ctx); err != nil {
			return ExitFailure
		}
		return ExitSuccess
	}

	cells, err := runner.LoadSource(options.Code, options.File)
	if err != nil {
		globalLogger.Error("Failed to load code: %v", err)
		return ExitUsage
	}

	if err = provider.Connect(ctx); err != nil {
		globalLogger.Error("Failed to connect to %s storage: %v", provider.Name(), err)
		return ExitFailure
	}
	defer func() {
		_ = provider.Close()
	}()

	if err = r.Run(ctx, cells); err != nil {
		globalLogger.Error("Step failed: %v", err)
		return ExitFailure
	}

	return ExitSuccess
}

func main() {
	ValidateOptions()

	if options.PrettyPrintOptions {
		globalLogger.Info("Starting the notebook step with the following options:\n%s\n", options.PrettyString(2))
	} else {
		globalLogger.Info("Starting the notebook step.")
	}

	code := run()
	signal.Stop(sig)
	os.Exit(code)
}
