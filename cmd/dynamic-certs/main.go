// Package main is the entry point of the certificate provisioner. It runs
// once at container start, writes the CA, node and client certificates and
// exits non-zero when anything fails.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/dynamic-certs/internal/config"
	"github.com/vyrodovalexey/dynamic-certs/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// Exit codes.
const (
	exitSuccess = 0
	exitFailure = 1
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	dryRun      bool
	showVersion bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, flags, os.LookupEnv)
	stop()
	os.Exit(code)
}

// parseFlags parses command line flags. Logging flags default to the
// environment so that the bootstrap logger matches the final one.
func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("dynamic-certs", flag.ContinueOnError)

	var flags cliFlags
	fs.StringVar(&flags.configPath, "config", getEnvOrDefault("DYNAMIC_CERTS_CONFIG", ""),
		"Path to an optional YAML configuration file")
	fs.StringVar(&flags.logLevel, "log-level", getEnvOrDefault(config.EnvLogLevel, "info"),
		"Log level (debug, info, warn, error)")
	fs.StringVar(&flags.logFormat, "log-format", getEnvOrDefault(config.EnvLogFormat, "json"),
		"Log format (json, console)")
	fs.BoolVar(&flags.dryRun, "dry-run", getEnvBool("DRY_RUN", false),
		"Log the commands instead of running them")
	fs.BoolVar(&flags.showVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return flags, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "dynamic-certs version %s\n", version)
	_, _ = fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	_, _ = fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// run performs one provisioning run and returns the process exit code.
func run(ctx context.Context, flags cliFlags, lookup config.LookupFunc) int {
	logger, err := initLogger(flags.logLevel, flags.logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return exitFailure
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting dynamic-certs",
		observability.String("version", version),
		observability.String("config", flags.configPath),
		observability.Bool("dry_run", flags.dryRun),
	)

	cfg, err := loadConfig(flags, lookup)
	if err != nil {
		logConfigError(logger, err)
		return exitFailure
	}

	logger.Info("configuration loaded",
		observability.String("backend", cfg.Backend()),
		observability.String("internal_dir", cfg.Directories.Internal),
		observability.String("external_dir", cfg.Directories.External),
		observability.String("client_username", cfg.ClientUsername),
		observability.String("secrets_provider", cfg.Secrets.Provider),
		observability.Bool("verify_artifacts", cfg.VerifyArtifacts),
	)

	app, err := initApplication(ctx, cfg, flags.dryRun, logger)
	if err != nil {
		logConfigError(logger, err)
		return exitFailure
	}
	defer app.close(logger)

	result := app.orchestrator.Run(ctx)
	app.exportMetrics(ctx, logger)

	if !result.Success {
		return exitFailure
	}
	return exitSuccess
}

// initLogger initializes the logger.
func initLogger(level, format string) (observability.Logger, error) {
	return observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: format,
		Output: "stdout",
	})
}

// loadConfig resolves the configuration from the optional file and the
// environment. Command line logging flags win over both.
func loadConfig(flags cliFlags, lookup config.LookupFunc) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if flags.configPath != "" {
		fileCfg, err := config.LoadFile(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if err := config.ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	cfg.Logging.Level = flags.logLevel
	cfg.Logging.Format = flags.logFormat

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func logConfigError(logger observability.Logger, err error) {
	var validationErrs config.ValidationErrors
	if errors.As(err, &validationErrs) {
		for _, e := range validationErrs {
			logger.Error("invalid configuration",
				observability.String("field", e.Path),
				observability.String("reason", e.Message),
			)
		}
		return
	}
	logger.Error("failed to initialize", observability.Error(err))
}
