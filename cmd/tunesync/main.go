// Tunesync mirrors thermostat state from Ngenic Tune onto Netatmo
// Energy.
//
// A fixed-interval loop reads each mapped Ngenic room, decides the
// desired Netatmo state (a manual setpoint when an override is active,
// the schedule otherwise), and writes only when that state changed
// since the last successful write. A small HTTP API exposes status,
// manual control, health, metrics, and a live event stream.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	tunesync serve           Start the sync loop and control API
//	tunesync once            Run a single reconciliation pass and exit
//	tunesync version         Print version and build information
//	tunesync -o json version Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mkarlsson/tunesync/internal/auth"
	"github.com/mkarlsson/tunesync/internal/bridge"
	"github.com/mkarlsson/tunesync/internal/buildinfo"
	"github.com/mkarlsson/tunesync/internal/config"
	"github.com/mkarlsson/tunesync/internal/metrics"
	"github.com/mkarlsson/tunesync/internal/netatmo"
	"github.com/mkarlsson/tunesync/internal/ngenic"
	"github.com/mkarlsson/tunesync/internal/web"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the tunesync command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the loop and the control API.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:], the command-line arguments after the
//     program name. We parse these manually rather than using the flag
//     package to avoid global state that interferes with parallel
//     tests.
//
// run returns nil on clean shutdown and a non-nil error for any
// failure. The caller (main) is responsible for printing the error and
// exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// A .env next to the binary is a convenience for development;
	// absence is not an error.
	_ = godotenv.Load()

	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "once":
		return runOnce(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// tunesync is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Tunesync - Ngenic Tune to Netatmo Energy thermostat bridge")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: tunesync [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the sync loop and control API")
	fmt.Fprintln(w, "  once         Run a single reconciliation pass and exit")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./tunesync.yaml, ~/.config/tunesync/config.yaml, /etc/tunesync/config.yaml")
	return nil
}

// runOnce handles the "tunesync once" subcommand. It boots the engine
// without the loop or the control API, performs a single pass, prints
// the summary, and exits. Useful for cron-style operation and for
// verifying a new config without leaving a daemon running.
func runOnce(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath, "rooms", len(cfg.Mapping))

	engine, _, err := buildEngine(cfg, nil, logger)
	if err != nil {
		return err
	}

	summary := engine.Reconcile(ctx)
	if summary.Failed > 0 {
		return fmt.Errorf("pass finished with %d failed room(s) (reconciled %d, skipped %d)",
			summary.Failed, summary.Reconciled, summary.Skipped)
	}
	fmt.Fprintf(stdout, "reconciled %d, skipped %d\n", summary.Reconciled, summary.Skipped)
	return nil
}

// runServe handles the "tunesync serve" subcommand. It is the primary
// operating mode: loads config, builds the clients and engine, starts
// the sync loop and the control API, and blocks until a shutdown
// signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "json")
	logger.Info("starting tunesync", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level, "json")
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"rooms", len(cfg.Mapping),
		"interval", cfg.Sync.Interval(),
	)

	// --- Event hub ---
	// Fans engine events out to websocket clients on /ws/events.
	hub := web.NewHub(logger)

	// --- Engine ---
	reg := prometheus.NewRegistry()
	engine, _, err := buildEngineWith(cfg, hub, logger, reg)
	if err != nil {
		return err
	}

	// --- Sync loop ---
	runner := bridge.NewRunner(bridge.RunnerConfig{
		Engine:       engine,
		Interval:     cfg.Sync.Interval(),
		StartupDelay: cfg.Sync.StartupDelay(),
		Logger:       logger,
	})

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by the loop and the
	// server.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(loopDone)
	}()

	// --- Control API ---
	server := web.NewServer(cfg.Listen.Address, cfg.Listen.Port, engine, runner, hub, reg, logger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("control API failed: %w", err)
	}

	<-loopDone
	logger.Info("tunesync stopped")
	return nil
}

// buildEngine wires clients, token manager, and engine from config
// using a private metrics registry. Used by one-shot commands.
func buildEngine(cfg *config.Config, events bridge.EventSink, logger *slog.Logger) (*bridge.Engine, *metrics.Metrics, error) {
	return buildEngineWith(cfg, events, logger, prometheus.NewRegistry())
}

// buildEngineWith wires clients, token manager, and engine from config
// onto the given metrics registry.
func buildEngineWith(cfg *config.Config, events bridge.EventSink, logger *slog.Logger, reg prometheus.Registerer) (*bridge.Engine, *metrics.Metrics, error) {
	cfg.ResolveSecrets()
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	m := metrics.New(reg)

	source := ngenic.NewClient(cfg.Ngenic.URL, cfg.Ngenic.ClientID, cfg.Ngenic.ClientSecret, cfg.Ngenic.RefreshToken, logger)
	target := netatmo.NewClient(cfg.Netatmo.URL, cfg.Netatmo.ClientID, cfg.Netatmo.ClientSecret, cfg.Netatmo.Username, cfg.Netatmo.Password, logger)

	// Token acquisition is registered through counting wrappers so that
	// every successful refresh shows up in the exposition.
	tokens := auth.NewManager(logger)
	tokens.Register(auth.SystemNgenic, countTokenFetches(source.FetchToken, m, auth.SystemNgenic))
	tokens.Register(auth.SystemNetatmo, countTokenFetches(target.FetchToken, m, auth.SystemNetatmo))

	engine := bridge.NewEngine(bridge.EngineConfig{
		Mapping: cfg.Mapping,
		Tokens:  tokens,
		Source:  source,
		Target:  target,
		Events:  events,
		Metrics: m,
		Logger:  logger,
	})
	return engine, m, nil
}

// countTokenFetches wraps a token acquisition func with a per-system
// refresh counter.
func countTokenFetches(fetch auth.TokenFunc, m *metrics.Metrics, sys auth.System) auth.TokenFunc {
	return func(ctx context.Context) (string, error) {
		tok, err := fetch(ctx)
		if err == nil {
			m.TokenRefreshes.WithLabelValues(string(sys)).Inc()
		}
		return tok, err
	}
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output in tunesync goes through slog; this
// helper standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise, [config.FindConfig] searches the default locations.
// Returns the parsed config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
