// Package main provides the ontosync binary entry point.
// Ontosync mirrors a smart-home unit registry into an RDF triple store,
// buffering updates while the store is unreachable.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/ontosync/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "ontosync"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Registry to triple store synchronizer",
		Long: `Ontosync keeps an RDF triple store in step with a smart-home unit
registry.

It provides:
- Incremental SPARQL updates for unit and state changes
- A durable buffer replayed in order when the store comes back
- Schema bootstrap from Turtle files
- Prometheus metrics and a health endpoint`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(newLogger(flags.logLevel))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), flags)
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		runCmd(flags),
		bootstrapCmd(flags),
		bufferCmd(flags),
		renderCmd(),
		exportCmd(flags),
		classesCmd(flags),
		publishCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

func runCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Synchronize until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), flags)
		},
	}
}

func runSync(ctx context.Context, flags *globalFlags) error {
	logger := slog.Default()

	cfg, err := loadConfig(flags, logger)
	if err != nil {
		return err
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	app := NewApp(cfg, logger)
	if err := app.Build(signalCtx); err != nil {
		app.Shutdown(5 * time.Second)
		return err
	}

	slog.Info("Ontosync ready",
		"version", Version,
		"store", cfg.Server.BaseURL,
		"registry", cfg.Registry.Source,
		"buffer", cfg.Buffer.Backend)

	err = app.Run(signalCtx)
	slog.Info("Received shutdown signal")
	app.Shutdown(30 * time.Second)
	slog.Info("Ontosync shutdown complete")
	return err
}

func loadConfig(flags *globalFlags, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.NewLoader(logger, flags.configPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
