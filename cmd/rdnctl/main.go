// Package main is the entry point for rdnctl, the operator CLI for RDN
// case extraction and fee lookups.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamibilling/rdn-billing/internal/app"
	"github.com/jamibilling/rdn-billing/internal/config"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	Verbose bool
	JSON    bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "rdnctl",
		Short:         "RDN case billing CLI",
		Long:          "CLI tool for logging in to the RDN portal, extracting case fees and looking up contracted rates.",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&g.Verbose, "verbose", "v", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&g.JSON, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(newLoginCmd(g))
	rootCmd.AddCommand(newExtractCmd(g))
	rootCmd.AddCommand(newExportCmd(g))
	rootCmd.AddCommand(newLookupCmd(g))
	rootCmd.AddCommand(newFeesCmd(g))
	rootCmd.AddCommand(newClassifyCmd(g))
	rootCmd.AddCommand(newWatchCmd(g))

	return rootCmd
}

// runtime is the loaded configuration plus the services a command asked
// for.
type runtime struct {
	cfg *config.Config
	log *logger.Logger
	app *app.App
}

// setup loads configuration and connects the services in opts. Logs go to
// stderr so that command output stays clean.
func setup(ctx context.Context, g *globalOptions, opts app.Options) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := "warn"
	if g.Verbose {
		level = "debug"
	}
	log := logger.New(logger.Config{
		Level:  level,
		Format: "text",
		Output: os.Stderr,
	})
	log.SetDefault()

	a, err := app.Build(ctx, cfg, opts, log)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, log: log, app: a}, nil
}

// close releases connections within a short grace period.
func (r *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.app.Close(ctx); err != nil {
		r.log.WithError(err).Warn("failed to close connections")
	}
}
