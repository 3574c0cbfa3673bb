package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/vango-dev/sigsync/internal/config"
	"github.com/vango-dev/sigsync/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globals holds flags shared by every command.
type globals struct {
	configPath string
	envFile    string
	logLevel   string
	noColor    bool

	cfg    *config.Config
	logger *slog.Logger
}

// load resolves configuration and the logger once per invocation.
func (g *globals) load() error {
	if g.noColor {
		errors.DisableColors()
	}

	cfg, err := config.Resolve(g.configPath, g.envFile)
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		if _, err := config.ParseLevel(g.logLevel); err != nil {
			return errors.Newf(errors.CategoryCLI, "--log-level: %v", err)
		}
		cfg.Log.Level = g.logLevel
	}

	g.cfg = cfg
	g.logger = cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(g.logger)
	return nil
}

func rootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   "sigsync",
		Short: "Reactive signals synchronized between contexts",
		Long: `sigsync hosts and connects reactive signal graphs.

A server owns a set of signals and replicates every change to its
peers. Clients run scripts against a local graph whose signals mirror
the server's, over WebSocket or Redis Pub/Sub.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return g.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to "+config.ConfigFileName+" (default ./"+config.ConfigFileName+" if present)")
	cmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "Env file loaded before configuration")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override log.level")
	cmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(
		serveCmd(g),
		runCmd(g),
		watchCmd(g),
		versionCmd(),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		errors.PrintError(err)
		stop()
		os.Exit(1)
	}
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("%s %s\n", green("✓"), fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}
