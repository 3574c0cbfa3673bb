package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vango-dev/sigsync/internal/config"
	"github.com/vango-dev/sigsync/internal/errors"
	"github.com/vango-dev/sigsync/pkg/sandbox"
	"github.com/vango-dev/sigsync/pkg/signals"
)

func runCmd(g *globals) *cobra.Command {
	var (
		connectURL string
		stay       bool
	)

	cmd := &cobra.Command{
		Use:   "run <script.js>",
		Short: "Run a script against a synced signal graph",
		Long: `Run a JavaScript file in a sandbox whose signals sync with a server.

Scripts get signal(), remote(), computed(), effect() and console.
Signals the script creates are announced to the server. Signals the
server hosts are replicated before the script starts: signal(x, id)
and remote(id) return them with the host's value.

With transport.kind=pipe the host runs in-process, seeded from
signals.initial and derived in the config file.

Examples:
  sigsync run counter.js
  sigsync run counter.js --connect ws://localhost:9000/sync
  sigsync run watcher.js --stay`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if connectURL != "" {
				g.cfg.Transport.Kind = config.TransportWebSocket
				g.cfg.Transport.URL = connectURL
			}
			src, err := os.ReadFile(args[0])
			if err != nil {
				return errors.New("E300").WithDetail(args[0]).Wrap(err)
			}
			return runScript(cmd.Context(), cmd.OutOrStdout(), g.cfg, g.logger, string(src), stay)
		},
	}

	cmd.Flags().StringVar(&connectURL, "connect", "", "Server URL, implies transport.kind=websocket")
	cmd.Flags().BoolVar(&stay, "stay", false, "Keep running after the script returns, until interrupted")

	return cmd
}

// runScript evaluates src in a sandbox and prints its completion value.
func runScript(ctx context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger, src string, stay bool) error {
	conn, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	sb := sandbox.New(
		sandbox.WithLogger(logger),
		sandbox.WithTransport(conn.Transport),
		sandbox.WithSyncOptions(
			signals.WithIDLength(cfg.Signals.IDLength),
			signals.WithReplication(),
		),
	)
	defer sb.Close()

	if err := sb.Listen(); err != nil {
		return errors.New("E200").Wrap(err)
	}
	// Replicas of the host's signals exist before the script declares
	// its own, so signal(x, id) adopts the host value.
	if err := conn.waitReady(ctx, readyTimeout, logger); err != nil {
		return err
	}

	v, err := sb.Run(ctx, src)
	if err != nil {
		return errors.New("E301").Wrap(err)
	}
	if v != nil {
		fmt.Fprintln(out, formatValue(v))
	}

	if stay {
		<-ctx.Done()
	}
	return nil
}

// formatValue renders v as JSON, falling back to Go syntax.
func formatValue(v any) string {
	if raw, ok := v.(json.RawMessage); ok {
		return string(raw)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
