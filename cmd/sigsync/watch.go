package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"
	"github.com/vango-dev/sigsync/internal/config"
	"github.com/vango-dev/sigsync/pkg/middleware"
	"github.com/vango-dev/sigsync/pkg/signals"
)

func watchCmd(g *globals) *cobra.Command {
	var connectURL string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print signal changes as they arrive",
		Long: `Connect to a server or Redis channel and print every signal as it is
announced or updated. Nothing is sent.

Examples:
  sigsync watch
  sigsync watch --connect ws://localhost:9000/sync
  SIGSYNC_TRANSPORT_KIND=redis sigsync watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if connectURL != "" {
				g.cfg.Transport.Kind = config.TransportWebSocket
				g.cfg.Transport.URL = connectURL
			}
			return runWatch(cmd.Context(), cmd.OutOrStdout(), g.cfg, g.logger)
		},
	}

	cmd.Flags().StringVar(&connectURL, "connect", "", "Server URL, implies transport.kind=websocket")

	return cmd
}

func runWatch(ctx context.Context, out io.Writer, cfg *config.Config, logger *slog.Logger) error {
	conn, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	t := middleware.Chain(conn.Transport, printer(out))
	sc := signals.NewSyncContext(t, signals.WithLogger(logger), signals.WithReplication())
	if err := sc.Listen(); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// printer is a middleware that writes each inbound message to w.
func printer(w io.Writer) middleware.Middleware {
	var mu sync.Mutex
	return func(next signals.Transport) signals.Transport {
		return &printingTransport{Transport: next, print: func(msg signals.Message) {
			mu.Lock()
			defer mu.Unlock()
			printMessage(w, msg)
		}}
	}
}

type printingTransport struct {
	signals.Transport
	print func(signals.Message)
}

func (t *printingTransport) Listen(handler func(signals.Message)) error {
	return t.Transport.Listen(func(msg signals.Message) {
		t.print(msg)
		handler(msg)
	})
}

func printMessage(w io.Writer, msg signals.Message) {
	switch msg.Type {
	case signals.MessageCreated:
		fmt.Fprintf(w, "%s %s = %s\n", green("+"), bold(msg.ID), formatValue(msg.Value))
	case signals.MessageUpdate:
		fmt.Fprintf(w, "%s %s = %s\n", cyan("~"), bold(msg.ID), formatValue(msg.Value))
	default:
		fmt.Fprintf(w, "%s %s %s\n", yellow("?"), msg.Type, msg.ID)
	}
}
