package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vango-dev/sigsync/internal/config"
	"github.com/vango-dev/sigsync/internal/errors"
	"github.com/vango-dev/sigsync/pkg/signals"
)

func TestMain(m *testing.M) {
	errors.DisableColors()
	m.Run()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSeed(t *testing.T) {
	cfg := config.New()
	cfg.Signals.Initial = map[string]any{"count": 2, "label": "x"}
	cfg.Derived = []config.DerivedConfig{
		{ID: "doubled", Expr: "count * 2"},
		{ID: "quad", Expr: "doubled * 2"},
	}

	sc := signals.NewSyncContext(nil, signals.WithLogger(quietLogger()))
	require.NoError(t, seed(sc, cfg))

	snap := sc.Snapshot()
	assert.Equal(t, 2, snap["count"])
	assert.Equal(t, "x", snap["label"])
	assert.Equal(t, 4, snap["doubled"])
	assert.Equal(t, 8, snap["quad"])
	assert.Equal(t, []string{"count", "doubled", "label", "quad"}, sc.IDs())
}

func TestSeedRejectsBadExpression(t *testing.T) {
	cfg := config.New()
	cfg.Derived = []config.DerivedConfig{{ID: "bad", Expr: "missing + 1"}}

	sc := signals.NewSyncContext(nil, signals.WithLogger(quietLogger()))
	err := seed(sc, cfg)
	require.Error(t, err)
	assert.Equal(t, "E105", errors.Code(err))
	assert.Contains(t, err.Error(), `derived "bad"`)
}

func TestServerConfig(t *testing.T) {
	cfg := config.New()
	cfg.Server.Addr = ":9999"
	cfg.Server.Heartbeat = 3 * time.Second

	sc := serverConfig(cfg)
	assert.Equal(t, ":9999", sc.Address)
	assert.Equal(t, 3*time.Second, sc.Conn.HeartbeatInterval)
	assert.Equal(t, cfg.Server.ReadTimeout, sc.Conn.ReadTimeout)

	req := httptest.NewRequest("GET", "http://a.example/sync", nil)
	req.Header.Set("Origin", "http://b.example")
	assert.False(t, sc.CheckOrigin(req))

	cfg.Server.AllowAnyOrigin = true
	assert.True(t, serverConfig(cfg).CheckOrigin(req))
}

func TestConnectUnknownKind(t *testing.T) {
	cfg := config.New()
	cfg.Transport.Kind = "smoke"

	_, err := connect(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	assert.Equal(t, "E203", errors.Code(err))
}

func TestConnectRefused(t *testing.T) {
	cfg := config.New()
	cfg.Transport.URL = "ws://127.0.0.1:1/sync"

	_, err := connect(context.Background(), cfg, quietLogger())
	require.Error(t, err)
	assert.Equal(t, "E200", errors.Code(err))
}

func TestRunScriptLocal(t *testing.T) {
	cfg := config.New()
	cfg.Transport.Kind = config.TransportPipe

	var out bytes.Buffer
	err := runScript(context.Background(), &out, cfg, quietLogger(), `signal(2).value * 21`, false)
	require.NoError(t, err)
	assert.Equal(t, "42\n", out.String())
}

func TestRunScriptPipeSeededHost(t *testing.T) {
	cfg := config.New()
	cfg.Transport.Kind = config.TransportPipe
	cfg.Signals.Initial = map[string]any{"count": 5}
	cfg.Derived = []config.DerivedConfig{{ID: "double", Expr: "count * 2"}}

	var out bytes.Buffer
	err := runScript(context.Background(), &out, cfg, quietLogger(), `
		var c = signal(0, "count");
		c.value * 100 + remote("double").value;
	`, false)
	require.NoError(t, err)
	assert.Equal(t, "510\n", out.String())
}

func TestConnectPipeRecomputesOnHost(t *testing.T) {
	cfg := config.New()
	cfg.Transport.Kind = config.TransportPipe
	cfg.Signals.Initial = map[string]any{"count": 1}
	cfg.Derived = []config.DerivedConfig{{ID: "double", Expr: "count * 2"}}

	conn, err := connect(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer conn.Close()

	sc := signals.NewSyncContext(conn, signals.WithLogger(quietLogger()), signals.WithReplication())
	require.NoError(t, sc.Listen())
	require.NoError(t, conn.waitReady(context.Background(), time.Second, quietLogger()))

	count, ok := sc.Replica("count")
	require.True(t, ok)
	double, ok := sc.Replica("double")
	require.True(t, ok)
	assert.Equal(t, 2, double.Value())

	count.Set(4)
	require.Eventually(t, func() bool { return double.Value() == 8 }, 2*time.Second, 10*time.Millisecond)
}

func TestWaitReadyTimesOut(t *testing.T) {
	conn := &connection{ready: make(chan struct{})}
	assert.NoError(t, conn.waitReady(context.Background(), 10*time.Millisecond, quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, conn.waitReady(ctx, time.Second, quietLogger()), context.Canceled)

	assert.NoError(t, (&connection{}).waitReady(context.Background(), time.Second, quietLogger()))
}

func TestRunScriptError(t *testing.T) {
	cfg := config.New()
	cfg.Transport.Kind = config.TransportPipe

	err := runScript(context.Background(), io.Discard, cfg, quietLogger(), `throw new Error("nope")`, false)
	require.Error(t, err)
	assert.Equal(t, "E301", errors.Code(err))
	assert.Contains(t, err.Error(), "nope")
}

func TestRunScriptAgainstServer(t *testing.T) {
	cfg := config.New()
	cfg.Metrics.Enabled = false
	cfg.Signals.Initial = map[string]any{"count": 5}

	srv, err := newHost(cfg, quietLogger())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	cfg.Transport.URL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/sync"

	var out bytes.Buffer
	// The script declares 0 but starts from the host's 5.
	err = runScript(context.Background(), &out, cfg, quietLogger(), `
		var c = signal(0, "count");
		c.value = c.value + 2;
		c.value;
	`, false)
	require.NoError(t, err)
	assert.Equal(t, "7\n", out.String())

	assert.Eventually(t, func() bool {
		return srv.Context().Snapshot()["count"] == float64(7)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewHostWithMetrics(t *testing.T) {
	cfg := config.New()
	cfg.Metrics.Namespace = "test"

	srv, err := newHost(cfg, quietLogger())
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_connected_peers")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	printMessage(&buf, signals.Message{Type: signals.MessageCreated, ID: "count", Value: json.RawMessage("5")})
	printMessage(&buf, signals.Message{Type: signals.MessageUpdate, ID: "label", Value: "on"})
	printMessage(&buf, signals.Message{Type: "other", ID: "x"})

	assert.Equal(t, "+ count = 5\n~ label = \"on\"\n? other x\n", buf.String())
}

func TestPrinterMiddleware(t *testing.T) {
	var buf bytes.Buffer
	var handler func(signals.Message)
	base := &fakeTransport{listen: func(h func(signals.Message)) { handler = h }}

	var got []signals.Message
	tr := printer(&buf)(base)
	require.NoError(t, tr.Listen(func(msg signals.Message) { got = append(got, msg) }))

	handler(signals.Message{Type: signals.MessageUpdate, ID: "a", Value: 1})
	assert.Len(t, got, 1)
	assert.Equal(t, "~ a = 1\n", buf.String())
}

func TestVersionCommand(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--short"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestRootRejectsBadLogLevel(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"--log-level", "loud", "--env-file", "", "watch"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--log-level")
}

type fakeTransport struct {
	listen func(func(signals.Message))
}

func (f *fakeTransport) Send(signals.Message) error { return nil }

func (f *fakeTransport) Listen(h func(signals.Message)) error {
	f.listen(h)
	return nil
}
