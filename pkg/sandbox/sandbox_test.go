package sandbox

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vango-dev/sigsync/pkg/signals"
	"github.com/vango-dev/sigsync/pkg/transport/pipe"
)

func newSandbox(t *testing.T, opts ...Option) (*Sandbox, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := New(append([]Option{WithLogger(logger)}, opts...)...)
	t.Cleanup(func() { s.Close() })
	return s, &buf
}

func run(t *testing.T, s *Sandbox, src string) any {
	t.Helper()
	v, err := s.Run(context.Background(), src)
	require.NoError(t, err)
	return v
}

func TestRunReturnsCompletionValue(t *testing.T) {
	s, _ := newSandbox(t)
	assert.Equal(t, float64(3), run(t, s, "1 + 2"))
	assert.Equal(t, "hi", run(t, s, `"h" + "i"`))
	assert.Nil(t, run(t, s, "undefined"))
}

func TestRunSyntaxError(t *testing.T) {
	s, _ := newSandbox(t)
	_, err := s.Run(context.Background(), "let = ;")
	assert.Error(t, err)
}

func TestSignalSubscribeAndDedup(t *testing.T) {
	s, _ := newSandbox(t)
	got := run(t, s, `
		var n = signal(1, "n");
		var seen = [];
		var stop = n.subscribe(function (v) { seen.push(v); });
		n.value = 2;
		n.value = 2;
		n.value = 3;
		stop();
		n.value = 4;
		[n.id, seen.join(",")].join("|");
	`)
	assert.Equal(t, "n|2,3", got)
}

func TestComputed(t *testing.T) {
	s, buf := newSandbox(t)
	got := run(t, s, `
		var a = signal(2);
		var b = signal(3);
		var p = computed(function () { return a.value * b.value; }, [a, b]);
		a.value = 4;
		p.value = 99;
		p.value;
	`)
	assert.Equal(t, float64(12), got)
	assert.Contains(t, buf.String(), "read-only")
}

func TestEffectRunsEagerlyAndOnChange(t *testing.T) {
	s, _ := newSandbox(t)
	got := run(t, s, `
		var src = signal(0);
		var log = [];
		effect(function () { log.push(src.value); }, [src]);
		src.value = 2;
		log.join(",");
	`)
	assert.Equal(t, "0,2", got)
}

func TestEffectWithoutDependenciesThrowsTypeError(t *testing.T) {
	s, _ := newSandbox(t)
	got := run(t, s, `
		var msg;
		try {
			effect(function () {}, []);
		} catch (e) {
			msg = (e instanceof TypeError) + ":" + e.message;
		}
		msg;
	`)
	assert.Equal(t, "true:"+signals.ErrNoDependencies.Error(), got)
}

func TestUnknownDependencyThrows(t *testing.T) {
	s, _ := newSandbox(t)
	got := run(t, s, `
		var msg;
		try { computed(function () { return 1; }, [{ id: "nope" }]); } catch (e) { msg = e.message; }
		msg;
	`)
	assert.Equal(t, "unknown dependency nope", got)
}

func TestThrowingSubscriberIsContained(t *testing.T) {
	s, buf := newSandbox(t)
	got := run(t, s, `
		var x = signal(0);
		var after = [];
		x.subscribe(function () { throw new Error("bad subscriber"); });
		x.subscribe(function (v) { after.push(v); });
		x.value = 1;
		"ok:" + after.join(",");
	`)
	assert.Equal(t, "ok:1", got)
	assert.Contains(t, buf.String(), "subscriber panicked")
}

func TestConsole(t *testing.T) {
	s, buf := newSandbox(t)
	run(t, s, `console.log("hello", "world"); console.warn("careful");`)
	assert.Contains(t, buf.String(), "hello world")
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestRunCancellation(t *testing.T) {
	s, _ := newSandbox(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Run(ctx, "while (true) {}")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, float64(1), run(t, s, "1"))
}

func TestClose(t *testing.T) {
	s, _ := newSandbox(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Run(context.Background(), "1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMirrorsWithHost(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	hostEnd, guestEnd := pipe.New(pipe.WithLogger(quiet))
	t.Cleanup(func() {
		hostEnd.Close()
		guestEnd.Close()
	})

	host := signals.NewSyncContext(hostEnd, signals.WithLogger(quiet))
	count := signals.NewSignal(host, 0, signals.WithID("count"))

	s := New(WithLogger(quiet), WithTransport(guestEnd))
	t.Cleanup(func() { s.Close() })

	run(t, s, `var c = signal(0, "count"); c.value = 5;`)
	require.Eventually(t, func() bool { return count.Value() == 5 }, 5*time.Second, 10*time.Millisecond)

	count.Set(7)
	require.Eventually(t, func() bool {
		v, err := s.Run(context.Background(), "c.value")
		return err == nil && v == float64(7)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSignalAdoptsReplicatedValue(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	hostEnd, guestEnd := pipe.New(pipe.WithLogger(quiet))
	t.Cleanup(func() {
		hostEnd.Close()
		guestEnd.Close()
	})

	host := signals.NewSyncContext(hostEnd, signals.WithLogger(quiet))
	count := signals.NewSignal(host, 5, signals.WithID("count"))

	s := New(WithLogger(quiet), WithTransport(guestEnd), WithSyncOptions(signals.WithReplication()))
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Listen())
	require.Eventually(t, func() bool {
		_, ok := s.Context().Replica("count")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, float64(5), run(t, s, `var c = signal(0, "count"); c.value;`))
	assert.Equal(t, float64(5), run(t, s, `signal(1, "count").value`))
	assert.Equal(t, 5, count.Value(), "declaring the id does not overwrite the host")

	run(t, s, `c.value = 6;`)
	require.Eventually(t, func() bool { return count.Value() == 6 }, 5*time.Second, 10*time.Millisecond)
}

func TestRemote(t *testing.T) {
	s, _ := newSandbox(t, WithSyncOptions(signals.WithReplication()))
	s.Context().Receive(signals.Message{Type: signals.MessageCreated, ID: "mode", Value: "on"})

	assert.Equal(t, "on", run(t, s, `remote("mode").value`))
	assert.Equal(t, true, run(t, s, `remote("missing") === null`))
	assert.Equal(t, "mode", run(t, s, `var m = remote("mode"); m.value = "off"; m.id`))
	assert.Equal(t, "off", run(t, s, `signal("x", "mode").value`))
}
