package signals

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputedCorrectness(t *testing.T) {
	sc, _, _ := newTestContext()
	a := NewSignal(sc, 3)
	b := NewSignal(sc, -4)
	sum := NewComputed(sc, func() int { return a.Value() + b.Value() }, a, b)

	assert.Equal(t, -1, sum.Value())

	steps := []struct{ a, b int }{{10, -4}, {10, 7}, {0, 0}, {-100, 42}, {5, 5}}
	for _, step := range steps {
		a.Set(step.a)
		assert.Equal(t, a.Value()+b.Value(), sum.Value())
		b.Set(step.b)
		assert.Equal(t, a.Value()+b.Value(), sum.Value())
	}
}

func TestComputedNotifiesOnlyOnChange(t *testing.T) {
	s := NewSignal(nil, 1)
	parity := NewComputed(nil, func() int { return s.Value() % 2 }, s)
	var got []int
	parity.Subscribe(func(v int) { got = append(got, v) })

	s.Set(3)
	s.Set(4)
	s.Set(6)
	s.Set(7)

	assert.Equal(t, []int{0, 1}, got)
}

func TestComputedStaleOnError(t *testing.T) {
	sc, _, logs := newTestContext()
	s := NewSignal(sc, 2)
	half := NewComputed(sc, func() int {
		if s.Value()%2 != 0 {
			panic("odd input")
		}
		return s.Value() / 2
	}, s)
	calls := 0
	half.Subscribe(func(int) { calls++ })

	s.Set(3)
	assert.Equal(t, 1, half.Value())
	assert.Equal(t, 0, calls)
	assert.Contains(t, logs.String(), "subscriber panicked")

	s.Set(8)
	assert.Equal(t, 4, half.Value())
	assert.Equal(t, 1, calls)
}

func TestComputedInitialPanicLeavesZero(t *testing.T) {
	s := NewSignal(nil, 0)
	var c *Computed[string]
	assert.NotPanics(t, func() {
		c = NewComputed(nil, func() string {
			if s.Value() == 0 {
				panic("not ready")
			}
			return "ready"
		}, s)
	})
	assert.Equal(t, "", c.Value())

	s.Set(1)
	assert.Equal(t, "ready", c.Value())
}

func TestComputedWithoutDependenciesWarns(t *testing.T) {
	sc, _, logs := newTestContext()
	c := NewComputed(sc, func() int { return 42 })

	assert.Equal(t, 42, c.Value())
	assert.Contains(t, logs.String(), "computed has no dependencies")
}

func TestComputedNilDependenciesWarn(t *testing.T) {
	sc, _, logs := newTestContext()
	var typed *Signal[int]
	c := NewComputed(sc, func() int { return 1 }, nil, typed)

	assert.Equal(t, 1, c.Value())
	assert.Contains(t, logs.String(), "computed has no dependencies")
}

func TestComputedOlderResultNeverWins(t *testing.T) {
	a := NewSignal(nil, 0)
	b := NewSignal(nil, 0)

	var hold atomic.Bool
	entered := make(chan struct{})
	release := make(chan struct{})
	c := NewComputed(nil, func() int {
		v := a.Value() + b.Value()
		if hold.CompareAndSwap(true, false) {
			close(entered)
			<-release
		}
		return v
	}, a, b)

	var mu sync.Mutex
	var seen []int
	c.Subscribe(func(v int) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})

	hold.Store(true)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Set(1)
	}()
	<-entered // parked after reading 1+0

	go func() {
		defer wg.Done()
		b.Set(1)
	}()
	require.Eventually(t, func() bool { return b.Value() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 2, c.Value())
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 2, seen[len(seen)-1])
}

func TestComputedConcurrentWriters(t *testing.T) {
	a := NewSignal(nil, 0)
	b := NewSignal(nil, 0)
	sum := NewComputed(nil, func() int { return a.Value() + b.Value() }, a, b)

	var last atomic.Int64
	sum.Subscribe(func(v int) { last.Store(int64(v)) })

	var wg sync.WaitGroup
	for _, s := range []*Signal[int]{a, b} {
		wg.Add(1)
		go func(s *Signal[int]) {
			defer wg.Done()
			for i := 1; i <= 200; i++ {
				s.Set(i)
			}
		}(s)
	}
	wg.Wait()

	assert.Equal(t, 400, sum.Value())
	assert.Equal(t, int64(400), last.Load())
}

func TestComputedSubscriberWritesDependency(t *testing.T) {
	s := NewSignal(nil, 0)
	c := NewComputed(nil, func() int { return s.Value() }, s)

	var seen []int
	c.Subscribe(func(v int) {
		seen = append(seen, v)
		if v == 1 {
			s.Set(2)
		}
	})

	s.Set(1)
	assert.Equal(t, 2, c.Value())
	assert.Equal(t, []int{1, 2}, seen)
}

func TestComputedIsNotMirrored(t *testing.T) {
	sc, ft, _ := newTestContext()
	s := NewSignal(sc, 1)
	before := ft.sentCount()

	c := NewComputed(sc, func() int { return s.Value() * 10 }, s)
	assert.Equal(t, before, ft.sentCount())
	assert.NotContains(t, sc.IDs(), c.ID())

	ft.deliver(Message{Type: MessageUpdate, ID: c.ID(), Value: 99})
	assert.Equal(t, 10, c.Value())
}

func TestComputedChain(t *testing.T) {
	s := NewSignal(nil, 1)
	double := NewComputed(nil, func() int { return s.Value() * 2 }, s)
	quad := NewComputed(nil, func() int { return double.Value() * 2 }, double)

	s.Set(5)
	assert.Equal(t, 20, quad.Value())
}

func TestComputedDispose(t *testing.T) {
	s := NewSignal(nil, 1)
	runs := 0
	c := NewComputed(nil, func() int { runs++; return s.Value() }, s)

	c.Dispose()
	c.Dispose()
	s.Set(2)

	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, c.Value())
}
