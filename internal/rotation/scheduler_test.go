package rotation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucas/securewss/internal/lifecycle"
)

type scriptedPasser struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (lifecycle.Result, bool)
	fired chan struct{}
}

func (p *scriptedPasser) TryPass(ctx context.Context) (lifecycle.Result, bool) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.mu.Unlock()

	if p.fired != nil {
		select {
		case p.fired <- struct{}{}:
		default:
		}
	}
	if p.fn != nil {
		return p.fn(call)
	}
	return lifecycle.Result{}, true
}

func (p *scriptedPasser) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_FiresImmediatelyAndOnInterval(t *testing.T) {
	p := &scriptedPasser{fired: make(chan struct{}, 16)}
	s := New(p, WithInterval(20*time.Millisecond), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-p.fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d did not fire", i)
		}
	}
	assert.True(t, s.Status().Running)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.GreaterOrEqual(t, p.count(), 3)
	assert.False(t, s.Status().Running)
}

func TestScheduler_FirstTickBeforeInterval(t *testing.T) {
	p := &scriptedPasser{fired: make(chan struct{}, 1)}
	s := New(p, WithInterval(time.Hour), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-p.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("initial pass did not run")
	}
}

func TestScheduler_RejectsSecondRun(t *testing.T) {
	p := &scriptedPasser{fired: make(chan struct{}, 1)}
	s := New(p, WithInterval(time.Hour), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	<-p.fired

	require.Error(t, s.Run(ctx))
}

func TestScheduler_TickCountsSkips(t *testing.T) {
	p := &scriptedPasser{fn: func(call int) (lifecycle.Result, bool) {
		return lifecycle.Result{}, call%2 == 1
	}}
	s := New(p, WithLogger(quietLogger()))

	for i := 0; i < 4; i++ {
		s.Tick(context.Background())
	}

	st := s.Status()
	assert.Equal(t, 4, st.Ticks)
	assert.Equal(t, 2, st.Skips)
	assert.Equal(t, DefaultInterval, st.Interval)
}

func TestScheduler_TickRecoversPanic(t *testing.T) {
	p := &scriptedPasser{fn: func(call int) (lifecycle.Result, bool) {
		if call == 1 {
			panic("disk on fire")
		}
		return lifecycle.Result{Err: errors.New("still failing")}, true
	}}
	s := New(p, WithLogger(quietLogger()))

	require.NotPanics(t, func() { s.Tick(context.Background()) })
	st := s.Status()
	assert.Equal(t, 1, st.Panics)
	require.Error(t, st.LastErr)
	assert.Contains(t, st.LastErr.Error(), "disk on fire")

	s.Tick(context.Background())
	st = s.Status()
	assert.Equal(t, 2, st.Ticks)
	assert.EqualError(t, st.LastErr, "still failing")
}
