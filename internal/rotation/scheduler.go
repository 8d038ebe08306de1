// Package rotation drives certificate lifecycle passes on a fixed interval.
package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/lucas/securewss/internal/lifecycle"
)

// DefaultInterval is the time between scheduled passes.
const DefaultInterval = 12 * time.Hour

// Passer runs a single lifecycle pass, reporting whether it actually ran.
type Passer interface {
	TryPass(ctx context.Context) (lifecycle.Result, bool)
}

// Scheduler fires a pass immediately and then on every interval. It holds
// no certificate state of its own.
type Scheduler struct {
	passer   Passer
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	running  bool
	lastTick time.Time
	ticks    int
	skips    int
	panics   int
	lastErr  error
}

// New creates a new Scheduler for p.
func New(p Passer, opts ...Option) *Scheduler {
	s := &Scheduler{
		passer:   p,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Option is a functional option for configuring the Scheduler.
type Option func(*Scheduler)

// WithInterval sets the time between passes.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithLogger sets the logger for the scheduler.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// Run starts the rotation loop. It blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("starting rotation scheduler", "interval", s.interval)

	// Initial pass
	s.Tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("rotation scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduled pass. A panic inside the pass is recovered and
// logged so that later ticks still fire.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	s.lastTick = time.Now()
	s.ticks++
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("rotation pass panicked", "panic", r, "stack", string(debug.Stack()))
			s.mu.Lock()
			s.panics++
			s.lastErr = fmt.Errorf("pass panicked: %v", r)
			s.mu.Unlock()
		}
	}()

	res, ran := s.passer.TryPass(ctx)
	if !ran {
		s.logger.Info("previous pass still running, skipping tick")
		s.mu.Lock()
		s.skips++
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.lastErr = res.Err
	s.mu.Unlock()
}

// Status returns the current status of the scheduler.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SchedulerStatus{
		Running:  s.running,
		Interval: s.interval,
		LastTick: s.lastTick,
		Ticks:    s.ticks,
		Skips:    s.skips,
		Panics:   s.panics,
		LastErr:  s.lastErr,
	}
}

// SchedulerStatus contains the current status of the scheduler.
type SchedulerStatus struct {
	Running  bool
	Interval time.Duration
	LastTick time.Time
	Ticks    int
	Skips    int
	Panics   int
	LastErr  error
}
