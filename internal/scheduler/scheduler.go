package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/metrics"
)

// EngineLoop is one poll-and-wake loop. The loop sleeps until its trigger
// fires or its interval elapses, clears the trigger, and runs the engine
// once. A run that processed anything wakes the downstream loop.
type EngineLoop struct {
	Name       string
	Run        func(ctx context.Context) (int, error)
	Interval   time.Duration
	Trigger    chan struct{}
	Downstream chan struct{}
}

// NewTrigger allocates a wake event. Capacity one makes sends
// fire-and-forget: waking an already-woken loop is a no-op.
func NewTrigger() chan struct{} {
	return make(chan struct{}, 1)
}

// Wake signals ch without blocking. Nil channels are ignored so tail
// loops need no special casing.
func Wake(ch chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Chain gives every loop a trigger and points each loop's downstream at
// its successor, in argument order.
func Chain(loops ...*EngineLoop) {
	for _, l := range loops {
		if l.Trigger == nil {
			l.Trigger = NewTrigger()
		}
	}
	for i := 0; i+1 < len(loops); i++ {
		loops[i].Downstream = loops[i+1].Trigger
	}
}

// Scheduler owns one goroutine per engine loop. Engine errors and panics
// are logged and absorbed; the next tick retries.
type Scheduler struct {
	loops  []*EngineLoop
	logger *logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(logger *logging.Logger) *Scheduler {
	return &Scheduler{logger: logger.With("scheduler")}
}

func (s *Scheduler) Add(loops ...*EngineLoop) {
	s.loops = append(s.loops, loops...)
}

// Start launches every loop and primes each trigger once, so work
// stranded by the previous shutdown moves within seconds of boot instead
// of waiting out a full interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	for _, loop := range s.loops {
		if loop.Trigger == nil {
			loop.Trigger = NewTrigger()
		}
		Wake(loop.Trigger)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runLoop(ctx, loop)
		}()
	}
	s.logger.Info("scheduler.started", "loops", len(s.loops))
}

// Stop cancels every loop and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler.stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, loop *EngineLoop) {
	timer := time.NewTimer(loop.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-loop.Trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		// Clear a wake that raced the timer; this run sees all pending
		// work anyway.
		select {
		case <-loop.Trigger:
		default:
		}

		s.runOnce(ctx, loop)
		timer.Reset(loop.Interval)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, loop *EngineLoop) {
	start := time.Now()
	processed, err := s.safeRun(ctx, loop)
	metrics.ObserveEngineRun(loop.Name, processed, time.Since(start), err)

	if err != nil {
		s.logger.Error("scheduler.run_failed",
			"engine", loop.Name,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err.Error())
	}
	if processed > 0 {
		s.logger.Info("scheduler.run",
			"engine", loop.Name,
			"processed", processed,
			"elapsed_ms", time.Since(start).Milliseconds())
		Wake(loop.Downstream)
	} else if err == nil {
		s.logger.Debug("scheduler.idle", "engine", loop.Name)
	}
}

func (s *Scheduler) safeRun(ctx context.Context, loop *EngineLoop) (processed int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panicked: %v", r)
		}
	}()
	return loop.Run(ctx)
}
