// Package sched implements the cooperative tick scheduler driving all
// periodic BMS work. Tasks run on a single goroutine in registration order;
// a task that overruns its period causes tick slippage, never reentry.
package sched

import (
	"context"
	"log/slog"
	"time"
)

// DefaultBaseTick matches the firmware's 10 ms scheduler tick.
const DefaultBaseTick = 10 * time.Millisecond

type task struct {
	name      string
	fn        func()
	intervalT int // interval in base ticks
	countdown int
}

// Scheduler is a cooperative, timer-tick-driven task runner. There is no
// removal API: boot-sequence tasks self-gate by entering an internal idle
// state instead of mutating the task list during iteration.
type Scheduler struct {
	baseTick time.Duration
	tasks    []*task
	ticks    uint64
	running  bool
	log      *slog.Logger
}

// New creates a scheduler with the given base tick. A zero base tick
// selects DefaultBaseTick.
func New(baseTick time.Duration, log *slog.Logger) *Scheduler {
	if baseTick <= 0 {
		baseTick = DefaultBaseTick
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{baseTick: baseTick, log: log}
}

// AddTask registers a callback to run every interval, starting on the next
// due tick boundary. Intervals shorter than the base tick are rounded up to
// one tick. Registration after Run has started is not supported.
func (s *Scheduler) AddTask(name string, fn func(), interval time.Duration) {
	ticks := int(interval / s.baseTick)
	if ticks < 1 {
		ticks = 1
	}
	s.tasks = append(s.tasks, &task{
		name:      name,
		fn:        fn,
		intervalT: ticks,
		countdown: ticks,
	})
}

// Tick advances the scheduler by exactly one base tick, running every due
// task in registration order.
func (s *Scheduler) Tick() {
	s.ticks++
	for _, t := range s.tasks {
		t.countdown--
		if t.countdown > 0 {
			continue
		}
		t.countdown = t.intervalT
		t.fn()
	}
}

// Ticks reports how many base ticks have elapsed.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks
}

// BaseTick reports the configured tick duration.
func (s *Scheduler) BaseTick() time.Duration {
	return s.baseTick
}

// Uptime reports elapsed scheduler time derived from the tick counter.
func (s *Scheduler) Uptime() time.Duration {
	return time.Duration(s.ticks) * s.baseTick
}

// Run drives ticks from a wall-clock ticker until the context ends. Ticks
// missed while a task overruns are not replayed.
func (s *Scheduler) Run(ctx context.Context) {
	if s.running {
		return
	}
	s.running = true
	s.log.Info("scheduler started", "base_tick", s.baseTick, "tasks", len(s.tasks))

	ticker := time.NewTicker(s.baseTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping", "uptime", s.Uptime())
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}
