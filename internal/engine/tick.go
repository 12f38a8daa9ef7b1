// Package engine provides the tick-based simulation loop and the per-tick
// orchestration of behaviours against the label field.
package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Engine drives the simulation forward one tick at a time.
type Engine struct {
	Tick     int64         // Last tick stepped (monotonic, never resets)
	Interval time.Duration // Base tick interval at speed 1
	MaxTicks int64         // Stop after this tick; 0 = run until Stop

	// Every tick; wired to Simulation.Step during setup.
	OnTick func(tick int64)

	// Every ReportEvery ticks, after OnTick.
	OnReport    func(tick int64)
	ReportEvery int64

	speedMu sync.Mutex
	speed   float64 // 1.0 = real-time, 0 = paused

	running atomic.Bool
	done    chan struct{}
}

// NewEngine creates an engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval:    time.Second,
		ReportEvery: 100,
		speed:       1.0,
	}
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.speedMu.Lock()
	defer e.speedMu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. Zero pauses; negative values are clamped to zero.
func (e *Engine) SetSpeed(speed float64) {
	if speed < 0 {
		speed = 0
	}
	e.speedMu.Lock()
	e.speed = speed
	e.speedMu.Unlock()
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run starts the simulation loop. Blocks until Stop is called or MaxTicks is reached.
func (e *Engine) Run() {
	e.done = make(chan struct{})
	e.running.Store(true)
	slog.Info("simulation engine started", "tick", e.Tick, "speed", e.Speed(), "max_ticks", e.MaxTicks)

	for e.running.Load() {
		if e.MaxTicks > 0 && e.Tick >= e.MaxTicks {
			break
		}

		speed := e.Speed()
		if speed <= 0 {
			// Paused; sleep briefly and check again.
			e.sleep(100 * time.Millisecond)
			continue
		}

		start := time.Now()
		e.Step()

		// Sleep for the remainder of the tick interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target {
			e.sleep(target - elapsed)
		}
	}

	e.running.Store(false)
	slog.Info("simulation engine stopped", "tick", e.Tick)
}

// Stop halts the simulation loop after the current tick.
func (e *Engine) Stop() {
	if e.running.CompareAndSwap(true, false) && e.done != nil {
		close(e.done)
	}
}

func (e *Engine) sleep(d time.Duration) {
	if e.done == nil {
		time.Sleep(d)
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-e.done:
	}
}

// Step advances the simulation by exactly one tick.
func (e *Engine) Step() {
	e.Tick++

	if e.OnTick != nil {
		e.OnTick(e.Tick)
	}

	if e.OnReport != nil && e.ReportEvery > 0 && e.Tick%e.ReportEvery == 0 {
		e.OnReport(e.Tick)
	}
}
