package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/macro-immunet/internal/field"
	"github.com/talgya/macro-immunet/internal/space"
)

// Reader is the read-only view of the field handed to behaviours while they
// decide what to emit.
type Reader interface {
	Read(c field.Coord, label string) float64
	Snapshot() field.Grid
}

// Behavior decides what a cell population wants to emit this tick.
// Intents are queued and become visible only after the tick is applied.
type Behavior interface {
	Name() string
	Emit(tick int64, r Reader) []field.Intent
}

// Actor is a Behavior that also claims or releases field entries and
// entities once the tick's writes are committed.
type Actor interface {
	Act(tick int64, fs *field.Store, sp *space.Space)
}

// TickReport summarizes one simulated tick.
type TickReport struct {
	Tick     int64            `json:"tick"`
	Emitted  int              `json:"emitted"`
	Apply    field.ApplyStats `json:"apply"`
	Pruned   int              `json:"pruned"`
	Entries  int              `json:"entries"`
	Duration time.Duration    `json:"duration_ns"`
}

// Simulation holds the field, the entity space, and the behaviours that act
// on them. Lifecycle is owned by whoever constructs it; nothing here is global.
type Simulation struct {
	Field     *field.Store
	Space     *space.Space
	Behaviors []Behavior

	PruneEvery int64 // Prune after every Nth tick; 0 = never

	// Called after each tick with its report.
	OnReport func(TickReport)

	mu   sync.Mutex
	last TickReport
}

// NewSimulation creates a Simulation over the given store and space.
func NewSimulation(fs *field.Store, sp *space.Space, behaviors ...Behavior) *Simulation {
	return &Simulation{
		Field:      fs,
		Space:      sp,
		Behaviors:  behaviors,
		PruneEvery: 10,
	}
}

// CurrentTick returns the field's committed tick.
func (s *Simulation) CurrentTick() int64 {
	return s.Field.Tick()
}

// Step runs one tick: every behaviour emits against the committed state,
// the intents are applied atomically, actors claim and release, and the
// field is pruned on schedule. Behaviours run in registration order, so on
// contention the earlier one wins.
func (s *Simulation) Step(tick int64) {
	start := time.Now()
	report := TickReport{Tick: tick}

	for _, b := range s.Behaviors {
		intents := b.Emit(tick, s.Field)
		for i := range intents {
			if intents[i].Source == "" {
				intents[i].Source = b.Name()
			}
		}
		report.Emitted += len(intents)
		s.Field.Submit(intents...)
	}

	report.Apply = s.Field.ApplyTick(tick)
	if report.Apply.Skipped {
		slog.Warn("tick behind field store, intents left queued", "tick", tick, "field_tick", report.Apply.Tick)
	}
	if s.Space != nil {
		s.Space.Advance(tick)
	}

	for _, b := range s.Behaviors {
		if a, ok := b.(Actor); ok {
			a.Act(tick, s.Field, s.Space)
		}
	}

	if s.PruneEvery > 0 && tick%s.PruneEvery == 0 {
		report.Pruned = s.Field.Prune()
	}

	report.Entries = s.Field.Len()
	report.Duration = time.Since(start)
	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	slog.Debug("tick applied",
		"tick", tick,
		"emitted", report.Emitted,
		"created", report.Apply.Created,
		"merged", report.Apply.Merged,
		"dropped", report.Apply.Dropped,
		"pruned", report.Pruned,
		"entries", report.Entries,
	)

	if s.OnReport != nil {
		s.OnReport(report)
	}
}

// LastReport returns the report of the most recent tick.
func (s *Simulation) LastReport() TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// LogSummary writes an info-level summary of the last tick.
func (s *Simulation) LogSummary(tick int64) {
	last := s.LastReport()
	slog.Info("field report",
		"tick", tick,
		"entries", last.Entries,
		"coords", len(s.Field.Snapshot()),
		"last_created", last.Apply.Created,
		"last_dropped", last.Apply.Dropped,
		"last_pruned", last.Pruned,
	)
}
