package persistence

import (
	"errors"
	"log/slog"

	"github.com/talgya/macro-immunet/internal/engine"
	"github.com/talgya/macro-immunet/internal/field"
)

// Recorder fans tick reports out to the trace log and, every Every ticks,
// samples the whole field into the database. Either sink may be nil.
// Write failures are logged and never stop the simulation.
type Recorder struct {
	DB    *DB
	Trace *TraceLog
	Field *field.Store
	Every int64
}

// Observe is shaped to be used as Simulation.OnReport.
func (r *Recorder) Observe(rep engine.TickReport) {
	if r.Trace != nil {
		if err := r.Trace.WriteReport(rep); err != nil {
			slog.Warn("trace write failed", "tick", rep.Tick, "error", err)
		}
	}
	if r.DB == nil {
		return
	}
	if err := r.DB.RecordReport(rep); err != nil {
		slog.Warn("report write failed", "tick", rep.Tick, "error", err)
	}
	if r.Field == nil || r.Every <= 0 || rep.Tick%r.Every != 0 {
		return
	}
	if err := r.DB.RecordEntries(rep.Tick, r.Field.Entries()); err != nil {
		slog.Warn("field sample failed", "tick", rep.Tick, "error", err)
	}
}

// Close flushes and closes both sinks.
func (r *Recorder) Close() error {
	var errs []error
	if r.Trace != nil {
		errs = append(errs, r.Trace.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}
