package scenario

import (
	"github.com/talgya/macro-immunet/internal/engine"
	"github.com/talgya/macro-immunet/internal/field"
)

// Secretor emits a fixed amount of one label at one coordinate, optionally
// only every Nth tick and only while a trigger label is sensed there.
type Secretor struct {
	ID     string
	Coord  field.Coord
	Label  string
	Amount float64
	Every  int64 // Emit on ticks divisible by Every; 0 or 1 = every tick

	Trigger    string  // Optional label that must be sensed at Coord
	TriggerMin float64 // Minimum perceived trigger value
}

func (s *Secretor) Name() string {
	if s.ID != "" {
		return s.ID
	}
	return "secrete:" + s.Label
}

func (s *Secretor) Emit(tick int64, r engine.Reader) []field.Intent {
	if s.Every > 1 && tick%s.Every != 0 {
		return nil
	}
	if s.Trigger != "" {
		v := r.Read(s.Coord, s.Trigger)
		if v <= 0 || v < s.TriggerMin {
			return nil
		}
	}
	return []field.Intent{{
		Coord:  s.Coord,
		Label:  s.Label,
		Amount: s.Amount,
		Tick:   tick,
	}}
}
