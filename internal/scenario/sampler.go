package scenario

import (
	"log/slog"
	"math"
	"sort"

	"github.com/talgya/macro-immunet/internal/engine"
	"github.com/talgya/macro-immunet/internal/field"
	"github.com/talgya/macro-immunet/internal/labels"
	"github.com/talgya/macro-immunet/internal/ownership"
	"github.com/talgya/macro-immunet/internal/space"
)

// Sampler models a dendritic cell: it claims the strongest nearby entry of
// Label, holds it frozen for Hold ticks while signalling that it is
// presenting, then releases it and looks for the next hotspot.
type Sampler struct {
	Owner    ownership.OwnerID
	Label    string
	Center   field.Coord
	Radius   float64
	Hold     int64
	MinValue float64 // Ignore entries weaker than this

	held      *field.Key
	heldSince int64

	Claims    int // Successful claims
	Contended int // Claims refused (owned or cooling down)
}

func (s *Sampler) Name() string { return string(s.Owner) }

// Holding returns the key currently held, if any.
func (s *Sampler) Holding() (field.Key, bool) {
	if s.held == nil {
		return field.Key{}, false
	}
	return *s.held, true
}

// Emit signals presentation at the held coordinate.
func (s *Sampler) Emit(tick int64, _ engine.Reader) []field.Intent {
	if s.held == nil {
		return nil
	}
	c := s.held.Coord
	return []field.Intent{
		{Coord: c, Label: labels.DCPresenting, Amount: 1, Tick: tick},
		{Coord: c, Label: labels.IL12, Amount: 0.5, Tick: tick},
	}
}

// Act releases an expired hold, or claims the strongest candidate.
func (s *Sampler) Act(tick int64, fs *field.Store, _ *space.Space) {
	if s.held != nil {
		if tick-s.heldSince < s.Hold {
			return
		}
		key := *s.held
		s.held = nil
		if err := fs.Release(key.Coord, key.Label, s.Owner); err != nil {
			slog.Warn("sampler release failed", "owner", s.Owner, "key", key.String(), "error", err)
		}
		return
	}

	for _, c := range s.candidates(fs.Snapshot()) {
		switch fs.TryClaim(c, s.Label, s.Owner) {
		case ownership.Ok:
			s.held = &field.Key{Coord: c, Label: s.Label}
			s.heldSince = tick
			s.Claims++
			return
		case ownership.AlreadyOwned, ownership.CoolingDown:
			s.Contended++
		}
	}
}

// candidates lists coordinates in range holding at least MinValue of Label,
// strongest first.
func (s *Sampler) candidates(g field.Grid) []field.Coord {
	type cand struct {
		c field.Coord
		v float64
	}
	var cs []cand
	for c, row := range g {
		v, ok := row[s.Label]
		if !ok || v <= 0 || v < s.MinValue {
			continue
		}
		if s.Radius > 0 && math.Hypot(c.X-s.Center.X, c.Y-s.Center.Y) > s.Radius {
			continue
		}
		cs = append(cs, cand{c, v})
	}
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].v != cs[j].v {
			return cs[i].v > cs[j].v
		}
		if cs[i].c.X != cs[j].c.X {
			return cs[i].c.X < cs[j].c.X
		}
		return cs[i].c.Y < cs[j].c.Y
	})
	out := make([]field.Coord, len(cs))
	for i := range cs {
		out[i] = cs[i].c
	}
	return out
}
