package scenario

import (
	"log/slog"
	"math/rand"
	"sort"

	"github.com/talgya/macro-immunet/internal/engine"
	"github.com/talgya/macro-immunet/internal/field"
	"github.com/talgya/macro-immunet/internal/labels"
	"github.com/talgya/macro-immunet/internal/ownership"
	"github.com/talgya/macro-immunet/internal/space"
)

const particleName = "ANTIGEN_PARTICLE"

// Shedder models an infected epithelial cell: every Every ticks it releases
// an antigen particle into the space near Coord and spills antigen into the
// field, and it marks itself INFECTED every tick.
type Shedder struct {
	ID     string
	Region string
	Coord  field.Coord
	Every  int64
	Spill  float64
	Jitter float64

	rng *rand.Rand
}

// NewShedder creates a shedder with a deterministic particle scatter.
func NewShedder(id, region string, c field.Coord, every int64, seed int64) *Shedder {
	return &Shedder{
		ID:     id,
		Region: region,
		Coord:  c,
		Every:  every,
		Spill:  2,
		Jitter: 1.5,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (s *Shedder) Name() string { return s.ID }

func (s *Shedder) sheds(tick int64) bool {
	return s.Every <= 1 || tick%s.Every == 0
}

func (s *Shedder) Emit(tick int64, _ engine.Reader) []field.Intent {
	out := []field.Intent{{Coord: s.Coord, Label: labels.Infected, Amount: 1, Tick: tick}}
	if s.sheds(tick) {
		out = append(out, field.Intent{Coord: s.Coord, Label: labels.SpilledAntigen, Amount: s.Spill, Tick: tick})
	}
	return out
}

func (s *Shedder) Act(tick int64, _ *field.Store, sp *space.Space) {
	if sp == nil || !s.sheds(tick) {
		return
	}
	c := s.Coord
	if s.rng != nil && s.Jitter > 0 {
		c.X += (s.rng.Float64()*2 - 1) * s.Jitter
		c.Y += (s.rng.Float64()*2 - 1) * s.Jitter
	}
	sp.Add(s.Region, space.Entity{
		Name:        particleName,
		Coord:       c,
		Mass:        1,
		CreatedTick: tick,
		Meta:        map[string]string{"source": s.ID},
	})
}

// Phagocyte models a macrophage: it claims antigen particles within Radius up
// to Capacity, digests each for DigestTicks, then removes it and presents a
// peptide where it was found.
type Phagocyte struct {
	Owner       ownership.OwnerID
	Region      string
	Center      field.Coord
	Radius      float64
	Capacity    int
	DigestTicks int64

	holding map[space.EntityID]held
	pending []field.Intent

	Digested int
}

type held struct {
	since int64
	coord field.Coord
}

func (p *Phagocyte) Name() string { return string(p.Owner) }

// Emit reports the particles digested during the previous tick.
func (p *Phagocyte) Emit(tick int64, _ engine.Reader) []field.Intent {
	out := p.pending
	p.pending = nil
	return out
}

func (p *Phagocyte) Act(tick int64, _ *field.Store, sp *space.Space) {
	if sp == nil {
		return
	}
	if p.holding == nil {
		p.holding = make(map[space.EntityID]held)
		sp.SetCapacity(p.Owner, p.Capacity)
	}

	ids := make([]space.EntityID, 0, len(p.holding))
	for id := range p.holding {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		h := p.holding[id]
		if tick-h.since < p.DigestTicks {
			continue
		}
		if !sp.Remove(p.Region, id) {
			slog.Warn("phagocyte lost a held particle", "owner", p.Owner, "entity", id)
		}
		delete(p.holding, id)
		p.Digested++
		p.pending = append(p.pending,
			field.Intent{Coord: h.coord, Label: labels.MHCPeptide, Amount: 1, Tick: tick},
			field.Intent{Coord: h.coord, Label: labels.DAMP, Amount: 0.25, Tick: tick},
		)
	}

	for _, e := range sp.InRadius(p.Region, p.Center, p.Radius) {
		if e.Name != particleName || e.Lease.Owned() {
			continue
		}
		switch sp.Claim(p.Region, e.ID, p.Owner) {
		case ownership.Ok:
			p.holding[e.ID] = held{since: tick, coord: e.Coord}
		case ownership.AlreadyOwned:
			if p.Capacity > 0 && len(p.holding) >= p.Capacity {
				return
			}
		}
	}
}
