package scenario

import (
	"io"
	"math/rand"

	"github.com/google/uuid"

	"github.com/talgya/macro-immunet/internal/engine"
	"github.com/talgya/macro-immunet/internal/field"
	"github.com/talgya/macro-immunet/internal/labels"
	"github.com/talgya/macro-immunet/internal/ownership"
)

// Region is the single tissue region used by the demo.
const Region = "lung"

// newOwner returns a short claimant id with a readable prefix, drawn from
// ids so that a seeded scenario names its claimants the same way every run.
func newOwner(prefix string, ids io.Reader) ownership.OwnerID {
	id, err := uuid.NewRandomFromReader(ids)
	if err != nil {
		id = uuid.New()
	}
	return ownership.OwnerID(prefix + "-" + id.String()[:8])
}

// Demo builds the default infection scenario on a grid of the given radius.
// Registration order is priority order on contention.
func Demo(seed int64, radius int) []engine.Behavior {
	focus := field.Coord{X: 1, Y: 1}
	r := float64(radius)
	ids := rand.New(rand.NewSource(seed))

	return []engine.Behavior{
		NewNoiseSeeder(labels.SpilledAntigen, seed, radius, 10),
		NewShedder("epithelium-0", Region, focus, 5, seed+1),
		&Secretor{
			ID:         "epithelium-0:tnf",
			Coord:      focus,
			Label:      labels.TNF,
			Amount:     1,
			Every:      3,
			Trigger:    labels.Infected,
			TriggerMin: 0.5,
		},
		&Secretor{
			ID:     "stroma:ccl21",
			Coord:  field.Coord{X: -r, Y: -r},
			Label:  labels.CCL21,
			Amount: 0.5,
			Every:  2,
		},
		&Sampler{
			Owner:    newOwner("DC", ids),
			Label:    labels.SpilledAntigen,
			Radius:   r,
			Hold:     5,
			MinValue: 0.5,
		},
		&Sampler{
			Owner:    newOwner("DC", ids),
			Label:    labels.SpilledAntigen,
			Center:   focus,
			Radius:   r / 2,
			Hold:     3,
			MinValue: 0.5,
		},
		&Phagocyte{
			Owner:       newOwner("MAC", ids),
			Region:      Region,
			Center:      focus,
			Radius:      3,
			Capacity:    3,
			DigestTicks: 4,
		},
	}
}
