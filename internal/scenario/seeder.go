// Package scenario provides the demo behaviours that drive the label field:
// a noise-seeded antigen field, cytokine secretors, a sampling dendritic cell
// that claims antigen hotspots, and a phagocyte clearing antigen particles.
package scenario

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/macro-immunet/internal/engine"
	"github.com/talgya/macro-immunet/internal/field"
)

// NoiseSeeder emits a patchy initial field of Label over a square grid of
// integer coordinates on its first tick, shaped by layered simplex noise.
type NoiseSeeder struct {
	Label     string
	Radius    int     // Grid spans [-Radius, Radius] on both axes
	Peak      float64 // Amount at noise value 1.0
	Cutoff    float64 // Noise values below this emit nothing (0.0–1.0)
	Frequency float64

	noise  opensimplex.Noise
	seeded bool
}

// NewNoiseSeeder creates a seeder with a deterministic noise source.
func NewNoiseSeeder(label string, seed int64, radius int, peak float64) *NoiseSeeder {
	return &NoiseSeeder{
		Label:     label,
		Radius:    radius,
		Peak:      peak,
		Cutoff:    0.55,
		Frequency: 0.15,
		noise:     opensimplex.NewNormalized(seed),
	}
}

func (n *NoiseSeeder) Name() string { return "seed:" + n.Label }

// Emit returns the seeded field on the first call and nothing afterwards.
func (n *NoiseSeeder) Emit(tick int64, _ engine.Reader) []field.Intent {
	if n.seeded {
		return nil
	}
	n.seeded = true

	var out []field.Intent
	for x := -n.Radius; x <= n.Radius; x++ {
		for y := -n.Radius; y <= n.Radius; y++ {
			v := octaveNoise(n.noise, float64(x), float64(y), 3, n.Frequency, 0.5)
			if v < n.Cutoff {
				continue
			}
			// Rescale [Cutoff, 1] to (0, Peak].
			amount := n.Peak * (v - n.Cutoff) / (1 - n.Cutoff)
			if amount <= 0 {
				continue
			}
			out = append(out, field.Intent{
				Coord:  field.Coord{X: float64(x), Y: float64(y)},
				Label:  n.Label,
				Amount: amount,
				Tick:   tick,
			})
		}
	}
	return out
}

// octaveNoise layers several noise frequencies, normalized back to [0, 1].
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxValue := 0.0
	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxValue += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return math.Max(0, math.Min(1, total/maxValue))
}
