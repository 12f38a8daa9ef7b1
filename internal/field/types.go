package field

import (
	"fmt"
	"math"

	"github.com/talgya/macro-immunet/internal/ownership"
)

// Coord is a position on the continuous tissue plane.
// NaN components never compare equal and must not be used as keys.
type Coord struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Valid reports whether both components are finite.
func (c Coord) Valid() bool {
	return !math.IsNaN(c.X) && !math.IsNaN(c.Y) && !math.IsInf(c.X, 0) && !math.IsInf(c.Y, 0)
}

func (c Coord) String() string {
	return fmt.Sprintf("(%g,%g)", c.X, c.Y)
}

// Key identifies one decaying quantity.
type Key struct {
	Coord Coord  `json:"coord"`
	Label string `json:"label"`
}

func (k Key) String() string {
	return k.Label + "@" + k.Coord.String()
}

// Entry is the settled state of one key. Value is correct as of LastTick;
// readers decay it forward to the store's current tick.
type Entry struct {
	Value    float64         `json:"value"`
	LastTick int64           `json:"last_tick"`
	Lease    ownership.Lease `json:"lease"`
}

// Intent asks the store to add Amount to a key. Tick is the tick the
// emitter decided on; Source names the emitter for tracing.
type Intent struct {
	Coord  Coord   `json:"coord"`
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
	Tick   int64   `json:"tick"`
	Source string  `json:"source,omitempty"`
}

// Key returns the key the intent targets.
func (in Intent) Key() Key {
	return Key{Coord: in.Coord, Label: in.Label}
}

// ApplyStats summarizes one ApplyTick call.
type ApplyStats struct {
	Tick    int64 `json:"tick"`
	Created int   `json:"created"`
	Merged  int   `json:"merged"`
	Dropped int   `json:"dropped"` // Discarded against owned entries
	Skipped bool  `json:"skipped"` // Tick was behind the store; nothing happened
}

// EntryView is a point-in-time copy of one entry as a reader would see it.
type EntryView struct {
	Key
	Value    float64           `json:"value"` // Decayed to the store tick, floored like Read
	Settled  float64           `json:"settled"`
	LastTick int64             `json:"last_tick"`
	Owner    ownership.OwnerID `json:"owner,omitempty"`
}

// Grid maps coordinate -> label -> value as of the store tick.
// Grids returned by Snapshot are shared and must not be modified.
type Grid map[Coord]map[string]float64

// Get returns the value for a label at coord, or 0.
func (g Grid) Get(c Coord, label string) float64 {
	return g[c][label]
}
