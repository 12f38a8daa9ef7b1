// Package field provides the spatial label field store: a tick-driven,
// time-decaying key/value store keyed by (coordinate, label) that holds every
// biochemical signal in the simulation (cytokine levels, antigen load,
// danger markers, MHC-peptide presence).
//
// Writes are queued with Submit and become visible atomically on ApplyTick.
// Unowned values decay exponentially per label half-life; owned values are
// frozen and reject emits until released. Prune evicts values that have
// decayed below the perception threshold.
package field

import (
	"fmt"
	"sort"
	"sync"

	"github.com/talgya/macro-immunet/internal/ownership"
)

// Config holds the store's construction-time parameters.
type Config struct {
	// HalfLives maps label -> half-life in ticks. Labels that are absent, or
	// that map to a value <= 0, do not decay.
	HalfLives map[string]float64

	// ClaimCooldown is the number of ticks after a release during which the
	// entry cannot be claimed again.
	ClaimCooldown int64

	// PruneThreshold is the minimum perceptible magnitude. Reads below it
	// return 0 and Prune evicts unowned entries below it.
	PruneThreshold float64
}

// Store owns every field entry, the pending intent queue, and the tick counter.
// A single mutex guards each public call; every invariant here spans entries
// and calls, so there is no finer-grained locking.
type Store struct {
	mu sync.Mutex

	cfg   Config
	tick  int64
	cells map[Coord]map[string]*Entry
	queue []Intent

	grid Grid // nil when stale
}

// New creates an empty store at tick 0.
func New(cfg Config) *Store {
	hl := make(map[string]float64, len(cfg.HalfLives))
	for label, h := range cfg.HalfLives {
		hl[label] = h
	}
	cfg.HalfLives = hl
	if cfg.ClaimCooldown < 0 {
		cfg.ClaimCooldown = 0
	}
	return &Store{
		cfg:   cfg,
		cells: make(map[Coord]map[string]*Entry),
	}
}

// HalfLife returns the half-life used for label (0 = no decay).
func (s *Store) HalfLife(label string) float64 {
	return s.cfg.HalfLives[label]
}

// ClaimCooldown returns the configured post-release cooldown in ticks.
func (s *Store) ClaimCooldown() int64 { return s.cfg.ClaimCooldown }

// PruneThreshold returns the configured perception floor.
func (s *Store) PruneThreshold() float64 { return s.cfg.PruneThreshold }

// Tick returns the store's current tick.
func (s *Store) Tick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Len returns the number of stored entries, pruned or not yet pruned.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, labels := range s.cells {
		n += len(labels)
	}
	return n
}

// Pending returns the number of queued, not yet applied intents.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Submit queues intents for the next ApplyTick. Nothing becomes visible to
// readers until then, and the snapshot cache stays valid.
func (s *Store) Submit(intents ...Intent) {
	if len(intents) == 0 {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, intents...)
	s.mu.Unlock()
}

// ApplyTick commits every queued intent and advances the store to tick.
// A tick behind the store is a no-op and leaves the queue untouched.
//
// Intents are applied in tick order (stable within a tick), each settled at
// its own tick capped at the apply tick, so the result does not depend on
// submission order or on how intents are split across calls. New keys are
// created; owned keys silently discard the intent; free keys are decayed to
// the intent tick and then accumulate the amount, and an intent older than
// the entry is itself decayed forward to the entry's tick. Intents at NaN or
// infinite coordinates are dropped. Values never go below zero, and a
// negative amount never creates a key.
func (s *Store) ApplyTick(tick int64) ApplyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tick < s.tick {
		return ApplyStats{Tick: s.tick, Skipped: true}
	}

	queue := s.queue
	s.queue = nil
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].Tick < queue[j].Tick })

	stats := ApplyStats{Tick: tick}
	for _, in := range queue {
		at := in.Tick
		if at > tick {
			at = tick
		}

		if !in.Coord.Valid() {
			stats.Dropped++
			continue
		}

		e := s.lookup(in.Coord, in.Label)
		switch {
		case e == nil:
			if in.Label == "" || in.Amount < 0 {
				stats.Dropped++
				continue
			}
			s.insert(in.Coord, in.Label, &Entry{Value: in.Amount, LastTick: at})
			stats.Created++
		case e.Lease.Owned():
			stats.Dropped++
		case at < e.LastTick:
			// Late intent: decay its amount forward to the entry's tick.
			e.Value += Decay(in.Amount, e.LastTick-at, s.cfg.HalfLives[in.Label])
			if e.Value < 0 {
				e.Value = 0
			}
			stats.Merged++
		default:
			s.settle(in.Label, e, at)
			e.Value += in.Amount
			if e.Value < 0 {
				e.Value = 0
			}
			stats.Merged++
		}
	}

	s.tick = tick
	s.grid = nil
	return stats
}

// Read returns the value a sensor would perceive at coord for label as of
// the current tick. It never mutates the stored entry.
func (s *Store) Read(c Coord, label string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perceived(label, s.lookup(c, label))
}

// Snapshot returns every known coordinate's label values, computed like Read.
// The grid is cached until the next ApplyTick, claim, release, create or prune;
// callers must treat it as read-only.
func (s *Store) Snapshot() Grid {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grid != nil {
		return s.grid
	}
	g := make(Grid, len(s.cells))
	for c, labels := range s.cells {
		row := make(map[string]float64, len(labels))
		for label, e := range labels {
			row[label] = s.perceived(label, e)
		}
		g[c] = row
	}
	s.grid = g
	return g
}

// Claim is the test-and-set form of TryClaim: it reports whether claimant
// now owns the entry.
func (s *Store) Claim(c Coord, label string, claimant ownership.OwnerID) bool {
	return s.TryClaim(c, label, claimant) == ownership.Ok
}

// TryClaim attempts to give claimant exclusive write authority over the
// entry. On success the entry is settled to the current tick and frozen there.
func (s *Store) TryClaim(c Coord, label string, claimant ownership.OwnerID) ownership.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(c, label)
	if e == nil {
		return ownership.NotFound
	}
	if res := e.Lease.Check(s.tick); res != ownership.Ok {
		return res
	}
	s.settle(label, e, s.tick)
	res := e.Lease.Claim(claimant, s.tick)
	if res == ownership.Ok {
		s.grid = nil
	}
	return res
}

// Release gives up claimant's ownership. The entry resumes decaying from the
// current tick and cannot be claimed again for ClaimCooldown ticks.
// Releasing a missing entry or one owned by someone else is an error
// wrapping ownership.ErrNotFound or ownership.ErrNotOwner.
func (s *Store) Release(c Coord, label string, claimant ownership.OwnerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key{Coord: c, Label: label}
	e := s.lookup(c, label)
	if e == nil {
		return fmt.Errorf("release %s: %w", key, ownership.ErrNotFound)
	}
	if err := e.Lease.Release(claimant, s.tick, s.cfg.ClaimCooldown); err != nil {
		return fmt.Errorf("release %s by %q: %w", key, claimant, err)
	}
	e.LastTick = s.tick
	s.grid = nil
	return nil
}

// Create adds an unowned entry at the current tick if the key is absent and
// the coordinate is finite. It reports whether an entry was created.
func (s *Store) Create(c Coord, label string, value float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if label == "" || !c.Valid() || s.lookup(c, label) != nil {
		return false
	}
	if value < 0 {
		value = 0
	}
	s.insert(c, label, &Entry{Value: value, LastTick: s.tick})
	s.grid = nil
	return true
}

// Prune settles every unowned entry to the current tick and deletes those
// below the prune threshold. Owned entries are never inspected. Empty
// coordinates are removed. It returns the number of entries deleted.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for c, labels := range s.cells {
		for label, e := range labels {
			if e.Lease.Owned() {
				continue
			}
			s.settle(label, e, s.tick)
			if e.Value < s.cfg.PruneThreshold {
				delete(labels, label)
				removed++
			}
		}
		if len(labels) == 0 {
			delete(s.cells, c)
		}
	}
	s.grid = nil
	return removed
}

// Inspect returns a copy of the raw settled entry for a key.
func (s *Store) Inspect(c Coord, label string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(c, label)
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns a view of every entry ordered by coordinate then label.
func (s *Store) Entries() []EntryView {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]EntryView, 0, len(s.cells))
	for c, labels := range s.cells {
		for label, e := range labels {
			out = append(out, EntryView{
				Key:      Key{Coord: c, Label: label},
				Value:    s.perceived(label, e),
				Settled:  e.Value,
				LastTick: e.LastTick,
				Owner:    e.Lease.Owner,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Coord.X != b.Coord.X {
			return a.Coord.X < b.Coord.X
		}
		if a.Coord.Y != b.Coord.Y {
			return a.Coord.Y < b.Coord.Y
		}
		return a.Label < b.Label
	})
	return out
}

func (s *Store) lookup(c Coord, label string) *Entry {
	return s.cells[c][label]
}

func (s *Store) insert(c Coord, label string, e *Entry) {
	labels, ok := s.cells[c]
	if !ok {
		labels = make(map[string]*Entry)
		s.cells[c] = labels
	}
	labels[label] = e
}

// settle rewrites e to its decayed value at tick. It never moves LastTick
// backwards.
func (s *Store) settle(label string, e *Entry, tick int64) {
	if tick <= e.LastTick {
		return
	}
	e.Value = Decay(e.Value, tick-e.LastTick, s.cfg.HalfLives[label])
	e.LastTick = tick
}

// perceived is the lazy read: frozen value for owned entries, otherwise the
// value decayed to the store tick with the perception floor applied.
func (s *Store) perceived(label string, e *Entry) float64 {
	if e == nil {
		return 0
	}
	if e.Lease.Owned() {
		return e.Value
	}
	v := Decay(e.Value, s.tick-e.LastTick, s.cfg.HalfLives[label])
	if v < s.cfg.PruneThreshold {
		return 0
	}
	return v
}
