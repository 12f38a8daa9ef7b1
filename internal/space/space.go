// Package space holds discrete entities (cells, antigen particles, debris)
// grouped by region. Entities are claimed and released through the same
// ownership contract as field entries, with optional per-owner capacity.
package space

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/talgya/macro-immunet/internal/field"
	"github.com/talgya/macro-immunet/internal/labels"
	"github.com/talgya/macro-immunet/internal/ownership"
)

// EntityID identifies an entity across all regions.
type EntityID string

// NewEntityID returns a random entity id.
func NewEntityID() EntityID {
	return EntityID(uuid.NewString())
}

// Entity is one discrete object in a region.
type Entity struct {
	ID          EntityID          `json:"id"`
	Name        string            `json:"name"` // Canonical label name, e.g. ANTIGEN_PARTICLE
	Coord       field.Coord       `json:"coord"`
	Mass        float64           `json:"mass"`
	CreatedTick int64             `json:"created_tick"`
	Meta        map[string]string `json:"meta,omitempty"`
	Lease       ownership.Lease   `json:"lease"`
}

func (e *Entity) clone() Entity {
	out := *e
	if e.Meta != nil {
		out.Meta = make(map[string]string, len(e.Meta))
		for k, v := range e.Meta {
			out.Meta[k] = v
		}
	}
	return out
}

// Space is a region-scoped entity registry.
type Space struct {
	mu sync.Mutex

	tick     int64
	cooldown int64
	regions  map[string]map[EntityID]*Entity

	capacity map[ownership.OwnerID]int
	load     map[ownership.OwnerID]int

	ids io.Reader // Seeded id source; nil uses crypto randomness
}

// New creates an empty space. cooldown is the post-release claim cooldown.
func New(cooldown int64) *Space {
	return &Space{
		cooldown: cooldown,
		regions:  make(map[string]map[EntityID]*Entity),
		capacity: make(map[ownership.OwnerID]int),
		load:     make(map[ownership.OwnerID]int),
	}
}

// Advance moves the space clock forward. Earlier ticks are ignored.
func (s *Space) Advance(tick int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tick > s.tick {
		s.tick = tick
	}
}

// Add registers an entity in region and returns its id. A missing id is
// generated; the name is canonicalized and CreatedTick defaults to now.
func (s *Space) Add(region string, e Entity) EntityID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = s.nextID()
	}
	e.Name = labels.Canonical(e.Name)
	if e.CreatedTick == 0 {
		e.CreatedTick = s.tick
	}
	e.Lease = ownership.Lease{}

	ents, ok := s.regions[region]
	if !ok {
		ents = make(map[EntityID]*Entity)
		s.regions[region] = ents
	}
	if old, ok := ents[e.ID]; ok && old.Lease.Owned() {
		s.addLoad(old.Lease.Owner, -1)
	}
	ents[e.ID] = &e
	return e.ID
}

// SeedIDs makes generated entity ids a function of seed, so a seeded run
// assigns the same ids every time.
func (s *Space) SeedIDs(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = rand.New(rand.NewSource(seed))
}

// nextID returns a new entity id. Callers hold s.mu.
func (s *Space) nextID() EntityID {
	if s.ids == nil {
		return NewEntityID()
	}
	id, err := uuid.NewRandomFromReader(s.ids)
	if err != nil {
		return NewEntityID()
	}
	return EntityID(id.String())
}

// Get returns a copy of an entity.
func (s *Space) Get(region string, id EntityID) (Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.regions[region][id]
	if !ok {
		return Entity{}, false
	}
	return e.clone(), true
}

// Remove deletes an entity, releasing its owner's load. It reports whether
// the entity existed.
func (s *Space) Remove(region string, id EntityID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.regions[region][id]
	if !ok {
		return false
	}
	if e.Lease.Owned() {
		s.addLoad(e.Lease.Owner, -1)
	}
	delete(s.regions[region], id)
	return true
}

// Regions returns the known region ids, sorted.
func (s *Space) Regions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.regions))
	for r := range s.regions {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// List returns copies of the entities in region matching keep (nil = all),
// ordered by creation tick then id.
func (s *Space) List(region string, keep func(*Entity) bool) []Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entity
	for _, e := range s.regions[region] {
		if keep == nil || keep(e) {
			out = append(out, e.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedTick != out[j].CreatedTick {
			return out[i].CreatedTick < out[j].CreatedTick
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ByName returns the entities in region with the given label name.
func (s *Space) ByName(region, name string) []Entity {
	name = labels.Canonical(name)
	return s.List(region, func(e *Entity) bool { return e.Name == name })
}

// InRadius returns the entities in region within radius of center.
func (s *Space) InRadius(region string, center field.Coord, radius float64) []Entity {
	return s.List(region, func(e *Entity) bool {
		return math.Hypot(e.Coord.X-center.X, e.Coord.Y-center.Y) <= radius
	})
}

// InBox returns the entities in region inside the closed box [lo, hi].
func (s *Space) InBox(region string, lo, hi field.Coord) []Entity {
	return s.List(region, func(e *Entity) bool {
		return e.Coord.X >= lo.X && e.Coord.X <= hi.X &&
			e.Coord.Y >= lo.Y && e.Coord.Y <= hi.Y
	})
}

// SetCapacity limits how many entities owner may hold at once.
// A capacity of zero or less removes the limit.
func (s *Space) SetCapacity(owner ownership.OwnerID, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if capacity <= 0 {
		delete(s.capacity, owner)
		return
	}
	s.capacity[owner] = capacity
}

// Load returns how many entities owner currently holds.
func (s *Space) Load(owner ownership.OwnerID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load[owner]
}

// Claim attempts to take ownership of an entity. Capacity exhaustion is
// reported as AlreadyOwned: the claimant already holds all it may.
func (s *Space) Claim(region string, id EntityID, claimant ownership.OwnerID) ownership.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.regions[region][id]
	if !ok {
		return ownership.NotFound
	}
	if res := e.Lease.Check(s.tick); res != ownership.Ok {
		return res
	}
	if limit, ok := s.capacity[claimant]; ok && s.load[claimant] >= limit {
		return ownership.AlreadyOwned
	}
	res := e.Lease.Claim(claimant, s.tick)
	if res == ownership.Ok {
		s.addLoad(claimant, 1)
	}
	return res
}

// ClaimMany claims each id in turn and returns the ids claimed and failed.
func (s *Space) ClaimMany(region string, ids []EntityID, claimant ownership.OwnerID) (claimed, failed []EntityID) {
	for _, id := range ids {
		if s.Claim(region, id, claimant) == ownership.Ok {
			claimed = append(claimed, id)
		} else {
			failed = append(failed, id)
		}
	}
	return claimed, failed
}

// Release gives up claimant's ownership of an entity and starts its cooldown.
func (s *Space) Release(region string, id EntityID, claimant ownership.OwnerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.regions[region][id]
	if !ok {
		return fmt.Errorf("release %s/%s: %w", region, id, ownership.ErrNotFound)
	}
	if err := e.Lease.Release(claimant, s.tick, s.cooldown); err != nil {
		return fmt.Errorf("release %s/%s by %q: %w", region, id, claimant, err)
	}
	s.addLoad(claimant, -1)
	return nil
}

// Transfer hands an owned entity from one owner to another, ignoring the
// recipient's capacity.
func (s *Space) Transfer(region string, id EntityID, from, to ownership.OwnerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.regions[region][id]
	if !ok {
		return fmt.Errorf("transfer %s/%s: %w", region, id, ownership.ErrNotFound)
	}
	if from == to && e.Lease.Owner == from {
		return nil
	}
	if err := e.Lease.Transfer(from, to); err != nil {
		return fmt.Errorf("transfer %s/%s %q->%q: %w", region, id, from, to, err)
	}
	s.addLoad(from, -1)
	s.addLoad(to, 1)
	return nil
}

func (s *Space) addLoad(owner ownership.OwnerID, delta int) {
	n := s.load[owner] + delta
	if n <= 0 {
		delete(s.load, owner)
		return
	}
	s.load[owner] = n
}
