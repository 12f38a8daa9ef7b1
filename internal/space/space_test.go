package space

import (
	"errors"
	"testing"

	"github.com/talgya/macro-immunet/internal/field"
	"github.com/talgya/macro-immunet/internal/ownership"
)

func TestAddGetRemove(t *testing.T) {
	s := New(0)
	s.Advance(3)
	id := s.Add("lung", Entity{Name: "antigen-particle", Coord: field.Coord{X: 1, Y: 1}, Mass: 2})
	if id == "" {
		t.Fatal("no id assigned")
	}

	e, ok := s.Get("lung", id)
	if !ok {
		t.Fatal("entity missing")
	}
	if e.Name != "ANTIGEN_PARTICLE" || e.CreatedTick != 3 || e.Mass != 2 {
		t.Fatalf("entity = %+v", e)
	}

	if _, ok := s.Get("lymph", id); ok {
		t.Fatal("entity visible in the wrong region")
	}
	if !s.Remove("lung", id) || s.Remove("lung", id) {
		t.Fatal("remove should succeed once")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New(0)
	id := s.Add("r", Entity{Name: "DC", Meta: map[string]string{"epitope": "SIINFEKL"}})
	e, _ := s.Get("r", id)
	e.Meta["epitope"] = "changed"
	e.Mass = 99

	again, _ := s.Get("r", id)
	if again.Meta["epitope"] != "SIINFEKL" || again.Mass != 0 {
		t.Fatalf("Get leaked internal state: %+v", again)
	}
}

func TestSpatialQueries(t *testing.T) {
	s := New(0)
	s.Add("r", Entity{ID: "a", Name: "VIRUS", Coord: field.Coord{X: 0, Y: 0}})
	s.Add("r", Entity{ID: "b", Name: "VIRUS", Coord: field.Coord{X: 3, Y: 4}})
	s.Add("r", Entity{ID: "c", Name: "DEBRIS", Coord: field.Coord{X: 10, Y: 0}})

	if got := s.InRadius("r", field.Coord{}, 5); len(got) != 2 {
		t.Fatalf("in radius 5 = %d, want 2", len(got))
	}
	if got := s.InRadius("r", field.Coord{}, 4.9); len(got) != 1 {
		t.Fatalf("in radius 4.9 = %d, want 1", len(got))
	}
	if got := s.InBox("r", field.Coord{X: 2, Y: -1}, field.Coord{X: 10, Y: 4}); len(got) != 2 {
		t.Fatalf("in box = %d, want 2", len(got))
	}
	if got := s.ByName("r", "virus"); len(got) != 2 || got[0].ID != "a" {
		t.Fatalf("by name = %+v", got)
	}
	if regions := s.Regions(); len(regions) != 1 || regions[0] != "r" {
		t.Fatalf("regions = %v", regions)
	}
}

func TestClaimReleaseCooldown(t *testing.T) {
	s := New(2)
	id := s.Add("r", Entity{Name: "ANTIGEN_PARTICLE"})

	if got := s.Claim("r", id, "DC-1"); got != ownership.Ok {
		t.Fatalf("claim = %v", got)
	}
	if got := s.Claim("r", id, "DC-2"); got != ownership.AlreadyOwned {
		t.Fatalf("second claim = %v", got)
	}
	if s.Load("DC-1") != 1 {
		t.Fatalf("load = %d, want 1", s.Load("DC-1"))
	}

	if err := s.Release("r", id, "DC-2"); !errors.Is(err, ownership.ErrNotOwner) {
		t.Fatalf("release by non-owner err = %v", err)
	}
	if err := s.Release("r", "missing", "DC-1"); !errors.Is(err, ownership.ErrNotFound) {
		t.Fatalf("release missing err = %v", err)
	}
	if err := s.Release("r", id, "DC-1"); err != nil {
		t.Fatal(err)
	}
	if s.Load("DC-1") != 0 {
		t.Fatalf("load after release = %d", s.Load("DC-1"))
	}

	if got := s.Claim("r", id, "DC-2"); got != ownership.CoolingDown {
		t.Fatalf("claim in cooldown = %v", got)
	}
	s.Advance(2)
	if got := s.Claim("r", id, "DC-2"); got != ownership.Ok {
		t.Fatalf("claim after cooldown = %v", got)
	}
	if got := s.Claim("r", "missing", "DC-2"); got != ownership.NotFound {
		t.Fatalf("claim missing = %v", got)
	}
}

func TestCapacity(t *testing.T) {
	s := New(0)
	ids := []EntityID{
		s.Add("r", Entity{Name: "VIRUS"}),
		s.Add("r", Entity{Name: "VIRUS"}),
		s.Add("r", Entity{Name: "VIRUS"}),
	}
	s.SetCapacity("MAC-1", 2)

	claimed, failed := s.ClaimMany("r", ids, "MAC-1")
	if len(claimed) != 2 || len(failed) != 1 {
		t.Fatalf("claimed %d failed %d, want 2/1", len(claimed), len(failed))
	}

	s.SetCapacity("MAC-1", 0)
	if got := s.Claim("r", failed[0], "MAC-1"); got != ownership.Ok {
		t.Fatalf("claim after lifting capacity = %v", got)
	}
	if s.Load("MAC-1") != 3 {
		t.Fatalf("load = %d, want 3", s.Load("MAC-1"))
	}

	s.Remove("r", ids[0])
	if s.Load("MAC-1") != 2 {
		t.Fatalf("load after remove = %d, want 2", s.Load("MAC-1"))
	}
}

func TestTransfer(t *testing.T) {
	s := New(0)
	id := s.Add("r", Entity{Name: "OWNED_ANTIGEN"})

	if err := s.Transfer("r", id, "DC-1", "DC-2"); !errors.Is(err, ownership.ErrNotOwner) {
		t.Fatalf("transfer of unowned err = %v", err)
	}
	s.Claim("r", id, "DC-1")
	if err := s.Transfer("r", id, "DC-1", "DC-1"); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if err := s.Transfer("r", id, "DC-1", "DC-2"); err != nil {
		t.Fatal(err)
	}
	e, _ := s.Get("r", id)
	if e.Lease.Owner != "DC-2" || s.Load("DC-1") != 0 || s.Load("DC-2") != 1 {
		t.Fatalf("owner=%q loads=%d/%d", e.Lease.Owner, s.Load("DC-1"), s.Load("DC-2"))
	}
	if err := s.Transfer("r", "missing", "DC-2", "DC-1"); !errors.Is(err, ownership.ErrNotFound) {
		t.Fatalf("transfer missing err = %v", err)
	}
}

func TestSeededIDsRepeat(t *testing.T) {
	ids := func(seed int64) []EntityID {
		s := New(0)
		s.SeedIDs(seed)
		var out []EntityID
		for i := 0; i < 3; i++ {
			out = append(out, s.Add("lung", Entity{Name: "debris"}))
		}
		return out
	}

	a, b := ids(7), ids(7)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("id %d differs across runs: %s vs %s", i, a[i], b[i])
		}
	}
	if a[0] == a[1] || a[1] == a[2] {
		t.Fatalf("seeded ids collide: %v", a)
	}
	if c := ids(8); c[0] == a[0] {
		t.Fatal("different seeds gave the same id")
	}
}
