package field

import (
	"reflect"
	"testing"
)

func sameGrid(a, b Grid) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func TestSnapshotMatchesRead(t *testing.T) {
	s := New(Config{
		HalfLives:      map[string]float64{"IL12": 8, "ANTIGEN": 1},
		PruneThreshold: 0.2,
	})
	a, b := Coord{X: 2, Y: 3}, Coord{X: -1, Y: 0.5}
	s.Submit(
		emit(a, "IL12", 8, 0),
		emit(a, "ANTIGEN", 1, 0),
		emit(b, "DAMP", 3, 0),
	)
	s.ApplyTick(8)

	g := s.Snapshot()
	if len(g) != 2 {
		t.Fatalf("coordinates = %d, want 2", len(g))
	}
	for c, labels := range g {
		for label, v := range labels {
			if r := s.Read(c, label); r != v {
				t.Errorf("%s@%s: snapshot %g != read %g", label, c, v, r)
			}
		}
	}
	if got := g.Get(a, "IL12"); !approx(got, 4) {
		t.Errorf("IL12 = %g, want 4", got)
	}
	if got, ok := g[a]["ANTIGEN"]; !ok || got != 0 {
		t.Errorf("ANTIGEN below floor = %g (present %v), want 0 and present", got, ok)
	}
	if got := g.Get(Coord{X: 9, Y: 9}, "IL12"); got != 0 {
		t.Errorf("unknown coordinate = %g", got)
	}
}

func TestSnapshotCacheInvalidation(t *testing.T) {
	s := newTestStore(0, 0)
	s.Submit(emit(origin, "IL12", 8, 0))
	s.ApplyTick(0)

	g1 := s.Snapshot()
	if !sameGrid(g1, s.Snapshot()) {
		t.Fatal("snapshot not cached between mutations")
	}

	s.Submit(emit(origin, "IL12", 1, 0))
	if !sameGrid(g1, s.Snapshot()) {
		t.Fatal("submit invalidated the cache")
	}
	if got := s.Snapshot().Get(origin, "IL12"); got != 8 {
		t.Fatalf("pending write visible in snapshot: %g", got)
	}

	s.ApplyTick(0)
	g2 := s.Snapshot()
	if sameGrid(g1, g2) {
		t.Fatal("apply did not invalidate the cache")
	}
	if got := g2.Get(origin, "IL12"); got != 9 {
		t.Fatalf("snapshot after apply = %g, want 9", got)
	}

	steps := []struct {
		name string
		op   func()
	}{
		{"claim", func() { s.Claim(origin, "IL12", "A") }},
		{"release", func() {
			if err := s.Release(origin, "IL12", "A"); err != nil {
				t.Fatal(err)
			}
		}},
		{"prune", func() { s.Prune() }},
		{"create", func() { s.Create(Coord{X: 1, Y: 1}, "TNF", 1) }},
	}
	prev := g2
	for _, step := range steps {
		step.op()
		next := s.Snapshot()
		if sameGrid(prev, next) {
			t.Fatalf("%s did not invalidate the cache", step.name)
		}
		prev = next
	}
}

func TestSnapshotFailedClaimKeepsCache(t *testing.T) {
	s := newTestStore(0, 0)
	s.Submit(emit(origin, "IL12", 1, 0))
	s.ApplyTick(0)
	s.Claim(origin, "IL12", "A")

	g := s.Snapshot()
	if s.Claim(origin, "IL12", "B") {
		t.Fatal("second claim succeeded")
	}
	if !sameGrid(g, s.Snapshot()) {
		t.Fatal("failed claim invalidated the cache")
	}
}

func TestSnapshotDecaysWithTick(t *testing.T) {
	s := newTestStore(0, 0)
	s.Submit(emit(origin, "IL12", 8, 0))
	s.ApplyTick(0)
	if got := s.Snapshot().Get(origin, "IL12"); got != 8 {
		t.Fatalf("tick 0 = %g", got)
	}
	s.ApplyTick(16)
	if got := s.Snapshot().Get(origin, "IL12"); !approx(got, 2) {
		t.Fatalf("tick 16 = %g, want 2", got)
	}
}
