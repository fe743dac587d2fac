package world

import (
	"math/rand"
	"testing"
)

func TestPlaceTreeRejectsOutOfBounds(t *testing.T) {
	w := New(DefaultWidth, DefaultHeight)
	if _, ok := w.PlaceTree(SpeciesA, Vec2{X: -1.0, Y: 0}); ok {
		t.Fatalf("expected placement at (-1.0, 0) to be rejected")
	}
}

func TestPlaceTreeAllocatesMonotonicIDs(t *testing.T) {
	w := New(DefaultWidth, DefaultHeight)

	id0, ok := w.PlaceTree(SpeciesA, Vec2{X: 0, Y: 0})
	if !ok || id0 != 0 {
		t.Fatalf("first placement: got (%d, %v), want (0, true)", id0, ok)
	}

	id1, ok := w.PlaceTree(SpeciesB, Vec2{X: 5, Y: 5})
	if !ok || id1 != 1 {
		t.Fatalf("second placement: got (%d, %v), want (1, true)", id1, ok)
	}
}

func TestPlaceTreeRejectsOverlap(t *testing.T) {
	w := New(DefaultWidth, DefaultHeight)
	if _, ok := w.PlaceTree(SpeciesA, Vec2{X: 5, Y: 5}); !ok {
		t.Fatalf("first placement should succeed")
	}
	if _, ok := w.PlaceTree(SpeciesA, Vec2{X: 5.1, Y: 5}); ok {
		t.Fatalf("overlapping placement (distance 0.1 < TreeRadius) should be rejected")
	}
}

func TestNoTwoLiveTreesWithinRadiusAfterManyPlacements(t *testing.T) {
	w := New(DefaultWidth, DefaultHeight)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		x := rng.Float64()*float64(w.Width) - 0.5
		y := rng.Float64()*float64(w.Height) - 0.5
		w.PlaceTree(SpeciesA, Vec2{X: x, Y: y})
	}

	for i := 0; i < len(w.Trees); i++ {
		for j := i + 1; j < len(w.Trees); j++ {
			if d := w.Trees[i].Pos.Dist(w.Trees[j].Pos); d < TreeRadius {
				t.Fatalf("trees %d and %d are %f apart, below TreeRadius", i, j, d)
			}
		}
	}
}

func TestLandHealthStaysInUnitRangeAfterManyTicks(t *testing.T) {
	w := New(DefaultWidth, DefaultHeight)
	w.PlaceTree(SpeciesA, Vec2{X: 10, Y: 10})
	w.PlaceTree(SpeciesB, Vec2{X: 15, Y: 15})
	w.PlaceTree(SpeciesC, Vec2{X: 20, Y: 5})

	for i := 0; i < 300; i++ {
		w.Tick()
		for _, h := range w.LandHealth {
			if h < 0 || h > 1 {
				t.Fatalf("tick %d: land_health out of [0,1]: %f", i, h)
			}
		}
		for _, c := range w.Land {
			if c < 0 {
				t.Fatalf("tick %d: land energy went negative: %f", i, c)
			}
		}
	}
}

func TestTreeEventuallyDies(t *testing.T) {
	w := New(DefaultWidth, DefaultHeight)
	id, ok := w.PlaceTree(SpeciesA, Vec2{X: 5, Y: 5})
	if !ok {
		t.Fatalf("placement failed")
	}

	died := false
	for i := 0; i < 500 && !died; i++ {
		w.Tick()
		for _, deadID := range w.DeadTrees {
			if deadID == id {
				died = true
			}
		}
	}
	if !died {
		t.Fatalf("tree %d never appeared in DeadTrees after 500 ticks", id)
	}
}

func TestTickDeterminism(t *testing.T) {
	run := func() ([]float64, []float64) {
		w := New(DefaultWidth, DefaultHeight)
		w.PlaceTree(SpeciesA, Vec2{X: 5, Y: 5})
		w.PlaceTree(SpeciesB, Vec2{X: 10, Y: 12})
		w.PlaceTree(SpeciesC, Vec2{X: 3, Y: 20})
		for i := 0; i < 120; i++ {
			w.Tick()
		}
		return append([]float64(nil), w.Land...), append([]float64(nil), w.LandHealth...)
	}

	land1, health1 := run()
	land2, health2 := run()

	for i := range land1 {
		if land1[i] != land2[i] {
			t.Fatalf("land[%d] differs across runs: %f vs %f", i, land1[i], land2[i])
		}
		if health1[i] != health2[i] {
			t.Fatalf("land_health[%d] differs across runs: %f vs %f", i, health1[i], health2[i])
		}
	}
}

func TestWireStagePartitionIdempotent(t *testing.T) {
	cases := []struct {
		m    Maturity
		want Stage
	}{
		{Maturity{Kind: Seed, Ticks: 500}, StageSeed},
		{Maturity{Kind: Child, Ticks: 10}, StageChild},
		{Maturity{Kind: Adult, Ticks: 5}, StageYoungAdult},
		{Maturity{Kind: Adult, Ticks: 30}, StageOldAdult},
		{Maturity{Kind: Dead}, StageDead},
	}
	for _, c := range cases {
		tr := Tree{Maturity: c.m}
		if got := tr.WireStage(); got != c.want {
			t.Errorf("WireStage(%+v) = %d, want %d", c.m, got, c.want)
		}
	}
}
