package toolpath

import (
	"testing"

	"crft-host/pkg/geometry"
)

func square(x, y, side float64) geometry.Contour {
	return geometry.NewContour([]geometry.Point{
		{X: x, Y: y}, {X: x + side, Y: y},
		{X: x + side, Y: y + side}, {X: x, Y: y + side},
	}, true)
}

func TestSequenceBijection(t *testing.T) {
	contours := []geometry.Contour{
		square(0, 0, 1),
		square(10, 0, 1),
		square(5, 5, 1),
		square(0, 10, 1),
	}
	loops := Sequence(contours)
	if len(loops) != len(contours) {
		t.Fatalf("got %d loops, want %d", len(loops), len(contours))
	}
	// Every input contour appears exactly once: match by vertex set size
	// and centroid.
	seen := make([]bool, len(contours))
	for _, l := range loops {
		matched := -1
		lc := geometry.NewContour(l.Points, l.Closed)
		for i, c := range contours {
			if seen[i] || len(c.Points) != len(l.Points) {
				continue
			}
			if lc.Centroid().Coincident(c.Centroid()) {
				matched = i
				break
			}
		}
		if matched == -1 {
			t.Fatalf("loop %v matches no input contour", l.Points)
		}
		seen[matched] = true
	}
}

func TestSequenceNearestNeighborOrder(t *testing.T) {
	// Contour 0 ends near the contour at x=2, which ends near x=4: the
	// greedy order must be 0, 2, 1 by input index.
	contours := []geometry.Contour{
		square(0, 0, 1),
		square(8, 0, 1),
		square(2.5, 0, 1),
	}
	loops := Sequence(contours)
	if len(loops) != 3 {
		t.Fatalf("got %d loops", len(loops))
	}
	if loops[1].Points[0].X < 2 || loops[1].Points[0].X > 4 {
		t.Errorf("second loop should be the near square, starts at %v", loops[1].Points[0])
	}
	if loops[2].Points[0].X < 8 {
		t.Errorf("far square must come last, starts at %v", loops[2].Points[0])
	}
}

func TestSequenceRotationPreservesWinding(t *testing.T) {
	a := square(0, 0, 1)    // CCW
	b := square(10, 10, 2)  // CCW
	loops := Sequence([]geometry.Contour{a, b})

	lb := geometry.NewContour(loops[1].Points, true)
	if !lb.CounterClockwise() {
		t.Error("rotation reversed winding")
	}
	// Start vertex of b is the one nearest to a's start (the path
	// returns there after the closed loop): corner (10,10).
	got := loops[1].Points[0]
	if !got.Coincident(geometry.Point{X: 10, Y: 10}) {
		t.Errorf("second loop starts at %v, want (10,10)", got)
	}
	// First contour has no current point: starts at its own vertex 0.
	if !loops[0].Points[0].Coincident(a.Points[0]) {
		t.Errorf("first loop must start at input vertex 0, got %v", loops[0].Points[0])
	}
}

func TestPathContiguity(t *testing.T) {
	loops := Sequence([]geometry.Contour{square(0, 0, 1), square(5, 0, 1)})
	segs := Path(loops, 1200)

	if len(segs) == 0 {
		t.Fatal("no segments")
	}
	travels := 0
	for i, s := range segs {
		if i > 0 && !segs[i-1].To.Coincident(s.From) {
			t.Errorf("segment %d not contiguous: %v -> %v", i, segs[i-1].To, s.From)
		}
		if s.Kind == Travel {
			travels++
		}
		if s.Feed != 1200 {
			t.Errorf("segment %d feed = %v", i, s.Feed)
		}
	}
	// One bridge between the two loops; no leading travel (Path starts
	// at the first loop's first vertex).
	if travels != 1 {
		t.Errorf("got %d travel segments, want 1", travels)
	}
	// Each closed 4-point square contributes 4 cut segments.
	if cuts := len(segs) - travels; cuts != 8 {
		t.Errorf("got %d cut segments, want 8", cuts)
	}
}

func TestLength(t *testing.T) {
	segs := []Segment{
		{From: geometry.Point{}, To: geometry.Point{X: 3, Y: 4}, Kind: Travel},
		{From: geometry.Point{X: 3, Y: 4}, To: geometry.Point{X: 3, Y: 10}, Kind: Cut},
	}
	travel, cut := Length(segs)
	if travel != 5 || cut != 6 {
		t.Errorf("Length = (%v, %v), want (5, 6)", travel, cut)
	}
}
