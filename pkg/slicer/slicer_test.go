package slicer

import (
	"math"
	"testing"

	"crft-host/pkg/geometry"
)

func defaultParams() Params {
	return Params{
		FirstLayerHeight: 0.5,
		LayerHeight:      0.5,
		IncludeBottom:    true,
		ExtrusionWidth:   0.4,
		ShellCount:       2,
	}
}

func TestSliceUnitCube(t *testing.T) {
	m := geometry.BoxMesh(geometry.Point{}, geometry.Point{X: 1, Y: 1, Z: 1})
	p := defaultParams()
	p.ShellCount = 1

	layers, err := Slice(m, p, nil)
	if err != nil {
		t.Fatal(err)
	}
	// ceil(1.0 / 0.5) = 2 layers: z=0.5 and z=1.0 (cap recovery).
	if len(layers) != 2 {
		t.Fatalf("got %d layers, want 2", len(layers))
	}
	for i, l := range layers {
		if l.Empty() {
			t.Fatalf("layer %d empty", i)
		}
		outer := l.Contours[0]
		if !outer.Closed || len(outer.Points) != 4 {
			t.Errorf("layer %d outer contour: closed=%v points=%d, want closed 4-point",
				i, outer.Closed, len(outer.Points))
		}
	}
	if !layers[0].Bottom || layers[1].Bottom {
		t.Error("only the first layer is the bottom layer")
	}
}

func TestSliceLayerCountFormula(t *testing.T) {
	// Layers = 1 + floor((H - first) / h), minus one without the bottom
	// (equals 1 + ceil whenever H - first is a multiple of h).
	cases := []struct {
		name          string
		height        float64
		first, step   float64
		includeBottom bool
	}{
		{"exact multiple", 10, 0.5, 0.5, true},
		{"non multiple", 10, 0.3, 0.7, true},
		{"no bottom", 10, 0.5, 0.5, false},
		{"thin solid", 0.6, 0.5, 0.5, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := geometry.BoxMesh(geometry.Point{}, geometry.Point{X: 5, Y: 5, Z: tc.height})
			p := defaultParams()
			p.FirstLayerHeight = tc.first
			p.LayerHeight = tc.step
			p.IncludeBottom = tc.includeBottom

			layers, err := Slice(m, p, nil)
			if err != nil {
				t.Fatal(err)
			}
			want := 1 + int(math.Floor((tc.height-tc.first)/tc.step+geometry.Epsilon))
			if !tc.includeBottom {
				want--
			}
			if len(layers) != want {
				t.Errorf("got %d layers, want %d", len(layers), want)
			}
		})
	}
}

func TestSliceInvalidParams(t *testing.T) {
	m := geometry.BoxMesh(geometry.Point{}, geometry.Point{X: 1, Y: 1, Z: 1})
	bad := []Params{
		{FirstLayerHeight: 0, LayerHeight: 0.5, ExtrusionWidth: 0.4, ShellCount: 1},
		{FirstLayerHeight: 0.5, LayerHeight: -1, ExtrusionWidth: 0.4, ShellCount: 1},
		{FirstLayerHeight: 0.5, LayerHeight: 0.5, ExtrusionWidth: 0, ShellCount: 1},
		{FirstLayerHeight: 0.5, LayerHeight: 0.5, ExtrusionWidth: 0.4, ShellCount: 0},
	}
	for i, p := range bad {
		if _, err := Slice(m, p, nil); err == nil {
			t.Errorf("params %d accepted, want validation error", i)
		}
	}
}

func TestOffsetShellsDecreasingAreas(t *testing.T) {
	sq := geometry.NewContour([]geometry.Point{
		{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10},
	}, true)

	shells := OffsetShells(sq, 0.4, 5)
	if len(shells) != 5 {
		t.Fatalf("got %d shells, want 5", len(shells))
	}
	prev := sq.AbsArea()
	for i, s := range shells {
		if s.Shell != i {
			t.Errorf("shell %d tagged %d", i, s.Shell)
		}
		if a := s.AbsArea(); a >= prev {
			t.Errorf("shell %d area %v not below previous %v", i, a, prev)
		} else {
			prev = a
		}
	}
	// Shell 0 is a half-width inset: 10x10 -> 9.6x9.6.
	if got, want := shells[0].AbsArea(), 9.6*9.6; math.Abs(got-want) > 1e-9 {
		t.Errorf("shell 0 area = %v, want %v", got, want)
	}
}

func TestOffsetShellsTerminates(t *testing.T) {
	// A contour narrower than the tool degenerates immediately and comes
	// back unchanged as shell 0.
	sliver := geometry.NewContour([]geometry.Point{
		{X: 0, Y: 0}, {X: 5, Y: 0}, {X: 5, Y: 0.1}, {X: 0, Y: 0.1},
	}, true)
	shells := OffsetShells(sliver, 0.4, 3)
	if len(shells) != 1 {
		t.Fatalf("got %d shells, want 1", len(shells))
	}
	if shells[0].Shell != 0 || shells[0].Fill {
		t.Error("degenerate input must come back tagged shell 0, not fill")
	}
	if len(shells[0].Points) != len(sliver.Points) {
		t.Error("degenerate input must come back unmodified")
	}

	// Convex input terminates within maxShells + small constant.
	big := geometry.NewContour([]geometry.Point{
		{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}, {X: 0, Y: 4},
	}, true)
	shells = OffsetShells(big, 0.4, 100)
	// 4mm square at 0.4mm width exhausts in ~5 shells either way.
	if len(shells) > 6 {
		t.Errorf("offsetting did not terminate early: %d shells", len(shells))
	}
}

func TestConcentricFill(t *testing.T) {
	m := geometry.BoxMesh(geometry.Point{}, geometry.Point{X: 5, Y: 5, Z: 2})
	p := defaultParams()

	layers, err := Slice(m, p, nil)
	if err != nil {
		t.Fatal(err)
	}
	countFill := func(l Layer) int {
		n := 0
		for _, c := range l.Contours {
			if c.Fill {
				n++
			}
		}
		return n
	}
	if countFill(layers[0]) == 0 {
		t.Error("bottom layer has no fill contours")
	}
	for _, l := range layers[1:] {
		if countFill(l) != 0 {
			t.Errorf("non-bottom layer z=%v has fill contours", l.Z)
		}
	}
	// Fill indices continue upward from the shell count.
	for _, c := range layers[0].Contours {
		if c.Fill && c.Shell < p.ShellCount {
			t.Errorf("fill contour tagged shell %d below shell count %d", c.Shell, p.ShellCount)
		}
	}
}
