package gcode

import (
	"strings"
	"testing"

	"crft-host/pkg/geometry"
	"crft-host/pkg/toolpath"
)

func testLoop() toolpath.Loop {
	return toolpath.Loop{
		Closed: true,
		Points: []geometry.Point{
			{X: 0, Y: 0, Z: 0.5},
			{X: 10, Y: 0, Z: 0.5},
			{X: 10, Y: 10, Z: 0.5},
			{X: 0, Y: 10, Z: 0.5},
		},
	}
}

func TestEmitClosedLoop(t *testing.T) {
	cmds := Emit([]toolpath.Loop{testLoop()}, Params{FeedRate: 1200})
	want := []string{
		"G0 X0.000 Y0.000 Z0.500",
		"G1 X10.000 Y0.000 Z0.500 F1200",
		"G1 X10.000 Y10.000 Z0.500",
		"G1 X0.000 Y10.000 Z0.500",
		"G1 X0.000 Y0.000 Z0.500",
	}
	if len(cmds) != len(want) {
		t.Fatalf("got %d commands, want %d:\n%s", len(cmds), len(want), strings.Join(cmds, "\n"))
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, cmds[i], want[i])
		}
	}
}

func TestEmitFeedDeduplication(t *testing.T) {
	loops := []toolpath.Loop{testLoop(), testLoop()}
	cmds := Emit(loops, Params{FeedRate: 900, TravelFeedRate: 3000})

	feeds := 0
	for _, c := range cmds {
		if strings.Contains(c, " F") {
			feeds++
		}
	}
	// F changes at: first travel (3000), first cut (900), second travel
	// (3000), second loop's first cut (900). Unchanged feeds are
	// omitted.
	if feeds != 4 {
		t.Errorf("got %d F tokens, want 4:\n%s", feeds, strings.Join(cmds, "\n"))
	}
	for _, c := range cmds {
		if strings.HasPrefix(c, "G0") && strings.Contains(c, " F") && !strings.Contains(c, "F3000") {
			t.Errorf("travel with wrong feed: %q", c)
		}
		if strings.HasPrefix(c, "G1") && strings.Contains(c, " F") && !strings.Contains(c, "F900") {
			t.Errorf("cut with wrong feed: %q", c)
		}
	}
}

func TestEmitExtrusionAdvances(t *testing.T) {
	cmds := Emit([]toolpath.Loop{testLoop()}, Params{FeedRate: 1200, ExtrusionPerMM: 0.05})
	// Perimeter is 40mm; final E = 40 * 0.05 = 2.
	last := cmds[len(cmds)-1]
	if !strings.Contains(last, "E2.00000") {
		t.Errorf("final command %q should carry E2.00000", last)
	}
	// G0 never extrudes.
	for _, c := range cmds {
		if strings.HasPrefix(c, "G0") && strings.Contains(c, " E") {
			t.Errorf("travel carries extrusion: %q", c)
		}
	}
}

func TestEmitPreamblePostamble(t *testing.T) {
	p := Params{
		FeedRate:  600,
		Preamble:  DefaultPreamble,
		Postamble: []string{"M104 S0"},
	}
	cmds := Emit([]toolpath.Loop{testLoop()}, p)
	if cmds[0] != "G21" {
		t.Errorf("first command %q, want preamble G21", cmds[0])
	}
	if cmds[len(cmds)-1] != "M104 S0" {
		t.Errorf("last command %q, want postamble", cmds[len(cmds)-1])
	}
}

func TestEmitOpenPolyline(t *testing.T) {
	open := toolpath.Loop{Points: []geometry.Point{{X: 0, Y: 0}, {X: 5, Y: 0}}}
	cmds := Emit([]toolpath.Loop{open}, Params{FeedRate: 600})
	if len(cmds) != 2 {
		t.Fatalf("got %d commands, want travel + one cut", len(cmds))
	}
	if !strings.HasPrefix(cmds[0], "G0") || !strings.HasPrefix(cmds[1], "G1") {
		t.Errorf("unexpected commands %v", cmds)
	}
}
