// Package gcode converts ordered toolpath loops into textual motion
// commands. Output is pre-protocol: plain command text with no line numbers
// or checksums, which pkg/protocol adds at send time.
package gcode

import (
	"fmt"
	"strings"

	"crft-host/pkg/geometry"
	"crft-host/pkg/toolpath"
)

// Params holds the emission configuration.
type Params struct {
	// FeedRate is the controlled-move feed in mm/min.
	FeedRate float64

	// TravelFeedRate is the rapid feed in mm/min. Zero means let the
	// device use its own rapid rate (G0 without F).
	TravelFeedRate float64

	// ExtrusionPerMM advances the absolute E axis per millimeter of
	// controlled move. Zero disables extrusion tracking (plotter mode).
	ExtrusionPerMM float64

	// Preamble is emitted before any motion, Postamble after the last.
	Preamble, Postamble []string
}

// DefaultPreamble is the usual setup block: metric units, absolute
// positioning, absolute extrusion.
var DefaultPreamble = []string{
	"G21",
	"G90",
	"M82",
	"G92 E0",
}

// Emitter generates motion commands with fixed numeric formatting and
// feed-rate deduplication: the F token appears on the first command of a
// run and is omitted while unchanged, keeping the wire size down.
type Emitter struct {
	p        Params
	lastFeed int
	e        float64
}

// NewEmitter returns an Emitter with the given parameters.
func NewEmitter(p Params) *Emitter {
	return &Emitter{p: p, lastFeed: -1}
}

// Emit converts ordered loops into a flat command list. Each loop becomes
// one rapid travel to its first point followed by controlled moves walking
// the remaining points; closed loops return to their first point, so every
// vertex is visited exactly once per pass around the loop.
func Emit(loops []toolpath.Loop, p Params) []string {
	e := NewEmitter(p)
	var out []string
	out = append(out, p.Preamble...)
	for _, l := range loops {
		out = append(out, e.Loop(l)...)
	}
	out = append(out, p.Postamble...)
	return out
}

// Loop emits the commands for a single loop.
func (e *Emitter) Loop(l toolpath.Loop) []string {
	if len(l.Points) == 0 {
		return nil
	}
	cmds := make([]string, 0, len(l.Points)+1)
	cmds = append(cmds, e.travel(l.Points[0]))
	prev := l.Points[0]
	for _, p := range l.Points[1:] {
		cmds = append(cmds, e.cut(prev, p))
		prev = p
	}
	if l.Closed && len(l.Points) > 2 {
		cmds = append(cmds, e.cut(prev, l.Points[0]))
	}
	return cmds
}

// travel emits a rapid, non-extruding move.
func (e *Emitter) travel(p geometry.Point) string {
	var sb strings.Builder
	sb.WriteString("G0")
	writeXYZ(&sb, p)
	if e.p.TravelFeedRate > 0 {
		e.writeFeed(&sb, e.p.TravelFeedRate)
	}
	return sb.String()
}

// cut emits a controlled, extruding move.
func (e *Emitter) cut(from, to geometry.Point) string {
	var sb strings.Builder
	sb.WriteString("G1")
	writeXYZ(&sb, to)
	if e.p.ExtrusionPerMM > 0 {
		e.e += from.Dist(to) * e.p.ExtrusionPerMM
		fmt.Fprintf(&sb, " E%.5f", e.e)
	}
	e.writeFeed(&sb, e.p.FeedRate)
	return sb.String()
}

// writeFeed appends the F token when the feed differs from the previous
// command's.
func (e *Emitter) writeFeed(sb *strings.Builder, feed float64) {
	f := int(feed)
	if f == e.lastFeed {
		return
	}
	e.lastFeed = f
	fmt.Fprintf(sb, " F%d", f)
}

// writeXYZ appends coordinates with fixed 3-decimal precision.
func writeXYZ(sb *strings.Builder, p geometry.Point) {
	fmt.Fprintf(sb, " X%.3f Y%.3f Z%.3f", p.X, p.Y, p.Z)
}
