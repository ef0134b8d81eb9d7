package slicer

import (
	"math"

	"crft-host/pkg/geometry"
)

// insetContour offsets a closed contour inward by dist, using miter joins:
// every edge is shifted along its interior normal and adjacent shifted
// edges are re-intersected. Returns an invalid contour (rejected by the
// caller) when the offset collapses: winding flips, area grows, or fewer
// than 3 vertices survive.
func insetContour(c geometry.Contour, dist float64) (geometry.Contour, bool) {
	if !c.Closed || len(c.Points) < 3 || dist <= 0 {
		return geometry.Contour{}, false
	}

	// Interior is to the left of CCW edges, to the right of CW edges.
	sign := 1.0
	if !c.CounterClockwise() {
		sign = -1.0
	}

	n := len(c.Points)
	pts := make([]geometry.Point, 0, n)
	for i := 0; i < n; i++ {
		prev := c.Points[(i-1+n)%n]
		cur := c.Points[i]
		next := c.Points[(i+1)%n]

		d0 := cur.Sub(prev).Unit()
		d1 := next.Sub(cur).Unit()
		n0 := geometry.Point{X: -d0.Y * sign, Y: d0.X * sign}
		n1 := geometry.Point{X: -d1.Y * sign, Y: d1.X * sign}

		a0 := prev.Add(n0.Scale(dist))
		a1 := cur.Add(n1.Scale(dist))
		p, ok := intersectLines(a0, d0, a1, d1)
		if !ok {
			// Collinear edges: shifting either gives the same line.
			p = cur.Add(n0.Scale(dist))
		}
		p.Z = cur.Z
		pts = append(pts, p)
	}

	out := geometry.NewContour(pts, true)
	if !out.Valid() {
		return geometry.Contour{}, false
	}
	// A valid inset keeps the winding and strictly shrinks.
	if out.CounterClockwise() != c.CounterClockwise() {
		return geometry.Contour{}, false
	}
	if out.AbsArea() >= c.AbsArea() {
		return geometry.Contour{}, false
	}
	return out, true
}

// intersectLines returns the intersection of the lines through a with
// direction da and through b with direction db, projected onto XY.
func intersectLines(a, da, b, db geometry.Point) (geometry.Point, bool) {
	det := da.X*db.Y - da.Y*db.X
	if math.Abs(det) < geometry.Epsilon {
		return geometry.Point{}, false
	}
	t := ((b.X-a.X)*db.Y - (b.Y-a.Y)*db.X) / det
	return a.Add(da.Scale(t)), true
}

// OffsetShells builds the concentric shell set for one closed contour,
// outermost first. Shell 0 is the boundary inset by half the extrusion
// width, which puts the tool centerline on the nominal surface; each
// further shell steps inward by a full extrusion width. Offsetting stops
// when the inset collapses, the remaining area falls below width² (a
// sliver not worth extruding) or maxShells is reached.
//
// If even the first half-width inset collapses, the contour is too small to
// shell and is returned alone, tagged shell 0. That is a recovery, not an
// error: degenerate islands still get a single boundary pass.
func OffsetShells(c geometry.Contour, width float64, maxShells int) []geometry.Contour {
	if maxShells < 1 {
		maxShells = 1
	}
	minArea := width * width

	first, ok := insetContour(c, width/2)
	if !ok || first.AbsArea() < minArea {
		c.Shell = 0
		c.Fill = false
		return []geometry.Contour{c}
	}
	first.Shell = 0
	shells := []geometry.Contour{first}

	cur := first
	for i := 1; i < maxShells; i++ {
		next, ok := insetContour(cur, width)
		if !ok || next.AbsArea() < minArea {
			break
		}
		next.Shell = i
		shells = append(shells, next)
		cur = next
	}
	return shells
}

// Filler produces interior-coverage contours for a bottom layer, starting
// at the given shell index. The concentric strategy below is the only
// implementation today; a rectilinear line-clipping strategy would slot in
// behind the same interface.
type Filler interface {
	Fill(c geometry.Contour, width float64, startIndex int) []geometry.Contour
}

// ConcentricFiller fills by continuing the shell offsets inward until they
// collapse.
type ConcentricFiller struct{}

// Fill implements Filler.
func (ConcentricFiller) Fill(c geometry.Contour, width float64, startIndex int) []geometry.Contour {
	var out []geometry.Contour
	cur := c
	for i := startIndex; ; i++ {
		next, ok := insetContour(cur, width)
		if !ok || next.AbsArea() < width*width {
			break
		}
		next.Shell = i
		next.Fill = true
		out = append(out, next)
		cur = next
	}
	return out
}
