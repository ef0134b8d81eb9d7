// Package toolpath orders a layer's independent contours into one
// continuous travel-minimizing path and models the resulting motion
// segments.
package toolpath

import "crft-host/pkg/geometry"

// Kind distinguishes non-extruding rapids from extruding moves. It is a
// protocol-level distinction: the device interprets the two motion codes
// differently, so it is carried per segment and never inferred from
// geometry.
type Kind int

const (
	// Travel is a non-extruding rapid move.
	Travel Kind = iota
	// Cut is a controlled extruding move.
	Cut
)

// Segment is one motion: a straight move from From to To.
type Segment struct {
	From, To geometry.Point
	Kind     Kind
	Feed     float64
}

// Loop is one contour oriented and rotated for emission: the points are
// visited in order, and for closed loops the walk implicitly returns to
// Points[0].
type Loop struct {
	Points []geometry.Point
	Closed bool
}

// Sequence orders contours into loops using a greedy nearest-neighbor
// heuristic. Starting from contour 0, it repeatedly picks the unvisited
// contour containing the vertex nearest to the path's current endpoint,
// ties broken by input order, and rotates each closed contour to start at
// that vertex. Winding is never reversed: downstream shell consistency
// depends on the original orientation. The first contour has no current
// point and starts at its own vertex 0.
//
// O(n²·m) over n contours of average length m; per-layer contour counts
// are small enough that a spatial index would be noise.
func Sequence(contours []geometry.Contour) []Loop {
	loops := make([]Loop, 0, len(contours))
	visited := make([]bool, len(contours))

	var cur geometry.Point
	haveCur := false

	for range contours {
		best := -1
		bestVertex := 0
		bestDist := 0.0
		for i, c := range contours {
			if visited[i] || len(c.Points) == 0 {
				continue
			}
			v, d := nearestVertex(c, cur, haveCur)
			if best == -1 || d < bestDist {
				best, bestVertex, bestDist = i, v, d
			}
		}
		if best == -1 {
			break
		}
		visited[best] = true

		c := contours[best]
		loop := Loop{Closed: c.Closed}
		if c.Closed {
			loop.Points = rotate(c.Points, bestVertex)
		} else {
			// Open polylines are walked from whichever end is
			// nearer, which is the only reordering that keeps the
			// vertex order intact.
			if bestVertex == len(c.Points)-1 {
				loop.Points = reversed(c.Points)
			} else {
				loop.Points = append([]geometry.Point(nil), c.Points...)
			}
		}
		loops = append(loops, loop)

		if loop.Closed {
			cur = loop.Points[0]
		} else {
			cur = loop.Points[len(loop.Points)-1]
		}
		haveCur = true
	}
	return loops
}

// nearestVertex returns the index of the contour vertex nearest to p and
// its squared distance. Without a current point the contour's own first
// vertex is used unmodified. Open contours may only be entered at an end.
func nearestVertex(c geometry.Contour, p geometry.Point, havePoint bool) (int, float64) {
	if !havePoint {
		return 0, 0
	}
	if !c.Closed {
		d0 := c.Points[0].DistSq(p)
		d1 := c.Points[len(c.Points)-1].DistSq(p)
		if d1 < d0 {
			return len(c.Points) - 1, d1
		}
		return 0, d0
	}
	best, bestD := 0, c.Points[0].DistSq(p)
	for i := 1; i < len(c.Points); i++ {
		if d := c.Points[i].DistSq(p); d < bestD {
			best, bestD = i, d
		}
	}
	return best, bestD
}

// rotate returns pts starting at index start, preserving order.
func rotate(pts []geometry.Point, start int) []geometry.Point {
	out := make([]geometry.Point, 0, len(pts))
	out = append(out, pts[start:]...)
	out = append(out, pts[:start]...)
	return out
}

func reversed(pts []geometry.Point) []geometry.Point {
	out := make([]geometry.Point, len(pts))
	for i, p := range pts {
		out[len(pts)-1-i] = p
	}
	return out
}

// Path flattens ordered loops into contiguous segments: a Travel segment
// bridges into each loop's first point from the previous endpoint, then Cut
// segments walk the loop, closed loops returning to their first point.
func Path(loops []Loop, feed float64) []Segment {
	var segs []Segment
	var cur geometry.Point
	haveCur := false

	for _, l := range loops {
		if len(l.Points) == 0 {
			continue
		}
		if haveCur {
			segs = append(segs, Segment{From: cur, To: l.Points[0], Kind: Travel, Feed: feed})
		}
		cur = l.Points[0]
		haveCur = true
		for i := 1; i < len(l.Points); i++ {
			segs = append(segs, Segment{From: cur, To: l.Points[i], Kind: Cut, Feed: feed})
			cur = l.Points[i]
		}
		if l.Closed && len(l.Points) > 2 {
			segs = append(segs, Segment{From: cur, To: l.Points[0], Kind: Cut, Feed: feed})
			cur = l.Points[0]
		}
	}
	return segs
}

// Length returns the total path length split into travel and cut distance.
func Length(segs []Segment) (travel, cut float64) {
	for _, s := range segs {
		d := s.From.Dist(s.To)
		if s.Kind == Travel {
			travel += d
		} else {
			cut += d
		}
	}
	return travel, cut
}
