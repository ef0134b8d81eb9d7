package geometry

import "math"

// Contour is an ordered sequence of points at a fixed Z, either a closed
// loop or an open polyline. Closed contours hold at least 3 distinct points
// and do not store a duplicate of the first point at the end.
type Contour struct {
	Points []Point
	Closed bool

	// Shell is the concentric shell index, 0 = outermost boundary pass.
	Shell int

	// Fill marks contours generated past the configured shell count to
	// cover the interior of a bottom layer.
	Fill bool
}

// NewContour builds a contour from pts, dropping consecutive coincident
// points. If closed and the last point coincides with the first, the
// trailing duplicate is removed.
func NewContour(pts []Point, closed bool) Contour {
	dedup := make([]Point, 0, len(pts))
	for _, p := range pts {
		if len(dedup) > 0 && dedup[len(dedup)-1].Coincident(p) {
			continue
		}
		dedup = append(dedup, p)
	}
	if closed && len(dedup) > 1 && dedup[0].Coincident(dedup[len(dedup)-1]) {
		dedup = dedup[:len(dedup)-1]
	}
	return Contour{Points: simplifyCollinear(dedup, closed), Closed: closed}
}

// simplifyCollinear removes interior vertices that lie on the straight line
// between their neighbors. Mesh sectioning splits every quad face into two
// triangles, so raw section polylines carry a redundant midpoint per edge.
func simplifyCollinear(pts []Point, closed bool) []Point {
	if len(pts) < 3 {
		return pts
	}
	keep := make([]Point, 0, len(pts))
	n := len(pts)
	for i := 0; i < n; i++ {
		if !closed && (i == 0 || i == n-1) {
			keep = append(keep, pts[i])
			continue
		}
		prev := pts[(i-1+n)%n]
		next := pts[(i+1)%n]
		if !onSegment(prev, next, pts[i]) {
			keep = append(keep, pts[i])
		}
	}
	if len(keep) < 3 && closed {
		return pts
	}
	return keep
}

// onSegment reports whether p lies on the segment a-b within tolerance.
func onSegment(a, b, p Point) bool {
	ab := b.Sub(a)
	l := ab.Norm()
	if l < Epsilon {
		return p.Coincident(a)
	}
	t := p.Sub(a).Dot(ab) / (l * l)
	if t < -Epsilon || t > 1+Epsilon {
		return false
	}
	return p.Dist(a.Add(ab.Scale(t))) < Epsilon
}

// Valid reports whether the contour satisfies its structural invariant:
// closed contours need at least 3 distinct points, open ones at least 2.
func (c Contour) Valid() bool {
	if c.Closed {
		return len(c.Points) >= 3
	}
	return len(c.Points) >= 2
}

// Area returns the signed area of a closed contour projected onto the XY
// plane (shoelace formula). Counter-clockwise contours have positive area.
// Open contours have zero area.
func (c Contour) Area() float64 {
	if !c.Closed || len(c.Points) < 3 {
		return 0
	}
	var sum float64
	n := len(c.Points)
	for i := 0; i < n; i++ {
		p, q := c.Points[i], c.Points[(i+1)%n]
		sum += p.X*q.Y - q.X*p.Y
	}
	return sum / 2
}

// Length returns the total polyline length, including the closing edge of a
// closed contour.
func (c Contour) Length() float64 {
	if len(c.Points) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(c.Points); i++ {
		sum += c.Points[i].Dist(c.Points[i-1])
	}
	if c.Closed {
		sum += c.Points[0].Dist(c.Points[len(c.Points)-1])
	}
	return sum
}

// Centroid returns the arithmetic mean of the contour's points.
func (c Contour) Centroid() Point {
	if len(c.Points) == 0 {
		return Point{}
	}
	var acc Point
	for _, p := range c.Points {
		acc = acc.Add(p)
	}
	return acc.Scale(1 / float64(len(c.Points)))
}

// Bounds returns the bounding box of the contour's points.
func (c Contour) Bounds() Box {
	b := emptyBox()
	for _, p := range c.Points {
		b.Extend(p)
	}
	return b
}

// CounterClockwise reports whether a closed contour winds counter-clockwise
// in the XY plane.
func (c Contour) CounterClockwise() bool {
	return c.Area() > 0
}

// AbsArea returns the unsigned enclosed area.
func (c Contour) AbsArea() float64 {
	return math.Abs(c.Area())
}
