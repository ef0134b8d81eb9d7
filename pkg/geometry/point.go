// Package geometry provides the planar and mesh geometry primitives used by
// the toolpath planner: points, planes, contours and triangle meshes, plus
// the plane/mesh section operation that produces per-layer cross-sections.
package geometry

import "math"

// Epsilon is the linear tolerance of the geometry kernel. Two points closer
// than this are considered coincident.
const Epsilon = 1e-6

// Point is a point or vector in 3D space.
type Point struct {
	X, Y, Z float64
}

// Add returns p + q.
func (p Point) Add(q Point) Point {
	return Point{p.X + q.X, p.Y + q.Y, p.Z + q.Z}
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{p.X - q.X, p.Y - q.Y, p.Z - q.Z}
}

// Scale returns p scaled by s.
func (p Point) Scale(s float64) Point {
	return Point{p.X * s, p.Y * s, p.Z * s}
}

// Dot returns the dot product of p and q.
func (p Point) Dot(q Point) float64 {
	return p.X*q.X + p.Y*q.Y + p.Z*q.Z
}

// Norm returns the Euclidean length of p.
func (p Point) Norm() float64 {
	return math.Sqrt(p.Dot(p))
}

// Dist returns the distance between p and q.
func (p Point) Dist(q Point) float64 {
	return p.Sub(q).Norm()
}

// DistSq returns the squared distance between p and q.
func (p Point) DistSq(q Point) float64 {
	d := p.Sub(q)
	return d.Dot(d)
}

// Unit returns p normalized to unit length. The zero vector is returned
// unchanged.
func (p Point) Unit() Point {
	n := p.Norm()
	if n < Epsilon {
		return p
	}
	return p.Scale(1 / n)
}

// Coincident reports whether p and q lie within the kernel tolerance.
func (p Point) Coincident(q Point) bool {
	return p.Dist(q) < Epsilon
}

// Plane is defined by an origin point and a normal vector.
type Plane struct {
	Origin Point
	Normal Point
}

// HorizontalPlane returns the plane z = height with an upward normal.
func HorizontalPlane(height float64) Plane {
	return Plane{Origin: Point{0, 0, height}, Normal: Point{0, 0, 1}}
}

// SignedDist returns the signed distance from p to the plane.
func (pl Plane) SignedDist(p Point) float64 {
	return pl.Normal.Unit().Dot(p.Sub(pl.Origin))
}

// Box is an axis-aligned bounding box.
type Box struct {
	Min, Max Point
}

// Extend grows the box to include p.
func (b *Box) Extend(p Point) {
	if p.X < b.Min.X {
		b.Min.X = p.X
	}
	if p.Y < b.Min.Y {
		b.Min.Y = p.Y
	}
	if p.Z < b.Min.Z {
		b.Min.Z = p.Z
	}
	if p.X > b.Max.X {
		b.Max.X = p.X
	}
	if p.Y > b.Max.Y {
		b.Max.Y = p.Y
	}
	if p.Z > b.Max.Z {
		b.Max.Z = p.Z
	}
}

// emptyBox returns a box that Extend will correctly grow from.
func emptyBox() Box {
	inf := math.Inf(1)
	return Box{
		Min: Point{inf, inf, inf},
		Max: Point{-inf, -inf, -inf},
	}
}
