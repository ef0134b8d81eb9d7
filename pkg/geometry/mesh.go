package geometry

import "crft-host/pkg/errors"

// Triangle is a single mesh facet.
type Triangle struct {
	A, B, C Point
}

// Mesh is a triangle-soup boundary representation of a solid. It is an
// immutable input: the planner never mutates a mesh it was handed.
type Mesh struct {
	Triangles []Triangle
	bounds    Box
}

// NewMesh builds a mesh from triangles and computes its bounding box.
func NewMesh(tris []Triangle) (*Mesh, error) {
	if len(tris) == 0 {
		return nil, errors.New(errors.ErrMeshInvalid, "mesh has no triangles")
	}
	b := emptyBox()
	for _, t := range tris {
		b.Extend(t.A)
		b.Extend(t.B)
		b.Extend(t.C)
	}
	return &Mesh{Triangles: tris, bounds: b}, nil
}

// Bounds returns the mesh bounding box.
func (m *Mesh) Bounds() Box {
	return m.bounds
}

// MaxZ returns the top of the mesh bounding box.
func (m *Mesh) MaxZ() float64 {
	return m.bounds.Max.Z
}

// MinZ returns the bottom of the mesh bounding box.
func (m *Mesh) MinZ() float64 {
	return m.bounds.Min.Z
}

// BoxMesh returns a closed axis-aligned box solid, used by tests and as a
// quick calibration shape.
func BoxMesh(min, max Point) *Mesh {
	v := [8]Point{
		{min.X, min.Y, min.Z}, {max.X, min.Y, min.Z},
		{max.X, max.Y, min.Z}, {min.X, max.Y, min.Z},
		{min.X, min.Y, max.Z}, {max.X, min.Y, max.Z},
		{max.X, max.Y, max.Z}, {min.X, max.Y, max.Z},
	}
	// Two triangles per face, outward winding.
	quads := [6][4]int{
		{0, 3, 2, 1}, // bottom
		{4, 5, 6, 7}, // top
		{0, 1, 5, 4}, // front
		{1, 2, 6, 5}, // right
		{2, 3, 7, 6}, // back
		{3, 0, 4, 7}, // left
	}
	tris := make([]Triangle, 0, 12)
	for _, q := range quads {
		tris = append(tris,
			Triangle{v[q[0]], v[q[1]], v[q[2]]},
			Triangle{v[q[0]], v[q[2]], v[q[3]]},
		)
	}
	m, _ := NewMesh(tris)
	return m
}
