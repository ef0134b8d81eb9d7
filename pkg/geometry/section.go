package geometry

// sectionSegment is one plane/triangle intersection segment.
type sectionSegment struct {
	a, b Point
	used bool
}

// Section intersects the mesh with a plane and returns the resulting
// contours. Segments from individual triangles are chained into polylines;
// polylines whose ends meet within the kernel tolerance become closed
// contours. An empty result is not an error: the plane simply misses the
// solid.
func (m *Mesh) Section(pl Plane) []Contour {
	n := pl.Normal.Unit()
	segs := make([]sectionSegment, 0, 64)

	for _, t := range m.Triangles {
		da := n.Dot(t.A.Sub(pl.Origin))
		db := n.Dot(t.B.Sub(pl.Origin))
		dc := n.Dot(t.C.Sub(pl.Origin))

		// Nudge on-plane vertices to one side so every crossing is a
		// clean edge intersection and coplanar facets contribute
		// nothing (their boundary is recovered from the adjacent
		// facets).
		if da > -Epsilon && da < Epsilon {
			da = Epsilon
		}
		if db > -Epsilon && db < Epsilon {
			db = Epsilon
		}
		if dc > -Epsilon && dc < Epsilon {
			dc = Epsilon
		}

		var pts []Point
		edges := [3][2]struct {
			p Point
			d float64
		}{
			{{t.A, da}, {t.B, db}},
			{{t.B, db}, {t.C, dc}},
			{{t.C, dc}, {t.A, da}},
		}
		for _, e := range edges {
			if (e[0].d > 0) == (e[1].d > 0) {
				continue
			}
			f := e[0].d / (e[0].d - e[1].d)
			pts = append(pts, e[0].p.Add(e[1].p.Sub(e[0].p).Scale(f)))
		}
		if len(pts) == 2 && !pts[0].Coincident(pts[1]) {
			segs = append(segs, sectionSegment{a: pts[0], b: pts[1]})
		}
	}

	return chainSegments(segs)
}

// chainSegments stitches loose segments into polylines by endpoint
// coincidence. Quadratic in segment count, which is fine at per-layer
// cross-section sizes.
func chainSegments(segs []sectionSegment) []Contour {
	var contours []Contour
	for i := range segs {
		if segs[i].used {
			continue
		}
		segs[i].used = true
		chain := []Point{segs[i].a, segs[i].b}

		// Grow at the tail, then at the head.
		for grew := true; grew; {
			grew = false
			tail := chain[len(chain)-1]
			for j := range segs {
				if segs[j].used {
					continue
				}
				switch {
				case segs[j].a.Coincident(tail):
					chain = append(chain, segs[j].b)
				case segs[j].b.Coincident(tail):
					chain = append(chain, segs[j].a)
				default:
					continue
				}
				segs[j].used = true
				tail = chain[len(chain)-1]
				grew = true
			}
		}
		for grew := true; grew; {
			grew = false
			head := chain[0]
			for j := range segs {
				if segs[j].used {
					continue
				}
				switch {
				case segs[j].a.Coincident(head):
					chain = append([]Point{segs[j].b}, chain...)
				case segs[j].b.Coincident(head):
					chain = append([]Point{segs[j].a}, chain...)
				default:
					continue
				}
				segs[j].used = true
				head = chain[0]
				grew = true
			}
		}

		closed := len(chain) > 2 && chain[0].Coincident(chain[len(chain)-1])
		c := NewContour(chain, closed)
		if c.Valid() {
			contours = append(contours, c)
		}
	}
	return contours
}
