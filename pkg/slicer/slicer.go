// Package slicer turns a solid into per-height layers: it drives the mesh
// section operation across an ascending Z sequence and expands each closed
// cross-section contour into concentric extrusion shells.
package slicer

import (
	"crft-host/pkg/errors"
	"crft-host/pkg/geometry"
	"crft-host/pkg/log"
	"crft-host/pkg/metrics"
)

var logger = log.Component("slicer")

// Params holds the geometric configuration for one slicing run.
type Params struct {
	// FirstLayerHeight is the Z of the first (bottom) layer.
	FirstLayerHeight float64

	// LayerHeight is the uniform spacing of subsequent layers.
	LayerHeight float64

	// IncludeBottom controls whether the very first Z is emitted at all.
	// When false the first layer is suppressed entirely, matching an open
	// bottom surface.
	IncludeBottom bool

	// ExtrusionWidth is the nominal bead width of the tool.
	ExtrusionWidth float64

	// ShellCount is the number of concentric wall passes per contour.
	ShellCount int
}

// Validate checks the input contract.
func (p Params) Validate() error {
	switch {
	case p.FirstLayerHeight <= 0:
		return errors.New(errors.ErrConfigValidation, "first layer height must be > 0, got %v", p.FirstLayerHeight)
	case p.LayerHeight <= 0:
		return errors.New(errors.ErrConfigValidation, "layer height must be > 0, got %v", p.LayerHeight)
	case p.ExtrusionWidth <= 0:
		return errors.New(errors.ErrConfigValidation, "extrusion width must be > 0, got %v", p.ExtrusionWidth)
	case p.ShellCount < 1:
		return errors.New(errors.ErrConfigValidation, "shell count must be >= 1, got %d", p.ShellCount)
	}
	return nil
}

// Layer is one horizontal slice of the solid. An empty contour set is a
// marker condition (the plane missed the solid), not an error.
type Layer struct {
	Z        float64
	Contours []geometry.Contour

	// Bottom marks the lowest emitted layer, which receives interior
	// fill in addition to its shells.
	Bottom bool
}

// Empty reports whether the layer has no contours.
func (l Layer) Empty() bool {
	return len(l.Contours) == 0
}

// Slice cuts the mesh into layers at firstLayerHeight, firstLayerHeight +
// layerHeight, ... while the height stays within the solid's top bound plus
// the kernel tolerance. Each closed cross-section contour is expanded into
// its concentric shells; the bottom layer additionally gets concentric fill
// from the given filler (ConcentricFiller when nil).
func Slice(m *geometry.Mesh, p Params, filler Filler) ([]Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if filler == nil {
		filler = ConcentricFiller{}
	}

	maxZ := m.MaxZ()
	var layers []Layer

	for i := 0; ; i++ {
		z := p.FirstLayerHeight + float64(i)*p.LayerHeight
		if z > maxZ+geometry.Epsilon {
			break
		}
		if i == 0 && !p.IncludeBottom {
			continue
		}

		// A Z within tolerance of the cap would graze the top facets;
		// section just inside so the degenerate cap is still recovered.
		sectionZ := z
		if sectionZ > maxZ-geometry.Epsilon {
			sectionZ = maxZ - geometry.Epsilon
		}

		cross := m.Section(geometry.HorizontalPlane(sectionZ))
		layer := Layer{Z: z, Bottom: i == 0 && p.IncludeBottom}
		for _, c := range cross {
			if !c.Closed {
				// Open polylines get a single boundary pass.
				c.Shell = 0
				layer.Contours = append(layer.Contours, c)
				continue
			}
			shells := OffsetShells(c, p.ExtrusionWidth, p.ShellCount)
			layer.Contours = append(layer.Contours, shells...)
			if layer.Bottom && len(shells) > 0 {
				innermost := shells[len(shells)-1]
				layer.Contours = append(layer.Contours,
					filler.Fill(innermost, p.ExtrusionWidth, len(shells))...)
			}
		}
		if layer.Empty() {
			logger.Debug().Float64("z", z).Msg("empty cross-section")
		}
		layers = append(layers, layer)
		metrics.LayersSliced.Inc()
	}

	logger.Info().Int("layers", len(layers)).Float64("max_z", maxZ).Msg("slicing complete")
	return layers, nil
}
