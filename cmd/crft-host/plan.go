package main

import (
	"crft-host/pkg/config"
	"crft-host/pkg/gcode"
	"crft-host/pkg/geometry"
	"crft-host/pkg/slicer"
	"crft-host/pkg/toolpath"
)

// planCommands runs the full planning pipeline: load the mesh, slice it
// into contour stacks, order the contours per layer to minimize travel,
// and emit motion commands.
func planCommands(meshPath string, prof config.Profile) ([]string, error) {
	m, err := geometry.LoadSTL(meshPath)
	if err != nil {
		return nil, err
	}

	layers, err := slicer.Slice(m, prof.SlicerParams(), slicer.ConcentricFiller{})
	if err != nil {
		return nil, err
	}

	var loops []toolpath.Loop
	contours := 0
	for _, layer := range layers {
		loops = append(loops, toolpath.Sequence(layer.Contours)...)
		contours += len(layer.Contours)
	}

	cmds := gcode.Emit(loops, prof.EmitParams())
	travel, cut := toolpath.Length(toolpath.Path(loops, prof.Output.FeedRate))
	logger.Info().
		Int("layers", len(layers)).
		Int("contours", contours).
		Int("commands", len(cmds)).
		Float64("travel_mm", travel).
		Float64("cut_mm", cut).
		Msg("plan complete")
	return cmds, nil
}
