package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"crft-host/pkg/config"
)

func newSliceCommand(cfgPath *string) *cobra.Command {
	var (
		output           string
		layerHeight      float64
		firstLayerHeight float64
		extrusionWidth   float64
		shells           int
		noBottom         bool
	)

	cmd := &cobra.Command{
		Use:   "slice <model.stl>",
		Short: "Plan toolpaths for a mesh and write the command file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, err := loadProfile(*cfgPath)
			if err != nil {
				return err
			}
			applyGeometryFlags(&prof, cmd.Flags(),
				layerHeight, firstLayerHeight, extrusionWidth, shells, noBottom)
			if err := prof.Validate(); err != nil {
				return err
			}

			meshPath := args[0]
			cmds, err := planCommands(meshPath, prof)
			if err != nil {
				return err
			}

			out := output
			if out == "" {
				out = strings.TrimSuffix(meshPath, filepath.Ext(meshPath)) + ".gcode"
			}
			if err := os.WriteFile(out, []byte(strings.Join(cmds, "\n")+"\n"), 0o644); err != nil {
				return err
			}
			logger.Info().Str("output", out).Int("commands", len(cmds)).Msg("wrote command file")
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: model path with .gcode)")
	cmd.Flags().Float64Var(&layerHeight, "layer-height", 0, "layer spacing in mm")
	cmd.Flags().Float64Var(&firstLayerHeight, "first-layer-height", 0, "first layer Z in mm")
	cmd.Flags().Float64Var(&extrusionWidth, "extrusion-width", 0, "bead width in mm")
	cmd.Flags().IntVar(&shells, "shells", 0, "concentric shells per contour")
	cmd.Flags().BoolVar(&noBottom, "no-bottom", false, "suppress the bottom layer")
	return cmd
}

// applyGeometryFlags overlays explicitly set flags onto the profile.
// Unset flags leave the profile values alone.
func applyGeometryFlags(prof *config.Profile, fs *pflag.FlagSet,
	layerHeight, firstLayerHeight, extrusionWidth float64, shells int, noBottom bool) {
	if fs.Changed("layer-height") {
		prof.Geometry.LayerHeight = layerHeight
	}
	if fs.Changed("first-layer-height") {
		prof.Geometry.FirstLayerHeight = firstLayerHeight
	}
	if fs.Changed("extrusion-width") {
		prof.Geometry.ExtrusionWidth = extrusionWidth
	}
	if fs.Changed("shells") {
		prof.Geometry.ShellCount = shells
	}
	if fs.Changed("no-bottom") {
		include := !noBottom
		prof.Geometry.IncludeBottom = &include
	}
}
