// Package config loads and validates the host profile: geometry and
// extrusion parameters for planning, link tuning for streaming, and the
// monitor endpoint. Profiles are TOML files; durations are written as
// strings ("2s", "500ms").
package config

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"crft-host/pkg/errors"
	"crft-host/pkg/gcode"
	"crft-host/pkg/slicer"
	"crft-host/pkg/stream"
)

// Geometry holds the planning parameters.
type Geometry struct {
	FirstLayerHeight float64 `toml:"first_layer_height"`
	LayerHeight      float64 `toml:"layer_height"`
	IncludeBottom    *bool   `toml:"include_bottom"`
	ExtrusionWidth   float64 `toml:"extrusion_width"`
	ShellCount       int     `toml:"shell_count"`
}

// Output holds the command-emission parameters.
type Output struct {
	FeedRate       float64  `toml:"feed_rate"`
	TravelFeedRate float64  `toml:"travel_feed_rate"`
	ExtrusionPerMM float64  `toml:"extrusion_per_mm"`
	Preamble       []string `toml:"preamble"`
	Postamble      []string `toml:"postamble"`
}

// Link holds the device connection and streaming tuning. The waits are
// empirical per-device knobs, which is why they live in the profile
// rather than in code.
type Link struct {
	Port                   string `toml:"port"`
	Baud                   int    `toml:"baud"`
	WindowSize             int    `toml:"window_size"`
	StartupWait            string `toml:"startup_wait"`
	AckWait                string `toml:"ack_wait"`
	SettleWait             string `toml:"settle_wait"`
	MaxConsecutiveTimeouts int    `toml:"max_consecutive_timeouts"`
}

// Monitor holds the status endpoint settings.
type Monitor struct {
	Addr    string `toml:"addr"`
	Enabled *bool  `toml:"enabled"`
}

// Profile is the complete host configuration.
type Profile struct {
	Geometry Geometry `toml:"geometry"`
	Output   Output   `toml:"output"`
	Link     Link     `toml:"link"`
	Monitor  Monitor  `toml:"monitor"`
}

// Default returns the profile used when no file is given.
func Default() Profile {
	on := true
	return Profile{
		Geometry: Geometry{
			FirstLayerHeight: 0.3,
			LayerHeight:      0.2,
			IncludeBottom:    &on,
			ExtrusionWidth:   0.4,
			ShellCount:       2,
		},
		Output: Output{
			FeedRate:       1200,
			TravelFeedRate: 3000,
			ExtrusionPerMM: 0.05,
			Preamble:       append([]string(nil), gcode.DefaultPreamble...),
			Postamble:      []string{"M104 S0", "M84"},
		},
		Link: Link{
			Baud:                   115200,
			WindowSize:             4,
			StartupWait:            "3s",
			AckWait:                "2s",
			SettleWait:             "5s",
			MaxConsecutiveTimeouts: 3,
		},
		Monitor: Monitor{
			Addr: "localhost:7125",
		},
	}
}

// DefaultPath returns ~/.crft/profile.toml, or empty when the home
// directory cannot be resolved.
func DefaultPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".crft", "profile.toml")
	}
	return ""
}

// Load reads a TOML profile and overlays it on the defaults. Fields the
// file does not set keep their default values.
func Load(path string) (Profile, error) {
	p := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return p, errors.Wrap(errors.ErrConfigParse, err, "read profile %s", path)
	}
	if err := toml.Unmarshal(b, &p); err != nil {
		return p, errors.Wrap(errors.ErrConfigParse, err, "parse profile %s", path)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Validate rejects profiles the planner or the link cannot operate on.
func (p Profile) Validate() error {
	g := p.Geometry
	if g.FirstLayerHeight <= 0 {
		return errors.New(errors.ErrConfigValidation, "geometry.first_layer_height must be positive, got %g", g.FirstLayerHeight)
	}
	if g.LayerHeight <= 0 {
		return errors.New(errors.ErrConfigValidation, "geometry.layer_height must be positive, got %g", g.LayerHeight)
	}
	if g.ExtrusionWidth <= 0 {
		return errors.New(errors.ErrConfigValidation, "geometry.extrusion_width must be positive, got %g", g.ExtrusionWidth)
	}
	if g.ShellCount < 1 {
		return errors.New(errors.ErrConfigValidation, "geometry.shell_count must be at least 1, got %d", g.ShellCount)
	}
	o := p.Output
	if o.FeedRate <= 0 {
		return errors.New(errors.ErrConfigValidation, "output.feed_rate must be positive, got %g", o.FeedRate)
	}
	if o.TravelFeedRate < 0 {
		return errors.New(errors.ErrConfigValidation, "output.travel_feed_rate must not be negative, got %g", o.TravelFeedRate)
	}
	if o.ExtrusionPerMM < 0 {
		return errors.New(errors.ErrConfigValidation, "output.extrusion_per_mm must not be negative, got %g", o.ExtrusionPerMM)
	}
	l := p.Link
	if l.Baud <= 0 {
		return errors.New(errors.ErrConfigValidation, "link.baud must be positive, got %d", l.Baud)
	}
	if l.WindowSize < 1 {
		return errors.New(errors.ErrConfigValidation, "link.window_size must be at least 1, got %d", l.WindowSize)
	}
	if l.MaxConsecutiveTimeouts < 1 {
		return errors.New(errors.ErrConfigValidation, "link.max_consecutive_timeouts must be at least 1, got %d", l.MaxConsecutiveTimeouts)
	}
	for _, d := range []struct {
		name, val string
	}{
		{"link.startup_wait", l.StartupWait},
		{"link.ack_wait", l.AckWait},
		{"link.settle_wait", l.SettleWait},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			return errors.Wrap(errors.ErrConfigValidation, err, "%s", d.name)
		}
	}
	return nil
}

// SlicerParams converts the geometry block for the planner.
func (p Profile) SlicerParams() slicer.Params {
	include := true
	if p.Geometry.IncludeBottom != nil {
		include = *p.Geometry.IncludeBottom
	}
	return slicer.Params{
		FirstLayerHeight: p.Geometry.FirstLayerHeight,
		LayerHeight:      p.Geometry.LayerHeight,
		IncludeBottom:    include,
		ExtrusionWidth:   p.Geometry.ExtrusionWidth,
		ShellCount:       p.Geometry.ShellCount,
	}
}

// EmitParams converts the output block for the command emitter.
func (p Profile) EmitParams() gcode.Params {
	return gcode.Params{
		FeedRate:       p.Output.FeedRate,
		TravelFeedRate: p.Output.TravelFeedRate,
		ExtrusionPerMM: p.Output.ExtrusionPerMM,
		Preamble:       p.Output.Preamble,
		Postamble:      p.Output.Postamble,
	}
}

// StreamTuning converts the link block for the session.
func (p Profile) StreamTuning() stream.Tuning {
	return stream.Tuning{
		WindowSize:  p.Link.WindowSize,
		StartupWait: duration(p.Link.StartupWait),
		AckWait:     duration(p.Link.AckWait),
	}
}

// PlaybackTuning converts the link block for the playback controller.
func (p Profile) PlaybackTuning() stream.PlaybackTuning {
	return stream.PlaybackTuning{
		MaxConsecutiveTimeouts: p.Link.MaxConsecutiveTimeouts,
		SettleWait:             duration(p.Link.SettleWait),
	}
}

// MonitorEnabled reports whether the status endpoint should run.
func (p Profile) MonitorEnabled() bool {
	if p.Monitor.Enabled != nil {
		return *p.Monitor.Enabled
	}
	return p.Monitor.Addr != ""
}

// duration parses a validated duration string; zero means "use default".
func duration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
