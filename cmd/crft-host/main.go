// Command crft-host is the extrusion printer host: it plans toolpaths from
// triangle meshes and streams the resulting commands to a device over a
// checksummed serial link.
package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"crft-host/pkg/config"
	"crft-host/pkg/log"
)

var logger = log.Component("cli")

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	var cfgPath string
	var logLevel string

	root := &cobra.Command{
		Use:     "crft-host",
		Short:   "Plan toolpaths from meshes and stream them to an extrusion printer",
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return log.SetLevel(logLevel)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to profile (default: $HOME/.crft/profile.toml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	root.AddCommand(newSliceCommand(&cfgPath))
	root.AddCommand(newPrintCommand(&cfgPath))
	root.AddCommand(newPortsCommand())

	if err := root.Execute(); err != nil {
		logger.Error().Err(err).Msg("crft-host")
		os.Exit(1)
	}
}

// loadProfile resolves the profile: explicit path, then the default
// location, then built-in defaults when neither exists.
func loadProfile(cfgPath string) (config.Profile, error) {
	path := cfgPath
	if path == "" {
		path = config.DefaultPath()
		if path == "" || !fileExists(path) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
