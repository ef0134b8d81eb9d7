package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"crft-host/pkg/config"
	"crft-host/pkg/monitor"
	"crft-host/pkg/serial"
	"crft-host/pkg/stream"
)

func newPrintCommand(cfgPath *string) *cobra.Command {
	var (
		port    string
		baud    int
		socket  string
		monAddr string
		noMon   bool
		watch   bool
	)

	cmd := &cobra.Command{
		Use:   "print <model.stl | job.gcode>",
		Short: "Stream a planned or pre-made command file to the device",
		Long: strings.TrimSpace(`
Stream commands to the device. A mesh input is planned first; a .gcode
input is streamed as-is. While streaming, the standard input accepts
"pause", "resume", "stop", "status" and "temp".
`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, err := loadProfile(*cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				prof.Link.Port = port
			}
			if cmd.Flags().Changed("baud") {
				prof.Link.Baud = baud
			}
			if cmd.Flags().Changed("monitor") {
				prof.Monitor.Addr = monAddr
			}
			if err := prof.Validate(); err != nil {
				return err
			}

			cmds, err := loadJob(args[0], prof)
			if err != nil {
				return err
			}
			if len(cmds) == 0 {
				return fmt.Errorf("nothing to stream in %s", args[0])
			}

			ch, err := openChannel(prof, socket)
			if err != nil {
				return err
			}

			session, err := stream.Connect(ch, prof.StreamTuning())
			if err != nil {
				return err
			}
			defer session.Close()

			pb := stream.NewPlayback(session, prof.PlaybackTuning())
			if err := pb.Load(cmds); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if !noMon && prof.MonitorEnabled() {
				mon := monitor.New(monitor.Config{Addr: prof.Monitor.Addr}, func() monitor.Status {
					return monitor.BuildStatus(session.Snapshot(), pb.Status())
				})
				go func() {
					if err := mon.Start(); err != nil {
						logger.Warn().Err(err).Msg("monitor stopped")
					}
				}()
				defer func() {
					sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer scancel()
					mon.Shutdown(sctx)
				}()
			}

			if watch && *cfgPath != "" {
				w := config.NewWatcher(*cfgPath, func(p config.Profile) {
					pb.SetTuning(p.PlaybackTuning())
				})
				go func() {
					if err := w.Run(ctx); err != nil {
						logger.Warn().Err(err).Msg("profile watcher stopped")
					}
				}()
			}

			if err := pb.Play(); err != nil {
				return err
			}
			logger.Info().Int("commands", len(cmds)).Msg("streaming")

			go controlLoop(pb, session)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			ticker := time.NewTicker(200 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-sigCh:
					logger.Info().Msg("received signal, stopping")
					pb.Stop()
					return nil
				case <-ticker.C:
					switch st := pb.Status(); st.State {
					case stream.Complete:
						logger.Info().Int("commands", st.Total).Msg("job complete")
						return nil
					case stream.PlayError:
						return fmt.Errorf("stream failed: %s", st.Status)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "serial device path")
	cmd.Flags().IntVar(&baud, "baud", 0, "serial baud rate")
	cmd.Flags().StringVar(&socket, "socket", "", "connect via Unix socket instead of a serial port")
	cmd.Flags().StringVar(&monAddr, "monitor", "", "status endpoint address")
	cmd.Flags().BoolVar(&noMon, "no-monitor", false, "disable the status endpoint")
	cmd.Flags().BoolVar(&watch, "watch", false, "apply profile edits to the running job")
	return cmd
}

// loadJob returns the commands to stream: a command file is read line by
// line, anything else is treated as a mesh and planned.
func loadJob(path string, prof config.Profile) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gcode", ".nc":
		return readCommandFile(path)
	default:
		return planCommands(path, prof)
	}
}

// readCommandFile loads command lines, dropping blanks and comments.
func readCommandFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cmds []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		cmds = append(cmds, line)
	}
	return cmds, nil
}

// openChannel connects to the device, preferring the socket when given.
func openChannel(prof config.Profile, socket string) (stream.Channel, error) {
	if socket != "" {
		return serial.OpenSocket(socket, 10*time.Second)
	}
	if prof.Link.Port == "" {
		return nil, fmt.Errorf("no serial port configured; set link.port or pass --port")
	}
	cfg := serial.DefaultConfig()
	cfg.Device = prof.Link.Port
	cfg.BaudRate = prof.Link.Baud
	return serial.Open(cfg)
}

// controlLoop reads operator commands from standard input.
func controlLoop(pb *stream.Playback, session *stream.Session) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		var err error
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "pause":
			err = pb.Pause()
		case "resume", "play":
			err = pb.Play()
		case "stop":
			pb.Stop()
		case "temp":
			// Telemetry query rides outside the framed window; the
			// reply shows up as the next wire event.
			err = session.SendUnframed("M105")
		case "status":
			st := pb.Status()
			fmt.Printf("%s %d/%d  %s  last: %s\n", st.State, st.Index, st.Total, st.Status, st.LastEvent)
		case "":
		default:
			fmt.Println("commands: pause, resume, stop, status, temp")
		}
		if err != nil {
			fmt.Println(err)
		}
	}
}
