// mock-printer simulates a checksummed line-oriented extrusion printer for
// testing the host without hardware. It verifies frames, tracks the
// expected line number, acknowledges in FIFO order and can inject faults:
//
//   - corruption (-drop-rate) answered with resend requests
//   - a silent boot (-silent) with no greeting
//   - busy chatter between acknowledgments (-busy)
//
// Usage:
//
//	mock-printer -socket /tmp/crft_printer [-trace]
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
)

type printerState struct {
	mu       sync.Mutex
	expected int
	acked    int
	faults   int
}

type options struct {
	dropRate float64
	ackDelay time.Duration
	silent   bool
	busy     bool
	trace    bool
	rng      *rand.Rand
}

func main() {
	socketPath := flag.String("socket", "/tmp/crft_printer", "Unix socket path")
	dropRate := flag.Float64("drop-rate", 0, "fraction of lines treated as corrupted (0..1)")
	ackDelay := flag.Duration("ack-delay", 2*time.Millisecond, "delay before each acknowledgment")
	silent := flag.Bool("silent", false, "suppress the boot greeting")
	busy := flag.Bool("busy", false, "emit busy chatter while processing")
	seed := flag.Int64("seed", 0, "fault RNG seed (0 = time-based)")
	trace := flag.Bool("trace", false, "print every line on the wire")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	os.Remove(*socketPath)
	listener, err := net.Listen("unix", *socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating socket: %v\n", err)
		os.Exit(1)
	}
	defer listener.Close()
	defer os.Remove(*socketPath)

	fmt.Printf("Mock printer listening on %s\n", *socketPath)
	if *dropRate > 0 {
		fmt.Printf("Injecting corruption at rate %.2f (seed %d)\n", *dropRate, *seed)
	}
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	connCh := make(chan net.Conn, 1)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			connCh <- conn
		}
	}()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
			return
		case conn := <-connCh:
			fmt.Println("Host connected")
			opts := options{
				dropRate: *dropRate,
				ackDelay: *ackDelay,
				silent:   *silent,
				busy:     *busy,
				trace:    *trace,
				rng:      rand.New(rand.NewSource(*seed)),
			}
			go handleConnection(conn, opts)
		}
	}
}

func handleConnection(conn net.Conn, opts options) {
	defer conn.Close()

	state := &printerState{expected: 1}

	// Acknowledgments go through a queue serviced by a single writer so
	// delayed replies keep their FIFO order while reads continue.
	replies := make(chan []string, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for lines := range replies {
			if opts.ackDelay > 0 {
				time.Sleep(opts.ackDelay)
			}
			for _, l := range lines {
				if opts.trace {
					fmt.Printf("> %s\n", l)
				}
				if _, err := conn.Write([]byte(l + "\n")); err != nil {
					return
				}
			}
		}
	}()

	if !opts.silent {
		replies <- []string{"start"}
	}

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if opts.trace {
			fmt.Printf("< %s\n", line)
		}
		if out := handleLine(state, opts, line); len(out) > 0 {
			replies <- out
		}
	}
	close(replies)
	wg.Wait()

	state.mu.Lock()
	fmt.Printf("Host disconnected: %d lines acknowledged, %d faults injected\n",
		state.acked, state.faults)
	state.mu.Unlock()
}

// handleLine implements the firmware side of the protocol for one line.
func handleLine(state *printerState, opts options, line string) []string {
	seq, cmd, ok := parseFrame(line)
	if !ok {
		// Unframed input: status queries get an answer, motion does not.
		if strings.HasPrefix(strings.ToUpper(line), "M105") {
			return []string{"ok T:210.0 /210.0"}
		}
		return nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	// Line number reset.
	if strings.HasPrefix(cmd, "M110") {
		state.expected = seq + 1
		return []string{"ok"}
	}

	if seq != state.expected {
		state.faults++
		return []string{fmt.Sprintf("Error:Line Number is not Last Line Number+1, Last Line: %d", state.expected-1),
			fmt.Sprintf("Resend: %d", state.expected)}
	}

	// Simulated corruption: pretend the line arrived damaged and ask for
	// it again. The host must rewind to this line number.
	if opts.dropRate > 0 && opts.rng.Float64() < opts.dropRate {
		state.faults++
		return []string{fmt.Sprintf("Resend: %d", state.expected)}
	}

	state.expected++
	state.acked++
	out := []string{}
	if opts.busy {
		out = append(out, "echo:busy: processing")
	}
	return append(out, fmt.Sprintf("ok N%d", seq))
}

// parseFrame validates "N<seq> <cmd>*<checksum>" and returns its parts.
func parseFrame(line string) (int, string, bool) {
	if !strings.HasPrefix(line, "N") {
		return 0, "", false
	}
	star := strings.LastIndexByte(line, '*')
	if star < 0 {
		return 0, "", false
	}
	payload := line[:star]
	var want int
	if _, err := fmt.Sscanf(line[star+1:], "%d", &want); err != nil {
		return 0, "", false
	}
	sum := 0
	for i := 0; i < len(payload); i++ {
		sum ^= int(payload[i])
	}
	if sum != want {
		return 0, "", false
	}
	var seq int
	rest := ""
	if n, _ := fmt.Sscanf(payload, "N%d %s", &seq, &rest); n < 1 {
		return 0, "", false
	}
	sp := strings.IndexByte(payload, ' ')
	if sp < 0 {
		return seq, "", true
	}
	return seq, payload[sp+1:], true
}
