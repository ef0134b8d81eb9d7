package stream

import (
	"bufio"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crft-host/pkg/errors"
	"crft-host/pkg/protocol"
)

// pipeChannel adapts one end of a net.Pipe to the session's Channel.
type pipeChannel struct {
	net.Conn
}

func (pipeChannel) Flush() error { return nil }

type frameRec struct {
	seq int
	cmd string
}

// fakeDevice simulates the firmware side of the link: it parses framed
// lines off a pipe, records what it saw and answers through a scripted
// respond hook. Reads and delayed writes run on separate goroutines so a
// slow acknowledgment never stalls the device's input, mirroring real
// firmware with an input buffer.
type fakeDevice struct {
	conn net.Conn

	mu          sync.Mutex
	frames      []frameRec
	outstanding int
	maxInFlight int

	respond func(seq int, cmd string) []string
	delay   func() time.Duration
	replies chan []string
	done    chan struct{}
}

// ackAll acknowledges everything, including the line-number reset.
func ackAll(seq int, cmd string) []string { return []string{"ok"} }

func newFakeDevice(respond func(int, string) []string, delay func() time.Duration) (*fakeDevice, Channel) {
	host, dev := net.Pipe()
	if delay == nil {
		delay = func() time.Duration { return 0 }
	}
	d := &fakeDevice{
		conn:    dev,
		respond: respond,
		delay:   delay,
		replies: make(chan []string, 64),
		done:    make(chan struct{}),
	}
	go d.readLoop()
	go d.writeLoop()
	return d, pipeChannel{host}
}

func (d *fakeDevice) readLoop() {
	defer close(d.replies)
	sc := bufio.NewScanner(d.conn)
	for sc.Scan() {
		line := sc.Text()
		seq, cmd, err := protocol.ParseFrame(line)
		if err != nil {
			continue
		}
		d.mu.Lock()
		d.frames = append(d.frames, frameRec{seq: seq, cmd: cmd})
		if seq > 0 {
			d.outstanding++
			if d.outstanding > d.maxInFlight {
				d.maxInFlight = d.outstanding
			}
		}
		d.mu.Unlock()
		if lines := d.respond(seq, cmd); len(lines) > 0 {
			d.replies <- lines
		}
	}
	close(d.done)
}

func (d *fakeDevice) writeLoop() {
	for lines := range d.replies {
		if wait := d.delay(); wait > 0 {
			time.Sleep(wait)
		}
		for _, l := range lines {
			if _, err := d.conn.Write([]byte(l + "\n")); err != nil {
				return
			}
			if protocol.ParseResponse(l).Kind == protocol.RespAck {
				d.mu.Lock()
				if d.outstanding > 0 {
					d.outstanding--
				}
				d.mu.Unlock()
			}
		}
	}
}

// seqs returns the framed line numbers received so far, excluding the
// line-number reset.
func (d *fakeDevice) seqs() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []int
	for _, f := range d.frames {
		if f.seq > 0 {
			out = append(out, f.seq)
		}
	}
	return out
}

func (d *fakeDevice) cmds() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, f := range d.frames {
		if f.seq > 0 {
			out = append(out, f.cmd)
		}
	}
	return out
}

func (d *fakeDevice) maxObservedInFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInFlight
}

func fastTuning(window int) Tuning {
	return Tuning{
		WindowSize:  window,
		StartupWait: 100 * time.Millisecond,
		AckWait:     150 * time.Millisecond,
	}
}

func TestConnectHandshake(t *testing.T) {
	respond := func(seq int, cmd string) []string {
		if seq == 0 {
			return []string{"start", "ok"}
		}
		return []string{"ok"}
	}
	dev, ch := newFakeDevice(respond, nil)
	s, err := Connect(ch, fastTuning(4))
	require.NoError(t, err)
	defer s.Close()

	st := s.Snapshot()
	require.Equal(t, Ready, st.State)
	require.Equal(t, 1, st.NextSeq)
	require.Zero(t, st.InFlight)

	// The reset must have gone out as line zero.
	d := dev
	d.mu.Lock()
	require.NotEmpty(t, d.frames)
	require.Equal(t, 0, d.frames[0].seq)
	require.Equal(t, "M110", d.frames[0].cmd)
	d.mu.Unlock()
}

func TestConnectSilentDevice(t *testing.T) {
	// A device that never greets is assumed ready once the startup wait
	// elapses, rather than failing the connection.
	respond := func(int, string) []string { return nil }
	_, ch := newFakeDevice(respond, nil)

	start := time.Now()
	s, err := Connect(ch, Tuning{WindowSize: 4, StartupWait: 50 * time.Millisecond, AckWait: 100 * time.Millisecond})
	require.NoError(t, err)
	defer s.Close()
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, Ready, s.Snapshot().State)
}

func TestWindowNeverExceedsBound(t *testing.T) {
	const window = 4
	const n = 40

	rng := rand.New(rand.NewSource(7))
	var rngMu sync.Mutex
	delay := func() time.Duration {
		rngMu.Lock()
		defer rngMu.Unlock()
		return time.Duration(rng.Intn(3)) * time.Millisecond
	}
	dev, ch := newFakeDevice(ackAll, delay)
	s, err := Connect(ch, fastTuning(window))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < n; i++ {
		require.NoError(t, s.Send(fmt.Sprintf("G1 X%d", i)))
	}
	require.NoError(t, s.WaitAcked(2*time.Second))

	require.LessOrEqual(t, dev.maxObservedInFlight(), window)

	seqs := dev.seqs()
	require.Len(t, seqs, n)
	for i, seq := range seqs {
		require.Equal(t, i+1, seq, "line numbers must ascend without gaps")
	}
	require.Equal(t, n+1, s.Snapshot().NextSeq)
}

func TestResendRewindsInOrder(t *testing.T) {
	// The device acknowledges lines 1..3, withholds the ack for 4 and,
	// upon seeing 5, requests a resend from 4. Every outstanding line
	// from 4 on must be retransmitted, in order, exactly once.
	var mu sync.Mutex
	requested := false
	respond := func(seq int, cmd string) []string {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case seq == 0:
			return []string{"ok"}
		case seq == 4 && !requested:
			return nil
		case seq == 5 && !requested:
			requested = true
			return []string{"rs 4"}
		default:
			return []string{"ok"}
		}
	}
	dev, ch := newFakeDevice(respond, nil)
	s, err := Connect(ch, fastTuning(4))
	require.NoError(t, err)
	defer s.Close()

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Send(fmt.Sprintf("G1 X%d", i)))
	}
	require.NoError(t, s.WaitAcked(2*time.Second))

	require.NoError(t, s.Send("G1 X6"))
	require.NoError(t, s.Send("G1 X7"))
	require.NoError(t, s.WaitAcked(2*time.Second))

	require.Equal(t, []int{1, 2, 3, 4, 5, 4, 5, 6, 7}, dev.seqs())
	require.Zero(t, s.Snapshot().InFlight)
}

func TestPlaybackRunsToCompletion(t *testing.T) {
	dev, ch := newFakeDevice(ackAll, nil)
	s, err := Connect(ch, fastTuning(4))
	require.NoError(t, err)
	defer s.Close()

	cmds := []string{"G28", "G1 X1", "G1 X2", "G1 X3"}
	p := NewPlayback(s, PlaybackTuning{})
	require.NoError(t, p.Load(cmds))
	require.NoError(t, p.Play())

	waitPlayState(t, p, Complete, 2*time.Second)

	st := p.Status()
	require.Equal(t, len(cmds), st.Index)
	require.Equal(t, cmds, dev.cmds())
	require.Equal(t, Idle, s.Snapshot().State)
}

func TestPauseDrainsInFlight(t *testing.T) {
	dev, ch := newFakeDevice(ackAll, func() time.Duration { return 15 * time.Millisecond })
	s, err := Connect(ch, Tuning{WindowSize: 2, StartupWait: 100 * time.Millisecond, AckWait: 500 * time.Millisecond})
	require.NoError(t, err)
	defer s.Close()

	cmds := make([]string, 20)
	for i := range cmds {
		cmds[i] = fmt.Sprintf("G1 X%d", i)
	}
	p := NewPlayback(s, PlaybackTuning{SettleWait: 2 * time.Second})
	require.NoError(t, p.Load(cmds))
	require.NoError(t, p.Play())

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, p.Pause())
	waitPlayState(t, p, Paused, 2*time.Second)

	// Pausing is a command boundary: nothing may be left unacknowledged.
	require.Zero(t, s.Snapshot().InFlight)
	paused := p.Status()
	require.Greater(t, paused.Index, 0)
	require.Less(t, paused.Index, len(cmds))

	require.NoError(t, p.Play())
	waitPlayState(t, p, Complete, 5*time.Second)
	require.Equal(t, cmds, dev.cmds())
}

func TestStopResetsIndexAndReplays(t *testing.T) {
	dev, ch := newFakeDevice(ackAll, func() time.Duration { return 10 * time.Millisecond })
	s, err := Connect(ch, Tuning{WindowSize: 2, StartupWait: 100 * time.Millisecond, AckWait: 500 * time.Millisecond})
	require.NoError(t, err)
	defer s.Close()

	cmds := []string{"G28", "G1 X1", "G1 X2", "G1 X3"}
	p := NewPlayback(s, PlaybackTuning{})
	require.NoError(t, p.Load(cmds))
	require.NoError(t, p.Play())
	time.Sleep(25 * time.Millisecond)
	p.Stop()

	st := p.Status()
	require.Equal(t, PlayIdle, st.State)
	require.Zero(t, st.Index)

	// Replaying streams the whole queue again over the same connection.
	require.NoError(t, p.Play())
	waitPlayState(t, p, Complete, 2*time.Second)

	got := dev.cmds()
	require.GreaterOrEqual(t, len(got), len(cmds))
	require.Equal(t, cmds, got[len(got)-len(cmds):])
}

func TestInterruptBreaksWaitAndRearms(t *testing.T) {
	// Interrupt must cut a bounded wait short with a recoverable error
	// and leave the session usable; Rearm restores blocking waits.
	respond := func(seq int, cmd string) []string {
		if seq == 0 {
			return []string{"ok"}
		}
		return nil
	}
	_, ch := newFakeDevice(respond, nil)
	s, err := Connect(ch, Tuning{WindowSize: 4, StartupWait: 50 * time.Millisecond, AckWait: 5 * time.Second})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send("G28"))

	errc := make(chan error, 1)
	go func() { errc <- s.WaitAcked(5 * time.Second) }()
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	s.Interrupt()
	err = <-errc
	require.Less(t, time.Since(start), 300*time.Millisecond)
	require.True(t, errors.Is(err, errors.ErrInterrupted))

	s.Rearm()
	err = s.WaitAcked(40 * time.Millisecond)
	require.True(t, errors.Is(err, errors.ErrAckTimeout))
}

func TestSnapshotImmediateDuringAckWait(t *testing.T) {
	// A send blocked on a full window must not stall status reads.
	respond := func(seq int, cmd string) []string {
		if seq == 0 {
			return []string{"ok"}
		}
		return nil
	}
	_, ch := newFakeDevice(respond, nil)
	s, err := Connect(ch, Tuning{WindowSize: 1, StartupWait: 50 * time.Millisecond, AckWait: time.Second})
	require.NoError(t, err)

	require.NoError(t, s.Send("G28"))

	errc := make(chan error, 1)
	go func() { errc <- s.Send("G1 X1") }()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	st := s.Snapshot()
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.Equal(t, Streaming, st.State)
	require.Equal(t, 1, st.InFlight)

	require.NoError(t, s.Close())
	require.Error(t, <-errc)
}

func TestStopInterruptsFullWindowWait(t *testing.T) {
	// With the window stalled the worker sits in an acknowledgment wait;
	// Stop must reclaim it promptly instead of sleeping out the bound.
	respond := func(seq int, cmd string) []string {
		if seq == 0 {
			return []string{"ok"}
		}
		return nil
	}
	_, ch := newFakeDevice(respond, nil)
	s, err := Connect(ch, Tuning{WindowSize: 1, StartupWait: 50 * time.Millisecond, AckWait: time.Second})
	require.NoError(t, err)
	defer s.Close()

	p := NewPlayback(s, PlaybackTuning{SettleWait: time.Second})
	require.NoError(t, p.Load([]string{"G28", "G1 X1", "G1 X2"}))
	require.NoError(t, p.Play())
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	p.Stop()
	require.Less(t, time.Since(start), 300*time.Millisecond)

	st := p.Status()
	require.Equal(t, PlayIdle, st.State)
	require.Zero(t, st.Index)
}

func TestStopWhilePausedReturnsPromptly(t *testing.T) {
	_, ch := newFakeDevice(ackAll, func() time.Duration { return 10 * time.Millisecond })
	s, err := Connect(ch, Tuning{WindowSize: 2, StartupWait: 100 * time.Millisecond, AckWait: 500 * time.Millisecond})
	require.NoError(t, err)
	defer s.Close()

	cmds := make([]string, 20)
	for i := range cmds {
		cmds[i] = fmt.Sprintf("G1 X%d", i)
	}
	p := NewPlayback(s, PlaybackTuning{SettleWait: 2 * time.Second})
	require.NoError(t, p.Load(cmds))
	require.NoError(t, p.Play())
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, p.Pause())
	waitPlayState(t, p, Paused, 2*time.Second)

	// Pile pause/resume churn onto the control channel; stop must not
	// get lost behind the stale signals.
	for i := 0; i < 4; i++ {
		_ = p.Play()
		_ = p.Pause()
	}

	start := time.Now()
	p.Stop()
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, PlayIdle, p.Status().State)
}

func TestConsecutiveAckTimeoutsFailStream(t *testing.T) {
	// The device acknowledges the handshake and the first command, then
	// goes silent. The stream must fail after the bounded number of
	// consecutive acknowledgment timeouts rather than hanging.
	respond := func(seq int, cmd string) []string {
		if seq <= 1 {
			return []string{"ok"}
		}
		return nil
	}
	_, ch := newFakeDevice(respond, nil)
	s, err := Connect(ch, Tuning{WindowSize: 1, StartupWait: 50 * time.Millisecond, AckWait: 30 * time.Millisecond})
	require.NoError(t, err)
	defer s.Close()

	p := NewPlayback(s, PlaybackTuning{MaxConsecutiveTimeouts: 2, SettleWait: 100 * time.Millisecond})
	require.NoError(t, p.Load([]string{"G28", "G1 X1", "G1 X2"}))
	require.NoError(t, p.Play())

	waitPlayState(t, p, PlayError, 2*time.Second)
	require.Contains(t, p.Status().Status, "timeout")
}

func TestBusyLinesAreNotAcks(t *testing.T) {
	// Busy chatter must not free a window slot: with a window of one and
	// the ack withheld, the second send times out even though the device
	// keeps talking.
	respond := func(seq int, cmd string) []string {
		if seq == 0 {
			return []string{"ok"}
		}
		return []string{"echo:busy: processing"}
	}
	_, ch := newFakeDevice(respond, nil)
	s, err := Connect(ch, Tuning{WindowSize: 1, StartupWait: 50 * time.Millisecond, AckWait: 60 * time.Millisecond})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send("G28"))
	err = s.Send("G1 X1")
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrAckTimeout))
}

func TestCloseDuringStreamIsSafe(t *testing.T) {
	respond := func(seq int, cmd string) []string { return []string{"ok"} }
	_, ch := newFakeDevice(respond, nil)
	s, err := Connect(ch, fastTuning(4))
	require.NoError(t, err)

	require.NoError(t, s.Send("G28"))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.Send("G1 X1")
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrDisconnected))
	require.Equal(t, Disconnected, s.Snapshot().State)
}

func waitPlayState(t *testing.T, p *Playback, want PlayState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.Status().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("playback did not reach %s, stuck at %s", want, p.Status().State)
}
