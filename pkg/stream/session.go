package stream

import (
	"fmt"
	"sync"
	"time"

	"crft-host/pkg/errors"
	"crft-host/pkg/log"
	"crft-host/pkg/metrics"
	"crft-host/pkg/protocol"
)

var logger = log.Component("stream")

// State is the session's connection state.
type State int

const (
	// Disconnected means no channel is held.
	Disconnected State = iota
	// Handshaking covers the startup window after the line-number reset.
	Handshaking
	// Ready means connected with nothing in flight.
	Ready
	// Streaming means framed commands are being fed.
	Streaming
	// Idle means connected, a job has streamed, nothing is in flight.
	Idle
	// Errored means an unrecoverable failure ended the session.
	Errored
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case Streaming:
		return "streaming"
	case Idle:
		return "idle"
	case Errored:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Tuning holds the bounded-wait durations and window size. These are
// empirical knobs, deliberately configuration rather than constants.
type Tuning struct {
	// WindowSize is the maximum number of framed commands awaiting
	// acknowledgment at once.
	WindowSize int

	// StartupWait bounds the wait for a ready indicator after the
	// handshake. A silent device is tolerated: on elapse the session
	// is treated as ready.
	StartupWait time.Duration

	// AckWait bounds a full-window wait for one acknowledgment.
	AckWait time.Duration
}

// DefaultTuning returns the tuning used when fields are zero.
func DefaultTuning() Tuning {
	return Tuning{
		WindowSize:  4,
		StartupWait: 3 * time.Second,
		AckWait:     2 * time.Second,
	}
}

func (t Tuning) withDefaults() Tuning {
	d := DefaultTuning()
	if t.WindowSize <= 0 {
		t.WindowSize = d.WindowSize
	}
	if t.StartupWait <= 0 {
		t.StartupWait = d.StartupWait
	}
	if t.AckWait <= 0 {
		t.AckWait = d.AckWait
	}
	return t
}

// pendingCmd is one framed command awaiting acknowledgment.
type pendingCmd struct {
	seq int
	cmd string // unframed text, kept for retransmission
}

// Session owns the serial channel and implements the framed streaming
// protocol: ascending line numbers, XOR checksums, a bounded in-flight
// window with FIFO acknowledgment matching, and resend rewinds.
//
// All protocol counters live on the session and die with it: a fresh
// connection starts numbering from scratch, nothing leaks across
// reconnects. Sends must come from a single goroutine (the playback
// worker); Close and Snapshot are safe from anywhere.
type Session struct {
	mu     sync.Mutex
	ch     Channel
	rd     *reader
	tuning Tuning

	state     State
	nextSeq   int
	window    []pendingCmd
	lastEvent string

	closed    chan struct{}
	closeOnce sync.Once

	// intr is armed by Interrupt to break out of a bounded wait without
	// tearing the session down. It has its own lock because the waiter
	// holds s.mu while blocked.
	intrMu sync.Mutex
	intr   chan struct{}

	// stat mirrors the observable fields under a lock sends never hold,
	// so Snapshot stays immediate while a bounded wait is in progress.
	statMu sync.Mutex
	stat   SessionStatus
}

// SessionStatus is a copy-out snapshot of the session for display. Readers
// never see live state.
type SessionStatus struct {
	State     State
	NextSeq   int
	InFlight  int
	LastEvent string
}

// Connect opens a session over the given channel: stray buffered bytes are
// flushed, the background reader starts, and a line-number reset handshake
// is sent. The session then waits up to StartupWait for the device's ready
// indicator or a first acknowledgment; a device that says nothing is
// treated as ready rather than failing the connection.
func Connect(ch Channel, tuning Tuning) (*Session, error) {
	s := &Session{
		ch:      ch,
		rd:      newReader(ch),
		tuning:  tuning.withDefaults(),
		state:   Handshaking,
		nextSeq: 1,
		closed:  make(chan struct{}),
		intr:    make(chan struct{}),
	}
	s.stat = SessionStatus{State: Handshaking, NextSeq: 1}

	if err := ch.Flush(); err != nil {
		ch.Close()
		return nil, errors.Wrap(errors.ErrConnectionFailed, err, "flush channel")
	}
	s.rd.start()

	if err := s.writeLine(protocol.LineReset()); err != nil {
		s.Close()
		return nil, errors.Wrap(errors.ErrConnectionFailed, err, "send handshake")
	}

	deadline := time.NewTimer(s.tuning.StartupWait)
	defer deadline.Stop()
settle:
	for {
		select {
		case ev := <-s.rd.events:
			if ev.err != nil {
				s.Close()
				return nil, errors.Wrap(errors.ErrConnectionFailed, ev.err, "device lost during handshake")
			}
			s.mu.Lock()
			s.noteEventLocked(ev.resp.Text)
			s.mu.Unlock()
			switch ev.resp.Kind {
			case protocol.RespReady, protocol.RespAck:
				break settle
			}
		case <-deadline.C:
			// Silent device: assume it is ready and find out when
			// the first framed command goes unanswered.
			logger.Debug().Msg("no ready indicator, assuming device is ready")
			break settle
		case <-s.closed:
			return nil, errors.New(errors.ErrConnectionFailed, "session closed during handshake")
		}
	}

	s.mu.Lock()
	s.state = Ready
	s.publishLocked()
	s.mu.Unlock()
	logger.Info().Msg("session ready")
	return s, nil
}

// Send frames cmd with the next line number and writes it, blocking while
// the in-flight window is full. A full window that does not drain within
// AckWait surfaces a recoverable ErrAckTimeout: the command was not sent
// and the caller decides whether to retry or abort.
func (s *Session) Send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return err
	}
	s.drainEventsLocked()

	if len(s.window) >= s.tuning.WindowSize {
		if err := s.awaitSlotLocked(); err != nil {
			return err
		}
	}

	seq := s.nextSeq
	s.nextSeq++
	if err := s.writeLine(protocol.Frame(seq, cmd)); err != nil {
		s.state = Errored
		s.publishLocked()
		return errors.Wrap(errors.ErrDisconnected, err, "write command %d", seq)
	}
	s.window = append(s.window, pendingCmd{seq: seq, cmd: cmd})
	s.state = Streaming
	metrics.CommandsSent.Inc()
	metrics.WindowInFlight.Set(float64(len(s.window)))
	s.publishLocked()
	return nil
}

// SendUnframed writes a status or telemetry command verbatim. Unframed
// commands carry no line number or checksum and bypass the window: they
// complete on write.
func (s *Session) SendUnframed(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	if err := s.writeLine(cmd); err != nil {
		s.state = Errored
		s.publishLocked()
		return errors.Wrap(errors.ErrDisconnected, err, "write unframed command")
	}
	return nil
}

// WaitAcked blocks until every outstanding framed command has been
// acknowledged or the bound elapses. Playback uses it to finish the
// in-flight command before honoring a pause, and to settle at completion.
func (s *Session) WaitAcked(bound time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.NewTimer(bound)
	defer deadline.Stop()
	for len(s.window) > 0 {
		if err := s.usableLocked(); err != nil {
			return err
		}
		if err := s.processOneLocked(deadline.C); err != nil {
			return err
		}
	}
	return nil
}

// MarkIdle returns a streaming session to Idle between jobs.
func (s *Session) MarkIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Streaming {
		s.state = Idle
		s.publishLocked()
	}
}

// Interrupt breaks any in-progress bounded wait with a recoverable
// ErrInterrupted. The session stays connected and usable; Rearm makes it
// waitable again. Stop uses the pair to reclaim the worker within
// milliseconds instead of waiting out an acknowledgment bound.
func (s *Session) Interrupt() {
	s.intrMu.Lock()
	defer s.intrMu.Unlock()
	select {
	case <-s.intr:
		// Already interrupted.
	default:
		close(s.intr)
	}
}

// Rearm clears a previous Interrupt so bounded waits block again.
func (s *Session) Rearm() {
	s.intrMu.Lock()
	defer s.intrMu.Unlock()
	select {
	case <-s.intr:
		s.intr = make(chan struct{})
	default:
	}
}

func (s *Session) interruptChan() <-chan struct{} {
	s.intrMu.Lock()
	defer s.intrMu.Unlock()
	return s.intr
}

// Close disconnects: it interrupts any pending bounded wait, stops the
// reader and closes the channel. Safe to call from any state, any
// goroutine, more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.ch.Close()
		s.rd.stop()
		s.mu.Lock()
		s.state = Disconnected
		s.window = nil
		s.publishLocked()
		s.mu.Unlock()
		metrics.WindowInFlight.Set(0)
		logger.Info().Msg("session closed")
	})
	return err
}

// Snapshot returns a copy of the session's observable state. It reads the
// mirrored status, never s.mu, so it returns immediately even while a send
// is blocked inside a bounded wait.
func (s *Session) Snapshot() SessionStatus {
	s.statMu.Lock()
	defer s.statMu.Unlock()
	return s.stat
}

// publishLocked refreshes the mirrored status. Callers hold s.mu.
func (s *Session) publishLocked() {
	s.statMu.Lock()
	s.stat = SessionStatus{
		State:     s.state,
		NextSeq:   s.nextSeq,
		InFlight:  len(s.window),
		LastEvent: s.lastEvent,
	}
	s.statMu.Unlock()
}

// usableLocked rejects operations on a dead session.
func (s *Session) usableLocked() error {
	select {
	case <-s.closed:
		return errors.New(errors.ErrDisconnected, "session closed")
	default:
	}
	switch s.state {
	case Ready, Streaming, Idle:
		return nil
	case Errored:
		return errors.New(errors.ErrDeviceFault, "session in error state: %s", s.lastEvent)
	default:
		return errors.New(errors.ErrBadState, "session %s", s.state)
	}
}

// awaitSlotLocked blocks until an acknowledgment frees a window slot or
// AckWait elapses.
func (s *Session) awaitSlotLocked() error {
	deadline := time.NewTimer(s.tuning.AckWait)
	defer deadline.Stop()
	for len(s.window) >= s.tuning.WindowSize {
		if err := s.processOneLocked(deadline.C); err != nil {
			return err
		}
	}
	return nil
}

// processOneLocked waits for one event and applies it. The deadline
// channel converts an elapsed bound into a recoverable ErrAckTimeout;
// Interrupt and Close both cut the wait short without waiting it out.
func (s *Session) processOneLocked(deadline <-chan time.Time) error {
	select {
	case ev := <-s.rd.events:
		return s.applyEventLocked(ev)
	case <-deadline:
		metrics.AckTimeouts.Inc()
		return errors.New(errors.ErrAckTimeout,
			"no acknowledgment within bound, %d in flight, oldest line %d",
			len(s.window), s.oldestSeqLocked())
	case <-s.interruptChan():
		return errors.New(errors.ErrInterrupted, "wait interrupted")
	case <-s.closed:
		return errors.New(errors.ErrDisconnected, "session closed during wait")
	}
}

// drainEventsLocked applies already-arrived events without blocking.
func (s *Session) drainEventsLocked() {
	for {
		select {
		case ev := <-s.rd.events:
			// Errors are sticky in state; surfaced on next use.
			_ = s.applyEventLocked(ev)
		default:
			return
		}
	}
}

// applyEventLocked is the single place received lines mutate the session.
func (s *Session) applyEventLocked(ev event) error {
	if ev.err != nil {
		s.state = Errored
		s.noteEventLocked(fmt.Sprintf("channel failed: %v", ev.err))
		s.publishLocked()
		return errors.Wrap(errors.ErrDisconnected, ev.err, "device connection lost")
	}

	resp := ev.resp
	s.noteEventLocked(resp.Text)

	switch resp.Kind {
	case protocol.RespAck:
		// The device answers in strict FIFO order, so a positive
		// acknowledgment always matches the oldest outstanding line,
		// regardless of any number it carries.
		if len(s.window) > 0 {
			s.window = s.window[1:]
			metrics.AcksReceived.Inc()
			metrics.WindowInFlight.Set(float64(len(s.window)))
		}
	case protocol.RespResend:
		err := s.resendLocked(resp.Seq)
		s.publishLocked()
		return err
	case protocol.RespError:
		s.state = Errored
		s.publishLocked()
		return errors.New(errors.ErrDeviceFault, "device reported: %s", resp.Text)
	case protocol.RespBusy, protocol.RespReady, protocol.RespLine:
		// Informational. Busy lines in particular must not free a
		// slot or reset any bound.
	}
	s.publishLocked()
	return nil
}

// resendLocked rewinds the send cursor: every outstanding command from the
// requested line number up is retransmitted in order. Losing this rewind
// means silent data loss on a noisy link.
func (s *Session) resendLocked(from int) error {
	metrics.ResendsRequested.Inc()
	if from < 0 {
		logger.Warn().Msg("resend request without line number, retransmitting whole window")
		from = s.oldestSeqLocked()
	}
	logger.Debug().Int("from", from).Int("in_flight", len(s.window)).Msg("resend requested")

	resent := 0
	for _, p := range s.window {
		if p.seq < from {
			continue
		}
		if err := s.writeLine(protocol.Frame(p.seq, p.cmd)); err != nil {
			s.state = Errored
			return errors.Wrap(errors.ErrDisconnected, err, "retransmit line %d", p.seq)
		}
		resent++
	}
	if resent == 0 && from < s.nextSeq {
		// Already acknowledged and dropped from the window; nothing
		// left to retransmit.
		logger.Warn().Int("from", from).Msg("resend for an already-acknowledged line ignored")
	}
	return nil
}

func (s *Session) oldestSeqLocked() int {
	if len(s.window) == 0 {
		return s.nextSeq
	}
	return s.window[0].seq
}

// writeLine writes one terminated line to the channel.
func (s *Session) writeLine(line string) error {
	_, err := s.ch.Write([]byte(line + "\n"))
	return err
}

// noteEventLocked records the most recent wire event for status display.
// Callers hold s.mu.
func (s *Session) noteEventLocked(text string) {
	s.lastEvent = text
	s.publishLocked()
}
