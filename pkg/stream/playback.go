package stream

import (
	"fmt"
	"sync"
	"time"

	"crft-host/pkg/errors"
)

// PlayState is the playback state machine's state.
type PlayState int

const (
	// PlayIdle means no job is running; a queue may be loaded.
	PlayIdle PlayState = iota
	// Playing means the worker is feeding commands to the session.
	Playing
	// Paused means the worker halted at a command boundary.
	Paused
	// Complete means the queue was exhausted.
	Complete
	// PlayError means streaming failed; stop() then a fresh load()
	// recovers.
	PlayError
)

// String returns the state name.
func (s PlayState) String() string {
	switch s {
	case PlayIdle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Complete:
		return "complete"
	case PlayError:
		return "error"
	default:
		return fmt.Sprintf("playstate(%d)", int(s))
	}
}

// control is a message from the controlling thread to the worker. Stop is
// not a control message: it travels out of band on a closed channel so it
// can never be dropped or queued behind stale pause/resume signals.
type control int

const (
	ctrlPlay control = iota
	ctrlPause
)

// PlaybackTuning bounds the playback-side waits.
type PlaybackTuning struct {
	// MaxConsecutiveTimeouts is how many recoverable ack timeouts in a
	// row are tolerated before the stream is declared failed.
	MaxConsecutiveTimeouts int

	// SettleWait bounds the drain of in-flight acknowledgments at a
	// pause or at completion.
	SettleWait time.Duration
}

func (t PlaybackTuning) withDefaults() PlaybackTuning {
	if t.MaxConsecutiveTimeouts <= 0 {
		t.MaxConsecutiveTimeouts = 3
	}
	if t.SettleWait <= 0 {
		t.SettleWait = 5 * time.Second
	}
	return t
}

// Playback feeds a loaded command list to a Session from a dedicated
// worker goroutine. The controlling thread only signals transitions and
// reads snapshots; it never touches the channel. Commands go out in exactly
// the order loaded, across any number of pause/resume cycles.
type Playback struct {
	mu      sync.Mutex
	session *Session
	tuning  PlaybackTuning

	state    PlayState
	commands []string
	index    int
	status   string // what the controller is doing
	reason   string // populated in PlayError

	ctrl     chan control
	stop     chan struct{} // closed by Stop, one per worker run
	workerWG sync.WaitGroup
	running  bool
}

// PlaybackStatus is a copy-out snapshot for display: Status describes what
// the controller is doing, LastEvent what just happened on the wire. The
// two are kept distinct so a UI can show a coarse state and a fine-grained
// log without conflating them.
type PlaybackStatus struct {
	State     PlayState
	Index     int
	Total     int
	Status    string
	LastEvent string
}

// NewPlayback creates a playback controller bound to a connected session.
func NewPlayback(s *Session, tuning PlaybackTuning) *Playback {
	return &Playback{
		session: s,
		tuning:  tuning.withDefaults(),
		state:   PlayIdle,
		status:  "idle",
		ctrl:    make(chan control, 4),
	}
}

// SetTuning replaces the playback tuning. It takes effect from the next
// wait, so a profile edit mid-stream adjusts the remaining run.
func (p *Playback) SetTuning(t PlaybackTuning) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tuning = t.withDefaults()
}

func (p *Playback) tuningNow() PlaybackTuning {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tuning
}

// Load replaces the command queue. Valid only from Idle or Complete; the
// index resets to zero and the state becomes Idle with the queue loaded
// but not started.
func (p *Playback) Load(commands []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PlayIdle && p.state != Complete {
		return errors.New(errors.ErrBadState, "load requires idle or complete, playback is %s", p.state)
	}
	p.commands = append([]string(nil), commands...)
	p.index = 0
	p.state = PlayIdle
	p.status = fmt.Sprintf("loaded %d commands", len(p.commands))
	return nil
}

// Play starts or resumes streaming. Valid from Idle (with a loaded queue)
// and Paused.
func (p *Playback) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case PlayIdle:
		if len(p.commands) == 0 {
			return errors.New(errors.ErrBadState, "nothing loaded")
		}
	case Paused:
	default:
		return errors.New(errors.ErrBadState, "play requires idle or paused, playback is %s", p.state)
	}
	p.state = Playing
	p.status = "playing"
	if !p.running {
		// Drop control signals left over from a previous worker.
		for {
			select {
			case <-p.ctrl:
				continue
			default:
			}
			break
		}
		p.stop = make(chan struct{})
		p.running = true
		p.workerWG.Add(1)
		go p.worker(p.stop)
	} else {
		p.signal(ctrlPlay)
	}
	return nil
}

// Pause halts streaming at the next command boundary. The command in
// flight is never abandoned: its acknowledgment is still awaited before
// the worker halts.
func (p *Playback) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Playing {
		return errors.New(errors.ErrBadState, "pause requires playing, playback is %s", p.state)
	}
	p.status = "pausing"
	p.signal(ctrlPause)
	return nil
}

// Stop cancels the worker from any state, resets the command index to
// zero and returns to Idle. The device connection stays open. A worker
// blocked in one of the session's bounded waits is interrupted rather
// than left to wait out the bound, so Stop returns promptly.
func (p *Playback) Stop() {
	p.mu.Lock()
	running := p.running
	stop := p.stop
	p.stop = nil
	p.mu.Unlock()
	if running {
		if stop != nil {
			close(stop)
		}
		p.session.Interrupt()
		p.workerWG.Wait()
		p.session.Rearm()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = 0
	p.state = PlayIdle
	p.status = "stopped"
	p.reason = ""
}

// Status returns a copy-out snapshot of the playback and wire state.
func (p *Playback) Status() PlaybackStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PlaybackStatus{
		State:     p.state,
		Index:     p.index,
		Total:     len(p.commands),
		Status:    p.status,
		LastEvent: p.session.Snapshot().LastEvent,
	}
}

// signal delivers a control message without blocking the caller forever:
// the channel is buffered and the worker drains it promptly.
func (p *Playback) signal(c control) {
	select {
	case p.ctrl <- c:
	default:
		// Worker is exiting; drop the stale signal.
	}
}

// worker is the dedicated goroutine that owns all sends. It pulls the next
// unsent command, hands it to the session (blocking per the session's
// flow-control contract) and advances the index. Pausing happens strictly
// between commands.
func (p *Playback) worker(stop <-chan struct{}) {
	defer p.workerWG.Done()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	timeouts := 0
	for {
		// Stop and control signals take priority over sending.
		select {
		case <-stop:
			return
		case c := <-p.ctrl:
			p.handleControl(c)
			continue
		default:
		}

		p.mu.Lock()
		state := p.state
		var cmd string
		done := p.index >= len(p.commands)
		if !done {
			cmd = p.commands[p.index]
		}
		p.mu.Unlock()

		if state != Playing {
			// Paused: block until resumed or stopped.
			select {
			case <-stop:
				return
			case c := <-p.ctrl:
				p.handleControl(c)
			}
			continue
		}

		if done {
			p.finish()
			return
		}

		err := p.session.Send(cmd)
		switch {
		case err == nil:
			timeouts = 0
			p.mu.Lock()
			p.index++
			p.status = fmt.Sprintf("streaming %d/%d", p.index, len(p.commands))
			p.mu.Unlock()
		case errors.Is(err, errors.ErrInterrupted):
			// Stop broke the wait; the top of the loop observes the
			// closed stop channel and exits.
			continue
		case errors.Is(err, errors.ErrAckTimeout):
			// Recoverable: the command was not sent, the index is
			// unchanged, retry until the bound on consecutive
			// timeouts trips.
			timeouts++
			logger.Warn().Err(err).Int("consecutive", timeouts).Msg("acknowledgment timeout")
			if timeouts >= p.tuningNow().MaxConsecutiveTimeouts {
				p.fail(fmt.Sprintf("%d consecutive acknowledgment timeouts", timeouts))
				return
			}
		default:
			p.fail(err.Error())
			return
		}
	}
}

// handleControl applies one control message on the worker goroutine.
func (p *Playback) handleControl(c control) {
	switch c {
	case ctrlPause:
		// Finish the command in flight before halting: wait out the
		// outstanding acknowledgments, then pause at the boundary.
		if err := p.session.WaitAcked(p.tuningNow().SettleWait); err != nil {
			logger.Warn().Err(err).Msg("in-flight commands did not settle before pause")
		}
		p.mu.Lock()
		p.state = Paused
		p.status = fmt.Sprintf("paused at %d/%d", p.index, len(p.commands))
		p.mu.Unlock()
	case ctrlPlay:
		p.mu.Lock()
		p.state = Playing
		p.status = "playing"
		p.mu.Unlock()
	}
}

// finish settles the tail of the stream and transitions to Complete.
func (p *Playback) finish() {
	if err := p.session.WaitAcked(p.tuningNow().SettleWait); err != nil {
		logger.Warn().Err(err).Msg("tail of stream did not settle")
	}
	p.session.MarkIdle()
	p.mu.Lock()
	p.state = Complete
	p.status = fmt.Sprintf("complete, %d commands", len(p.commands))
	p.mu.Unlock()
	logger.Info().Msg("stream complete")
}

// fail transitions to PlayError with the given reason.
func (p *Playback) fail(reason string) {
	p.mu.Lock()
	p.state = PlayError
	p.reason = reason
	p.status = "error: " + reason
	p.mu.Unlock()
	logger.Error().Str("reason", reason).Msg("stream failed")
}
