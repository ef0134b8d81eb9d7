// Package stream implements the device streaming core: a flow-controlled,
// acknowledgment-based session over a line-oriented serial channel, and the
// playback state machine that feeds it from a dedicated worker.
package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"crft-host/pkg/protocol"
	"crft-host/pkg/serial"
)

// Channel is the byte transport a session owns exclusively. *serial.Port
// implements it; tests substitute an in-memory pipe.
type Channel interface {
	io.ReadWriteCloser
	Flush() error
}

// event is what the reader publishes to the session worker: either a
// classified response line or a transport failure.
type event struct {
	resp protocol.Response
	err  error
}

// reader performs blocking reads from the channel on its own goroutine and
// publishes complete lines to the session. This decouples send-side
// blocking from receive availability: the worker never touches the channel
// for reads.
type reader struct {
	ch     Channel
	events chan event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newReader(ch Channel) *reader {
	ctx, cancel := context.WithCancel(context.Background())
	return &reader{
		ch:     ch,
		events: make(chan event, 256),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *reader) start() {
	r.wg.Add(1)
	go r.loop()
}

// stop cancels the read loop and waits for it to exit. The channel must
// already be closed or have a bounded read timeout, otherwise the loop can
// only notice cancellation between reads.
func (r *reader) stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *reader) loop() {
	defer r.wg.Done()

	buf := make([]byte, 1024)
	var pending []byte

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		n, err := r.ch.Read(buf)
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			if r.ctx.Err() != nil {
				return
			}
			r.publish(event{err: err}, true)
			return
		}
		pending = append(pending, buf[:n]...)

		for {
			nl := bytes.IndexByte(pending, '\n')
			if nl < 0 {
				break
			}
			line := string(bytes.TrimRight(pending[:nl], "\r"))
			pending = pending[nl+1:]
			if line == "" {
				continue
			}
			resp := protocol.ParseResponse(line)
			// Acks, resends, errors and ready indicators must not
			// be lost; chatter may be dropped when the worker is
			// not draining.
			critical := resp.Kind != protocol.RespLine && resp.Kind != protocol.RespBusy
			if !r.publish(event{resp: resp}, critical) {
				return
			}
		}
	}
}

// publish sends an event to the worker. Critical events block until
// delivered or the reader is cancelled; informational ones are dropped when
// the queue is full. Returns false when cancelled.
func (r *reader) publish(ev event, critical bool) bool {
	if critical {
		select {
		case r.events <- ev:
			return true
		case <-r.ctx.Done():
			return false
		}
	}
	select {
	case r.events <- ev:
	default:
	}
	return true
}
