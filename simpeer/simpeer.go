// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package simpeer implements the simulator side of the command protocol.

A [*Peer] reads request frames from a transport, answers ordinary
commands using registered [HandlerFunc], and implements the long poll
and event retrieval commands on top of an in-memory event queue fed
by [*Peer.Post].

# Long Poll

A long poll parks until an event is posted or another request arrives.
When another request arrives first, we answer the parked long poll
before handling the request, because the firmware reads responses in
the same order it wrote requests.
*/
package simpeer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/radiosim/metrics"
	"github.com/rbmk-project/radiosim/wire"
)

const (
	// StatusUnknownCommand is the status for commands without handler.
	StatusUnknownCommand = wire.StatusErrorMask | 0x7F

	// StatusNoEvent is the status answering a retrieval with no event.
	StatusNoEvent = wire.StatusErrorMask | 0x01

	// statusPending answers a long poll when events are pending.
	statusPending = 0x01
)

// ErrEventTooLarge indicates an event payload larger than [wire.MaxFrameSize].
var ErrEventTooLarge = errors.New("simpeer: event payload too large")

// HandlerFunc handles a command and returns the response status and payload.
type HandlerFunc func(args []byte) (status uint8, resp []byte)

// Config contains optional [*Peer] settings.
//
// The zero value is ready to use.
type Config struct {
	// Logger is the optional structured logger.
	Logger *slog.Logger

	// Metrics contains the optional collectors.
	Metrics *metrics.Collectors
}

// event is a queued event.
type event struct {
	id      uint8
	payload []byte
}

// Peer is a simulated peer.
//
// Construct using [New].
type Peer struct {
	// events is the pending events queue.
	events []event

	// handlers maps commands to handlers.
	handlers map[uint8]HandlerFunc

	// logger is the optional logger.
	logger *slog.Logger

	// metrics contains the optional collectors.
	metrics *metrics.Collectors

	// mu protects events, handlers, parked, and writes.
	mu sync.Mutex

	// parked is the writer owing a long poll answer, if any.
	parked io.Writer
}

// New creates a new [*Peer]. The config argument may be nil.
func New(config *Config) *Peer {
	if config == nil {
		config = &Config{}
	}
	return &Peer{
		handlers: map[uint8]HandlerFunc{},
		logger:   config.Logger,
		metrics:  config.Metrics,
	}
}

// HandleFunc registers the handler for the given command.
func (p *Peer) HandleFunc(command uint8, fn HandlerFunc) {
	p.mu.Lock()
	p.handlers[command] = fn
	p.mu.Unlock()
}

// Post queues an event and wakes up a parked long poll.
//
// The payload is copied. The returned error is either [ErrEventTooLarge]
// or an error writing the long poll answer.
func (p *Peer) Post(id uint8, payload []byte) error {
	if len(payload) > wire.MaxFrameSize {
		return ErrEventTooLarge
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event{id: id, payload: append([]byte{}, payload...)})
	p.log("eventPosted", slog.Int("eventID", int(id)), slog.Int("length", len(payload)))
	return p.answerParkedLocked()
}

// Pending returns the number of queued events.
func (p *Peer) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// Serve serves requests read from rw until reading fails or ctx is done.
//
// Cancellation is observed between requests; close rw to interrupt
// a blocked read. The returned error is the read or write error, or
// the context error.
func (p *Peer) Serve(ctx context.Context, rw io.ReadWriter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, args, err := readRequest(rw)
		if err != nil {
			p.log("serveDone", slog.Any("err", err), slog.String("errClass", errclass.New(err)))
			return err
		}
		if err := p.handle(rw, h.ID, args); err != nil {
			return err
		}
	}
}

// readRequest reads a whole request frame.
func readRequest(r io.Reader) (wire.Header, []byte, error) {
	h, err := wire.ReadHeader(r)
	if err != nil {
		return wire.Header{}, nil, err
	}
	args := make([]byte, h.Length)
	if _, err := io.ReadFull(r, args); err != nil {
		return wire.Header{}, nil, err
	}
	return h, args, nil
}

// handle handles a single request.
func (p *Peer) handle(w io.Writer, command uint8, args []byte) error {
	p.metrics.ObservePeerRequest(command)

	p.mu.Lock()
	if command != wire.CmdLongPoll {
		if err := p.answerParkedLocked(); err != nil {
			p.mu.Unlock()
			return err
		}
	}

	switch command {
	case wire.CmdLongPoll:
		defer p.mu.Unlock()
		if len(p.events) > 0 {
			return writeResponse(w, statusPending, nil)
		}
		p.parked = w
		return nil

	case wire.CmdRetrieveEvent:
		defer p.mu.Unlock()
		if len(p.events) <= 0 {
			p.log("retrieveWithoutEvent")
			return writeResponse(w, StatusNoEvent, nil)
		}
		ev := p.events[0]
		p.events = p.events[1:]
		return writeResponse(w, ev.id, ev.payload)

	default:
		fn := p.handlers[command]
		p.mu.Unlock()

		// Handlers run unlocked so they may Post events.
		status, resp := uint8(StatusUnknownCommand), []byte(nil)
		if fn != nil {
			status, resp = fn(args)
		} else {
			p.log("unknownCommand", slog.Int("command", int(command)))
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		return writeResponse(w, status, resp)
	}
}

// answerParkedLocked answers the parked long poll, if any.
//
// The caller must hold the mu lock.
func (p *Peer) answerParkedLocked() error {
	if p.parked == nil {
		return nil
	}
	w := p.parked
	p.parked = nil
	status := uint8(wire.StatusOK)
	if len(p.events) > 0 {
		status = statusPending
	}
	return writeResponse(w, status, nil)
}

// writeResponse writes a response frame with a single write.
func writeResponse(w io.Writer, status uint8, payload []byte) error {
	hdr, err := wire.Header{ID: status, Length: uint32(len(payload))}.Encode()
	if err != nil {
		return err
	}
	return wire.WriteFull(w, append(hdr[:], payload...))
}

// log emits a debug log entry when we have a logger.
func (p *Peer) log(msg string, attrs ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, attrs...)
	}
}
