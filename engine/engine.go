// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/radiosim/metrics"
	"github.com/rbmk-project/radiosim/wire"
)

// DefaultMaxEvents is the default capacity of the handler table.
const DefaultMaxEvents = 8

// ErrDesync is the error wrapped by every fatal protocol violation.
var ErrDesync = errors.New("engine: protocol desynchronization")

// Transport is the byte stream connecting us to the peer.
//
// Reads and writes must be ordered and reliable; a short
// transfer is treated as a fatal protocol violation.
type Transport interface {
	io.Reader
	io.Writer
}

// Caller is the subset of [*Engine] used by protocol adapters.
type Caller interface {
	Call(command uint8, args, resp []byte) (uint8, int)
	Query(command uint8) uint8
}

var _ Caller = &Engine{}

// Config contains optional [*Engine] settings.
//
// The zero value is ready to use.
type Config struct {
	// Logger is the optional structured logger. If nil, we
	// do not emit structured logs.
	Logger *slog.Logger

	// MaxEvents is the optional capacity of the handler table. If
	// zero or negative, we use [DefaultMaxEvents]. Values above 256
	// are clamped since event identifiers are bytes.
	MaxEvents int

	// Metrics contains the optional collectors.
	Metrics *metrics.Collectors

	// TimeNow is an optional function that returns the current time.
	// If this field is nil, the [time.Now] function will be used.
	TimeNow func() time.Time
}

// Engine is the command protocol engine. It owns the transport, the
// locks serializing frames on it, and the event handler table.
//
// Construct using [New].
type Engine struct {
	// handlers is the fixed-capacity handler table.
	handlers []Handler

	// logger is the structured logger (never nil).
	logger *slog.Logger

	// metrics contains the optional collectors.
	metrics *metrics.Collectors

	// readMu serializes response frames.
	readMu sync.Mutex

	// running is set once the event channel starts.
	running atomic.Bool

	// startOnce ensures Start spawns a single event channel.
	startOnce sync.Once

	// timeNow returns the current time.
	timeNow func() time.Time

	// txp is the transport.
	txp Transport

	// writeMu serializes request frames.
	writeMu sync.Mutex
}

// New creates a new [*Engine] using the given [Transport]. The
// config argument may be nil, in which case we use defaults.
func New(txp Transport, config *Config) *Engine {
	if config == nil {
		config = &Config{}
	}
	capacity := config.MaxEvents
	if capacity <= 0 {
		capacity = DefaultMaxEvents
	}
	capacity = min(capacity, 256)
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeNow := config.TimeNow
	if timeNow == nil {
		timeNow = time.Now
	}
	return &Engine{
		handlers: make([]Handler, capacity),
		logger:   logger,
		metrics:  config.Metrics,
		timeNow:  timeNow,
		txp:      txp,
	}
}

// MaxEvents returns the capacity of the handler table.
func (e *Engine) MaxEvents() int {
	return len(e.handlers)
}

// Call sends command with args and reads the response into resp,
// returning the response status and the number of bytes read.
//
// Call returns [wire.StatusOversize] without touching the transport
// when args do not fit the header length field, and [wire.StatusReserved]
// when command is protocol-internal. A status with [wire.StatusErrorMask]
// set otherwise comes from the peer and its meaning is up to the caller.
//
// Call panics with [ErrDesync] if the response does not fit into resp
// or the transport fails.
func (e *Engine) Call(command uint8, args, resp []byte) (uint8, int) {
	if wire.IsReserved(command) {
		e.logger.Error(
			"callRejected",
			slog.Int("command", int(command)),
			slog.String("reason", "reserved command"),
		)
		e.metrics.ObserveCall(command, metrics.OutcomeReserved)
		return wire.StatusReserved, 0
	}
	return e.call(command, args, resp)
}

// call is like Call but allows reserved commands.
func (e *Engine) call(command uint8, args, resp []byte) (uint8, int) {
	if len(args) > wire.MaxLength {
		e.logger.Error(
			"callRejected",
			slog.Int("command", int(command)),
			slog.Int("argsLength", len(args)),
			slog.String("reason", "arguments exceed the maximum payload size"),
		)
		e.metrics.ObserveCall(command, metrics.OutcomeOversize)
		return wire.StatusOversize, 0
	}

	t0 := e.timeNow()
	e.logger.Debug(
		"callStart",
		slog.Int("command", int(command)),
		slog.Int("argsLength", len(args)),
		slog.Int("respBufferSize", len(resp)),
		slog.Time("t", t0),
	)

	e.writeMu.Lock()
	e.mustWriteFrame(wire.Header{ID: command, Length: uint32(len(args))}, args)

	e.readMu.Lock()
	rh := e.mustReadHeader()
	if uint64(rh.Length) > uint64(len(resp)) {
		e.abort(fmt.Errorf(
			"%w: peer returned %d bytes for command 0x%02x but the buffer holds %d",
			ErrDesync, rh.Length, command, len(resp),
		))
	}
	e.mustReadFull(resp[:rh.Length])
	e.readMu.Unlock()
	e.writeMu.Unlock()

	e.logger.Debug(
		"callDone",
		slog.Int("command", int(command)),
		slog.Int("status", int(rh.ID)),
		slog.Int("respLength", int(rh.Length)),
		slog.Time("t0", t0),
		slog.Time("t", e.timeNow()),
	)
	outcome := metrics.OutcomeOK
	if wire.IsError(rh.ID) {
		outcome = metrics.OutcomePeerError
	}
	e.metrics.ObserveCall(command, outcome)
	return rh.ID, int(rh.Length)
}

// Query calls command without arguments and without a response buffer
// and returns the status, logging when the status is an error.
func (e *Engine) Query(command uint8) uint8 {
	status, _ := e.Call(command, nil, nil)
	if wire.IsError(status) {
		e.logger.Error(
			"queryFailed",
			slog.Int("command", int(command)),
			slog.Int("status", int(status)),
		)
	}
	return status
}

// longPoll sends a long poll and waits for the answer, returning the
// answer status: zero means nothing happened.
//
// The write lock is released as soon as the request is written, so other
// callers may write their requests while we wait. See the package docs.
func (e *Engine) longPoll() uint8 {
	e.writeMu.Lock()
	e.readMu.Lock()
	e.mustWriteFrame(wire.Header{ID: wire.CmdLongPoll}, nil)
	e.writeMu.Unlock()

	rh := e.mustReadHeader()
	e.readMu.Unlock()

	if rh.Length != 0 {
		e.abort(fmt.Errorf("%w: long poll answer carries %d bytes", ErrDesync, rh.Length))
	}
	return rh.ID
}

// mustWriteFrame writes a request frame or aborts.
func (e *Engine) mustWriteFrame(h wire.Header, payload []byte) {
	if err := wire.WriteHeader(e.txp, h); err != nil {
		e.abort(fmt.Errorf("%w: incomplete header write: %w", ErrDesync, err))
	}
	if len(payload) > 0 {
		if err := wire.WriteFull(e.txp, payload); err != nil {
			e.abort(fmt.Errorf("%w: incomplete payload write: %w", ErrDesync, err))
		}
	}
}

// mustReadHeader reads a response header or aborts.
func (e *Engine) mustReadHeader() wire.Header {
	h, err := wire.ReadHeader(e.txp)
	if err != nil {
		e.abort(fmt.Errorf("%w: incomplete header read: %w", ErrDesync, err))
	}
	return h
}

// mustReadFull fills buf or aborts.
func (e *Engine) mustReadFull(buf []byte) {
	if len(buf) <= 0 {
		return
	}
	if _, err := io.ReadFull(e.txp, buf); err != nil {
		e.abort(fmt.Errorf("%w: incomplete payload read: %w", ErrDesync, err))
	}
}

// abort logs and panics with err. Locks held by the
// caller stay locked: the frame stream is unusable.
func (e *Engine) abort(err error) {
	e.logger.Error(
		"protocolViolation",
		slog.Any("err", err),
		slog.String("errClass", errclass.New(err)),
	)
	panic(err)
}

// Start runs [*Engine.Serve] on a dedicated goroutine. Only the first
// call has effect. Handlers must be registered before calling Start.
func (e *Engine) Start(ctx context.Context) {
	started := false
	e.startOnce.Do(func() {
		started = true
		e.running.Store(true)
		go e.Serve(ctx)
	})
	if !started {
		e.logger.Warn("eventChannelAlreadyStarted")
	}
}
