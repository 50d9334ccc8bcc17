// SPDX-License-Identifier: GPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/radiosim/metrics"
	"github.com/rbmk-project/radiosim/wire"
)

// Handler handles one event. The payload aliases the event channel
// buffer and is only valid until the handler returns.
type Handler func(id uint8, payload []byte)

// Register registers the handler for the given event id, replacing
// any previous handler for the same id.
//
// Register panics if id does not fit the handler table or if the
// event channel is already running: registration is a setup step.
func (e *Engine) Register(id uint8, handler Handler) {
	if int(id) >= len(e.handlers) {
		e.logger.Error(
			"registerFailed",
			slog.Int("eventID", int(id)),
			slog.Int("maxEvents", len(e.handlers)),
		)
	}
	runtimex.Assert(int(id) < len(e.handlers), "engine: event id exceeds the handler table capacity")
	runtimex.Assert(!e.running.Load(), "engine: handlers must be registered before the event channel starts")
	e.handlers[id] = handler
}

// Serve runs the event channel on the calling goroutine until ctx is
// done. Do not run more than one Serve per [*Engine].
//
// Cancellation is observed at the next iteration. Since the long poll
// blocks on the transport, close the transport after cancelling ctx to
// stop a parked loop; see the package docs.
func (e *Engine) Serve(ctx context.Context) (err error) {
	e.running.Store(true)
	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(error)
			if ok && errors.Is(perr, ErrDesync) && ctx.Err() != nil {
				err = ctx.Err()
				return
			}
			panic(r)
		}
	}()

	e.logger.Info("eventChannelStart", slog.Int("maxEvents", len(e.handlers)))
	buf := make([]byte, wire.MaxFrameSize)
	for {
		if err := ctx.Err(); err != nil {
			e.logger.Info("eventChannelDone", slog.Any("err", err))
			return err
		}
		e.pollOnce(buf)
	}
}

// pollOnce performs one long poll and, when an event is pending,
// retrieves it and dispatches it.
func (e *Engine) pollOnce(buf []byte) {
	if e.longPoll() == 0 {
		e.metrics.ObserveLongPoll(metrics.OutcomeIdle)
		return
	}
	e.metrics.ObserveLongPoll(metrics.OutcomePending)

	id, count := e.call(wire.CmdRetrieveEvent, nil, buf)
	if wire.IsError(id) {
		e.abort(fmt.Errorf("%w: event retrieval failed with status 0x%02x", ErrDesync, id))
	}

	if int(id) >= len(e.handlers) {
		e.logger.Warn(
			"eventDropped",
			slog.Int("eventID", int(id)),
			slog.Int("maxEvents", len(e.handlers)),
			slog.String("reason", "event id exceeds the handler table capacity"),
		)
		e.metrics.ObserveEvent(metrics.OutcomeUnknownID)
		return
	}

	handler := e.handlers[id]
	if handler == nil {
		e.logger.Warn(
			"eventDropped",
			slog.Int("eventID", int(id)),
			slog.String("reason", "no handler registered"),
		)
		e.metrics.ObserveEvent(metrics.OutcomeNoHandler)
		return
	}

	e.logger.Debug("eventDispatch", slog.Int("eventID", int(id)), slog.Int("length", count))
	handler(id, buf[:count])
	e.metrics.ObserveEvent(metrics.OutcomeDispatch)
}
