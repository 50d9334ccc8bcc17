// SPDX-License-Identifier: GPL-3.0-or-later

// Package metrics contains the Prometheus collectors shared by the
// protocol engine, the WiFi HAL, and the simulated peer.
//
// All the methods are safe to call on a nil [*Collectors], in which
// case they do nothing. This allows components to take an optional
// collectors pointer in their config, like they take an optional logger.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rbmk-project/common/runtimex"
)

// Outcome labels used by the collectors.
const (
	OutcomeOK        = "ok"
	OutcomePeerError = "peer_error"
	OutcomeOversize  = "oversize"
	OutcomeReserved  = "reserved"
	OutcomeIdle      = "idle"
	OutcomePending   = "pending"
	OutcomeDispatch  = "dispatched"
	OutcomeUnknownID = "unknown_id"
	OutcomeNoHandler = "unhandled"
)

// Direction labels used by [*Collectors.ObserveFrame].
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Collectors groups the radiosim collectors.
//
// Construct using [New] or [MustNew].
type Collectors struct {
	calls      *prometheus.CounterVec
	longPolls  *prometheus.CounterVec
	events     *prometheus.CounterVec
	frames     *prometheus.CounterVec
	peerFrames *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil
// reg creates unregistered collectors, which is handy in tests.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radiosim",
			Subsystem: "engine",
			Name:      "calls_total",
			Help:      "Command calls issued to the peer by command and outcome.",
		}, []string{"command", "outcome"}),
		longPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radiosim",
			Subsystem: "engine",
			Name:      "long_polls_total",
			Help:      "Completed long polls by outcome.",
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radiosim",
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Retrieved events by outcome.",
		}, []string{"outcome"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radiosim",
			Subsystem: "wifi",
			Name:      "frames_total",
			Help:      "Frames moved through the virtual interfaces.",
		}, []string{"interface", "direction"}),
		peerFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radiosim",
			Subsystem: "peer",
			Name:      "requests_total",
			Help:      "Requests served by the simulated peer by command.",
		}, []string{"command"}),
	}
	if reg == nil {
		return c, nil
	}
	for _, coll := range c.all() {
		if err := reg.Register(coll); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like [New] but panics on error.
func MustNew(reg prometheus.Registerer) *Collectors {
	return runtimex.Try1(New(reg))
}

func (c *Collectors) all() []prometheus.Collector {
	return []prometheus.Collector{c.calls, c.longPolls, c.events, c.frames, c.peerFrames}
}

// CommandLabel formats a command for use as a label value.
func CommandLabel(command uint8) string {
	return fmt.Sprintf("0x%02x", command)
}

// ObserveCall counts one call.
func (c *Collectors) ObserveCall(command uint8, outcome string) {
	if c != nil {
		c.calls.WithLabelValues(CommandLabel(command), outcome).Inc()
	}
}

// ObserveLongPoll counts one completed long poll.
func (c *Collectors) ObserveLongPoll(outcome string) {
	if c != nil {
		c.longPolls.WithLabelValues(outcome).Inc()
	}
}

// ObserveEvent counts one retrieved event.
func (c *Collectors) ObserveEvent(outcome string) {
	if c != nil {
		c.events.WithLabelValues(outcome).Inc()
	}
}

// ObserveFrame counts one frame moved through a virtual interface.
func (c *Collectors) ObserveFrame(iface, direction string) {
	if c != nil {
		c.frames.WithLabelValues(iface, direction).Inc()
	}
}

// ObservePeerRequest counts one request served by the simulated peer.
func (c *Collectors) ObservePeerRequest(command uint8) {
	if c != nil {
		c.peerFrames.WithLabelValues(CommandLabel(command)).Inc()
	}
}
