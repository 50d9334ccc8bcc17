// SPDX-License-Identifier: GPL-3.0-or-later

package wifi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/radiosim/engine"
	"github.com/rbmk-project/radiosim/metrics"
	"github.com/rbmk-project/radiosim/vlink"
)

// Event is a WiFi state change reported by [*HAL].
type Event int

// Events reported through [HALConfig] OnEvent.
const (
	EventAPStarted Event = iota + 1
	EventSTAStarted
	EventStationArrived
	EventStationLeft
	EventConnected
	EventDisconnected
)

// String implements [fmt.Stringer].
func (ev Event) String() string {
	switch ev {
	case EventAPStarted:
		return "apStarted"
	case EventSTAStarted:
		return "staStarted"
	case EventStationArrived:
		return "stationArrived"
	case EventStationLeft:
		return "stationLeft"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(ev))
	}
}

// HALConfig contains optional [*HAL] settings.
//
// The zero value is ready to use.
type HALConfig struct {
	// Logger is the optional structured logger.
	Logger *slog.Logger

	// Metrics contains the optional collectors.
	Metrics *metrics.Collectors

	// OnEvent is the optional callback receiving WiFi events. It
	// runs on the event channel goroutine and must not block.
	OnEvent func(Event)
}

// Interface is the host network stack side of a virtual NIC.
type Interface struct {
	// host is the link used by the host network stack.
	host *vlink.Link

	// name is the interface name.
	name string

	// radio is the link bound to host, drained and fed by the HAL.
	radio *vlink.Link
}

// Name returns the interface name ("ap" or "sta").
func (ifc *Interface) Name() string {
	return ifc.name
}

// ReadFrame blocks until the radio delivers a frame. The out buffer
// must hold at least [vlink.MaxFrameSize] bytes.
func (ifc *Interface) ReadFrame(out []byte) (int, error) {
	return ifc.host.Receive(out)
}

// WriteFrame blocks until the radio accepts the frame.
func (ifc *Interface) WriteFrame(data []byte) error {
	return ifc.host.Transmit(data)
}

// HAL adapts the WiFi radio behind an [*engine.Engine] to a host
// network stack: it owns the AP and STA virtual NICs, relays their
// frames, queues SPI packets, and reports state changes.
//
// Construct using [NewHAL].
type HAL struct {
	// ap is the soft access point interface.
	ap *Interface

	// client issues the radio commands.
	client *Client

	// closeOnce ensures we close just once.
	closeOnce sync.Once

	// closed is closed by [*HAL.Close].
	closed chan struct{}

	// logger is the structured logger.
	logger *slog.Logger

	// metrics contains the optional collectors.
	metrics *metrics.Collectors

	// mode is the [Mode] last accepted by the radio.
	mode atomic.Uint32

	// onEvent receives the WiFi events.
	onEvent func(Event)

	// spi is the single-slot queue of received SPI packets.
	spi chan []byte

	// sta is the station interface.
	sta *Interface
}

// NewHAL registers the radio events on e and starts relaying frames
// from the virtual NICs to the radio on background goroutines.
//
// The engine must have room for [MaxEvents] handlers and its event
// channel must not be running yet; start it after NewHAL returns.
func NewHAL(e *engine.Engine, config *HALConfig) *HAL {
	if config == nil {
		config = &HALConfig{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	onEvent := config.OnEvent
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	h := &HAL{
		ap:      newInterface("ap"),
		client:  NewClient(e, logger),
		closed:  make(chan struct{}),
		logger:  logger,
		metrics: config.Metrics,
		onEvent: onEvent,
		spi:     make(chan []byte, 1),
		sta:     newInterface("sta"),
	}

	e.Register(EventIDSPIReceive, h.onSPIReceive)
	e.Register(EventIDStationArrived, h.notify(EventStationArrived))
	e.Register(EventIDStationLeft, h.notify(EventStationLeft))
	e.Register(EventIDConnected, h.notify(EventConnected))
	e.Register(EventIDConnectionLost, h.notify(EventDisconnected))
	e.Register(EventIDAPFrameIn, h.frameIn(h.ap))
	e.Register(EventIDSTAFrameIn, h.frameIn(h.sta))

	go h.pump(h.ap, CmdAPFrameOut)
	go h.pump(h.sta, CmdSTAFrameOut)
	return h
}

// newInterface creates the two bound links of a virtual NIC.
func newInterface(name string) *Interface {
	host, radio := vlink.NewPair()
	return &Interface{host: host, name: name, radio: radio}
}

// Client returns the [*Client] issuing commands through the engine.
func (h *HAL) Client() *Client {
	return h.client
}

// AP returns the soft access point interface.
func (h *HAL) AP() *Interface {
	return h.ap
}

// STA returns the station interface.
func (h *HAL) STA() *Interface {
	return h.sta
}

// SetMode sets the radio mode, remembering it for [*HAL.Start].
//
// The mode is recorded only once the radio accepts it, so that a rejected
// mode never drives the started events.
func (h *HAL) SetMode(mode Mode) error {
	if err := h.client.SetMode(mode); err != nil {
		return err
	}
	h.mode.Store(uint32(mode))
	return nil
}

// Start starts the radio and reports the started interfaces.
func (h *HAL) Start() error {
	if err := h.client.Start(); err != nil {
		return err
	}
	switch Mode(h.mode.Load()) {
	case ModeAP:
		h.onEvent(EventAPStarted)
	case ModeSTA:
		h.onEvent(EventSTAStarted)
	case ModeAPSTA:
		h.onEvent(EventAPStarted)
		h.onEvent(EventSTAStarted)
	}
	return nil
}

// SPISend sends a packet on the simulated SPI bus.
func (h *HAL) SPISend(data []byte) error {
	return h.client.SPISend(data)
}

// SPIRecv blocks until the radio delivers an SPI packet and copies it
// into out. A packet larger than out is a fatal error. After [*HAL.Close]
// it returns [net.ErrClosed].
func (h *HAL) SPIRecv(out []byte) (int, error) {
	select {
	case packet := <-h.spi:
		if len(packet) > len(out) {
			h.logger.Error(
				"spiBufferTooSmall",
				slog.Int("bufferSize", len(out)),
				slog.Int("packetSize", len(packet)),
			)
			panic(fmt.Errorf("wifi: SPI buffer too small (%d < %d)", len(out), len(packet)))
		}
		return copy(out, packet), nil
	case <-h.closed:
		return 0, net.ErrClosed
	}
}

// Close closes the virtual NICs in reverse creation order. The relays
// stop at their next receive; a relay inside a call stays with the engine.
// The returned error joins the close errors.
func (h *HAL) Close() (err error) {
	h.closeOnce.Do(func() {
		close(h.closed)
		closers := []io.Closer{h.ap.host, h.ap.radio, h.sta.host, h.sta.radio}
		var errv []error
		for _, c := range slices.Backward(closers) {
			if cerr := c.Close(); cerr != nil {
				errv = append(errv, cerr)
			}
		}
		err = errors.Join(errv...)
	})
	return
}

// onSPIReceive queues an SPI packet, blocking while the previous one
// has not been consumed.
func (h *HAL) onSPIReceive(id uint8, payload []byte) {
	packet := append([]byte{}, payload...)
	select {
	case h.spi <- packet:
	case <-h.closed:
	}
}

// notify returns a handler reporting ev.
func (h *HAL) notify(ev Event) engine.Handler {
	return func(id uint8, payload []byte) {
		h.logger.Info("wifiEvent", slog.String("event", ev.String()))
		h.onEvent(ev)
	}
}

// frameIn returns a handler delivering frames to the host side of ifc.
func (h *HAL) frameIn(ifc *Interface) engine.Handler {
	return func(id uint8, payload []byte) {
		if err := ifc.radio.Transmit(payload); err != nil {
			h.logger.Error(
				"frameInFailed",
				slog.Any("err", err),
				slog.String("errClass", errclass.New(err)),
				slog.String("iface", ifc.name),
			)
			return
		}
		h.metrics.ObserveFrame(ifc.name, metrics.DirectionIn)
	}
}

// pump forwards frames written by the host stack to the radio.
func (h *HAL) pump(ifc *Interface, command uint8) {
	buf := make([]byte, vlink.MaxFrameSize)
	for {
		count, err := ifc.radio.Receive(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				h.logger.Error(
					"frameOutFailed",
					slog.Any("err", err),
					slog.String("errClass", errclass.New(err)),
					slog.String("iface", ifc.name),
				)
			}
			return
		}
		if err := h.client.execute(command, buf[:count]); err != nil {
			h.logger.Warn(
				"frameOutRejected",
				slog.Any("err", err),
				slog.String("iface", ifc.name),
			)
			continue
		}
		h.metrics.ObserveFrame(ifc.name, metrics.DirectionOut)
	}
}
