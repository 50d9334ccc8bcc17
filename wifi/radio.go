// SPDX-License-Identifier: GPL-3.0-or-later

package wifi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/rbmk-project/common/runtimex"
	"github.com/rbmk-project/radiosim/simpeer"
	"github.com/rbmk-project/radiosim/wire"
)

// Statuses answered by [*Radio] besides [wire.StatusOK].
const (
	// StatusInvalidArgs answers malformed command arguments.
	StatusInvalidArgs = wire.StatusErrorMask | 0x02

	// StatusNotFound answers a request for a record that does not exist.
	StatusNotFound = wire.StatusErrorMask | 0x03

	// StatusNotConnected answers [CmdAPInfo] while disconnected.
	StatusNotConnected = wire.StatusErrorMask | 0x04

	// maxCount is the largest count a status byte can carry.
	maxCount = wire.StatusErrorMask - 1

	// MaxConfigBits is the largest [World] ConfigBits value. The bits
	// travel back as the response status, whose top bit marks errors.
	MaxConfigBits = wire.StatusErrorMask - 1
)

// ErrConfigBits indicates config bits that overlap the status error bit.
var ErrConfigBits = errors.New("wifi: config bits overlap the status error bit")

// World describes the radio environment simulated by [*Radio].
type World struct {
	// ConfigBits is the board configuration answered to [CmdConfigBits].
	ConfigBits uint8

	// AccessPoints are the networks found by a scan. The station
	// connects to the one whose SSID matches its configuration.
	AccessPoints []APRecord

	// Stations are connected to the soft access point once it starts.
	Stations []StationRecord

	// Loopback reflects every transmitted frame and SPI packet back
	// as the matching receive event.
	Loopback bool
}

// Validate returns an error when the world cannot be answered on the wire.
func (w World) Validate() error {
	if w.ConfigBits > MaxConfigBits {
		return fmt.Errorf("%w: 0x%02x", ErrConfigBits, w.ConfigBits)
	}
	return nil
}

// RadioConfig contains optional [*Radio] settings.
type RadioConfig struct {
	// Logger is the optional structured logger.
	Logger *slog.Logger

	// OnFrame is the optional callback observing transmitted frames.
	OnFrame func(iface string, frame []byte)
}

// Radio simulates the WiFi radio on the peer side.
//
// Construct using [NewRadio].
type Radio struct {
	// apConfig is the last soft access point configuration.
	apConfig APConfig

	// connected is the access point joined by the station, if any.
	connected *APRecord

	// logger is the structured logger.
	logger *slog.Logger

	// mode is the mode last set by the firmware.
	mode Mode

	// mu protects the mutable radio state.
	mu sync.Mutex

	// onFrame is the optional transmitted frames observer.
	onFrame func(iface string, frame []byte)

	// peer is the peer we post events through.
	peer *simpeer.Peer

	// scanCursor is the next record returned by a scan listing.
	scanCursor int

	// scanned contains the results of the last scan.
	scanned []APRecord

	// staConfig is the last station configuration.
	staConfig STAConfig

	// stations are the stations joined to the soft access point.
	stations []StationRecord

	// world is the immutable simulated environment.
	world World
}

// NewRadio creates a [*Radio] and installs its handlers on peer.
//
// This function panics if world does not pass [World.Validate].
func NewRadio(peer *simpeer.Peer, world World, config *RadioConfig) *Radio {
	runtimex.Try0(world.Validate())
	if config == nil {
		config = &RadioConfig{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Radio{
		logger:  logger,
		onFrame: config.OnFrame,
		peer:    peer,
		world:   world,
	}
	handlers := map[uint8]simpeer.HandlerFunc{
		CmdSPISend:        r.spiSend,
		CmdConfigBits:     r.configBits,
		CmdSetMode:        r.setMode,
		CmdSetAPConfig:    r.setAPConfig,
		CmdSetSTAConfig:   r.setSTAConfig,
		CmdConnect:        r.connect,
		CmdDisconnect:     r.disconnect,
		CmdDeauthStation:  r.deauth,
		CmdStart:          r.start,
		CmdStop:           r.stop,
		CmdScanCount:      r.scanCount,
		CmdScanNextRecord: r.scanNextRecord,
		CmdScanStart:      r.scanStart,
		CmdAPInfo:         r.apInfo,
		CmdStationCount:   r.stationCount,
		CmdStationRecord:  r.stationRecord,
		CmdSTAFrameOut:    r.frameOut("sta", EventIDSTAFrameIn),
		CmdAPFrameOut:     r.frameOut("ap", EventIDAPFrameIn),
	}
	for command, fn := range handlers {
		peer.HandleFunc(command, fn)
	}
	return r
}

// Mode returns the mode last set by the firmware.
func (r *Radio) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// APConfig returns the soft access point configuration.
func (r *Radio) APConfig() APConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apConfig
}

// STAConfig returns the station configuration.
func (r *Radio) STAConfig() STAConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.staConfig
}

// Connected returns whether the station is connected.
func (r *Radio) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected != nil
}

// post queues an event, logging failures.
func (r *Radio) post(id uint8, payload []byte) {
	if err := r.peer.Post(id, payload); err != nil {
		r.logger.Warn("radioPostFailed", slog.Int("eventID", int(id)), slog.Any("err", err))
	}
}

func (r *Radio) spiSend(args []byte) (uint8, []byte) {
	if r.world.Loopback {
		r.post(EventIDSPIReceive, args)
	}
	return wire.StatusOK, nil
}

func (r *Radio) configBits(args []byte) (uint8, []byte) {
	return r.world.ConfigBits, nil
}

func (r *Radio) setMode(args []byte) (uint8, []byte) {
	mode, err := DecodeMode(args)
	if err != nil || !mode.Valid() {
		return StatusInvalidArgs, nil
	}
	r.mu.Lock()
	r.mode = mode
	r.mu.Unlock()
	r.logger.Info("radioSetMode", slog.String("mode", mode.String()))
	return wire.StatusOK, nil
}

func (r *Radio) setAPConfig(args []byte) (uint8, []byte) {
	var config APConfig
	if err := config.UnmarshalBinary(args); err != nil {
		return StatusInvalidArgs, nil
	}
	r.mu.Lock()
	r.apConfig = config
	r.mu.Unlock()
	return wire.StatusOK, nil
}

func (r *Radio) setSTAConfig(args []byte) (uint8, []byte) {
	var config STAConfig
	if err := config.UnmarshalBinary(args); err != nil {
		return StatusInvalidArgs, nil
	}
	r.mu.Lock()
	r.staConfig = config
	r.mu.Unlock()
	return wire.StatusOK, nil
}

// connect joins the access point matching the station SSID and
// reports the outcome through the connected or lost events.
func (r *Radio) connect(args []byte) (uint8, []byte) {
	r.mu.Lock()
	var found *APRecord
	for idx := range r.world.AccessPoints {
		if r.world.AccessPoints[idx].SSID == r.staConfig.SSID {
			found = &r.world.AccessPoints[idx]
			break
		}
	}
	r.connected = found
	r.mu.Unlock()
	if found == nil {
		r.post(EventIDConnectionLost, nil)
		return wire.StatusOK, nil
	}
	r.logger.Info("radioConnected", slog.String("ssid", found.SSID))
	r.post(EventIDConnected, nil)
	return wire.StatusOK, nil
}

func (r *Radio) disconnect(args []byte) (uint8, []byte) {
	r.mu.Lock()
	wasConnected := r.connected != nil
	r.connected = nil
	r.mu.Unlock()
	if wasConnected {
		r.post(EventIDConnectionLost, nil)
	}
	return wire.StatusOK, nil
}

// deauth removes the station at the given association id, which is
// the one-based position in the station list.
func (r *Radio) deauth(args []byte) (uint8, []byte) {
	aid, err := DecodeDeauth(args)
	if err != nil {
		return StatusInvalidArgs, nil
	}
	r.mu.Lock()
	if aid == 0 || int(aid) > len(r.stations) {
		r.mu.Unlock()
		return StatusNotFound, nil
	}
	r.stations = append(r.stations[:aid-1], r.stations[aid:]...)
	r.mu.Unlock()
	r.post(EventIDStationLeft, nil)
	return wire.StatusOK, nil
}

// start brings up the configured interfaces; in AP mode the
// simulated stations join right away.
func (r *Radio) start(args []byte) (uint8, []byte) {
	r.mu.Lock()
	var arrived int
	if r.mode == ModeAP || r.mode == ModeAPSTA {
		r.stations = append([]StationRecord{}, r.world.Stations...)
		arrived = len(r.stations)
	}
	r.mu.Unlock()
	for range arrived {
		r.post(EventIDStationArrived, nil)
	}
	return wire.StatusOK, nil
}

func (r *Radio) stop(args []byte) (uint8, []byte) {
	r.mu.Lock()
	r.stations = nil
	r.connected = nil
	r.mu.Unlock()
	return wire.StatusOK, nil
}

func (r *Radio) scanStart(args []byte) (uint8, []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanned = append([]APRecord{}, r.world.AccessPoints...)
	if len(r.scanned) > maxCount {
		r.scanned = r.scanned[:maxCount]
	}
	r.scanCursor = 0
	return wire.StatusOK, nil
}

func (r *Radio) scanCount(args []byte) (uint8, []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint8(len(r.scanned)), nil
}

// scanNextRecord walks the scan results, wrapping around so that
// every listing starts from the first record.
func (r *Radio) scanNextRecord(args []byte) (uint8, []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.scanned) == 0 {
		return StatusNotFound, nil
	}
	record := r.scanned[r.scanCursor]
	r.scanCursor = (r.scanCursor + 1) % len(r.scanned)
	return marshalRecord(record)
}

func (r *Radio) apInfo(args []byte) (uint8, []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected == nil {
		return StatusNotConnected, nil
	}
	return marshalRecord(*r.connected)
}

func (r *Radio) stationCount(args []byte) (uint8, []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint8(min(len(r.stations), maxCount)), nil
}

func (r *Radio) stationRecord(args []byte) (uint8, []byte) {
	index, err := DecodeStationIndex(args)
	if err != nil {
		return StatusInvalidArgs, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(index) >= len(r.stations) {
		return StatusNotFound, nil
	}
	return marshalRecord(r.stations[index])
}

// frameOut returns the handler for frames transmitted on iface.
func (r *Radio) frameOut(iface string, echoEvent uint8) simpeer.HandlerFunc {
	return func(args []byte) (uint8, []byte) {
		if r.onFrame != nil {
			r.onFrame(iface, args)
		}
		if r.world.Loopback {
			r.post(echoEvent, args)
		}
		return wire.StatusOK, nil
	}
}

// marshalRecord answers with an encoded record.
func marshalRecord(record interface{ MarshalBinary() ([]byte, error) }) (uint8, []byte) {
	payload, err := record.MarshalBinary()
	if err != nil {
		return StatusInvalidArgs, nil
	}
	return wire.StatusOK, payload
}
