// SPDX-License-Identifier: GPL-3.0-or-later

package wifi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/rbmk-project/radiosim/engine"
	"github.com/rbmk-project/radiosim/metrics"
	"github.com/rbmk-project/radiosim/wire"
)

// ErrUnsupportedMode indicates a [Mode] the radio does not support.
var ErrUnsupportedMode = errors.New("wifi: unsupported mode")

// StatusError is the error returned when the radio answers
// a command with the error bit set.
type StatusError struct {
	Command uint8
	Status  uint8
}

var _ error = &StatusError{}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("wifi: command %s failed with status 0x%02x",
		metrics.CommandLabel(e.Command), e.Status)
}

// Client issues typed WiFi commands through an [engine.Caller].
//
// Construct using [NewClient].
type Client struct {
	caller engine.Caller
	logger *slog.Logger
}

// NewClient creates a [*Client]. A nil logger disables logging.
func NewClient(caller engine.Caller, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{caller: caller, logger: logger}
}

// check converts an error status into a [*StatusError].
func check(command, status uint8) error {
	if wire.IsError(status) {
		return &StatusError{Command: command, Status: status}
	}
	return nil
}

// execute sends args and expects a successful status without payload.
func (c *Client) execute(command uint8, args []byte) error {
	status, _ := c.caller.Call(command, args, nil)
	return check(command, status)
}

// query sends a command without arguments and returns its status.
func (c *Client) query(command uint8) (uint8, error) {
	status := c.caller.Query(command)
	return status, check(command, status)
}

// fetch issues command and decodes the fixed-size record answering it.
func (c *Client) fetch(command uint8, args []byte, size int, record interface{ UnmarshalBinary([]byte) error }) error {
	resp := make([]byte, size)
	status, count := c.caller.Call(command, args, resp)
	if err := check(command, status); err != nil {
		return err
	}
	return record.UnmarshalBinary(resp[:count])
}

// ConfigBits returns the board configuration bits.
func (c *Client) ConfigBits() (uint8, error) {
	c.logger.Info("configBitsQuery")
	return c.query(CmdConfigBits)
}

// SPISend sends a packet on the simulated SPI bus.
func (c *Client) SPISend(data []byte) error {
	return c.execute(CmdSPISend, data)
}

// SetMode sets the radio operating mode.
func (c *Client) SetMode(mode Mode) error {
	c.logger.Info("setMode", slog.String("mode", mode.String()))
	if !mode.Valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}
	return c.execute(CmdSetMode, EncodeMode(mode))
}

// SetAPConfig configures the soft access point.
func (c *Client) SetAPConfig(config APConfig) error {
	c.logger.Info(
		"setAPConfig",
		slog.String("ssid", config.SSID),
		slog.Int("channel", int(config.Channel)),
	)
	payload, err := config.MarshalBinary()
	if err != nil {
		return err
	}
	return c.execute(CmdSetAPConfig, payload)
}

// SetSTAConfig configures the station interface.
func (c *Client) SetSTAConfig(config STAConfig) error {
	c.logger.Info("setSTAConfig", slog.String("ssid", config.SSID))
	payload, err := config.MarshalBinary()
	if err != nil {
		return err
	}
	return c.execute(CmdSetSTAConfig, payload)
}

// Connect asks the station to join the configured network. Completion
// is reported by the connected event.
func (c *Client) Connect() error {
	_, err := c.query(CmdConnect)
	return err
}

// Disconnect asks the station to leave the network.
func (c *Client) Disconnect() error {
	_, err := c.query(CmdDisconnect)
	return err
}

// DeauthStation disconnects the station with the given association id.
func (c *Client) DeauthStation(aid uint16) error {
	c.logger.Info("deauthStation", slog.Int("aid", int(aid)))
	return c.execute(CmdDeauthStation, EncodeDeauth(aid))
}

// Start starts the radio.
func (c *Client) Start() error {
	_, err := c.query(CmdStart)
	return err
}

// Stop stops the radio.
func (c *Client) Stop() error {
	_, err := c.query(CmdStop)
	return err
}

// Scan performs a blocking scan.
func (c *Client) Scan() error {
	status, err := c.query(CmdScanStart)
	if err == nil && status != wire.StatusOK {
		err = &StatusError{Command: CmdScanStart, Status: status}
	}
	return err
}

// ScanCount returns the number of access points found by the last scan.
func (c *Client) ScanCount() (int, error) {
	count, err := c.query(CmdScanCount)
	return int(count), err
}

// ScanRecords returns the access points found by the last scan,
// fetching the records one command at a time.
func (c *Client) ScanRecords() ([]APRecord, error) {
	count, err := c.ScanCount()
	if err != nil {
		return nil, err
	}
	records := make([]APRecord, 0, count)
	for range count {
		var record APRecord
		if err := c.fetch(CmdScanNextRecord, nil, APRecordSize, &record); err != nil {
			return records, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Stations returns the stations connected to the soft access point.
func (c *Client) Stations() ([]StationRecord, error) {
	count, err := c.query(CmdStationCount)
	if err != nil {
		return nil, err
	}
	records := make([]StationRecord, 0, count)
	for idx := range uint32(count) {
		var record StationRecord
		if err := c.fetch(CmdStationRecord, EncodeStationIndex(idx), StationRecordSize, &record); err != nil {
			return records, err
		}
		records = append(records, record)
	}
	return records, nil
}

// APInfo returns the access point the station is connected to.
func (c *Client) APInfo() (APRecord, error) {
	var record APRecord
	err := c.fetch(CmdAPInfo, nil, APRecordSize, &record)
	return record, err
}
