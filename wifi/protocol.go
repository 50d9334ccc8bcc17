// SPDX-License-Identifier: GPL-3.0-or-later

package wifi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// Commands understood by the simulated radio.
const (
	CmdSPISend        = 0x01
	CmdConfigBits     = 0x03
	CmdSetMode        = 0x05
	CmdSetAPConfig    = 0x06
	CmdSetSTAConfig   = 0x07
	CmdConnect        = 0x08
	CmdDisconnect     = 0x09
	CmdDeauthStation  = 0x0A
	CmdStart          = 0x0B
	CmdStop           = 0x0C
	CmdScanCount      = 0x0D
	CmdScanNextRecord = 0x0F
	CmdScanStart      = 0x10
	CmdAPInfo         = 0x11
	CmdStationCount   = 0x12
	CmdStationRecord  = 0x13
	CmdSTAFrameOut    = 0x14
	CmdAPFrameOut     = 0x17
)

// Events posted by the simulated radio.
const (
	EventIDSPIReceive     = 0x01
	EventIDStationArrived = 0x02
	EventIDStationLeft    = 0x03
	EventIDConnected      = 0x04
	EventIDConnectionLost = 0x05
	EventIDAPFrameIn      = 0x06
	EventIDSTAFrameIn     = 0x07
)

// MaxEvents is the event table capacity the HAL needs.
const MaxEvents = EventIDSTAFrameIn + 1

// Mode is the radio operating mode.
type Mode uint32

// Supported modes. The values match the firmware SDK enumeration.
const (
	ModeSTA   Mode = 1
	ModeAP    Mode = 2
	ModeAPSTA Mode = 3
)

// Valid returns whether the radio supports m.
func (m Mode) Valid() bool {
	return m == ModeSTA || m == ModeAP || m == ModeAPSTA
}

// String implements [fmt.Stringer].
func (m Mode) String() string {
	switch m {
	case ModeSTA:
		return "sta"
	case ModeAP:
		return "ap"
	case ModeAPSTA:
		return "apsta"
	default:
		return fmt.Sprintf("mode(%d)", uint32(m))
	}
}

// Payload sizes.
const (
	ssidFieldSize       = 32
	passwordFieldSize   = 64
	recordSSIDFieldSize = 33
	APConfigSize        = ssidFieldSize + passwordFieldSize + 4
	STAConfigSize       = ssidFieldSize + passwordFieldSize
	ModeSize            = 4
	DeauthSize          = 2
	StationIndexSize    = 4
	APRecordSize        = 6 + recordSSIDFieldSize + 1 + 1
	StationRecordSize   = 6 + 1
)

var (
	// ErrFieldTooLong indicates a string that does not fit its fixed field.
	ErrFieldTooLong = errors.New("wifi: field too long")

	// ErrPayloadSize indicates a payload whose length does not match its layout.
	ErrPayloadSize = errors.New("wifi: unexpected payload size")
)

// putString copies s into a NUL terminated fixed field.
func putString(field []byte, name, s string) error {
	if len(s) >= len(field) {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFieldTooLong, name, len(s), len(field)-1)
	}
	copy(field, s)
	return nil
}

// getString reads a NUL terminated fixed field.
func getString(field []byte) string {
	if idx := bytes.IndexByte(field, 0); idx >= 0 {
		field = field[:idx]
	}
	return string(field)
}

// checkSize returns [ErrPayloadSize] unless len(b) equals size.
func checkSize(b []byte, size int) error {
	if len(b) != size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrPayloadSize, len(b), size)
	}
	return nil
}

// APConfig configures the soft access point.
type APConfig struct {
	SSID     string
	Password string
	Channel  uint32
}

// MarshalBinary encodes the config as the radio expects it.
func (c APConfig) MarshalBinary() ([]byte, error) {
	b := make([]byte, APConfigSize)
	if err := putString(b[:ssidFieldSize], "ssid", c.SSID); err != nil {
		return nil, err
	}
	if err := putString(b[ssidFieldSize:ssidFieldSize+passwordFieldSize], "password", c.Password); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(b[ssidFieldSize+passwordFieldSize:], c.Channel)
	return b, nil
}

// UnmarshalBinary decodes the config.
func (c *APConfig) UnmarshalBinary(b []byte) error {
	if err := checkSize(b, APConfigSize); err != nil {
		return err
	}
	c.SSID = getString(b[:ssidFieldSize])
	c.Password = getString(b[ssidFieldSize : ssidFieldSize+passwordFieldSize])
	c.Channel = binary.LittleEndian.Uint32(b[ssidFieldSize+passwordFieldSize:])
	return nil
}

// STAConfig configures the station interface.
type STAConfig struct {
	SSID     string
	Password string
}

// MarshalBinary encodes the config as the radio expects it.
func (c STAConfig) MarshalBinary() ([]byte, error) {
	b := make([]byte, STAConfigSize)
	if err := putString(b[:ssidFieldSize], "ssid", c.SSID); err != nil {
		return nil, err
	}
	if err := putString(b[ssidFieldSize:], "password", c.Password); err != nil {
		return nil, err
	}
	return b, nil
}

// UnmarshalBinary decodes the config.
func (c *STAConfig) UnmarshalBinary(b []byte) error {
	if err := checkSize(b, STAConfigSize); err != nil {
		return err
	}
	c.SSID = getString(b[:ssidFieldSize])
	c.Password = getString(b[ssidFieldSize:])
	return nil
}

// APRecord describes an access point found by a scan, or the one
// the station is connected to.
type APRecord struct {
	BSSID   net.HardwareAddr
	SSID    string
	Primary uint8
	RSSI    int8
}

// MarshalBinary encodes the record as the radio sends it.
func (r APRecord) MarshalBinary() ([]byte, error) {
	b := make([]byte, APRecordSize)
	if len(r.BSSID) != 6 {
		return nil, fmt.Errorf("%w: bssid must be 6 bytes", ErrPayloadSize)
	}
	copy(b[:6], r.BSSID)
	if err := putString(b[6:6+recordSSIDFieldSize], "ssid", r.SSID); err != nil {
		return nil, err
	}
	b[6+recordSSIDFieldSize] = r.Primary
	b[6+recordSSIDFieldSize+1] = byte(r.RSSI)
	return b, nil
}

// UnmarshalBinary decodes the record.
func (r *APRecord) UnmarshalBinary(b []byte) error {
	if err := checkSize(b, APRecordSize); err != nil {
		return err
	}
	r.BSSID = append(net.HardwareAddr{}, b[:6]...)
	r.SSID = getString(b[6 : 6+recordSSIDFieldSize])
	r.Primary = b[6+recordSSIDFieldSize]
	r.RSSI = int8(b[6+recordSSIDFieldSize+1])
	return nil
}

// StationRecord describes a station connected to the soft access point.
type StationRecord struct {
	MAC  net.HardwareAddr
	RSSI int8
}

// MarshalBinary encodes the record as the radio sends it.
func (r StationRecord) MarshalBinary() ([]byte, error) {
	if len(r.MAC) != 6 {
		return nil, fmt.Errorf("%w: mac must be 6 bytes", ErrPayloadSize)
	}
	b := make([]byte, StationRecordSize)
	copy(b[:6], r.MAC)
	b[6] = byte(r.RSSI)
	return b, nil
}

// UnmarshalBinary decodes the record.
func (r *StationRecord) UnmarshalBinary(b []byte) error {
	if err := checkSize(b, StationRecordSize); err != nil {
		return err
	}
	r.MAC = append(net.HardwareAddr{}, b[:6]...)
	r.RSSI = int8(b[6])
	return nil
}

// EncodeMode encodes the argument of [CmdSetMode].
func EncodeMode(m Mode) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(m))
}

// DecodeMode decodes the argument of [CmdSetMode].
func DecodeMode(b []byte) (Mode, error) {
	if err := checkSize(b, ModeSize); err != nil {
		return 0, err
	}
	return Mode(binary.LittleEndian.Uint32(b)), nil
}

// EncodeDeauth encodes the argument of [CmdDeauthStation].
func EncodeDeauth(aid uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, aid)
}

// DecodeDeauth decodes the argument of [CmdDeauthStation].
func DecodeDeauth(b []byte) (uint16, error) {
	if err := checkSize(b, DeauthSize); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// EncodeStationIndex encodes the argument of [CmdStationRecord].
func EncodeStationIndex(index uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, index)
}

// DecodeStationIndex decodes the argument of [CmdStationRecord].
func DecodeStationIndex(b []byte) (uint32, error) {
	if err := checkSize(b, StationIndexSize); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}
