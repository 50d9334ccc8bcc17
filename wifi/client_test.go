// SPDX-License-Identifier: GPL-3.0-or-later

package wifi

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCall is a call observed by [fakeCaller].
type fakeCall struct {
	command uint8
	args    []byte
}

// fakeCaller answers commands from a script.
type fakeCaller struct {
	calls     []fakeCall
	responses map[uint8][][]byte
	statuses  map[uint8]uint8
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		responses: map[uint8][][]byte{},
		statuses:  map[uint8]uint8{},
	}
}

func (fc *fakeCaller) Call(command uint8, args, resp []byte) (uint8, int) {
	fc.calls = append(fc.calls, fakeCall{command, append([]byte(nil), args...)})
	var count int
	if queue := fc.responses[command]; len(queue) > 0 {
		count = copy(resp, queue[0])
		fc.responses[command] = queue[1:]
	}
	return fc.statuses[command], count
}

func (fc *fakeCaller) Query(command uint8) uint8 {
	status, _ := fc.Call(command, nil, nil)
	return status
}

func TestClient(t *testing.T) {
	t.Run("error statuses become StatusError", func(t *testing.T) {
		fc := newFakeCaller()
		fc.statuses[CmdStart] = 0x83
		err := NewClient(fc, nil).Start()
		var serr *StatusError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, uint8(CmdStart), serr.Command)
		assert.Equal(t, uint8(0x83), serr.Status)
		assert.Equal(t, "wifi: command 0x0b failed with status 0x83", err.Error())
	})

	t.Run("set mode", func(t *testing.T) {
		fc := newFakeCaller()
		c := NewClient(fc, nil)
		require.NoError(t, c.SetMode(ModeSTA))
		assert.Equal(t, []fakeCall{{CmdSetMode, []byte{1, 0, 0, 0}}}, fc.calls)
	})

	t.Run("unsupported modes are never sent", func(t *testing.T) {
		fc := newFakeCaller()
		err := NewClient(fc, nil).SetMode(Mode(0))
		assert.ErrorIs(t, err, ErrUnsupportedMode)
		assert.Empty(t, fc.calls)
	})

	t.Run("oversized fields are never sent", func(t *testing.T) {
		fc := newFakeCaller()
		err := NewClient(fc, nil).SetSTAConfig(STAConfig{SSID: string(make([]byte, 40))})
		assert.ErrorIs(t, err, ErrFieldTooLong)
		assert.Empty(t, fc.calls)
	})

	t.Run("scan records are fetched one at a time", func(t *testing.T) {
		fc := newFakeCaller()
		records := []APRecord{
			{BSSID: net.HardwareAddr{2, 0, 0, 0, 0, 1}, SSID: "lab", Primary: 1, RSSI: -20},
			{BSSID: net.HardwareAddr{2, 0, 0, 0, 0, 2}, SSID: "guest", Primary: 11, RSSI: -80},
		}
		fc.statuses[CmdScanCount] = 2
		for _, record := range records {
			b, err := record.MarshalBinary()
			require.NoError(t, err)
			fc.responses[CmdScanNextRecord] = append(fc.responses[CmdScanNextRecord], b)
		}

		got, err := NewClient(fc, nil).ScanRecords()
		require.NoError(t, err)
		assert.Equal(t, records, got)
		assert.Equal(t, []fakeCall{
			{CmdScanCount, nil},
			{CmdScanNextRecord, nil},
			{CmdScanNextRecord, nil},
		}, fc.calls)
	})

	t.Run("station records are fetched by index", func(t *testing.T) {
		fc := newFakeCaller()
		fc.statuses[CmdStationCount] = 2
		for idx := range 2 {
			b, err := StationRecord{MAC: net.HardwareAddr{2, 0, 0, 0, 0, byte(idx)}, RSSI: -10}.MarshalBinary()
			require.NoError(t, err)
			fc.responses[CmdStationRecord] = append(fc.responses[CmdStationRecord], b)
		}

		got, err := NewClient(fc, nil).Stations()
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, []byte{0, 0, 0, 0}, fc.calls[1].args)
		assert.Equal(t, []byte{1, 0, 0, 0}, fc.calls[2].args)
	})

	t.Run("a short record is an error", func(t *testing.T) {
		fc := newFakeCaller()
		fc.responses[CmdAPInfo] = [][]byte{{1, 2, 3}}
		_, err := NewClient(fc, nil).APInfo()
		assert.ErrorIs(t, err, ErrPayloadSize)
	})

	t.Run("scan requires a zero status", func(t *testing.T) {
		fc := newFakeCaller()
		fc.statuses[CmdScanStart] = 1
		var serr *StatusError
		assert.True(t, errors.As(NewClient(fc, nil).Scan(), &serr))
	})

	t.Run("config bits", func(t *testing.T) {
		fc := newFakeCaller()
		fc.statuses[CmdConfigBits] = 0x05
		bits, err := NewClient(fc, nil).ConfigBits()
		require.NoError(t, err)
		assert.Equal(t, uint8(0x05), bits)
	})

	t.Run("stop", func(t *testing.T) {
		fc := newFakeCaller()
		require.NoError(t, NewClient(fc, nil).Stop())
		assert.Equal(t, []fakeCall{{command: CmdStop}}, fc.calls)

		fc.statuses[CmdStop] = 0x82
		var serr *StatusError
		assert.True(t, errors.As(NewClient(fc, nil).Stop(), &serr))
	})
}
