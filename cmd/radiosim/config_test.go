// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/rbmk-project/radiosim/wifi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a TOML config into a temporary directory.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "radiosim.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadServeConfig(t *testing.T) {
	t.Run("defaults and overrides", func(t *testing.T) {
		path := writeConfig(t, `
listen = " 127.0.0.1:9000 "
metrics_addr = "127.0.0.1:9090"
config_bits = 5

[[access_points]]
bssid = "02:00:00:00:00:01"
ssid = "lab"
channel = 6
rssi = -40

[[stations]]
mac = "02:00:00:00:00:10"
rssi = -30
`)
		cfg, err := loadServeConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
		assert.Equal(t, "127.0.0.1:9090", cfg.MetricsAddr)
		assert.Equal(t, uint8(5), cfg.World.ConfigBits)
		assert.True(t, cfg.World.Loopback, "loopback keeps its default")
		assert.Equal(t, []wifi.APRecord{{
			BSSID:   net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
			SSID:    "lab",
			Primary: 6,
			RSSI:    -40,
		}}, cfg.World.AccessPoints)
		assert.Equal(t, []wifi.StationRecord{{
			MAC:  net.HardwareAddr{0x02, 0, 0, 0, 0, 0x10},
			RSSI: -30,
		}}, cfg.World.Stations)
	})

	t.Run("empty file", func(t *testing.T) {
		cfg, err := loadServeConfig(writeConfig(t, ""))
		require.NoError(t, err)
		assert.Equal(t, defaultServeConfig(), cfg)
	})

	t.Run("loopback can be disabled", func(t *testing.T) {
		cfg, err := loadServeConfig(writeConfig(t, "loopback = false\n"))
		require.NoError(t, err)
		assert.False(t, cfg.World.Loopback)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadServeConfig(filepath.Join(t.TempDir(), "missing.toml"))
		assert.Error(t, err)
	})

	t.Run("invalid bssid", func(t *testing.T) {
		_, err := loadServeConfig(writeConfig(t, "[[access_points]]\nbssid = \"nope\"\n"))
		assert.ErrorContains(t, err, "access_points[0].bssid")
	})

	t.Run("ssid too long", func(t *testing.T) {
		_, err := loadServeConfig(writeConfig(t, `
[[access_points]]
bssid = "02:00:00:00:00:01"
ssid = "0123456789012345678901234567890123456789"
`))
		assert.ErrorIs(t, err, wifi.ErrFieldTooLong)
	})

	t.Run("config bits overlap the error bit", func(t *testing.T) {
		_, err := loadServeConfig(writeConfig(t, "config_bits = 200\n"))
		assert.ErrorIs(t, err, wifi.ErrConfigBits)
	})

	t.Run("largest config bits", func(t *testing.T) {
		cfg, err := loadServeConfig(writeConfig(t, "config_bits = 127\n"))
		require.NoError(t, err)
		assert.Equal(t, uint8(wifi.MaxConfigBits), cfg.World.ConfigBits)
	})

	t.Run("rssi out of range", func(t *testing.T) {
		_, err := loadServeConfig(writeConfig(t, "[[stations]]\nmac = \"02:00:00:00:00:10\"\nrssi = -300\n"))
		assert.Error(t, err)
	})
}
