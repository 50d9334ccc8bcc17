// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rbmk-project/radiosim/wifi"
)

// serveConfig configures the serve command.
type serveConfig struct {
	Listen      string
	MetricsAddr string
	World       wifi.World
}

// defaultServeConfig returns the configuration used without a file.
func defaultServeConfig() serveConfig {
	return serveConfig{
		Listen: "127.0.0.1:8266",
		World:  wifi.World{Loopback: true},
	}
}

type fileConfig struct {
	Listen       string              `toml:"listen"`
	MetricsAddr  string              `toml:"metrics_addr"`
	ConfigBits   uint8               `toml:"config_bits"`
	Loopback     bool                `toml:"loopback"`
	AccessPoints []accessPointConfig `toml:"access_points"`
	Stations     []stationConfig     `toml:"stations"`
}

type accessPointConfig struct {
	BSSID   string `toml:"bssid"`
	SSID    string `toml:"ssid"`
	Channel uint8  `toml:"channel"`
	RSSI    int8   `toml:"rssi"`
}

type stationConfig struct {
	MAC  string `toml:"mac"`
	RSSI int8   `toml:"rssi"`
}

// loadServeConfig reads the TOML file at path over the defaults.
func loadServeConfig(path string) (serveConfig, error) {
	cfg := defaultServeConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serveConfig{}, fmt.Errorf("load radiosim config: %w", err)
	}

	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}

	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if meta.IsDefined("config_bits") {
		cfg.World.ConfigBits = raw.ConfigBits
		if err := cfg.World.Validate(); err != nil {
			return serveConfig{}, fmt.Errorf("config_bits: %w", err)
		}
	}

	if meta.IsDefined("loopback") {
		cfg.World.Loopback = raw.Loopback
	}

	for idx, ap := range raw.AccessPoints {
		bssid, err := net.ParseMAC(strings.TrimSpace(ap.BSSID))
		if err != nil || len(bssid) != 6 {
			return serveConfig{}, fmt.Errorf("parse access_points[%d].bssid: %q", idx, ap.BSSID)
		}
		record := wifi.APRecord{BSSID: bssid, SSID: ap.SSID, Primary: ap.Channel, RSSI: ap.RSSI}
		// Catch fields that do not fit the record before a client asks for it.
		if _, err := record.MarshalBinary(); err != nil {
			return serveConfig{}, fmt.Errorf("access_points[%d]: %w", idx, err)
		}
		cfg.World.AccessPoints = append(cfg.World.AccessPoints, record)
	}

	for idx, sta := range raw.Stations {
		mac, err := net.ParseMAC(strings.TrimSpace(sta.MAC))
		if err != nil || len(mac) != 6 {
			return serveConfig{}, fmt.Errorf("parse stations[%d].mac: %q", idx, sta.MAC)
		}
		cfg.World.Stations = append(cfg.World.Stations, wifi.StationRecord{MAC: mac, RSSI: sta.RSSI})
	}

	return cfg, nil
}
