// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rbmk-project/radiosim/engine"
	"github.com/rbmk-project/radiosim/transport"
	"github.com/rbmk-project/radiosim/wifi"
	"github.com/rbmk-project/radiosim/wire"
	"github.com/spf13/cobra"
)

func probeCmd(newLogger func() (*slog.Logger, error)) *cobra.Command {
	var (
		addr     string
		baudRate int
		serial   string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Exercise a radio from the firmware side",
		Long: `Connect to a radio as the firmware would, then query the board
configuration, scan, list stations, and echo an SPI packet.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var conn io.ReadWriteCloser
			if serial != "" {
				conn, err = transport.OpenSerial(&transport.SerialConfig{
					Path:     serial,
					BaudRate: baudRate,
					Logger:   logger,
				})
			} else {
				dialer := &transport.Dialer{Logger: logger, WrapConn: transport.WrapConn}
				conn, err = dialer.DialContext(ctx, "tcp", addr)
			}
			if err != nil {
				return err
			}
			return runProbe(ctx, cmd.OutOrStdout(), logger, conn)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8266", "radio TCP address")
	cmd.Flags().StringVar(&serial, "serial", "", "serial device to use instead of TCP")
	cmd.Flags().IntVar(&baudRate, "baud", transport.DefaultBaudRate, "serial line speed")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall probe timeout")
	return cmd
}

// runProbe exercises the radio on conn and prints a report to w.
func runProbe(parent context.Context, w io.Writer, logger *slog.Logger, conn io.ReadWriteCloser) error {
	ctx, cancel := context.WithCancel(parent)
	e := engine.New(conn, &engine.Config{Logger: logger})
	events := make(chan wifi.Event, 16)
	hal := wifi.NewHAL(e, &wifi.HALConfig{
		Logger: logger,
		OnEvent: func(ev wifi.Event) {
			select {
			case events <- ev:
			default:
			}
		},
	})
	e.Start(ctx)
	defer func() {
		// Cancel before closing so the event channel sees a shutdown.
		cancel()
		hal.Close()
		conn.Close()
	}()

	// The engine blocks without deadlines and a dead transport leaves its
	// locks held, so the steps run apart and we give up on them on timeout.
	done := make(chan error, 1)
	go func() {
		done <- probeSteps(ctx, w, hal, events)
	}()
	select {
	case err := <-done:
		return err
	case <-parent.Done():
		return fmt.Errorf("probe interrupted: %w", parent.Err())
	}
}

// probeSteps runs the probe against hal.
func probeSteps(ctx context.Context, w io.Writer, hal *wifi.HAL, events <-chan wifi.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(error)
			if !ok || !errors.Is(perr, engine.ErrDesync) || ctx.Err() == nil {
				panic(r)
			}
			err = ctx.Err()
		}
	}()

	c := hal.Client()
	bits, err := c.ConfigBits()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "config bits: 0x%02x\n", bits)

	if err := hal.SetMode(wifi.ModeAPSTA); err != nil {
		return err
	}
	if err := hal.Start(); err != nil {
		return err
	}

	if err := c.Scan(); err != nil {
		return err
	}
	records, err := c.ScanRecords()
	if err != nil {
		return err
	}
	for _, record := range records {
		fmt.Fprintf(w, "ap: %s %q channel=%d rssi=%d\n", record.BSSID, record.SSID, record.Primary, record.RSSI)
	}

	stations, err := c.Stations()
	if err != nil {
		return err
	}
	for _, sta := range stations {
		fmt.Fprintf(w, "station: %s rssi=%d\n", sta.MAC, sta.RSSI)
	}

	if err := hal.SPISend([]byte("radiosim probe")); err != nil {
		return err
	}
	spiDone := make(chan string, 1)
	go func() {
		buf := make([]byte, wire.MaxFrameSize)
		count, err := hal.SPIRecv(buf)
		if err == nil {
			spiDone <- string(buf[:count])
		}
	}()
	select {
	case msg := <-spiDone:
		fmt.Fprintf(w, "spi echo: %q\n", msg)
	case <-time.After(time.Second):
		fmt.Fprintln(w, "spi echo: none (loopback disabled?)")
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case ev := <-events:
			fmt.Fprintf(w, "event: %s\n", ev)
		default:
			return nil
		}
	}
}
