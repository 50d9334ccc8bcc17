// SPDX-License-Identifier: GPL-3.0-or-later

// Command radiosim runs the simulated WiFi radio peer and probes it
// from the firmware side.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var logLevel string
	rootCmd := &cobra.Command{
		Use:   "radiosim",
		Short: "Simulated WiFi radio speaking the command protocol",
		Long: `Radiosim simulates the WiFi radio a firmware build talks to over
a byte stream. The serve command runs the simulated radio; the probe
command connects as the firmware would and exercises the radio.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	newLogger := func() (*slog.Logger, error) {
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return nil, fmt.Errorf("invalid --log-level: %w", err)
		}
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
	}

	rootCmd.AddCommand(
		serveCmd(newLogger),
		probeCmd(newLogger),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "radiosim: %s\n", err)
		os.Exit(1)
	}
}
