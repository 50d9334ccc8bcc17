// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rbmk-project/common/errclass"
	"github.com/rbmk-project/radiosim/metrics"
	"github.com/rbmk-project/radiosim/simpeer"
	"github.com/rbmk-project/radiosim/transport"
	"github.com/rbmk-project/radiosim/wifi"
	"github.com/spf13/cobra"
)

func serveCmd(newLogger func() (*slog.Logger, error)) *cobra.Command {
	var (
		configPath  string
		listen      string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulated radio",
		Long: `Run the simulated radio, accepting firmware connections over TCP.
Each connection gets its own radio state built from the configured world.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			cfg := defaultServeConfig()
			if configPath != "" {
				if cfg, err = loadServeConfig(configPath); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runServe(ctx, logger, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML file describing the simulated world")
	cmd.Flags().StringVar(&listen, "listen", "", "address to accept firmware connections on")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address exposing Prometheus metrics")
	return cmd
}

// runServe accepts connections until ctx is done.
func runServe(ctx context.Context, logger *slog.Logger, cfg serveConfig) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	mx := metrics.MustNew(reg)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			err := srv.ListenAndServe()
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metricsServerFailed", slog.Any("err", err))
			}
		}()
		defer srv.Close()
		logger.Info("metricsServerStart", slog.String("addr", cfg.MetricsAddr))
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", cfg.Listen)
	if err != nil {
		return err
	}
	logger.Info("serveStart", slog.String("addr", ln.Addr().String()))
	return serveListener(ctx, logger, mx, ln, cfg.World)
}

// serveListener accepts connections on ln until ctx is done.
func serveListener(ctx context.Context, logger *slog.Logger, mx *metrics.Collectors,
	ln net.Listener, world wifi.World) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	dialer := &transport.Dialer{Logger: logger.With(slog.String("side", "radio"))}
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveConn(ctx, logger, mx, dialer, conn, world)
		}()
	}
}

// serveConn runs a simulated radio on conn until either side stops.
func serveConn(ctx context.Context, logger *slog.Logger, mx *metrics.Collectors,
	dialer *transport.Dialer, conn net.Conn, world wifi.World) {
	conn = transport.WrapConn(ctx, dialer, conn)
	defer conn.Close()

	peer := simpeer.New(&simpeer.Config{Logger: logger, Metrics: mx})
	wifi.NewRadio(peer, world, &wifi.RadioConfig{
		Logger: logger,
		OnFrame: func(iface string, frame []byte) {
			mx.ObserveFrame(iface, metrics.DirectionOut)
		},
	})

	// Closing the conn interrupts a read blocked inside Serve.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err := peer.Serve(ctx, conn)
	logger.Info(
		"connectionDone",
		slog.Any("err", err),
		slog.String("errClass", errclass.New(err)),
		slog.String("remoteAddr", conn.RemoteAddr().String()),
	)
}
