//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/x/blob/main/netcore/dialer.go
//
// TCP transport dialer.
//

package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/rbmk-project/common/errclass"
)

// Dialer connects to a simulator peer.
//
// The zero value is ready to use.
//
// A [*Dialer] is safe for concurrent use by multiple goroutines as long as
// you don't modify its fields after construction.
type Dialer struct {
	// DialContextFunc is the optional dialer for creating new
	// connections. If this field is nil, we use a [*net.Dialer].
	DialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)

	// Logger is the optional structured logger. If this field is
	// nil, we will not be emitting structured logs.
	Logger *slog.Logger

	// LookupHostFunc is the optional function to resolve a domain
	// name to IP addresses. If this field is nil, we use the
	// default [*net.Resolver] from the [net] package.
	LookupHostFunc func(ctx context.Context, domain string) ([]string, error)

	// TimeNow is an optional function that returns the current time.
	// If this field is nil, the [time.Now] function will be used.
	TimeNow func() time.Time

	// WrapConn is an optional function to wrap a connection to emit
	// structured logs. [WrapConn] is the default wrapper to use.
	WrapConn func(ctx context.Context, dialer *Dialer, conn net.Conn) net.Conn
}

// DefaultDialer is the default [*Dialer] used by this package.
var DefaultDialer = &Dialer{}

// timeNow returns the current time.
func (d *Dialer) timeNow() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}

// DialContext connects to the peer at address. When the host is a
// domain name we try each resolved address in sequence.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	endpoints, err := d.lookupEndpoints(ctx, address)
	if err != nil {
		return nil, err
	}
	conn, err := d.sequentialDial(ctx, network, endpoints...)
	if err != nil {
		return nil, err
	}
	if d.Logger != nil && d.WrapConn != nil {
		conn = d.WrapConn(ctx, d, conn)
	}
	return conn, nil
}

// sequentialDial attempts the endpoints in order and returns the first
// connection, or the join of all errors.
func (d *Dialer) sequentialDial(ctx context.Context, network string, endpoints ...string) (net.Conn, error) {
	var errv []error
	for _, endpoint := range endpoints {
		conn, err := d.dialLog(ctx, network, endpoint)
		if conn != nil && err == nil {
			return conn, nil
		}
		errv = append(errv, err)
	}
	return nil, errors.Join(errv...)
}

// lookupEndpoints resolves the host inside address unless it
// is already an IP address.
func (d *Dialer) lookupEndpoints(ctx context.Context, address string) ([]string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	if net.ParseIP(host) != nil {
		return []string{address}, nil
	}
	lookup := d.LookupHostFunc
	if lookup == nil {
		lookup = (&net.Resolver{}).LookupHost
	}
	addrs, err := lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	var endpoints []string
	for _, addr := range addrs {
		endpoints = append(endpoints, net.JoinHostPort(addr, port))
	}
	return endpoints, nil
}

// dialLog dials a single endpoint emitting structured logs.
func (d *Dialer) dialLog(ctx context.Context, network, address string) (net.Conn, error) {
	t0 := d.timeNow()
	if d.Logger != nil {
		d.Logger.InfoContext(
			ctx,
			"connectStart",
			slog.String("protocol", network),
			slog.String("remoteAddr", address),
			slog.Time("t", t0),
		)
	}

	conn, err := d.dialNet(ctx, network, address)

	if d.Logger != nil {
		d.Logger.InfoContext(
			ctx,
			"connectDone",
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("localAddr", connLocalAddr(conn).String()),
			slog.String("protocol", network),
			slog.String("remoteAddr", address),
			slog.Time("t0", t0),
			slog.Time("t", d.timeNow()),
		)
	}
	return conn, err
}

// dialNet dials using the user provided function or the [net] package.
func (d *Dialer) dialNet(ctx context.Context, network, address string) (net.Conn, error) {
	if d.DialContextFunc != nil {
		return d.DialContextFunc(ctx, network, address)
	}
	child := &net.Dialer{}
	return child.DialContext(ctx, network, address)
}
