//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/x/blob/main/netcore/conn.go
//
// Logging conn wrapper.
//

package transport

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rbmk-project/common/errclass"
)

// connLocalAddr is a safe way to get the local address of a connection.
func connLocalAddr(conn net.Conn) net.Addr {
	if conn != nil && conn.LocalAddr() != nil {
		return conn.LocalAddr()
	}
	return emptyAddr{}
}

// connRemoteAddr is a safe way to get the remote address of a connection.
func connRemoteAddr(conn net.Conn) net.Addr {
	if conn != nil && conn.RemoteAddr() != nil {
		return conn.RemoteAddr()
	}
	return emptyAddr{}
}

// emptyAddr is an empty [net.Addr].
type emptyAddr struct{}

// Network implements [net.Addr].
func (emptyAddr) Network() string { return "" }

// String implements [net.Addr].
func (emptyAddr) String() string { return "" }

// WrapConn wraps a given [net.Conn] to emit structured logs using
// the dialer's Logger. A nil Logger disables the logs.
func WrapConn(ctx context.Context, dialer *Dialer, conn net.Conn) net.Conn {
	laddr := connLocalAddr(conn)
	return &logConn{
		Conn:      conn,
		ctx:       ctx,
		closeonce: sync.Once{},
		dialer:    dialer,
		laddr:     laddr.String(),
		protocol:  laddr.Network(),
		raddr:     connRemoteAddr(conn).String(),
	}
}

// logConn wraps a [net.Conn]; the embedded Conn provides the
// methods we do not log, such as the deadline setters.
type logConn struct {
	net.Conn
	ctx       context.Context // only used for logging
	closeonce sync.Once
	dialer    *Dialer // may contain nil logger!
	laddr     string
	protocol  string
	raddr     string
}

// endpointAttrs returns the attributes shared by every event.
func (c *logConn) endpointAttrs() []any {
	return []any{
		slog.String("localAddr", c.laddr),
		slog.String("protocol", c.protocol),
		slog.String("remoteAddr", c.raddr),
	}
}

// logStart emits the <op>Start event and returns its time.
func (c *logConn) logStart(op string, attrs ...any) time.Time {
	t0 := c.dialer.timeNow()
	if c.dialer.Logger != nil {
		attrs = append(attrs, c.endpointAttrs()...)
		attrs = append(attrs, slog.Time("t", t0))
		c.dialer.Logger.InfoContext(c.ctx, op+"Start", attrs...)
	}
	return t0
}

// logDone emits the <op>Done event.
func (c *logConn) logDone(op string, t0 time.Time, err error, attrs ...any) {
	if c.dialer.Logger != nil {
		attrs = append(attrs, slog.Any("err", err), slog.String("errClass", errclass.New(err)))
		attrs = append(attrs, c.endpointAttrs()...)
		attrs = append(attrs, slog.Time("t0", t0), slog.Time("t", c.dialer.timeNow()))
		c.dialer.Logger.InfoContext(c.ctx, op+"Done", attrs...)
	}
}

// Read implements [net.Conn].
func (c *logConn) Read(buf []byte) (int, error) {
	t0 := c.logStart("read", slog.Int("ioBufferSize", len(buf)))
	count, err := c.Conn.Read(buf)
	c.logDone("read", t0, err, slog.Int("ioBytesCount", count))
	return count, err
}

// Write implements [net.Conn].
func (c *logConn) Write(data []byte) (int, error) {
	t0 := c.logStart("write", slog.Int("ioBufferSize", len(data)))
	count, err := c.Conn.Write(data)
	c.logDone("write", t0, err, slog.Int("ioBytesCount", count))
	return count, err
}

// Close implements [net.Conn].
func (c *logConn) Close() (err error) {
	c.closeonce.Do(func() {
		t0 := c.logStart("close")
		err = c.Conn.Close()
		c.logDone("close", t0, err)
	})
	return
}
