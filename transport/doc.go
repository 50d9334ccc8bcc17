// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package transport provides the byte streams connecting the firmware
side of the command protocol to the simulator peer.

# Features

- [*Dialer] connects to a peer listening on TCP, the usual setup when the
firmware runs as a host process next to the simulator;

- [OpenSerial] opens a serial line in raw 8N1 mode, the setup used when
the firmware runs on real hardware wired to the simulator host;

- [WrapConn] wraps a [net.Conn] to emit structured logs for each
read, write, and close via the [log/slog] package.

The protocol treats every short transfer as fatal, so none of these
transports sets deadlines.
*/
package transport
