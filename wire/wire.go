// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package wire contains the frame header shared by the firmware side and
the simulator side of the command protocol.

# Frame Layout

Every frame starts with a 4-byte header followed by Length raw bytes:

	bits 31..24  command (request) or status (response)
	bits 23..0   payload length

The header travels as a little-endian uint32, which is the byte order
the firmware emits when it writes the packed header from memory.

# Reserved Commands

Commands starting at [FirstReservedCommand] belong to the protocol
itself: [CmdLongPoll] asks the peer to block until an event exists and
[CmdRetrieveEvent] fetches one event, whose identifier travels in the
response status.

# Status

A status with [StatusErrorMask] set is an error. The remaining seven
bits are a detail code whose meaning depends on the command.
*/
package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// HeaderSize is the size of the packed frame header.
	HeaderSize = 4

	// MaxLength is the largest payload length the header can carry.
	MaxLength = 0x00FFFFFF

	// MaxFrameSize is the largest packet the virtual links and the
	// event channel move around.
	MaxFrameSize = 1600

	// FirstReservedCommand is the first protocol-internal command.
	FirstReservedCommand = 0xF4

	// CmdLongPoll blocks on the peer until an event is pending.
	CmdLongPoll = 0xF4

	// CmdRetrieveEvent retrieves one pending event.
	CmdRetrieveEvent = 0xF5

	// StatusOK is the success status.
	StatusOK = 0x00

	// StatusErrorMask marks a status as an error.
	StatusErrorMask = 0x80

	// StatusReserved is returned locally when an ordinary caller
	// attempts to use a reserved command. It is never sent.
	StatusReserved = 0xFD

	// StatusOversize is returned locally when the arguments do not
	// fit into the header length field. It is never sent.
	StatusOversize = 0xFE
)

// ErrLengthOverflow indicates a length that does not fit into 24 bits.
var ErrLengthOverflow = errors.New("wire: length exceeds 0xFFFFFF")

// IsError returns whether the given status has the error bit set.
func IsError(status uint8) bool {
	return status&StatusErrorMask != 0
}

// IsReserved returns whether the given command is protocol-internal.
func IsReserved(command uint8) bool {
	return command >= FirstReservedCommand
}

// Header is the decoded frame header.
//
// In requests ID is the command, in responses ID is the status.
type Header struct {
	// ID is the command or the status.
	ID uint8

	// Length is the payload length.
	Length uint32
}

// Pack returns the packed representation of the header. The
// length is truncated to 24 bits, so callers must check it first.
func (h Header) Pack() uint32 {
	return uint32(h.ID)<<24 | (h.Length & MaxLength)
}

// Unpack decodes a packed header.
func Unpack(v uint32) Header {
	return Header{ID: uint8(v >> 24), Length: v & MaxLength}
}

// Encode returns the wire representation of the header.
func (h Header) Encode() ([HeaderSize]byte, error) {
	var buf [HeaderSize]byte
	if h.Length > MaxLength {
		return buf, ErrLengthOverflow
	}
	binary.LittleEndian.PutUint32(buf[:], h.Pack())
	return buf, nil
}

// Decode decodes the wire representation of a header. The
// buf argument must contain at least [HeaderSize] bytes.
func Decode(buf []byte) Header {
	return Unpack(binary.LittleEndian.Uint32(buf[:HeaderSize]))
}

// ReadHeader reads exactly one header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return Decode(buf[:]), nil
}

// WriteHeader writes h to w, failing with [io.ErrShortWrite]
// when the writer does not accept the whole header.
func WriteHeader(w io.Writer, h Header) error {
	buf, err := h.Encode()
	if err != nil {
		return err
	}
	return WriteFull(w, buf[:])
}

// WriteFull writes the whole buffer to w.
func WriteFull(w io.Writer, buf []byte) error {
	count, err := w.Write(buf)
	if err != nil {
		return err
	}
	if count != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}
