// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package vlink models a virtual network interface as a point-to-point,
single-slot, blocking packet relay.

Each [*Link] owns one inbound slot holding at most one packet and
transmits into the slot of the [*Link] it is bound to. Because the slot
holds a single packet, a transmitter blocks until the receiver drains the
previous packet. This models a cable where unread data is never silently
dropped, and applies backpressure instead of losing packets.

Binding is directional. Use [NewPair] to obtain two links that
transmit into each other, which is the common case.
*/
package vlink

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rbmk-project/radiosim/wire"
)

// MaxFrameSize is the largest packet a [*Link] moves.
const MaxFrameSize = wire.MaxFrameSize

var (
	// ErrInvalidParameter indicates a packet larger than [MaxFrameSize] or
	// a receive buffer smaller than [MaxFrameSize].
	ErrInvalidParameter = errors.New("vlink: invalid parameter")

	// ErrNoReceiver indicates that [*Link.Bind] was never called.
	ErrNoReceiver = errors.New("vlink: no receiver bound")

	// ErrNoMemory indicates that a packet buffer could not be allocated.
	//
	// Links allocate with make and never return this error; it exists for
	// adapters that draw packet buffers from bounded pools.
	ErrNoMemory = errors.New("vlink: out of memory")
)

// Link is one endpoint of a virtual link.
//
// The zero value is not ready to use; construct using [New].
type Link struct {
	// eof unblocks any blocking channel operation.
	eof chan struct{}

	// eofOnce ensures we close just once.
	eofOnce sync.Once

	// next is the link we transmit into.
	next atomic.Pointer[Link]

	// slot is the single-packet inbound slot.
	slot chan []byte
}

// New creates a new unbound [*Link].
func New() *Link {
	return &Link{
		eof:     make(chan struct{}),
		eofOnce: sync.Once{},
		slot:    make(chan []byte, 1),
	}
}

// NewPair creates two links bound to each other.
func NewPair() (*Link, *Link) {
	left, right := New(), New()
	left.Bind(right)
	right.Bind(left)
	return left, right
}

// Bind sets the link into which [*Link.Transmit] delivers packets.
//
// Binding again replaces the previous receiver. Packets already sitting
// in the previous receiver's slot stay there. Rebinding while another
// goroutine is inside Transmit races with that transmission, which may
// still reach the previous receiver.
func (lnk *Link) Bind(peer *Link) {
	lnk.next.Store(peer)
}

// Transmit copies data and delivers the copy to the bound receiver,
// blocking until the receiver's slot is free. There is no timeout.
//
// The following errors are possible:
//
// 1. [ErrInvalidParameter] if len(data) exceeds [MaxFrameSize];
//
// 2. [ErrNoReceiver] if the link is not bound;
//
// 3. [net.ErrClosed] if either link is closed while we wait.
func (lnk *Link) Transmit(data []byte) error {
	if len(data) > MaxFrameSize {
		return ErrInvalidParameter
	}
	peer := lnk.next.Load()
	if peer == nil {
		return ErrNoReceiver
	}

	// A free slot must not win against a link that is already closed.
	select {
	case <-peer.eof:
		return net.ErrClosed
	case <-lnk.eof:
		return net.ErrClosed
	default:
	}

	// From now on the copy belongs to the slot and then to the receiver.
	pkt := append([]byte{}, data...)
	select {
	case peer.slot <- pkt:
		return nil
	case <-peer.eof:
		return net.ErrClosed
	case <-lnk.eof:
		return net.ErrClosed
	}
}

// Receive blocks until a packet is available and copies it into out,
// which must be at least [MaxFrameSize] bytes. It returns the number of
// bytes copied.
//
// The following errors are possible:
//
// 1. [ErrInvalidParameter] if len(out) is smaller than [MaxFrameSize];
//
// 2. [net.ErrClosed] if the link is closed while we wait.
func (lnk *Link) Receive(out []byte) (int, error) {
	if len(out) < MaxFrameSize {
		return 0, ErrInvalidParameter
	}
	select {
	case pkt := <-lnk.slot:
		return copy(out, pkt), nil
	case <-lnk.eof:
		return 0, net.ErrClosed
	}
}

// Close releases the link and unblocks any party blocked in Transmit or
// Receive on it. It is safe to call Close more than once.
func (lnk *Link) Close() error {
	lnk.eofOnce.Do(func() { close(lnk.eof) })
	return nil
}
