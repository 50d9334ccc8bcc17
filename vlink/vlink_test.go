// SPDX-License-Identifier: GPL-3.0-or-later

package vlink_test

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/rbmk-project/radiosim/vlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockedFor is how long we wait before declaring an operation blocked.
const blockedFor = 50 * time.Millisecond

func TestLinkTransmit(t *testing.T) {
	t.Run("oversized packet", func(t *testing.T) {
		left, right := vlink.NewPair()
		defer left.Close()
		defer right.Close()
		err := left.Transmit(make([]byte, vlink.MaxFrameSize+1))
		assert.ErrorIs(t, err, vlink.ErrInvalidParameter)
	})

	t.Run("maximum sized packet", func(t *testing.T) {
		left, right := vlink.NewPair()
		defer left.Close()
		defer right.Close()
		data := bytes.Repeat([]byte{0xAB}, vlink.MaxFrameSize)
		require.NoError(t, left.Transmit(data))
		buf := make([]byte, vlink.MaxFrameSize)
		count, err := right.Receive(buf)
		require.NoError(t, err)
		assert.Equal(t, data, buf[:count])
	})

	t.Run("unbound link", func(t *testing.T) {
		lnk := vlink.New()
		defer lnk.Close()
		assert.ErrorIs(t, lnk.Transmit([]byte("x")), vlink.ErrNoReceiver)
	})

	t.Run("the sender may reuse its buffer", func(t *testing.T) {
		left, right := vlink.NewPair()
		defer left.Close()
		defer right.Close()
		data := []byte("hello")
		require.NoError(t, left.Transmit(data))
		copy(data, "XXXXX")
		buf := make([]byte, vlink.MaxFrameSize)
		count, err := right.Receive(buf)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(buf[:count]))
	})
}

func TestLinkReceive(t *testing.T) {
	t.Run("small buffer", func(t *testing.T) {
		lnk := vlink.New()
		defer lnk.Close()
		_, err := lnk.Receive(make([]byte, vlink.MaxFrameSize-1))
		assert.ErrorIs(t, err, vlink.ErrInvalidParameter)
	})

	t.Run("blocks until a packet arrives", func(t *testing.T) {
		left, right := vlink.NewPair()
		defer left.Close()
		defer right.Close()

		done := make(chan string)
		go func() {
			buf := make([]byte, vlink.MaxFrameSize)
			count, _ := right.Receive(buf)
			done <- string(buf[:count])
		}()

		select {
		case <-done:
			t.Fatal("receive returned without a packet")
		case <-time.After(blockedFor):
		}

		require.NoError(t, left.Transmit([]byte("ping")))
		assert.Equal(t, "ping", <-done)
	})

	t.Run("close unblocks", func(t *testing.T) {
		lnk := vlink.New()
		errch := make(chan error)
		go func() {
			_, err := lnk.Receive(make([]byte, vlink.MaxFrameSize))
			errch <- err
		}()
		time.Sleep(blockedFor)
		require.NoError(t, lnk.Close())
		assert.ErrorIs(t, <-errch, net.ErrClosed)
		assert.NoError(t, lnk.Close())
	})
}

func TestLinkBackpressure(t *testing.T) {
	left, right := vlink.NewPair()
	defer left.Close()
	defer right.Close()

	// The first packet fills the single slot.
	require.NoError(t, left.Transmit([]byte("first")))

	// The second packet must wait for the slot to drain.
	sent := make(chan error)
	go func() {
		sent <- left.Transmit([]byte("second"))
	}()
	select {
	case <-sent:
		t.Fatal("transmit did not block on a full slot")
	case <-time.After(blockedFor):
	}

	buf := make([]byte, vlink.MaxFrameSize)
	count, err := right.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "first", string(buf[:count]))
	require.NoError(t, <-sent)

	// The second packet was not lost.
	count, err = right.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "second", string(buf[:count]))
}

func TestLinkCloseUnblocksTransmit(t *testing.T) {
	left, right := vlink.NewPair()
	defer left.Close()
	require.NoError(t, left.Transmit([]byte("fill")))
	errch := make(chan error)
	go func() {
		errch <- left.Transmit([]byte("blocked"))
	}()
	time.Sleep(blockedFor)
	right.Close()
	assert.ErrorIs(t, <-errch, net.ErrClosed)
}

func TestLinkRebind(t *testing.T) {
	a, b, c := vlink.New(), vlink.New(), vlink.New()
	defer a.Close()
	defer b.Close()
	defer c.Close()

	a.Bind(b)
	a.Bind(c)
	require.NoError(t, a.Transmit([]byte("to-c")))

	buf := make([]byte, vlink.MaxFrameSize)
	count, err := c.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "to-c", string(buf[:count]))

	// Nothing reached the previous receiver.
	got := make(chan error, 1)
	go func() {
		_, err := b.Receive(make([]byte, vlink.MaxFrameSize))
		got <- err
	}()
	select {
	case err := <-got:
		t.Fatalf("the previous receiver returned: %v", err)
	case <-time.After(blockedFor):
	}
}

func TestLinkTransmitAfterClose(t *testing.T) {
	left, right := vlink.NewPair()
	defer left.Close()
	right.Close()
	// The slot is free, yet the closed receiver must win.
	for range 16 {
		assert.ErrorIs(t, left.Transmit([]byte("x")), net.ErrClosed)
	}
}
