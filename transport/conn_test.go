// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rbmk-project/common/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnAddrs(t *testing.T) {
	t.Run("nil connection", func(t *testing.T) {
		assert.Equal(t, "", connLocalAddr(nil).String())
		assert.Equal(t, "", connRemoteAddr(nil).Network())
	})

	t.Run("nil addresses", func(t *testing.T) {
		conn := &mocks.Conn{
			MockLocalAddr:  func() net.Addr { return nil },
			MockRemoteAddr: func() net.Addr { return nil },
		}
		assert.Equal(t, emptyAddr{}, connLocalAddr(conn))
		assert.Equal(t, emptyAddr{}, connRemoteAddr(conn))
	})

	t.Run("valid addresses", func(t *testing.T) {
		local := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1234}
		remote := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8266}
		conn := &mocks.Conn{
			MockLocalAddr:  func() net.Addr { return local },
			MockRemoteAddr: func() net.Addr { return remote },
		}
		assert.Equal(t, local, connLocalAddr(conn))
		assert.Equal(t, remote, connRemoteAddr(conn))
	})
}

// newMockConn returns a [*mocks.Conn] with TCP addresses.
func newMockConn() *mocks.Conn {
	return &mocks.Conn{
		MockLocalAddr: func() net.Addr {
			return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1234}
		},
		MockRemoteAddr: func() net.Addr {
			return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8266}
		},
	}
}

// logMessages decodes the JSON log lines and returns their messages.
func logMessages(t *testing.T, logs *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestWrapConn(t *testing.T) {
	fixedTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("logs reads writes and a single close", func(t *testing.T) {
		var logs bytes.Buffer
		dialer := &Dialer{
			Logger:  slog.New(slog.NewJSONHandler(&logs, nil)),
			TimeNow: func() time.Time { return fixedTime },
		}
		mockConn := newMockConn()
		mockConn.MockRead = func(b []byte) (int, error) {
			return copy(b, "\x00\x00\x00\x00"), nil
		}
		mockConn.MockWrite = func(b []byte) (int, error) {
			return len(b), nil
		}
		var closes int
		mockConn.MockClose = func() error {
			closes++
			return nil
		}

		conn := WrapConn(context.Background(), dialer, mockConn)
		buf := make([]byte, 16)
		count, err := conn.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, 4, count)
		count, err = conn.Write([]byte{0x0d, 0, 0, 0})
		require.NoError(t, err)
		assert.Equal(t, 4, count)
		require.NoError(t, conn.Close())
		require.NoError(t, conn.Close())
		assert.Equal(t, 1, closes)

		entries := logMessages(t, &logs)
		var msgs []string
		for _, entry := range entries {
			msgs = append(msgs, entry["msg"].(string))
		}
		assert.Equal(t, []string{
			"readStart", "readDone",
			"writeStart", "writeDone",
			"closeStart", "closeDone",
		}, msgs)

		readStart, readDone := entries[0], entries[1]
		assert.Equal(t, float64(16), readStart["ioBufferSize"])
		assert.Nil(t, readDone["ioBufferSize"])
		assert.Equal(t, float64(4), readDone["ioBytesCount"])
		assert.Equal(t, "", readDone["errClass"])
		assert.Equal(t, "127.0.0.1:1234", readDone["localAddr"])
		assert.Equal(t, "127.0.0.1:8266", readDone["remoteAddr"])
		assert.Equal(t, "tcp", readDone["protocol"])
	})

	t.Run("errors are classified", func(t *testing.T) {
		var logs bytes.Buffer
		dialer := &Dialer{Logger: slog.New(slog.NewJSONHandler(&logs, nil))}
		mockConn := newMockConn()
		expected := errors.New("mocked error")
		mockConn.MockWrite = func(b []byte) (int, error) {
			return 0, expected
		}

		conn := WrapConn(context.Background(), dialer, mockConn)
		_, err := conn.Write([]byte("x"))
		assert.ErrorIs(t, err, expected)

		entries := logMessages(t, &logs)
		require.Len(t, entries, 2)
		assert.Equal(t, "mocked error", entries[1]["err"])
		assert.NotEmpty(t, entries[1]["errClass"])
	})

	t.Run("a nil logger disables logging", func(t *testing.T) {
		mockConn := newMockConn()
		mockConn.MockRead = func(b []byte) (int, error) {
			return 0, nil
		}
		conn := WrapConn(context.Background(), &Dialer{}, mockConn)
		assert.NotPanics(t, func() { conn.Read(make([]byte, 1)) })
	})
}
