// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rbmk-project/common/errclass"
)

// DefaultBaudRate is the line speed used when [SerialConfig] leaves it zero.
const DefaultBaudRate = 115200

// ErrSerialUnsupported is returned by [OpenSerial] on systems where
// we do not know how to configure a serial line.
var ErrSerialUnsupported = errors.New("transport: serial lines are not supported on this system")

// ErrUnsupportedBaudRate indicates a line speed without a termios constant.
var ErrUnsupportedBaudRate = errors.New("transport: unsupported baud rate")

// SerialConfig describes a serial line.
type SerialConfig struct {
	// Path is the device path (e.g., /dev/ttyUSB0).
	Path string

	// BaudRate is the line speed. Zero means [DefaultBaudRate].
	BaudRate int

	// Logger is the optional structured logger.
	Logger *slog.Logger
}

// baudRate returns the configured or default line speed.
func (c *SerialConfig) baudRate() int {
	if c.BaudRate == 0 {
		return DefaultBaudRate
	}
	return c.BaudRate
}

// SerialPort is a serial line configured in raw 8N1 mode.
//
// Reads block until at least one byte is available.
type SerialPort struct {
	// file is the open device.
	file *os.File

	// closeOnce ensures we close just once.
	closeOnce sync.Once

	// logger is the optional structured logger.
	logger *slog.Logger

	// path is the device path.
	path string
}

// Read implements [io.Reader].
func (sp *SerialPort) Read(buf []byte) (int, error) {
	return sp.file.Read(buf)
}

// Write implements [io.Writer].
func (sp *SerialPort) Write(data []byte) (int, error) {
	return sp.file.Write(data)
}

// Close closes the underlying device. Closing twice is a no-op.
func (sp *SerialPort) Close() (err error) {
	sp.closeOnce.Do(func() {
		err = sp.file.Close()
		if sp.logger != nil {
			sp.logger.Info(
				"serialClose",
				slog.Any("err", err),
				slog.String("errClass", errclass.New(err)),
				slog.String("path", sp.path),
			)
		}
	})
	return
}

// OpenSerial opens and configures the serial line described by config.
func OpenSerial(config *SerialConfig) (*SerialPort, error) {
	t0 := time.Now()
	file, err := openSerial(config.Path, config.baudRate())
	if config.Logger != nil {
		config.Logger.Info(
			"serialOpen",
			slog.Int("baudRate", config.baudRate()),
			slog.Any("err", err),
			slog.String("errClass", errclass.New(err)),
			slog.String("path", config.Path),
			slog.Time("t0", t0),
			slog.Time("t", time.Now()),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", config.Path, err)
	}
	return &SerialPort{file: file, logger: config.Logger, path: config.Path}, nil
}
