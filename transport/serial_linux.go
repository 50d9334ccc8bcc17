// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux

package transport

import (
	"os"

	"golang.org/x/sys/unix"
)

// baudRates maps line speeds to their termios constants.
var baudRates = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
	460800: unix.B460800,
	921600: unix.B921600,
}

// openSerial opens path and puts the line in raw 8N1 mode.
func openSerial(path string, baudRate int) (*os.File, error) {
	speed, ok := baudRates[baudRate]
	if !ok {
		return nil, ErrUnsupportedBaudRate
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}

	if err := makeRaw(fd, speed); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}

// makeRaw mirrors cfmakeraw(3) plus the speed setting.
func makeRaw(fd int, speed uint32) error {
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	tio.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	tio.Ispeed = speed
	tio.Ospeed = speed

	// Block until at least one byte arrives.
	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(fd, unix.TCSETS, tio)
}
