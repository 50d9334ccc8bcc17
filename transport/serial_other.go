// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux

package transport

import "os"

func openSerial(path string, baudRate int) (*os.File, error) {
	return nil, ErrSerialUnsupported
}
