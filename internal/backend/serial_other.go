//go:build !linux

package backend

import "io"

func openSerial(SerialOptions) (io.ReadWriteCloser, error) {
	return nil, ErrSerialUnsupported
}
