//go:build linux

package backend

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

var baudRates = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

var byteSizes = map[int]uint32{
	5: unix.CS5,
	6: unix.CS6,
	7: unix.CS7,
	8: unix.CS8,
}

// openSerial opens the device in non-blocking mode so reads honour
// deadlines and Close, then switches the line to raw mode.
func openSerial(opts SerialOptions) (io.ReadWriteCloser, error) {
	speed, ok := baudRates[opts.BaudRate]
	if !ok {
		return nil, fmt.Errorf("%w: baudrate %d", ErrInvalidOptions, opts.BaudRate)
	}

	f, err := os.OpenFile(opts.Port, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}

	raw, err := f.SyscallConn()
	if err != nil {
		f.Close()
		return nil, err
	}
	var termErr error
	if err := raw.Control(func(fd uintptr) {
		termErr = configureTermios(int(fd), opts, speed)
	}); err != nil {
		f.Close()
		return nil, err
	}
	if termErr != nil {
		f.Close()
		return nil, fmt.Errorf("configuring line: %w", termErr)
	}
	return f, nil
}

func configureTermios(fd int, opts SerialOptions, speed uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CBAUD | unix.CRTSCTS
	t.Cflag |= unix.CREAD | unix.CLOCAL | byteSizes[opts.ByteSize] | speed

	switch opts.Parity {
	case "E":
		t.Cflag |= unix.PARENB
	case "O":
		t.Cflag |= unix.PARENB | unix.PARODD
	}
	if opts.StopBits == 2 {
		t.Cflag |= unix.CSTOPB
	}
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}
