package backend

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-modsim/internal/setup"
)

// DefaultPort is the port of network servers without an explicit port.
const DefaultPort = 5020

// NetOptions configure the tcp and udp backends.
type NetOptions struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Timeout closes idle tcp connections after this many seconds. Zero
	// disables the timeout.
	Timeout float64 `yaml:"timeout"`

	// IgnoreMissingSlaves is accepted for compatibility with existing setup
	// files and ignored: the device context answers every unit.
	IgnoreMissingSlaves bool `yaml:"ignore_missing_slaves"`

	// Identity is accepted for compatibility with existing setup files.
	Identity map[string]any `yaml:"identity"`
}

// TLSOptions configure the tls backend.
type TLSOptions struct {
	NetOptions `yaml:",inline"`

	CertFile   string `yaml:"certfile"`
	KeyFile    string `yaml:"keyfile"`
	ReqCliCert bool   `yaml:"reqclicert"`
	Password   string `yaml:"password"`
}

// BaudRates lists the line speeds the serial backend can configure.
var BaudRates = []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400}

// SerialOptions configure the serial backend.
type SerialOptions struct {
	Port     string         `yaml:"port"`
	BaudRate int            `yaml:"baudrate"`
	ByteSize int            `yaml:"bytesize"`
	Parity   string         `yaml:"parity"`
	StopBits int            `yaml:"stopbits"`
	Timeout  float64        `yaml:"timeout"`
	Identity map[string]any `yaml:"identity"`
}

func decodeOptions(p setup.ServerProfile, out any) error {
	if err := p.DecodeOptions(out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}

func (o *NetOptions) validate() error {
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Port < 0 || o.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidOptions, o.Port)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidOptions)
	}
	return nil
}

func (o NetOptions) address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o *TLSOptions) validate() error {
	if err := o.NetOptions.validate(); err != nil {
		return err
	}
	if o.CertFile == "" || o.KeyFile == "" {
		return fmt.Errorf("%w: certfile and keyfile are required", ErrInvalidOptions)
	}
	if o.Password != "" {
		return fmt.Errorf("%w: encrypted private keys are not supported", ErrInvalidOptions)
	}
	return nil
}

func (o *SerialOptions) validate() error {
	if o.Port == "" {
		return fmt.Errorf("%w: port is required", ErrInvalidOptions)
	}
	if o.BaudRate == 0 {
		o.BaudRate = 19200
	}
	if o.ByteSize == 0 {
		o.ByteSize = 8
	}
	if o.Parity == "" {
		o.Parity = "N"
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	switch {
	case !slices.Contains(BaudRates, o.BaudRate):
		return fmt.Errorf("%w: baudrate %d, want one of %v", ErrInvalidOptions, o.BaudRate, BaudRates)
	case o.ByteSize < 5 || o.ByteSize > 8:
		return fmt.Errorf("%w: bytesize %d", ErrInvalidOptions, o.ByteSize)
	case o.Parity != "N" && o.Parity != "E" && o.Parity != "O":
		return fmt.Errorf("%w: parity %q, want N, E or O", ErrInvalidOptions, o.Parity)
	case o.StopBits != 1 && o.StopBits != 2:
		return fmt.Errorf("%w: stopbits %d", ErrInvalidOptions, o.StopBits)
	case o.Timeout < 0:
		return fmt.Errorf("%w: negative timeout", ErrInvalidOptions)
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
