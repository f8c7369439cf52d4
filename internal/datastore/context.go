package datastore

import (
	"encoding/binary"
	"maps"
	"sync"
)

// Modbus function codes served by ServerContext.
const (
	FuncReadCoils              byte = 0x01
	FuncReadDiscreteInputs     byte = 0x02
	FuncReadHoldingRegisters   byte = 0x03
	FuncReadInputRegisters     byte = 0x04
	FuncWriteSingleCoil        byte = 0x05
	FuncWriteSingleRegister    byte = 0x06
	FuncWriteMultipleCoils     byte = 0x0F
	FuncWriteMultipleRegisters byte = 0x10
	FuncReadWriteMultiple      byte = 0x17
)

const (
	maxReadBits       = 2000
	maxReadRegisters  = 125
	maxWriteBits      = 1968
	maxWriteRegisters = 123
	maxRWWrite        = 121
)

// ServerContext answers protocol requests from a single device. Every unit
// id addresses the same device.
type ServerContext struct {
	device *Device

	mu         sync.Mutex
	requests   map[byte]uint64
	exceptions map[byte]uint64
}

// NewServerContext wraps a device for the protocol servers.
func NewServerContext(d *Device) *ServerContext {
	return &ServerContext{
		device:     d,
		requests:   make(map[byte]uint64),
		exceptions: make(map[byte]uint64),
	}
}

// Device returns the wrapped device.
func (c *ServerContext) Device() *Device {
	return c.device
}

// Stats are the request counters of a ServerContext, keyed by function code.
type Stats struct {
	Requests   map[byte]uint64
	Exceptions map[byte]uint64
}

// Total returns the number of requests served.
func (s Stats) Total() uint64 {
	var n uint64
	for _, v := range s.Requests {
		n += v
	}
	return n
}

// Stats returns a copy of the request counters.
func (c *ServerContext) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Requests: maps.Clone(c.requests), Exceptions: maps.Clone(c.exceptions)}
}

// Handle executes one request PDU and returns the response PDU. Malformed or
// failing requests produce an exception response. An empty request returns
// nil, which servers treat as no response.
func (c *ServerContext) Handle(unit byte, pdu []byte) []byte {
	if len(pdu) == 0 {
		return nil
	}
	fc := pdu[0]
	resp, exc := c.dispatch(fc, pdu[1:])

	c.mu.Lock()
	c.requests[fc]++
	if exc != 0 {
		c.exceptions[fc]++
	}
	c.mu.Unlock()

	if exc != 0 {
		return []byte{fc | 0x80, byte(exc)}
	}
	return append([]byte{fc}, resp...)
}

func (c *ServerContext) dispatch(fc byte, data []byte) ([]byte, Exception) {
	d := c.device
	d.mu.Lock()
	defer d.mu.Unlock()

	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs:
		table := TableCoils
		if fc == FuncReadDiscreteInputs {
			table = TableDiscrete
		}
		addr, qty, ok := addrQty(data, 4)
		if !ok || qty < 1 || qty > maxReadBits {
			return nil, ExceptionIllegalValue
		}
		bits, err := d.readBits(table, addr, qty)
		if err != nil {
			return nil, toException(err)
		}
		packed := packBits(bits)
		return append([]byte{byte(len(packed))}, packed...), 0

	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		table := TableHolding
		if fc == FuncReadInputRegisters {
			table = TableInput
		}
		addr, qty, ok := addrQty(data, 4)
		if !ok || qty < 1 || qty > maxReadRegisters {
			return nil, ExceptionIllegalValue
		}
		words, err := d.readWords(table, addr, qty)
		if err != nil {
			return nil, toException(err)
		}
		return encodeWords(words), 0

	case FuncWriteSingleCoil:
		addr, value, ok := addrQty(data, 4)
		if !ok || value != 0xFF00 && value != 0x0000 {
			return nil, ExceptionIllegalValue
		}
		if err := d.writeBits(TableCoils, addr, []bool{value == 0xFF00}); err != nil {
			return nil, toException(err)
		}
		return data[:4], 0

	case FuncWriteSingleRegister:
		addr, value, ok := addrQty(data, 4)
		if !ok {
			return nil, ExceptionIllegalValue
		}
		if err := d.writeWords(TableHolding, addr, []uint16{uint16(value)}); err != nil {
			return nil, toException(err)
		}
		return data[:4], 0

	case FuncWriteMultipleCoils:
		addr, qty, ok := addrQty(data, 5)
		if !ok || qty < 1 || qty > maxWriteBits || int(data[4]) != (qty+7)/8 || len(data) != 5+int(data[4]) {
			return nil, ExceptionIllegalValue
		}
		if err := d.writeBits(TableCoils, addr, unpackBits(data[5:], qty)); err != nil {
			return nil, toException(err)
		}
		return data[:4], 0

	case FuncWriteMultipleRegisters:
		addr, qty, ok := addrQty(data, 5)
		if !ok || qty < 1 || qty > maxWriteRegisters || int(data[4]) != 2*qty || len(data) != 5+2*qty {
			return nil, ExceptionIllegalValue
		}
		if err := d.writeWords(TableHolding, addr, decodeWords(data[5:])); err != nil {
			return nil, toException(err)
		}
		return data[:4], 0

	case FuncReadWriteMultiple:
		raddr, rqty, ok := addrQty(data, 9)
		if !ok || rqty < 1 || rqty > maxReadRegisters {
			return nil, ExceptionIllegalValue
		}
		waddr, wqty, _ := addrQty(data[4:], 4)
		if wqty < 1 || wqty > maxRWWrite || int(data[8]) != 2*wqty || len(data) != 9+2*wqty {
			return nil, ExceptionIllegalValue
		}
		if err := d.writeWords(TableHolding, waddr, decodeWords(data[9:])); err != nil {
			return nil, toException(err)
		}
		words, err := d.readWords(TableHolding, raddr, rqty)
		if err != nil {
			return nil, toException(err)
		}
		return encodeWords(words), 0

	default:
		return nil, ExceptionIllegalFunction
	}
}

// addrQty reads the address and quantity fields that open most requests.
func addrQty(data []byte, minLen int) (int, int, bool) {
	if len(data) < minLen {
		return 0, 0, false
	}
	return int(binary.BigEndian.Uint16(data)), int(binary.BigEndian.Uint16(data[2:])), true
}

func toException(err error) Exception {
	if isIllegalAddress(err) {
		return ExceptionIllegalAddress
	}
	return ExceptionDeviceFailure
}

func encodeWords(words []uint16) []byte {
	out := make([]byte, 1+2*len(words))
	out[0] = byte(2 * len(words))
	for i, w := range words {
		binary.BigEndian.PutUint16(out[1+2*i:], w)
	}
	return out
}

func decodeWords(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return out
}

// packBits packs bits LSB first as Modbus requires.
func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

func unpackBits(b []byte, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = b[i/8]&(1<<(i%8)) != 0
	}
	return out
}
