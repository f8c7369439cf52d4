package simulator

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-modsim/internal/datastore"
)

// Request limits of the /api/request and /api/data routes.
const (
	maxCount  = 2000
	maxValues = 1968
)

// delegate answers the /api routes from the simulated device.
type delegate struct {
	s *Simulator
}

// General echoes the parsed fields.
func (delegate) General(_ context.Context, fields map[string]any) (any, error) {
	return map[string]any{"api": "general", "data": fields}, nil
}

// Data reads a table of the device without running register actions.
// Without a type field it echoes the fields.
func (d delegate) Data(_ context.Context, fields map[string]any) (any, error) {
	raw, ok := fields["type"]
	if !ok {
		return map[string]any{"api": "data", "data": fields}, nil
	}
	name, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: type must be a string", ErrBadRequest)
	}
	table, err := datastore.ParseTable(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	addr, err := intField(fields, "address", 0, 0, math.MaxUint16)
	if err != nil {
		return nil, err
	}
	count, err := intField(fields, "count", 1, 1, maxCount)
	if err != nil {
		return nil, err
	}

	var values any
	switch table {
	case datastore.TableCoils, datastore.TableDiscrete:
		values, err = d.s.store.Bits(table, addr, count)
	default:
		values, err = d.s.store.Registers(table, addr, count)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return map[string]any{"type": table, "address": addr, "count": count, "values": values}, nil
}

// Request runs one protocol request through the handler the protocol
// server uses and returns the response PDU.
func (d delegate) Request(_ context.Context, fields map[string]any) (any, error) {
	unit, err := intField(fields, "unit", 1, 0, math.MaxUint8)
	if err != nil {
		return nil, err
	}

	var pdu []byte
	if raw, ok := fields["pdu"].(string); ok && raw != "" {
		pdu, err = hex.DecodeString(strings.ReplaceAll(raw, " ", ""))
		if err != nil || len(pdu) == 0 {
			return nil, fmt.Errorf("%w: pdu must be non-empty hex", ErrBadRequest)
		}
	} else {
		fc, err := intField(fields, "function_code", 0, 0, 0x7F)
		if err != nil {
			return nil, err
		}
		if fc == 0 {
			return nil, fmt.Errorf("%w: function_code is required", ErrBadRequest)
		}
		if pdu, err = buildPDU(byte(fc), fields); err != nil {
			return nil, err
		}
	}

	resp := d.s.handler.Handle(byte(unit), pdu)
	result := map[string]any{
		"unit":          unit,
		"function_code": int(pdu[0]),
		"request":       hex.EncodeToString(pdu),
		"response":      hex.EncodeToString(resp),
	}
	details := map[string]any{"unit": unit, "function_code": functionName(pdu[0])}
	if len(resp) >= 2 && resp[0]&0x80 != 0 {
		exc := datastore.Exception(resp[1])
		result["exception"] = int(exc)
		result["exception_name"] = exc.Error()
		details["exception"] = int(exc)
	}
	d.s.emit(EventAPIRequest, nil, details)
	return result, nil
}

// buildPDU encodes the read and write functions from request fields.
func buildPDU(fc byte, fields map[string]any) ([]byte, error) {
	addr, err := intField(fields, "address", 0, 0, math.MaxUint16)
	if err != nil {
		return nil, err
	}
	pdu := binary.BigEndian.AppendUint16([]byte{fc}, uint16(addr))

	switch fc {
	case datastore.FuncReadCoils, datastore.FuncReadDiscreteInputs,
		datastore.FuncReadHoldingRegisters, datastore.FuncReadInputRegisters:
		count, err := intField(fields, "count", 1, 1, maxCount)
		if err != nil {
			return nil, err
		}
		return binary.BigEndian.AppendUint16(pdu, uint16(count)), nil

	case datastore.FuncWriteSingleCoil:
		values, err := intList(fields, "values", 1, 0, math.MaxUint16)
		if err != nil {
			return nil, err
		}
		var v uint16
		if values[0] != 0 {
			v = 0xFF00
		}
		return binary.BigEndian.AppendUint16(pdu, v), nil

	case datastore.FuncWriteSingleRegister:
		values, err := intList(fields, "values", 1, 0, math.MaxUint16)
		if err != nil {
			return nil, err
		}
		return binary.BigEndian.AppendUint16(pdu, uint16(values[0])), nil

	case datastore.FuncWriteMultipleCoils:
		values, err := intList(fields, "values", 1, 0, 1)
		if err != nil {
			return nil, err
		}
		packed := make([]byte, (len(values)+7)/8)
		for i, v := range values {
			if v != 0 {
				packed[i/8] |= 1 << (i % 8)
			}
		}
		pdu = binary.BigEndian.AppendUint16(pdu, uint16(len(values)))
		return append(append(pdu, byte(len(packed))), packed...), nil

	case datastore.FuncWriteMultipleRegisters:
		values, err := intList(fields, "values", 1, 0, math.MaxUint16)
		if err != nil {
			return nil, err
		}
		pdu = binary.BigEndian.AppendUint16(pdu, uint16(len(values)))
		pdu = append(pdu, byte(2*len(values)))
		for _, v := range values {
			pdu = binary.BigEndian.AppendUint16(pdu, uint16(v))
		}
		return pdu, nil

	default:
		return nil, fmt.Errorf("%w: function code %d needs a raw pdu field", ErrBadRequest, fc)
	}
}

// intField reads an integer field from a JSON number or a form string.
// A missing or empty field yields def.
func intField(fields map[string]any, key string, def, lo, hi int) (int, error) {
	v, ok := fields[key]
	if !ok || v == nil || v == "" {
		return def, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrBadRequest, key, err)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%w: %s %d out of range [%d, %d]", ErrBadRequest, key, n, lo, hi)
	}
	return n, nil
}

// intList reads a list of integers: a JSON array, repeated form values, or
// a comma separated string.
func intList(fields map[string]any, key string, minLen, lo, hi int) ([]int, error) {
	var items []any
	switch v := fields[key].(type) {
	case nil:
	case []any:
		items = v
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
	default:
		items = []any{v}
	}

	if len(items) < minLen || len(items) > maxValues {
		return nil, fmt.Errorf("%w: %s needs between %d and %d values", ErrBadRequest, key, minLen, maxValues)
	}
	out := make([]int, len(items))
	for i, item := range items {
		n, err := toInt(item)
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %w", ErrBadRequest, key, i, err)
		}
		if n < lo || n > hi {
			return nil, fmt.Errorf("%w: %s[%d] %d out of range [%d, %d]", ErrBadRequest, key, i, n, lo, hi)
		}
		out[i] = n
	}
	return out, nil
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int(x), nil
	case int:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", x)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported value %v", v)
	}
}
