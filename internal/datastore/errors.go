package datastore

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-modsim/internal/setup"
)

var (
	// ErrInvalidProfile is returned when a device profile is malformed.
	ErrInvalidProfile = fmt.Errorf("%w: invalid device profile", setup.ErrConfig)

	// ErrUnknownAction is returned when a register names an action that is
	// neither built in nor supplied by the action table.
	ErrUnknownAction = fmt.Errorf("%w: unknown register action", setup.ErrConfig)

	// ErrIllegalAddress is returned by the inspection API for reads outside
	// a table or touching an invalid address.
	ErrIllegalAddress = errors.New("datastore: illegal data address")

	// ErrUnknownTable is returned for a table name other than co, di, hr or ir.
	ErrUnknownTable = errors.New("datastore: unknown table")
)

// Exception is a Modbus exception code.
type Exception byte

// Modbus exception codes returned by ServerContext.
const (
	ExceptionIllegalFunction Exception = 0x01
	ExceptionIllegalAddress  Exception = 0x02
	ExceptionIllegalValue    Exception = 0x03
	ExceptionDeviceFailure   Exception = 0x04
)

func (e Exception) Error() string {
	switch e {
	case ExceptionIllegalFunction:
		return "modbus exception: illegal function"
	case ExceptionIllegalAddress:
		return "modbus exception: illegal data address"
	case ExceptionIllegalValue:
		return "modbus exception: illegal data value"
	case ExceptionDeviceFailure:
		return "modbus exception: server device failure"
	default:
		return fmt.Sprintf("modbus exception: code %d", byte(e))
	}
}
