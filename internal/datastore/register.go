package datastore

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Register is one typed entry of a device table. Actions receive the
// register they are attached to and update it in place. Action functions run
// while the device is locked and must not call back into the Device.
type Register struct {
	Table  Table
	Addr   int
	Type   Type
	Action string
	Min    float64
	Max    float64

	// Started is the time the device was built, used by the uptime action.
	Started time.Time

	action  Action
	words   []uint16
	bits    []bool
	initial []uint16
}

// Width is the number of table cells the register occupies.
func (r *Register) Width() int {
	if r.Type == TypeBits {
		return 1
	}
	return len(r.words)
}

// Uint returns the register as an unsigned integer. Float registers are
// truncated.
func (r *Register) Uint() uint64 {
	switch r.Type {
	case TypeBits:
		if r.bits[0] {
			return 1
		}
		return 0
	case TypeUint16:
		return uint64(r.words[0])
	case TypeUint32:
		return uint64(r.words[0])<<16 | uint64(r.words[1])
	case TypeFloat32:
		f := r.Float()
		if f < 0 {
			return 0
		}
		return uint64(f)
	default:
		return 0
	}
}

// SetUint stores v, truncated to the width of the register.
func (r *Register) SetUint(v uint64) {
	switch r.Type {
	case TypeBits:
		r.bits[0] = v&1 == 1
	case TypeUint16:
		r.words[0] = uint16(v)
	case TypeUint32:
		r.words[0] = uint16(v >> 16)
		r.words[1] = uint16(v)
	case TypeFloat32:
		r.SetFloat(float64(v))
	case TypeString:
		r.SetString(fmt.Sprint(v))
	}
}

// Float returns the register as a float.
func (r *Register) Float() float64 {
	if r.Type == TypeFloat32 {
		return float64(math.Float32frombits(uint32(r.words[0])<<16 | uint32(r.words[1])))
	}
	return float64(r.Uint())
}

// SetFloat stores v. Integer registers are rounded and clamped to their range.
func (r *Register) SetFloat(v float64) {
	switch r.Type {
	case TypeFloat32:
		bits := math.Float32bits(float32(v))
		r.words[0] = uint16(bits >> 16)
		r.words[1] = uint16(bits)
	case TypeString:
		r.SetString(fmt.Sprintf("%g", v))
	default:
		limit := float64(uint64(1)<<(16*r.Width()) - 1)
		if r.Type == TypeBits {
			limit = 1
		}
		r.SetUint(uint64(math.Max(0, math.Min(limit, math.Round(v)))))
	}
}

// String returns the text of a string register, or the formatted value of
// any other type.
func (r *Register) String() string {
	switch r.Type {
	case TypeString:
		buf := make([]byte, 2*len(r.words))
		for i, w := range r.words {
			binary.BigEndian.PutUint16(buf[2*i:], w)
		}
		return strings.TrimRight(string(buf), "\x00")
	case TypeFloat32:
		return fmt.Sprintf("%g", r.Float())
	default:
		return fmt.Sprint(r.Uint())
	}
}

// SetString stores s in a string register, truncated or zero padded to the
// register width. Other types ignore the call.
func (r *Register) SetString(s string) {
	if r.Type != TypeString {
		return
	}
	buf := make([]byte, 2*len(r.words))
	copy(buf, s)
	for i := range r.words {
		r.words[i] = binary.BigEndian.Uint16(buf[2*i:])
	}
}

// Reset restores the initial value.
func (r *Register) Reset() {
	if r.Type == TypeBits {
		r.bits[0] = r.initial[0] != 0
		return
	}
	copy(r.words, r.initial)
}

func (r *Register) snapshotInitial() {
	if r.Type == TypeBits {
		r.initial = []uint16{uint16(r.Uint())}
		return
	}
	r.initial = append([]uint16(nil), r.words...)
}

func typeWidth(t Type, value any) (int, error) {
	switch t {
	case TypeBits, TypeUint16:
		return 1, nil
	case TypeUint32, TypeFloat32:
		return 2, nil
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return 0, fmt.Errorf("string register needs a string value, got %T", value)
		}
		return max(1, (len(s)+1)/2), nil
	default:
		return 0, fmt.Errorf("unknown register type %q", t)
	}
}

// setInitial stores the profile value of the register.
func (r *Register) setInitial(value any) error {
	if value == nil {
		return nil
	}
	switch r.Type {
	case TypeBits:
		switch v := value.(type) {
		case bool:
			r.bits[0] = v
		case int:
			if v != 0 && v != 1 {
				return fmt.Errorf("bits value %d is not 0 or 1", v)
			}
			r.bits[0] = v == 1
		default:
			return fmt.Errorf("bits register needs a bool value, got %T", value)
		}
	case TypeUint16, TypeUint32:
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("%s register needs an integer value, got %T", r.Type, value)
		}
		limit := uint64(1)<<(16*r.Width()) - 1
		if v < 0 || uint64(v) > limit {
			return fmt.Errorf("value %d does not fit %s", v, r.Type)
		}
		r.SetUint(uint64(v))
	case TypeFloat32:
		switch v := value.(type) {
		case int:
			r.SetFloat(float64(v))
		case float64:
			r.SetFloat(v)
		default:
			return fmt.Errorf("float32 register needs a number, got %T", value)
		}
	case TypeString:
		r.SetString(value.(string))
	}
	return nil
}
