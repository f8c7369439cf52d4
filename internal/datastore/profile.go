package datastore

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Table names a Modbus data table.
type Table string

// Modbus data tables.
const (
	TableCoils     Table = "co"
	TableDiscrete  Table = "di"
	TableHolding   Table = "hr"
	TableInput     Table = "ir"
	defaultTable         = TableHolding
	defaultTableSz       = 100
	maxTableSize         = 65536
)

// ParseTable validates a table name. An empty name selects holding registers.
func ParseTable(s string) (Table, error) {
	switch t := Table(s); t {
	case "":
		return defaultTable, nil
	case TableCoils, TableDiscrete, TableHolding, TableInput:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTable, s)
	}
}

func (t Table) isBits() bool {
	return t == TableCoils || t == TableDiscrete
}

// Type is the value encoding of a register entry.
type Type string

// Register entry types. Multi-word values are stored high word first.
const (
	TypeBits    Type = "bits"
	TypeUint16  Type = "uint16"
	TypeUint32  Type = "uint32"
	TypeFloat32 Type = "float32"
	TypeString  Type = "string"
)

// Profile is the decoded form of a device profile.
type Profile struct {
	Setup     Setup                    `yaml:"setup"`
	Invalid   map[Table][]AddressRange `yaml:"invalid"`
	Write     map[Table][]AddressRange `yaml:"write"`
	Registers []Entry                  `yaml:"registers"`
	Repeat    []Repeat                 `yaml:"repeat"`
}

// Setup sizes the tables. A zero size selects the default of 100.
type Setup struct {
	COSize        int  `yaml:"co_size"`
	DISize        int  `yaml:"di_size"`
	HRSize        int  `yaml:"hr_size"`
	IRSize        int  `yaml:"ir_size"`
	SharedBlocks  bool `yaml:"shared_blocks"`
	TypeException bool `yaml:"type_exception"`
}

// Entry defines the initial value and behaviour of one register.
type Entry struct {
	Table  Table    `yaml:"table"`
	Addr   int      `yaml:"addr"`
	Type   Type     `yaml:"type"`
	Value  any      `yaml:"value"`
	Action string   `yaml:"action"`
	Min    *float64 `yaml:"min"`
	Max    *float64 `yaml:"max"`
}

// Repeat copies the values of one address range cyclically over another.
type Repeat struct {
	Table Table        `yaml:"table"`
	Addr  AddressRange `yaml:"addr"`
	To    AddressRange `yaml:"to"`
}

// AddressRange is an inclusive address range, written either as a single
// address or as a two element list.
type AddressRange struct {
	From int
	To   int
}

// UnmarshalYAML accepts 7 or [7, 12].
func (r *AddressRange) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var a int
		if err := node.Decode(&a); err != nil {
			return err
		}
		r.From, r.To = a, a
		return nil
	case yaml.SequenceNode:
		var pair []int
		if err := node.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("line %d: address range needs two addresses, got %d", node.Line, len(pair))
		}
		r.From, r.To = pair[0], pair[1]
		return nil
	default:
		return fmt.Errorf("line %d: address range must be an address or a pair", node.Line)
	}
}

// MarshalYAML writes the range in the form UnmarshalYAML reads.
func (r AddressRange) MarshalYAML() (any, error) {
	if r.From == r.To {
		return r.From, nil
	}
	return []int{r.From, r.To}, nil
}

func (r AddressRange) valid() bool {
	return r.From >= 0 && r.To >= r.From
}

func (r AddressRange) len() int {
	return r.To - r.From + 1
}

func sizeOrDefault(n int) (int, error) {
	switch {
	case n == 0:
		return defaultTableSz, nil
	case n < 0 || n > maxTableSize:
		return 0, fmt.Errorf("%w: table size %d out of range", ErrInvalidProfile, n)
	default:
		return n, nil
	}
}
