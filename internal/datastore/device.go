package datastore

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-modsim/internal/setup"
)

// Device is the simulated register space of one Modbus device.
type Device struct {
	mu sync.Mutex

	shared        bool
	typeException bool
	started       time.Time
	now           func() time.Time

	words    map[Table][]uint16
	bits     map[Table][]bool
	invalid  map[Table][]bool
	writable map[Table][]bool
	// cells maps each address of a storage table to the register covering it.
	cells map[Table][]*Register

	initialWords map[Table][]uint16
	initialBits  map[Table][]bool
}

// Option configures a Device.
type Option func(*Device)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Device) { d.now = now }
}

// FromProfile decodes a device profile and builds the device.
//
// Parameters:
//   - profile: Device profile selected from the setup document
//   - custom: Additional actions, may be nil
//
// Returns:
//   - *Device: The built device
//   - error: Wrapping setup.ErrConfig if the profile is invalid
func FromProfile(profile setup.DeviceProfile, custom ActionTable, opts ...Option) (*Device, error) {
	var p Profile
	if err := profile.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: device %q: %w", ErrInvalidProfile, profile.Name, err)
	}
	d, err := New(p, custom, opts...)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", profile.Name, err)
	}
	return d, nil
}

// New builds a device from a decoded profile.
func New(p Profile, custom ActionTable, opts ...Option) (*Device, error) {
	d := &Device{
		shared:        p.Setup.SharedBlocks,
		typeException: p.Setup.TypeException,
		now:           time.Now,
		words:         make(map[Table][]uint16),
		bits:          make(map[Table][]bool),
		invalid:       make(map[Table][]bool),
		writable:      make(map[Table][]bool),
		cells:         make(map[Table][]*Register),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.started = d.now()

	if err := d.allocate(p.Setup); err != nil {
		return nil, err
	}
	actions := maps.Clone(builtinActions)
	maps.Copy(actions, custom)

	var registers []*Register
	for i, e := range p.Registers {
		r, err := d.addEntry(e, actions)
		if err != nil {
			return nil, fmt.Errorf("register %d: %w", i, err)
		}
		registers = append(registers, r)
	}
	for i, rp := range p.Repeat {
		if err := d.repeat(rp); err != nil {
			return nil, fmt.Errorf("%w: repeat %d: %w", ErrInvalidProfile, i, err)
		}
	}
	if err := d.mark(d.invalid, p.Invalid); err != nil {
		return nil, fmt.Errorf("%w: invalid: %w", ErrInvalidProfile, err)
	}
	if err := d.mark(d.writable, p.Write); err != nil {
		return nil, fmt.Errorf("%w: write: %w", ErrInvalidProfile, err)
	}

	for _, r := range registers {
		r.snapshotInitial()
	}
	d.initialWords = make(map[Table][]uint16, len(d.words))
	for t, w := range d.words {
		d.initialWords[t] = slices.Clone(w)
	}
	d.initialBits = make(map[Table][]bool, len(d.bits))
	for t, b := range d.bits {
		d.initialBits[t] = slices.Clone(b)
	}
	return d, nil
}

// storage returns the table that holds the cells of t.
func (d *Device) storage(t Table) Table {
	if !d.shared {
		return t
	}
	switch t {
	case TableInput:
		return TableHolding
	case TableDiscrete:
		return TableCoils
	default:
		return t
	}
}

func (d *Device) allocate(s Setup) error {
	sizes := map[Table]int{}
	for t, n := range map[Table]int{TableCoils: s.COSize, TableDiscrete: s.DISize, TableHolding: s.HRSize, TableInput: s.IRSize} {
		size, err := sizeOrDefault(n)
		if err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
		st := d.storage(t)
		sizes[st] = max(sizes[st], size)
	}
	for t, n := range sizes {
		if t.isBits() {
			d.bits[t] = make([]bool, n)
		} else {
			d.words[t] = make([]uint16, n)
		}
		d.invalid[t] = make([]bool, n)
		d.writable[t] = make([]bool, n)
		d.cells[t] = make([]*Register, n)
	}
	return nil
}

func (d *Device) addEntry(e Entry, actions ActionTable) (*Register, error) {
	table, err := ParseTable(string(e.Table))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}
	typ := e.Type
	if typ == "" {
		typ = TypeUint16
		if table.isBits() {
			typ = TypeBits
		}
	}
	if table.isBits() != (typ == TypeBits) {
		return nil, fmt.Errorf("%w: type %q does not fit table %s", ErrInvalidProfile, typ, table)
	}
	width, err := typeWidth(typ, e.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}

	st := d.storage(table)
	cells := d.cells[st]
	if e.Addr < 0 || e.Addr+width > len(cells) {
		return nil, fmt.Errorf("%w: address %d+%d outside %s (size %d)", ErrInvalidProfile, e.Addr, width, table, len(cells))
	}
	for a := e.Addr; a < e.Addr+width; a++ {
		if cells[a] != nil {
			return nil, fmt.Errorf("%w: address %d of %s already defined", ErrInvalidProfile, a, table)
		}
	}

	r := &Register{Table: table, Addr: e.Addr, Type: typ, Action: e.Action, Started: d.started}
	if e.Min != nil {
		r.Min = *e.Min
	}
	if e.Max != nil {
		r.Max = *e.Max
	}
	if typ == TypeBits {
		r.bits = d.bits[st][e.Addr : e.Addr+1 : e.Addr+1]
	} else {
		r.words = d.words[st][e.Addr : e.Addr+width : e.Addr+width]
	}
	if err := r.setInitial(e.Value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}
	if e.Action != "" {
		if _, ok := actions[e.Action]; !ok {
			return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownAction, e.Action, slices.Sorted(maps.Keys(actions)))
		}
	}
	for a := e.Addr; a < e.Addr+width; a++ {
		cells[a] = r
	}
	r.action = actions[e.Action]
	return r, nil
}

func (d *Device) repeat(rp Repeat) error {
	table, err := ParseTable(string(rp.Table))
	if err != nil {
		return err
	}
	st := d.storage(table)
	size := len(d.cells[st])
	if !rp.Addr.valid() || !rp.To.valid() || rp.Addr.To >= size || rp.To.To >= size {
		return fmt.Errorf("range outside %s (size %d)", table, size)
	}
	n := rp.Addr.len()
	for i := range rp.To.len() {
		src, dst := rp.Addr.From+i%n, rp.To.From+i
		if table.isBits() {
			d.bits[st][dst] = d.bits[st][src]
		} else {
			d.words[st][dst] = d.words[st][src]
		}
	}
	return nil
}

func (d *Device) mark(mask map[Table][]bool, ranges map[Table][]AddressRange) error {
	for t, list := range ranges {
		table, err := ParseTable(string(t))
		if err != nil {
			return err
		}
		cells := mask[d.storage(table)]
		for _, r := range list {
			if !r.valid() || r.To >= len(cells) {
				return fmt.Errorf("range [%d, %d] outside %s (size %d)", r.From, r.To, table, len(cells))
			}
			for a := r.From; a <= r.To; a++ {
				cells[a] = true
			}
		}
	}
	return nil
}

// Size returns the number of addresses of a table.
func (d *Device) Size(t Table) int {
	return len(d.cells[d.storage(t)])
}

// Registers returns count registers of an hr or ir table without running
// actions.
func (d *Device) Registers(t Table, addr, count int) ([]uint16, error) {
	if t.isBits() {
		return nil, fmt.Errorf("%w: %s is a bit table", ErrUnknownTable, t)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.storage(t)
	if err := d.inBounds(st, addr, count); err != nil {
		return nil, err
	}
	return slices.Clone(d.words[st][addr : addr+count]), nil
}

// Bits returns count cells of a co or di table without running actions.
func (d *Device) Bits(t Table, addr, count int) ([]bool, error) {
	if !t.isBits() {
		return nil, fmt.Errorf("%w: %s is a register table", ErrUnknownTable, t)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.storage(t)
	if err := d.inBounds(st, addr, count); err != nil {
		return nil, err
	}
	return slices.Clone(d.bits[st][addr : addr+count]), nil
}

// Reset restores every table to its initial contents.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for t, w := range d.initialWords {
		copy(d.words[t], w)
	}
	for t, b := range d.initialBits {
		copy(d.bits[t], b)
	}
}

func (d *Device) inBounds(st Table, addr, count int) error {
	if count < 1 || addr < 0 || addr+count > len(d.cells[st]) {
		return fmt.Errorf("%w: %s %d+%d (size %d)", ErrIllegalAddress, st, addr, count, len(d.cells[st]))
	}
	return nil
}

// check validates a protocol access. Callers hold d.mu.
func (d *Device) check(st Table, addr, count int, write bool) error {
	if err := d.inBounds(st, addr, count); err != nil {
		return err
	}
	for a := addr; a < addr+count; a++ {
		if d.invalid[st][a] {
			return fmt.Errorf("%w: %s %d is invalid", ErrIllegalAddress, st, a)
		}
		if write && !d.writable[st][a] {
			return fmt.Errorf("%w: %s %d is read only", ErrIllegalAddress, st, a)
		}
	}
	if d.typeException {
		first, last := d.cells[st][addr], d.cells[st][addr+count-1]
		if first != nil && first.Addr < addr || last != nil && last.Addr+last.Width() > addr+count {
			return fmt.Errorf("%w: %s %d+%d splits a typed register", ErrIllegalAddress, st, addr, count)
		}
	}
	return nil
}

// runActions applies the actions of every register in the range once.
// Callers hold d.mu.
func (d *Device) runActions(st Table, addr, count int) {
	now := d.now()
	var last *Register
	for _, r := range d.cells[st][addr : addr+count] {
		if r == nil || r == last {
			continue
		}
		last = r
		if r.action != nil {
			r.action(r, now)
		}
	}
}

func (d *Device) readWords(t Table, addr, count int) ([]uint16, error) {
	st := d.storage(t)
	if err := d.check(st, addr, count, false); err != nil {
		return nil, err
	}
	d.runActions(st, addr, count)
	return slices.Clone(d.words[st][addr : addr+count]), nil
}

func (d *Device) readBits(t Table, addr, count int) ([]bool, error) {
	st := d.storage(t)
	if err := d.check(st, addr, count, false); err != nil {
		return nil, err
	}
	d.runActions(st, addr, count)
	return slices.Clone(d.bits[st][addr : addr+count]), nil
}

func (d *Device) writeWords(t Table, addr int, values []uint16) error {
	st := d.storage(t)
	if err := d.check(st, addr, len(values), true); err != nil {
		return err
	}
	copy(d.words[st][addr:], values)
	return nil
}

func (d *Device) writeBits(t Table, addr int, values []bool) error {
	st := d.storage(t)
	if err := d.check(st, addr, len(values), true); err != nil {
		return err
	}
	copy(d.bits[st][addr:], values)
	return nil
}

func isIllegalAddress(err error) bool {
	return errors.Is(err, ErrIllegalAddress)
}
