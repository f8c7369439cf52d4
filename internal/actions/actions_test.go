package actions

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-modsim/internal/datastore"
	"github.com/nerrad567/gray-logic-modsim/internal/setup"
)

func TestLookup(t *testing.T) {
	table, err := Lookup(Demo)
	if err != nil {
		t.Fatalf("Lookup(demo) error = %v", err)
	}
	for _, name := range []string{"sine", "sawtooth", "countdown"} {
		if table[name] == nil {
			t.Errorf("demo table is missing %q", name)
		}
	}

	if table, err := Lookup(""); err != nil || table != nil {
		t.Errorf("Lookup(\"\") = %v, %v, want nil, nil", table, err)
	}

	_, err = Lookup("nope")
	if !errors.Is(err, ErrUnknownTable) || !errors.Is(err, setup.ErrConfig) {
		t.Errorf("Lookup(nope) error = %v, want ErrUnknownTable wrapping ErrConfig", err)
	}
}

func TestRegister(t *testing.T) {
	Register("test", datastore.ActionTable{"noop": func(*datastore.Register, time.Time) {}})
	if !slices.Contains(Names(), "test") {
		t.Fatalf("Names() = %v, want it to contain test", Names())
	}
	if _, err := Lookup("test"); err != nil {
		t.Errorf("Lookup(test) error = %v", err)
	}
}

func TestDemoActions(t *testing.T) {
	table, _ := Lookup(Demo)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	lo, hi := 10.0, 20.0

	d, err := datastore.New(datastore.Profile{
		Registers: []datastore.Entry{
			{Addr: 0, Value: 2, Action: "countdown"},
			{Addr: 1, Type: datastore.TypeFloat32, Action: "sawtooth", Min: &lo, Max: &hi},
		},
	}, table, datastore.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := datastore.NewServerContext(d)

	now = start.Add(30 * time.Second)
	read := []byte{datastore.FuncReadHoldingRegisters, 0, 0, 0, 3}
	for range 3 {
		ctx.Handle(1, read)
	}
	regs, _ := d.Registers(datastore.TableHolding, 0, 3)
	if regs[0] != 0 {
		t.Errorf("countdown = %d, want 0", regs[0])
	}
	// 15.0 as float32 is 0x41700000.
	if regs[1] != 0x4170 || regs[2] != 0 {
		t.Errorf("sawtooth = %#04x %#04x, want 15.0", regs[1], regs[2])
	}
}
