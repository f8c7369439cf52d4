package datastore

import (
	"math"
	"math/rand/v2"
	"time"
)

// Action updates a register before it is read.
type Action func(r *Register, now time.Time)

// ActionTable maps action names to functions. Entries override the built-in
// actions of the same name.
type ActionTable map[string]Action

// Built-in action names.
const (
	ActionIncrement = "increment"
	ActionRandom    = "random"
	ActionReset     = "reset"
	ActionTimestamp = "timestamp"
	ActionUptime    = "uptime"
)

var builtinActions = ActionTable{
	ActionIncrement: increment,
	ActionRandom:    randomize,
	ActionReset:     func(r *Register, _ time.Time) { r.Reset() },
	ActionTimestamp: timestamp,
	ActionUptime:    uptime,
}

// BuiltinActions returns the names of the built-in actions.
func BuiltinActions() []string {
	return []string{ActionIncrement, ActionRandom, ActionReset, ActionTimestamp, ActionUptime}
}

func increment(r *Register, _ time.Time) {
	switch r.Type {
	case TypeBits:
		r.SetUint(r.Uint() ^ 1)
	case TypeFloat32:
		r.SetFloat(r.Float() + 1)
	default:
		r.SetUint(r.Uint() + 1)
	}
}

// randomize picks a value in [Min, Max]. Without bounds the full range of the
// register type is used, and 0..100 for floats.
func randomize(r *Register, _ time.Time) {
	lo, hi := r.Min, r.Max
	if hi <= lo {
		lo = 0
		switch r.Type {
		case TypeBits:
			hi = 1
		case TypeFloat32:
			hi = 100
		default:
			hi = float64(uint64(1)<<(16*r.Width()) - 1)
		}
	}
	if r.Type == TypeFloat32 {
		r.SetFloat(lo + rand.Float64()*(hi-lo))
		return
	}
	lo, hi = math.Ceil(lo), math.Floor(hi)
	if hi < lo {
		return
	}
	r.SetFloat(lo + float64(rand.Int64N(int64(hi-lo)+1)))
}

func timestamp(r *Register, now time.Time) {
	switch r.Type {
	case TypeString:
		r.SetString(now.UTC().Format(time.TimeOnly))
	case TypeFloat32:
		r.SetFloat(float64(now.Unix()))
	default:
		r.SetUint(uint64(now.Unix()))
	}
}

func uptime(r *Register, now time.Time) {
	secs := now.Sub(r.Started).Seconds()
	if r.Type == TypeFloat32 {
		r.SetFloat(secs)
		return
	}
	r.SetUint(uint64(secs))
}
