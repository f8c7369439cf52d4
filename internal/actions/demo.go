package actions

import (
	"math"
	"time"

	"github.com/nerrad567/gray-logic-modsim/internal/datastore"
)

// Demo is the name of the built-in example table.
const Demo = "demo"

func init() {
	Register(Demo, datastore.ActionTable{
		"sine":      sine,
		"sawtooth":  sawtooth,
		"countdown": countdown,
	})
}

// sine follows a one minute sine wave between Min and Max.
func sine(r *datastore.Register, now time.Time) {
	lo, hi := bounds(r)
	phase := float64(now.Sub(r.Started)%time.Minute) / float64(time.Minute)
	r.SetFloat(lo + (hi-lo)*(1+math.Sin(2*math.Pi*phase))/2)
}

// sawtooth ramps from Min to Max once a minute.
func sawtooth(r *datastore.Register, now time.Time) {
	lo, hi := bounds(r)
	phase := float64(now.Sub(r.Started)%time.Minute) / float64(time.Minute)
	r.SetFloat(lo + (hi-lo)*phase)
}

// countdown decrements to zero and stays there.
func countdown(r *datastore.Register, _ time.Time) {
	if v := r.Uint(); v > 0 {
		r.SetUint(v - 1)
	}
}

func bounds(r *datastore.Register) (float64, float64) {
	if r.Max > r.Min {
		return r.Min, r.Max
	}
	return 0, 100
}
