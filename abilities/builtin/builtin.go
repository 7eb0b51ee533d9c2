// Package builtin ships the sample ability descriptors registered by the
// server at bootstrap.
package builtin

import (
	"math/rand"

	"github.com/xyzzy121/Unicopia/abilities/contract"
)

// Registry returns every built-in descriptor in registration order.
func Registry() contract.Registry {
	return contract.Registry{Kick(), Carry()}
}

func rngOf(actor contract.Actor) *rand.Rand {
	if r, ok := actor.(contract.Randomized); ok {
		if rng := r.Rand(); rng != nil {
			return rng
		}
	}
	return rand.New(rand.NewSource(1))
}

// triangular samples mode ± deviation with a triangular distribution.
func triangular(rng *rand.Rand, mode, deviation float64) float64 {
	return mode + deviation*(rng.Float64()-rng.Float64())
}

func between(rng *rand.Rand, min, max int) int {
	if max <= min {
		return min
	}
	return min + rng.Intn(max-min+1)
}

func levelScaled(actor contract.Actor, max float64) float64 {
	if l, ok := actor.(contract.Leveled); ok {
		return l.LevelScaled(max)
	}
	return 0
}

func subtractEnergy(actor contract.Actor, amount float64) {
	if e, ok := actor.(contract.EnergyUser); ok {
		e.SubtractEnergy(amount)
	}
}

func animate(actor contract.Actor, anim contract.Animation, ticks uint32) {
	if a, ok := actor.(contract.Animator); ok {
		a.SetAnimation(anim, ticks)
	}
}
