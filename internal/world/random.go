package world

import (
	"hash/fnv"
	"math/rand"
)

// RNGFactory produces deterministic RNG instances for world subsystems.
type RNGFactory func(rootSeed, label string) *rand.Rand

func DeterministicSeedValue(rootSeed, label string) int64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(rootSeed))
	hasher.Write([]byte{0})
	hasher.Write([]byte(label))
	sum := hasher.Sum64()
	if sum == 0 {
		sum = 1
	}
	return int64(sum)
}

func NewDeterministicRNG(rootSeed, label string) *rand.Rand {
	seedValue := DeterministicSeedValue(rootSeed, label)
	return rand.New(rand.NewSource(seedValue))
}

// Triangular samples a triangular distribution centred on mode with the
// given half-width.
func Triangular(rng *rand.Rand, mode, deviation float64) float64 {
	if rng == nil {
		rng = NewDeterministicRNG(DefaultSeed, "triangular")
	}
	return mode + deviation*(rng.Float64()-rng.Float64())
}

// Between returns an integer in [min, max].
func Between(rng *rand.Rand, min, max int) int {
	if max <= min {
		return min
	}
	if rng == nil {
		rng = NewDeterministicRNG(DefaultSeed, "between")
	}
	return min + rng.Intn(max-min+1)
}
