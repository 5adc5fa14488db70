package draidperm

import "github.com/mattmacy/draid/internal/config"

// xorshiftState is the frozen PRNG used to derive permutation rows
// (spec.md §4.1/§9: "The PRNG output and update schedule are frozen
// — changing them renders existing pools unreadable"). It is a
// xorshift64* variant seeded from VDEV_DRAID_SEED_CONST mixed with a
// map's seed.
type xorshiftState struct {
	state uint64
}

func newXorshift(mapSeed uint64) *xorshiftState {
	s := config.VdevDraidSeedConst ^ mapSeed
	if s == 0 {
		// xorshift cannot recover from an all-zero state; VDEV_DRAID_SEED_CONST
		// is non-zero so this only triggers if mapSeed is crafted to cancel it.
		s = 1
	}
	return &xorshiftState{state: s}
}

// next advances the generator and returns the next 64-bit output.
func (x *xorshiftState) next() uint64 {
	v := x.state
	v ^= v << 13
	v ^= v >> 7
	v ^= v << 17
	x.state = v
	return v * 2685821657736338717
}

// uintn returns a value in [0, n) by plain modulo reduction of a
// 64-bit output; for the small n (<= MaxChildren) this package calls
// it with, the modulo bias is negligible but not zero.
func (x *xorshiftState) uintn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(x.next() % uint64(n))
}
