// Package config holds frozen constants shared across the dRAID
// packages. Values here are either part of the on-disk format (and
// must never change) or CLI/log defaults.
package config

const (
	LogLevelDebug   string = "debug"
	LogLevelInfo    string = "info"
	LogLevelWarning string = "warn"
	LogLevelError   string = "error"

	LogFilePath string = "draid/log/log_output.txt"

	// Version is the CLI's reported build version.
	Version string = "0.1.0"
)

const (
	// MaxBlockShift sizes RowSize: the largest pool block size, frozen
	// on-disk. Changing it reorders every existing dRAID pool's layout.
	MaxBlockShift = 24
	// RowSize is ROW_SIZE from spec.md §6: 1 << MaxBlockShift.
	RowSize = 1 << MaxBlockShift

	// VdevDraidSeedConst is mixed with a vdev's map_seed to drive the
	// permutation PRNG. Frozen; never change.
	VdevDraidSeedConst uint64 = 0xd7a1d5eed

	// MaxChildren is the largest number of children a dRAID vdev may
	// have; also the upper bound of the frozen permutation table.
	MaxChildren = 255
	// MaxMaps is the entry count of the original lookup_map table (see
	// spec.md §9 on the off-by-one left undocumented in the original
	// source). LookupMap does not use it: it bounds-checks children
	// against MaxChildren.
	MaxMaps = 254
	// MaxParity is the largest nparity a dRAID vdev may configure.
	MaxParity = 3

	// DefaultNumPerms is the frozen row count per permutation map
	// entry in the canonical table.
	DefaultNumPerms = 256

	// LabelSize is the reserved size, at each end of a virtual leaf,
	// that a distributed spare simulates rather than forwards to a
	// real child (spec.md §4.5).
	LabelSize uint64 = 256 << 10
)
