// Package draidperm is the permutation engine (PE) from spec.md §4.1:
// a deterministic, seed-driven table that permutes child ordering per
// row so I/O balances across the fleet. It is pure and allocation-free
// on the per-I/O path (spec.md §5): the map is built once at vdev
// open and never mutated.
package draidperm

import (
	"github.com/mattmacy/draid/draiderr"
	"github.com/mattmacy/draid/internal/config"
)

// PermutationMap is the immutable children × nperms table described
// in spec.md §3. Rows[p][c] is the child placed at column c in raw
// permutation row p, before the rotation trick (see GetPerm).
type PermutationMap struct {
	Children int
	NPerms   int
	Seed     uint64
	Checksum uint64
	Rows     [][]byte
}

// LookupMap returns the frozen (seed, checksum, nperms) triple for a
// given child count, per spec.md §4.1. The table covers children in
// [2, MaxChildren]; spec.md §9 resolves the lookup_map off-by-one
// question as a pure bounds check rather than walking a
// MaxMaps-entries table with an off-by-one loop.
func LookupMap(children int) (seed uint64, chk uint64, nperms int, err error) {
	if children < 2 || children > config.MaxChildren {
		return 0, 0, 0, draiderr.New(draiderr.KindNotFound, "no permutation table entry for children=%d", children)
	}
	entry := frozenTable[children]
	return entry.seed, entry.checksum, entry.nperms, nil
}

// Generate builds a PermutationMap for (children, seed, nperms),
// validating every row is a permutation and, if expectedChecksum is
// non-zero, that it matches the computed checksum.
//
// Algorithm (spec.md §4.1): row 0 is the identity [0..children); each
// subsequent row copies the previous row and applies a Fisher-Yates
// shuffle driven by the frozen xorshift PRNG. This schedule is frozen
// on-disk — do not change the loop order or the PRNG call sequence.
func Generate(children int, seed uint64, nperms int, expectedChecksum uint64) (*PermutationMap, error) {
	if children < 2 || children > config.MaxChildren {
		return nil, draiderr.New(draiderr.KindInvalidInput, "children=%d out of range [2, %d]", children, config.MaxChildren)
	}
	if nperms < 1 {
		return nil, draiderr.New(draiderr.KindInvalidInput, "nperms=%d must be >= 1", nperms)
	}

	rows := make([][]byte, nperms)
	identity := make([]byte, children)
	for c := range identity {
		identity[c] = byte(c)
	}
	rows[0] = identity

	rng := newXorshift(seed)
	for p := 1; p < nperms; p++ {
		row := make([]byte, children)
		copy(row, rows[p-1])
		fisherYates(row, rng)
		rows[p] = row
	}

	m := &PermutationMap{
		Children: children,
		NPerms:   nperms,
		Seed:     seed,
		Checksum: checksum(flatten(rows, children, nperms)),
	}
	m.Rows = rows

	if err := validate(m); err != nil {
		return nil, err
	}

	if expectedChecksum != 0 && expectedChecksum != m.Checksum {
		return nil, draiderr.New(draiderr.KindChecksumMismatch, "permutation map checksum mismatch: got %#x want %#x", m.Checksum, expectedChecksum)
	}

	return m, nil
}

// fisherYates performs an in-place Fisher-Yates shuffle driven by the
// frozen PRNG. Loop direction (high to low) and swap order are part
// of the frozen schedule.
func fisherYates(row []byte, rng *xorshiftState) {
	for i := len(row) - 1; i > 0; i-- {
		j := rng.uintn(i + 1)
		row[i], row[j] = row[j], row[i]
	}
}

func flatten(rows [][]byte, children, nperms int) []byte {
	buf := make([]byte, 0, children*nperms)
	for _, row := range rows {
		buf = append(buf, row...)
	}
	return buf
}

// validate walks every row ensuring each child index appears exactly
// once. Per spec.md §4.1, a tally array is reused across rows with a
// sentinel equal to the row index, so duplicate detection is a single
// pass with no per-row reset.
func validate(m *PermutationMap) error {
	tally := make([]int, m.Children)
	for i := range tally {
		tally[i] = -1
	}

	for p, row := range m.Rows {
		if len(row) != m.Children {
			return draiderr.New(draiderr.KindInvalidInput, "row %d has %d columns, want %d", p, len(row), m.Children)
		}
		for _, child := range row {
			idx := int(child)
			if idx < 0 || idx >= m.Children {
				return draiderr.New(draiderr.KindInvalidInput, "row %d contains out-of-range child %d", p, idx)
			}
			if tally[idx] == p {
				return draiderr.New(draiderr.KindInvalidInput, "row %d is not a permutation: child %d appears twice", p, idx)
			}
			tally[idx] = p
		}
	}
	return nil
}

// GetPerm returns the raw row and rotation for an effective
// permutation index pindex in [0, children*nperms). Per spec.md
// §4.1's rotation trick: iter = pindex mod children, row index =
// (pindex / children) mod nperms. The effective child at column c is
// (rowBase[c] + iter) mod children.
func (m *PermutationMap) GetPerm(pindex int) (rowBase []byte, iter int) {
	iter = pindex % m.Children
	rowIdx := (pindex / m.Children) % m.NPerms
	return m.Rows[rowIdx], iter
}

// PermuteID returns the effective child placed at column c under
// permutation index pindex, combining GetPerm's row/rotation per
// spec.md §4.1.
func (m *PermutationMap) PermuteID(pindex int, c int) int {
	row, iter := m.GetPerm(pindex)
	return (int(row[c]) + iter) % m.Children
}
