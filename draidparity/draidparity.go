// Package draidparity wraps github.com/klauspost/reedsolomon so the
// rest of dRAID can treat parity math as the black box spec.md §1
// describes: generate_parity / reconstruct over a raidz-shaped column
// array. This is the direct descendant of the teacher's
// internal/rsutil package, generalized from RAID5/6's fixed 1-or-2
// parity shards and rotating parity-disk index to dRAID's nparity in
// [1,3] and row-map order, where parity columns always lead
// (spec.md §4.3: first_data_col = nparity).
package draidparity

import (
	"github.com/klauspost/reedsolomon"

	"github.com/mattmacy/draid/draiderr"
)

// Codec generates and reconstructs parity over a dRAID row: the first
// nparity columns are parity, the remaining ndata columns are data,
// matching RowMap's column order (spec.md §4.3).
type Codec struct {
	ndata   int
	nparity int
	enc     reedsolomon.Encoder
}

// NewCodec builds a Codec for the given (ndata, nparity). It returns
// InvalidInput for ndata < 1 or nparity < 1; the upper bound nparity
// <= MaxParity is not checked here (draidgeo.New enforces it).
func NewCodec(ndata, nparity int) (*Codec, error) {
	if ndata < 1 {
		return nil, draiderr.New(draiderr.KindInvalidInput, "ndata must be >= 1, got %d", ndata)
	}
	if nparity < 1 {
		return nil, draiderr.New(draiderr.KindInvalidInput, "nparity must be >= 1, got %d", nparity)
	}
	enc, err := reedsolomon.New(ndata, nparity)
	if err != nil {
		return nil, draiderr.Wrap(draiderr.KindInvalidInput, err, "failed to build reedsolomon encoder for ndata=%d nparity=%d", ndata, nparity)
	}
	return &Codec{ndata: ndata, nparity: nparity, enc: enc}, nil
}

// NData reports the codec's configured data-column count.
func (c *Codec) NData() int { return c.ndata }

// NParity reports the codec's configured parity-column count.
func (c *Codec) NParity() int { return c.nparity }

// Encode fills the parity columns (row[0:nparity]) from the data
// columns (row[nparity:nparity+ndata]). Every column must already be
// allocated to the same length (the stripe builder's job, see
// spec.md §4.3's "Invariant").
func (c *Codec) Encode(row [][]byte) error {
	shards := toLogicalOrder(row, c.ndata, c.nparity)
	if err := c.enc.Encode(shards); err != nil {
		return draiderr.Wrap(draiderr.KindIoError, err, "failed to encode parity over %d columns", len(row))
	}
	return nil
}

// Reconstruct fills any nil columns in row from the surviving ones.
// A column is "missing" by being nil, mirroring rsutil's convention
// (and reedsolomon's own). Returns draiderr.ErrNoReplicas if more
// columns are missing than nparity can cover.
func (c *Codec) Reconstruct(row [][]byte) error {
	missing := 0
	for _, col := range row {
		if col == nil {
			missing++
		}
	}
	if missing == 0 {
		return nil
	}
	if missing > c.nparity {
		return draiderr.New(draiderr.KindNoReplicas, "too many missing columns (%d), only %d parity columns available", missing, c.nparity)
	}

	shards := toLogicalOrder(row, c.ndata, c.nparity)
	if err := c.enc.Reconstruct(shards); err != nil {
		return draiderr.Wrap(draiderr.KindIoError, err, "failed to reconstruct %d missing columns", missing)
	}
	fromLogicalOrder(shards, row, c.ndata, c.nparity)
	return nil
}

// toLogicalOrder reindexes a RowMap-ordered column slice
// ([parity...][data...]) into the order reedsolomon.Encoder expects
// ([data...][parity...]).
func toLogicalOrder(row [][]byte, ndata, nparity int) [][]byte {
	shards := make([][]byte, ndata+nparity)
	copy(shards[0:ndata], row[nparity:nparity+ndata])
	copy(shards[ndata:ndata+nparity], row[0:nparity])
	return shards
}

// fromLogicalOrder writes reconstructed shards back into RowMap order.
func fromLogicalOrder(shards [][]byte, row [][]byte, ndata, nparity int) {
	copy(row[nparity:nparity+ndata], shards[0:ndata])
	copy(row[0:nparity], shards[ndata:ndata+nparity])
}
