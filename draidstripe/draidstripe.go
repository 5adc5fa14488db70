// Package draidstripe is the stripe builder (SB) from spec.md §4.3:
// for a given I/O it constructs a RowMap, an array of per-column
// descriptors covering full-stripe write, normal read, and
// scrub/resilver read. SB cannot fail intrinsically (spec.md §7); any
// error here is a caller precondition violation (misaligned psize,
// geometry mismatch), not a runtime condition to retry.
package draidstripe

import (
	"github.com/mattmacy/draid/draiderr"
	"github.com/mattmacy/draid/draidgeo"
	"github.com/mattmacy/draid/draidperm"
)

// Role distinguishes a column's place in the stripe.
type Role int

const (
	RoleParity Role = iota
	RoleData
)

// Column is one of RowMap's scols/cols descriptors (spec.md §3).
type Column struct {
	Role        Role
	Index       int // position within the row, [0, scols)
	DeviceIdx   int
	ChildOffset uint64
	// RealSize is the actual payload length; 0 for an unpopulated
	// (pure skip) column.
	RealSize uint64
	// PaddedSize is the on-wire footprint; equal across every
	// populated column after layout (spec.md §4.3's Invariant).
	PaddedSize uint64
	// Buffer is the column's backing bytes: a direct slice of the
	// caller's I/O buffer for full/tight columns, or a composed
	// buffer (real bytes + zero tail) for short/empty columns.
	Buffer []byte
	// SkipOffset is where, within Buffer, the zero-filled skip
	// sector begins; equal to RealSize for short columns, 0 for
	// empty columns, and PaddedSize (no skip) for full columns.
	SkipOffset uint64
}

// RowMap is the per-I/O layout spec.md §3/§4.3 describes.
type RowMap struct {
	SCols        int
	Cols         int
	FirstDataCol int
	SkipStart    int // populated-column count: columns [SkipStart, SCols) are pure skip; stays put when BuildWrite promotes Cols to SCols
	NSkip        int // in ashift-units
	// BigColumns is spec.md §4.3's bc: the count of columns (parity
	// plus the first r data columns) sized q+1 sectors rather than q.
	BigColumns int
	Columns    []Column
}

// decomposition is the (q, r, bc, cols) breakdown spec.md §4.3
// describes for a psize-byte block.
type decomposition struct {
	q, r, bc, cols int
}

func decompose(psizeSectors, ndata, nparity int) decomposition {
	q := psizeSectors / ndata
	r := psizeSectors - q*ndata

	var bc, cols int
	if r != 0 {
		bc = nparity + r
	}
	if q > 0 {
		cols = nparity + ndata
	} else {
		cols = nparity + r
	}
	return decomposition{q: q, r: r, bc: bc, cols: cols}
}

// bigSectors is parity_size in ashift-unit sectors: q, bumped by one
// whenever any data column needs an extra sector (r != 0).
func (d decomposition) bigSectors() int {
	if d.r == 0 {
		return d.q
	}
	return d.q + 1
}

// layoutGeometry carries the per-group physical placement GEO
// computed for this I/O (spec.md §4.2), reused by every column.
type layoutGeometry struct {
	permIndex     int
	groupStartCol int
	rowOffset     uint64
	wrapColumn    int
}

func locate(geo *draidgeo.Geometry, offset uint64) (layoutGeometry, error) {
	perm, startCol, rowOffset, wrapCol, err := geo.LogicalToPhysical(offset)
	if err != nil {
		return layoutGeometry{}, err
	}
	return layoutGeometry{permIndex: perm, groupStartCol: startCol, rowOffset: rowOffset, wrapColumn: wrapCol}, nil
}

func deviceAndOffset(geo *draidgeo.Geometry, pm *draidperm.PermutationMap, lg layoutGeometry, i int) (deviceIdx int, childOffset uint64) {
	col := (lg.groupStartCol + i) % geo.NDisks
	deviceIdx = pm.PermuteID(lg.permIndex, col)
	childOffset = geo.ColumnChildOffset(lg.rowOffset, lg.wrapColumn, i)
	return
}

// BuildWrite lays out a full stripe for psize bytes starting at
// offset, consuming data from buf[0:psize]. Parity columns are
// allocated fresh (zero-filled, ready for draidparity.Codec.Encode);
// big/short/empty data columns are composed per spec.md §4.3. After
// layout Cols is promoted to SCols so parity math sees every column.
func BuildWrite(geo *draidgeo.Geometry, pm *draidperm.PermutationMap, offset uint64, psize uint64, buf []byte) (*RowMap, error) {
	if uint64(len(buf)) < psize {
		return nil, draiderr.New(draiderr.KindInvalidInput, "buffer shorter (%d) than psize (%d)", len(buf), psize)
	}
	if psize%geo.AshiftUnit != 0 {
		return nil, draiderr.New(draiderr.KindInvalidInput, "psize %d is not ashift-unit aligned", psize)
	}

	lg, err := locate(geo, offset)
	if err != nil {
		return nil, err
	}

	psizeSectors := int(psize / geo.AshiftUnit)
	d := decompose(psizeSectors, geo.NData, geo.NParity)
	bigSectors := d.bigSectors()
	paritySize := uint64(bigSectors) * geo.AshiftUnit

	// NSkip (ashift-units, across the whole row) is the padding needed
	// to bring every populated column up to paritySize, plus the
	// fully-skip columns beyond Cols (spec.md §4.3's Invariant).
	totalSectors := psizeSectors + geo.NParity*bigSectors
	nskip := geo.GroupWidth*bigSectors - totalSectors

	rm := &RowMap{
		SCols:        geo.GroupWidth,
		Cols:         d.cols,
		FirstDataCol: geo.NParity,
		SkipStart:    d.cols,
		NSkip:        nskip,
		BigColumns:   d.bc,
		Columns:      make([]Column, geo.GroupWidth),
	}

	for i := range rm.Columns {
		deviceIdx, childOffset := deviceAndOffset(geo, pm, lg, i)
		col := Column{Index: i, DeviceIdx: deviceIdx, ChildOffset: childOffset, PaddedSize: paritySize}

		switch {
		case i < geo.NParity:
			col.Role = RoleParity
			col.Buffer = make([]byte, paritySize)
			col.SkipOffset = paritySize
		default:
			col.Role = RoleData
			dataIdx := i - geo.NParity
			col.Buffer, col.RealSize, col.SkipOffset = buildDataColumn(buf, dataIdx, d, geo.AshiftUnit, paritySize)
		}
		rm.Columns[i] = col
	}

	promoteToFullStripe(rm)
	return rm, nil
}

// buildDataColumn slices or composes the buffer for logical data
// column dataIdx per spec.md §4.3's big/short/empty rules. When q>0
// every data column is populated (big for the first r, baseline q
// sectors for the rest); when q==0 only the first r columns (big, one
// sector each) are populated and the rest are empty.
func buildDataColumn(buf []byte, dataIdx int, d decomposition, ashiftUnit, paritySize uint64) (buffer []byte, realSize uint64, skipOffset uint64) {
	big := d.r != 0 && dataIdx < d.r

	switch {
	case big:
		// Full column: q+1 sectors, exactly paritySize, no padding.
		buffer = sliceAt(buf, dataColumnByteOffset(dataIdx, d, ashiftUnit), paritySize)
		realSize = paritySize
		skipOffset = paritySize

	case d.q > 0:
		// Baseline column: q sectors of real data. Equal to paritySize
		// when r==0 (no padding needed); otherwise short by exactly
		// one sector and backed by a composite buffer with a
		// zero-filled tail.
		sz := uint64(d.q) * ashiftUnit
		data := sliceAt(buf, dataColumnByteOffset(dataIdx, d, ashiftUnit), sz)
		realSize = sz
		skipOffset = sz
		if sz == paritySize {
			buffer = data
			break
		}
		buffer = make([]byte, paritySize)
		copy(buffer, data)

	default:
		// Empty column: pure skip, one zero-filled sector (paritySize
		// is exactly one sector whenever this case is reached, since
		// q == 0).
		buffer = make([]byte, paritySize)
		realSize = 0
		skipOffset = 0
	}
	return
}

// sliceAt returns buf[offset : offset+want], clamped to buf's length
// so a short caller buffer degrades to a shorter (still valid) slice
// rather than panicking.
func sliceAt(buf []byte, offset, want uint64) []byte {
	end := offset + want
	if end > uint64(len(buf)) {
		end = uint64(len(buf))
	}
	if offset > end {
		offset = end
	}
	return buf[offset:end]
}

// dataColumnByteOffset returns where column dataIdx's bytes begin
// within the logical I/O buffer: the r big columns are laid out
// first (each bigSectors*ashiftUnit bytes), then the remaining
// baseline columns (each q*ashiftUnit bytes).
func dataColumnByteOffset(dataIdx int, d decomposition, ashiftUnit uint64) uint64 {
	bigSectors := uint64(d.bigSectors())
	if dataIdx < d.r {
		return uint64(dataIdx) * bigSectors * ashiftUnit
	}
	bigBytes := uint64(d.r) * bigSectors * ashiftUnit
	rest := uint64(dataIdx-d.r) * uint64(d.q) * ashiftUnit
	return bigBytes + rest
}

// promoteToFullStripe marks every column as part of the stripe parity
// math must see (spec.md §4.3: "After layout cols is promoted to
// scols so parity math sees a full stripe").
func promoteToFullStripe(rm *RowMap) {
	// Columns slice already spans SCols; nothing further to mutate
	// beyond exposing Cols==SCols to callers that only check Cols.
	rm.Cols = rm.SCols
}

// BuildRead lays out a normal (tight) read: only the populated data
// columns are mapped, as slices of the caller's destination buffer;
// parity columns are left unpopulated unless reconstruction is later
// needed (see BuildScrub).
func BuildRead(geo *draidgeo.Geometry, pm *draidperm.PermutationMap, offset uint64, psize uint64, dst []byte) (*RowMap, error) {
	if psize%geo.AshiftUnit != 0 {
		return nil, draiderr.New(draiderr.KindInvalidInput, "psize %d is not ashift-unit aligned", psize)
	}
	lg, err := locate(geo, offset)
	if err != nil {
		return nil, err
	}

	psizeSectors := int(psize / geo.AshiftUnit)
	d := decompose(psizeSectors, geo.NData, geo.NParity)

	rm := &RowMap{
		SCols:        geo.GroupWidth,
		Cols:         d.cols,
		FirstDataCol: geo.NParity,
		SkipStart:    d.cols,
		BigColumns:   d.bc,
		Columns:      make([]Column, d.cols),
	}

	for i := 0; i < d.cols; i++ {
		deviceIdx, childOffset := deviceAndOffset(geo, pm, lg, i)
		col := Column{Index: i, DeviceIdx: deviceIdx, ChildOffset: childOffset}
		if i < geo.NParity {
			col.Role = RoleParity
			// Left unpopulated for a normal read.
		} else {
			col.Role = RoleData
			dataIdx := i - geo.NParity
			realSize := dataColumnRealSize(dataIdx, d, geo.AshiftUnit)
			start := dataColumnByteOffset(dataIdx, d, geo.AshiftUnit)
			end := start + realSize
			if end > uint64(len(dst)) {
				end = uint64(len(dst))
			}
			col.Buffer = dst[start:end]
			col.RealSize = realSize
			col.PaddedSize = realSize
		}
		rm.Columns[i] = col
	}
	return rm, nil
}

func dataColumnRealSize(dataIdx int, d decomposition, ashiftUnit uint64) uint64 {
	if d.r != 0 && dataIdx < d.r {
		return uint64(d.q+1) * ashiftUnit
	}
	return uint64(d.q) * ashiftUnit
}

// BuildScrub re-enters the write-shaped layout and gives every column
// with skip sectors a full PaddedSize buffer, so scrub/resilver reads,
// checksums, and repairs skip sectors along with the data (spec.md
// §4.3). It allocates one linear buffer of NSkip*ashift-unit bytes and
// copies consecutive pieces of it into those per-column buffers; the
// column buffers do not alias that linear buffer. Scrub must only be entered when
// it is safe to read skip sectors — the caller passing the
// scrub/resilver flag is what makes that safe (spec.md §4.3/§9).
func BuildScrub(geo *draidgeo.Geometry, pm *draidperm.PermutationMap, offset uint64, psize uint64, buf []byte) (*RowMap, error) {
	rm, err := BuildWrite(geo, pm, offset, psize, buf)
	if err != nil {
		return nil, err
	}

	if rm.NSkip == 0 {
		return rm, nil
	}

	skipBuf := make([]byte, uint64(rm.NSkip)*geo.AshiftUnit)
	cursor := uint64(0)
	for i := range rm.Columns {
		col := &rm.Columns[i]
		if col.SkipOffset >= col.PaddedSize {
			continue
		}
		skipLen := col.PaddedSize - col.SkipOffset
		composite := make([]byte, col.PaddedSize)
		copy(composite, col.Buffer[:col.SkipOffset])
		copy(composite[col.SkipOffset:], skipBuf[cursor:cursor+skipLen])
		col.Buffer = composite
		cursor += skipLen
	}
	return rm, nil
}
