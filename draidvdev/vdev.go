// Package draidvdev is the top-level dRAID vdev (TLV) from spec.md
// §4.4: the parent device that owns the configuration, dispatches
// child I/Os using the stripe builder's row map, invokes parity math,
// tracks degradation, and surfaces the block-sizing hooks the rest of
// a pool needs (asize, metaslab alignment, max rebuildable size).
package draidvdev

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mattmacy/draid/draiderr"
	"github.com/mattmacy/draid/draidgeo"
	"github.com/mattmacy/draid/draidparity"
	"github.com/mattmacy/draid/draidperm"
	"github.com/mattmacy/draid/draidstripe"
)

// TopLevelVdev is the dRAID parent device. It owns its real children
// (lifetime = its own, per spec.md §4/§9's ownership model); spares
// are appended after real children are opened, exactly as spec.md
// §4.4 requires ("open all non-spare children, then open spares so
// spares see the final child sizes").
type TopLevelVdev struct {
	Geo *draidgeo.Geometry
	Map *draidperm.PermutationMap

	mu       sync.RWMutex
	children []ChildDevice // index == device index into the permutation
	dtl      DTL
	codec    *draidparity.Codec

	log *logrus.Entry
	met *Metrics

	// replacing maps a child index currently under replacement to the
	// spare absorbing its writes, populated/drained by StateChange.
	replacing          map[int]ChildDevice
	sparesActive       int
	resilverInProgress bool
}

// Open builds the DraidConfig/Geometry and PermutationMap, then
// records the already-opened children (real children first, spares
// appended last — the caller is responsible for opening each
// ChildDevice; this mirrors spec.md §4.4's ordering requirement
// without dRAID owning the underlying device-open syscalls, which are
// outside this module's scope per spec.md §1).
//
// Tolerates up to nparity failed opens (represented as a nil entry in
// children); more than that fails with NoReplicas.
func Open(ndata, nparity, nspares, children int, ngroups int, ashift uint, opened []ChildDevice, dtl DTL, log *logrus.Entry, met *Metrics) (*TopLevelVdev, error) {
	geo, err := draidgeo.New(ndata, nparity, nspares, children, ngroups, ashift)
	if err != nil {
		return nil, err
	}
	if len(opened) != children {
		return nil, draiderr.New(draiderr.KindInvalidInput, "expected %d opened children, got %d", children, len(opened))
	}

	seed, chk, nperms, err := draidperm.LookupMap(children)
	if err != nil {
		return nil, err
	}
	pm, err := draidperm.Generate(children, seed, nperms, chk)
	if err != nil {
		return nil, err
	}

	failed := 0
	for _, c := range opened {
		if c == nil {
			failed++
		}
	}
	if failed > nparity {
		return nil, draiderr.New(draiderr.KindNoReplicas, "children-open_failed < ndata+nparity: %d opens failed, only %d parity columns tolerated", failed, nparity)
	}

	codec, err := draidparity.NewCodec(ndata, nparity)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	tlv := &TopLevelVdev{
		Geo:      geo,
		Map:      pm,
		children: opened,
		dtl:      dtl,
		codec:    codec,
		log:      log,
		met:      met,
	}
	return tlv, nil
}

// Close tears down the vdev's reference to its children. The
// DraidConfig/PermutationMap are not reopen-persisted: a subsequent
// Open rebuilds them (spec.md §4.4).
func (t *TopLevelVdev) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.children = nil
}

// ChildAt returns the i'th child (nil if out of range or that child
// failed to open), for collaborators outside this package — namely
// draidspare's get_child tail-permutation lookup.
func (t *TopLevelVdev) ChildAt(i int) ChildDevice {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.children) {
		return nil
	}
	return t.children[i]
}

// StateChangeKind distinguishes the transitions state_change can drive a
// column through (spec.md §6/§9's operation list, §156/§202).
type StateChangeKind int

const (
	// StateBeginReplace starts a spare absorbing writes for childIdx.
	StateBeginReplace StateChangeKind = iota
	// StateEndReplace finishes a replace: the spare becomes childIdx's
	// permanent occupant and stops reporting itself as active.
	StateEndReplace
)

// Activatable is implemented by a spare ChildDevice that tracks whether
// it is currently absorbing writes for a column under replacement
// (spec.md §4.5's is_active); StateChange drives it.
type Activatable interface {
	SetActive(active bool)
}

// ReplacingChild is implemented by a child device that can report
// whether it is presently absorbing writes for a replaced column — a
// distributed spare mid-replace. dispatch consults it to mark resilver
// columns for repair (spec.md §4.4: "if resilvering and a column's
// target happens to be a spare sitting on a device being replaced, mark
// the column for repair").
type ReplacingChild interface {
	IsActive() bool
}

// StateChange begins or ends a replace of childIdx by spare (spec.md
// §4.4/§6's state_change op). Beginning a replace installs the spare
// as childIdx's occupant right away (spares absorb writes the moment a
// replace starts) and activates it (if it implements Activatable),
// counting it in sparesActive — which feeds NeedResilver's "multiple
// spares active" guard, Stat's SparesActive gauge, and dispatch's
// repair-marking rule. Ending a replace deactivates the spare; it
// remains childIdx's occupant, now as an ordinary column target.
func (t *TopLevelVdev) StateChange(kind StateChangeKind, childIdx int, spare ChildDevice) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if childIdx < 0 || childIdx >= len(t.children) {
		return draiderr.New(draiderr.KindInvalidInput, "state_change: child index %d out of range", childIdx)
	}

	switch kind {
	case StateBeginReplace:
		if t.replacing == nil {
			t.replacing = make(map[int]ChildDevice)
		}
		if _, already := t.replacing[childIdx]; already {
			return draiderr.New(draiderr.KindInvalidInput, "state_change: child %d is already being replaced", childIdx)
		}
		t.replacing[childIdx] = spare
		t.children[childIdx] = spare
		t.sparesActive++
		t.resilverInProgress = true
		if a, ok := spare.(Activatable); ok {
			a.SetActive(true)
		}
		return nil

	case StateEndReplace:
		spareDev, ok := t.replacing[childIdx]
		if !ok {
			return draiderr.New(draiderr.KindInvalidInput, "state_change: child %d is not being replaced", childIdx)
		}
		delete(t.replacing, childIdx)
		t.sparesActive--
		if t.sparesActive == 0 {
			t.resilverInProgress = false
		}
		if a, ok := spareDev.(Activatable); ok {
			a.SetActive(false)
		}
		return nil

	default:
		return draiderr.New(draiderr.KindInvalidInput, "state_change: unrecognized kind %d", kind)
	}
}

// Asize returns the allocated size for a psize-byte block.
func (t *TopLevelVdev) Asize(psize uint64) uint64 { return t.Geo.Asize(psize) }

// MetaslabInit rounds (start, size) to groupwidth*ashift-unit.
func (t *TopLevelVdev) MetaslabInit(start, size uint64) (uint64, uint64) {
	return t.Geo.MetaslabInit(start, size)
}

// MaxRebuildableAsize returns the largest psize whose rebuild I/O
// aligns within maxSegment.
func (t *TopLevelVdev) MaxRebuildableAsize(maxSegment uint64) uint64 {
	return t.Geo.MaxRebuildable(maxSegment)
}

// Xlate returns the physical range on child that holds its column of
// the group containing offset: the column's start offset on the child
// for that group, with length RowSize. It returns (0, 0, false) if the
// child holds no column of that group. The range is per group, not per
// byte: the position of offset within the group and length do not
// narrow it. Translation never spans more than one group (spec.md
// §4.4).
func (t *TopLevelVdev) Xlate(childIdx int, offset, length uint64) (childOffset, childLength uint64, touches bool) {
	group := t.Geo.OffsetToGroup(offset)
	groupEnd := t.Geo.GroupToOffset(group + 1)
	if offset+length > groupEnd {
		length = groupEnd - offset
	}

	perm, groupStartCol, rowOffset, wrapCol, err := t.Geo.LogicalToPhysical(t.Geo.GroupToOffset(group))
	if err != nil {
		return 0, 0, false
	}

	for i := 0; i < t.Geo.GroupWidth; i++ {
		col := (groupStartCol + i) % t.Geo.NDisks
		if t.Map.PermuteID(perm, col) != childIdx {
			continue
		}
		return t.Geo.ColumnChildOffset(rowOffset, wrapCol, i), t.Geo.RowSize, true
	}
	return 0, 0, false
}

// NeedResilver reports whether a block must be rebuilt, per spec.md
// §4.4: true when multiple spares are simultaneously active (a
// precaution against rebuild double-faults), OR phys_birth is
// unknown (sequential rebuild: fall back to group degradation), OR
// the DTL marks the txg as partial AND the group is degraded.
func (t *TopLevelVdev) NeedResilver(offset uint64, txg uint64, physBirthKnown bool) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.sparesActive > 1 {
		return true
	}
	if !physBirthKnown {
		return t.groupDegradedLocked(offset)
	}
	if t.dtl != nil && t.dtl.Contains(DTLPartial, txg, offset, t.Geo.RowSize) {
		return t.groupDegradedLocked(offset)
	}
	return false
}

func (t *TopLevelVdev) groupDegradedLocked(offset uint64) bool {
	perm, groupStartCol, _, _, err := t.Geo.LogicalToPhysical(t.Geo.GroupToOffset(t.Geo.OffsetToGroup(offset)))
	if err != nil {
		return false
	}
	failed := 0
	for i := 0; i < t.Geo.GroupWidth; i++ {
		col := (groupStartCol + i) % t.Geo.NDisks
		dev := t.Map.PermuteID(perm, col)
		if dev >= len(t.children) || t.children[dev] == nil || !t.children[dev].Readable() {
			failed++
		}
	}
	return failed > 0
}

// Stat returns a point-in-time degradation snapshot (SPEC_FULL §4).
func (t *TopLevelVdev) Stat() Stat {
	t.mu.RLock()
	defer t.mu.RUnlock()

	degraded := 0
	for _, c := range t.children {
		if c == nil || !c.Readable() {
			degraded++
		}
	}
	s := Stat{
		ColumnsDegraded:    degraded,
		SparesActive:       t.sparesActive,
		ResilverInProgress: t.resilverInProgress,
	}
	if t.met != nil {
		t.met.observe(s)
	}
	return s
}

// Write performs a full-stripe write: build the row map, fill parity,
// dispatch one child I/O per column (spec.md §4.4's io_start/io_done
// for the write path, folded into one call since this module has no
// separate async I/O pipeline to hand off to).
func (t *TopLevelVdev) Write(ctx context.Context, offset uint64, psize uint64, buf []byte) error {
	if err := t.assertSingleGroup(offset, psize); err != nil {
		return err
	}

	rm, err := draidstripe.BuildWrite(t.Geo, t.Map, offset, psize, buf)
	if err != nil {
		return err
	}

	row := make([][]byte, rm.SCols)
	for i, col := range rm.Columns {
		row[i] = col.Buffer
	}
	if err := t.codec.Encode(row); err != nil {
		return err
	}

	results := t.dispatch(ctx, rm, row, false, FlagNormal)
	return t.writeCompletion(results)
}

// Read performs a normal read, expanding to the scrub layout and
// reconstructing via parity if any populated column comes back
// missing or stale (spec.md §4.4's io_done: "Checksum failures on a
// normal read trigger re-entry with the expanded (scrub) map and a
// reconstruction attempt").
func (t *TopLevelVdev) Read(ctx context.Context, offset uint64, psize uint64, dst []byte, flags IOFlag) error {
	if err := t.assertSingleGroup(offset, psize); err != nil {
		return err
	}

	scrub := flags.Has(FlagScrub) || flags.Has(FlagResilver) || flags.Has(FlagRebuild)

	var rm *draidstripe.RowMap
	var err error
	if scrub {
		rm, err = draidstripe.BuildScrub(t.Geo, t.Map, offset, psize, make([]byte, psize))
	} else {
		rm, err = draidstripe.BuildRead(t.Geo, t.Map, offset, psize, dst)
	}
	if err != nil {
		return err
	}

	row := make([][]byte, rm.SCols)
	for i := range row {
		if i < len(rm.Columns) {
			row[i] = rm.Columns[i].Buffer
		}
	}

	results := t.dispatch(ctx, rm, row, true, flags)

	missing := 0
	for i, res := range results {
		if res.State != ColumnCompleted && res.State != ColumnRepair {
			row[i] = nil
			missing++
		}
	}

	if missing == 0 {
		copy(dst, flattenData(rm, row))
		return nil
	}
	if missing > t.Geo.NParity {
		return draiderr.New(draiderr.KindIoError, "read failed: %d columns unavailable, only %d parity columns available", missing, t.Geo.NParity)
	}
	if scrub {
		if err := t.codec.Reconstruct(row); err != nil {
			return err
		}
		copy(dst, flattenData(rm, row))
		return nil
	}

	// Normal-read reconstruction re-enters with the expanded (scrub)
	// map so every column the parity math needs — including ones the
	// tight read never touched — gets read before Reconstruct runs
	// (spec.md §4.4).
	rm2, err := draidstripe.BuildScrub(t.Geo, t.Map, offset, psize, make([]byte, psize))
	if err != nil {
		return err
	}
	row2 := make([][]byte, rm2.SCols)
	for i, col := range rm2.Columns {
		row2[i] = col.Buffer
	}
	results2 := t.dispatch(ctx, rm2, row2, true, flags)
	missing2 := 0
	for i, res := range results2 {
		if res.State != ColumnCompleted && res.State != ColumnRepair {
			row2[i] = nil
			missing2++
		}
	}
	if missing2 > t.Geo.NParity {
		return draiderr.New(draiderr.KindIoError, "reconstruction read failed: %d columns unavailable, only %d parity columns available", missing2, t.Geo.NParity)
	}
	if err := t.codec.Reconstruct(row2); err != nil {
		return err
	}
	copy(dst, flattenData(rm2, row2))
	return nil
}

// flattenData reassembles the logical payload from a full (SCols)
// row, in RowMap column order, trimming each column's skip padding.
func flattenData(rm *draidstripe.RowMap, row [][]byte) []byte {
	out := make([]byte, 0, rm.SCols*int(t0(rm)))
	for i := rm.FirstDataCol; i < rm.SkipStart; i++ {
		col := rm.Columns[i]
		if row[i] == nil {
			continue
		}
		realSize := col.RealSize
		if realSize == 0 {
			realSize = uint64(len(row[i]))
		}
		if realSize > uint64(len(row[i])) {
			realSize = uint64(len(row[i]))
		}
		out = append(out, row[i][:realSize]...)
	}
	return out
}

func t0(rm *draidstripe.RowMap) uint64 {
	if len(rm.Columns) == 0 {
		return 0
	}
	return rm.Columns[0].PaddedSize
}

// dispatch issues one child I/O per column concurrently and waits for
// all to complete (spec.md §5: "dRAID promises only that the parent
// I/O completes after every child completes. No ordering between
// columns"). For reads, columns are started in reverse order, parity
// last (spec.md §4.4); the I/Os then run concurrently, so this orders
// only their start, not their completion. On a resilver/rebuild read, a column whose target reports
// itself active (a spare mid-replace) completes as ColumnRepair rather
// than ColumnCompleted, per spec.md §4.4's repair-marking rule.
func (t *TopLevelVdev) dispatch(ctx context.Context, rm *draidstripe.RowMap, row [][]byte, isRead bool, flags IOFlag) []ColumnResult {
	t.mu.RLock()
	children := t.children
	t.mu.RUnlock()

	resilver := isRead && (flags.Has(FlagResilver) || flags.Has(FlagRebuild))

	results := make([]ColumnResult, len(rm.Columns))
	var wg sync.WaitGroup

	order := make([]int, len(rm.Columns))
	for i := range order {
		order[i] = i
	}
	if isRead {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}

	for _, idx := range order {
		idx := idx
		col := rm.Columns[idx]
		results[idx] = ColumnResult{DeviceIdx: col.DeviceIdx, State: ColumnPending}

		// A nil row entry means the column wasn't laid out for this
		// I/O at all — a normal (non-scrub) read leaves parity columns
		// unpopulated (draidstripe.BuildRead). Nothing to dispatch, and
		// it doesn't count against the parity budget.
		if row[idx] == nil {
			results[idx].State = ColumnCompleted
			continue
		}

		var child ChildDevice
		if col.DeviceIdx < len(children) {
			child = children[col.DeviceIdx]
		}
		if child == nil || !child.Readable() {
			results[idx].State = ColumnSkippedNoEntry
			continue
		}
		if t.dtl != nil && t.dtl.Contains(DTLMissing, 0, col.ChildOffset, col.PaddedSize) {
			results[idx].State = ColumnSkippedStale
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if isRead {
				err = child.ReadAt(ctx, col.ChildOffset, row[idx])
			} else {
				err = child.WriteAt(ctx, col.ChildOffset, row[idx])
			}
			if err != nil {
				results[idx].State = ColumnSkippedNoEntry
				results[idx].Err = err
				row[idx] = nil
				t.met.RecordColumnError()
				return
			}
			if resilver {
				if rc, ok := child.(ReplacingChild); ok && rc.IsActive() {
					results[idx].State = ColumnRepair
					return
				}
			}
			results[idx].State = ColumnCompleted
		}()
	}
	wg.Wait()
	return results
}

// writeCompletion is the write-path analogue of io_done: per-column
// errors are attributed but don't fail the stripe until parity can't
// cover them (spec.md §5/§7).
func (t *TopLevelVdev) writeCompletion(results []ColumnResult) error {
	failed := 0
	for _, r := range results {
		if r.State != ColumnCompleted {
			failed++
		}
	}
	if failed > t.Geo.NParity {
		return draiderr.New(draiderr.KindIoError, "write failed: %d columns failed, only %d parity columns available", failed, t.Geo.NParity)
	}
	return nil
}

func (t *TopLevelVdev) assertSingleGroup(offset, psize uint64) error {
	startGroup := t.Geo.OffsetToGroup(offset)
	if psize == 0 {
		return nil
	}
	endGroup := t.Geo.OffsetToGroup(offset + psize - 1)
	if startGroup != endGroup {
		return draiderr.New(draiderr.KindInvalidInput, "I/O [%d, %d) spans groups %d and %d", offset, offset+psize, startGroup, endGroup)
	}
	return nil
}
