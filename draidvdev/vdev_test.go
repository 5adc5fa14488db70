package draidvdev

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mattmacy/draid/draidstripe"
)

const testAshift = 12

// memChild is an in-memory ChildDevice fixture for exercising
// TopLevelVdev without real storage, modeled on the teacher's
// in-memory disk slices (internal/raid/base.go's disk buffers).
type memChild struct {
	buf      []byte
	readable bool
	failRead bool
}

func newMemChild(size int) *memChild {
	return &memChild{buf: make([]byte, size), readable: true}
}

func (m *memChild) ReadAt(ctx context.Context, offset uint64, dst []byte) error {
	if m.failRead {
		return assertErr
	}
	copy(dst, m.buf[offset:offset+uint64(len(dst))])
	return nil
}

func (m *memChild) WriteAt(ctx context.Context, offset uint64, src []byte) error {
	copy(m.buf[offset:offset+uint64(len(src))], src)
	return nil
}

func (m *memChild) Flush(ctx context.Context) error                      { return nil }
func (m *memChild) Trim(ctx context.Context, offset, length uint64) error { return nil }
func (m *memChild) Readable() bool                                       { return m.readable }
func (m *memChild) SupportsTrim() bool                                   { return true }

var assertErr = errSentinel("simulated read failure")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

// memSpareChild fakes a distributed spare mid-replace: it implements
// Activatable/ReplacingChild the same way draidspare.Spare does (via
// SetActive/IsActive), without an import cycle (draidspare imports
// draidvdev, so this package can't import it back).
type memSpareChild struct {
	memChild
	active bool
}

func newMemSpareChild(size int) *memSpareChild {
	return &memSpareChild{memChild: memChild{buf: make([]byte, size), readable: true}}
}

func (s *memSpareChild) SetActive(active bool) { s.active = active }
func (s *memSpareChild) IsActive() bool         { return s.active }

func newTestVdev(t *testing.T) (*TopLevelVdev, []*memChild) {
	t.Helper()
	const ndata, nparity, nspares, children, ngroups = 4, 1, 1, 10, 5
	const perChildBytes = 1 << 20

	mems := make([]*memChild, children)
	opened := make([]ChildDevice, children)
	for i := range mems {
		mems[i] = newMemChild(perChildBytes)
		opened[i] = mems[i]
	}

	tlv, err := Open(ndata, nparity, nspares, children, ngroups, testAshift, opened, nil, nil, nil)
	assert.NoError(t, err)
	return tlv, mems
}

func TestOpen_TooManyFailedChildrenRejected(t *testing.T) {
	const ndata, nparity, nspares, children, ngroups = 4, 1, 1, 10, 5
	opened := make([]ChildDevice, children)
	for i := range opened {
		opened[i] = newMemChild(1 << 20)
	}
	opened[0] = nil
	opened[1] = nil // 2 failed opens > nparity(1)

	_, err := Open(ndata, nparity, nspares, children, ngroups, testAshift, opened, nil, nil, nil)
	assert.Error(t, err)
}

func TestWriteThenRead_RoundTrip(t *testing.T) {
	tlv, _ := newTestVdev(t)
	ctx := context.Background()

	input := []byte("the quick brown fox jumps over the lazy dog 0123")
	padded := make([]byte, 4096)
	copy(padded, input)

	assert.NoError(t, tlv.Write(ctx, 0, uint64(len(padded)), padded))

	dst := make([]byte, len(padded))
	assert.NoError(t, tlv.Read(ctx, 0, uint64(len(padded)), dst, FlagNormal))
	assert.Equal(t, padded, dst)
}

func TestRead_ReconstructsAfterOneChildFailure(t *testing.T) {
	tlv, mems := newTestVdev(t)
	ctx := context.Background()

	payload := make([]byte, 8192)
	for i := range payload {
		payload[i] = byte(i)
	}
	assert.NoError(t, tlv.Write(ctx, 0, uint64(len(payload)), payload))

	// Fail the child holding the first data column (at offset 0 the
	// permutation is the identity row, so column i lives on child i);
	// with nparity=1 a single loss is tolerable via reconstruction.
	mems[1].readable = false

	dst := make([]byte, len(payload))
	assert.NoError(t, tlv.Read(ctx, 0, uint64(len(payload)), dst, FlagNormal))
	assert.Equal(t, payload, dst)
}

func TestRead_FailsWhenTooManyChildrenDown(t *testing.T) {
	tlv, mems := newTestVdev(t)
	ctx := context.Background()

	payload := make([]byte, 4096)
	assert.NoError(t, tlv.Write(ctx, 0, uint64(len(payload)), payload))

	mems[0].readable = false
	mems[1].readable = false

	dst := make([]byte, len(payload))
	err := tlv.Read(ctx, 0, uint64(len(payload)), dst, FlagNormal)
	assert.Error(t, err)
}

func TestStat_ReportsDegradedColumns(t *testing.T) {
	tlv, mems := newTestVdev(t)
	mems[3].readable = false

	s := tlv.Stat()
	assert.Equal(t, 1, s.ColumnsDegraded)
}

func TestXlate_RoundTripsWithinGroup(t *testing.T) {
	tlv, _ := newTestVdev(t)

	perm, groupStartCol, rowOffset, wrapCol, err := tlv.Geo.LogicalToPhysical(0)
	assert.NoError(t, err)
	childIdx := tlv.Map.PermuteID(perm, groupStartCol)

	childOffset, childLength, touches := tlv.Xlate(childIdx, 0, tlv.Geo.RowSize)
	assert.True(t, touches)
	assert.Equal(t, tlv.Geo.RowSize, childLength)
	assert.Equal(t, rowOffset, childOffset)
	_ = wrapCol
}

func TestAssertSingleGroup_RejectsCrossGroupIO(t *testing.T) {
	tlv, _ := newTestVdev(t)
	err := tlv.assertSingleGroup(tlv.Geo.GroupSize-tlv.Geo.AshiftUnit, tlv.Geo.AshiftUnit*2)
	assert.Error(t, err)
}

func TestStateChange_BeginEndReplace_ActivatesSpareAndTracksCount(t *testing.T) {
	tlv, _ := newTestVdev(t)
	spare := newMemSpareChild(1 << 20)

	assert.NoError(t, tlv.StateChange(StateBeginReplace, 0, spare))
	assert.True(t, spare.IsActive())
	assert.Equal(t, 1, tlv.Stat().SparesActive)
	assert.True(t, tlv.Stat().ResilverInProgress)
	assert.Equal(t, ChildDevice(spare), tlv.ChildAt(0))

	assert.Error(t, tlv.StateChange(StateBeginReplace, 0, spare)) // already being replaced

	assert.NoError(t, tlv.StateChange(StateEndReplace, 0, spare))
	assert.False(t, spare.IsActive())
	assert.Equal(t, 0, tlv.Stat().SparesActive)
	assert.False(t, tlv.Stat().ResilverInProgress)
	assert.Equal(t, ChildDevice(spare), tlv.ChildAt(0)) // spare stays installed

	assert.Error(t, tlv.StateChange(StateEndReplace, 0, spare)) // no longer being replaced
}

func TestNeedResilver_TrueWhenMultipleSparesActive(t *testing.T) {
	tlv, _ := newTestVdev(t)
	s1 := newMemSpareChild(1 << 20)
	s2 := newMemSpareChild(1 << 20)

	assert.False(t, tlv.NeedResilver(0, 1, true))

	assert.NoError(t, tlv.StateChange(StateBeginReplace, 0, s1))
	assert.False(t, tlv.NeedResilver(0, 1, true)) // one spare active is not a double-fault

	assert.NoError(t, tlv.StateChange(StateBeginReplace, 1, s2))
	assert.True(t, tlv.NeedResilver(0, 1, true)) // two spares active at once
}

func TestDispatch_MarksColumnRepairForActiveSpareDuringResilver(t *testing.T) {
	tlv, mems := newTestVdev(t)
	ctx := context.Background()

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	assert.NoError(t, tlv.Write(ctx, 0, uint64(len(payload)), payload))

	spare := newMemSpareChild(len(mems[0].buf))
	assert.NoError(t, tlv.StateChange(StateBeginReplace, 0, spare))

	rm, err := draidstripe.BuildScrub(tlv.Geo, tlv.Map, 0, uint64(len(payload)), make([]byte, len(payload)))
	assert.NoError(t, err)
	row := make([][]byte, rm.SCols)
	for i, col := range rm.Columns {
		row[i] = col.Buffer
	}

	results := tlv.dispatch(ctx, rm, row, true, FlagResilver)

	found := false
	for _, res := range results {
		if res.DeviceIdx == 0 {
			assert.Equal(t, ColumnRepair, res.State)
			found = true
		}
	}
	assert.True(t, found, "expected a column targeting device 0 in this stripe")
}
