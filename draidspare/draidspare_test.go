package draidspare

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mattmacy/draid/draidvdev"
	"github.com/mattmacy/draid/internal/config"
)

const testAshift = 12

type fakeChild struct {
	buf      []byte
	trim     bool
	readable bool
}

func newFakeChild(size int) *fakeChild { return &fakeChild{buf: make([]byte, size), readable: true} }

func (c *fakeChild) ReadAt(ctx context.Context, offset uint64, dst []byte) error {
	copy(dst, c.buf[offset:offset+uint64(len(dst))])
	return nil
}
func (c *fakeChild) WriteAt(ctx context.Context, offset uint64, src []byte) error {
	copy(c.buf[offset:offset+uint64(len(src))], src)
	return nil
}
func (c *fakeChild) Flush(ctx context.Context) error                      { return nil }
func (c *fakeChild) Trim(ctx context.Context, offset, length uint64) error { return nil }
func (c *fakeChild) Readable() bool                                       { return c.readable }
func (c *fakeChild) SupportsTrim() bool                                   { return c.trim }

func newTestParent(t *testing.T) *draidvdev.TopLevelVdev {
	t.Helper()
	const ndata, nparity, nspares, children, ngroups = 4, 1, 1, 10, 5
	const perChild = 4 << 20

	opened := make([]draidvdev.ChildDevice, children)
	for i := range opened {
		opened[i] = newFakeChild(perChild)
	}
	tlv, err := draidvdev.Open(ndata, nparity, nspares, children, ngroups, testAshift, opened, nil, nil, nil)
	assert.NoError(t, err)
	return tlv
}

func TestParseName_RoundTrip(t *testing.T) {
	n, err := ParseName("draid1-0-0")
	assert.NoError(t, err)
	assert.Equal(t, Name{Parity: 1, VdevID: 0, SpareID: 0}, n)
	assert.Equal(t, "draid1-0-0", n.String())
}

func TestParseName_RejectsMalformed(t *testing.T) {
	for _, bad := range []string{"draid1-0", "raid1-0-0", "draid-0-0", "draid1-0-0-extra"} {
		_, err := ParseName(bad)
		assert.Error(t, err, bad)
	}
}

func TestOpen_ValidatesParityAndSpareID(t *testing.T) {
	parent := newTestParent(t)

	_, err := Open("draid1-0-0", parent, 1, 2)
	assert.NoError(t, err)

	_, err = Open("draid2-0-0", parent, 1, 2) // parity mismatch
	assert.Error(t, err)

	_, err = Open("draid1-0-5", parent, 1, 2) // spare_id out of range (nspares=1)
	assert.Error(t, err)
}

func TestGetChild_ResolvesViaTailColumn(t *testing.T) {
	parent := newTestParent(t)
	spare, err := Open("draid1-0-0", parent, 1, 2)
	assert.NoError(t, err)

	child, err := spare.GetChild(0)
	assert.NoError(t, err)
	assert.NotNil(t, child)
}

func TestIOStart_LabelRangeReadIsZeroed(t *testing.T) {
	parent := newTestParent(t)
	spare, err := Open("draid1-0-0", parent, 1, 2)
	assert.NoError(t, err)

	dst := make([]byte, 64)
	for i := range dst {
		dst[i] = 0xFF
	}
	assert.NoError(t, spare.IOStart(context.Background(), IOKindRead, 0, uint64(len(dst)), dst))
	for _, b := range dst {
		assert.Equal(t, byte(0), b)
	}
}

func TestIOStart_LabelRangeDataWriteRejected(t *testing.T) {
	parent := newTestParent(t)
	spare, err := Open("draid1-0-0", parent, 1, 2)
	assert.NoError(t, err)

	err = spare.IOStart(context.Background(), IOKindWrite, 0, 64, make([]byte, 64))
	assert.Error(t, err)
}

func TestIOStart_LabelRangeProbeWriteIgnored(t *testing.T) {
	parent := newTestParent(t)
	spare, err := Open("draid1-0-0", parent, 1, 2)
	assert.NoError(t, err)

	err = spare.IOStart(context.Background(), IOKindProbeWrite, 0, 64, make([]byte, 64))
	assert.NoError(t, err)
}

func TestIOStart_NonLabelForwardsToChild(t *testing.T) {
	parent := newTestParent(t)
	spare, err := Open("draid1-0-0", parent, 1, 2)
	assert.NoError(t, err)

	offset := config.LabelSize + uint64(parent.Geo.AshiftUnit)
	payload := []byte("spare-forward-test")
	assert.NoError(t, spare.IOStart(context.Background(), IOKindWrite, offset, uint64(len(payload)), payload))

	dst := make([]byte, len(payload))
	assert.NoError(t, spare.IOStart(context.Background(), IOKindRead, offset, uint64(len(dst)), dst))
	assert.Equal(t, payload, dst)
}

func TestIOStart_UnknownIoctlNotSupported(t *testing.T) {
	parent := newTestParent(t)
	spare, err := Open("draid1-0-0", parent, 1, 2)
	assert.NoError(t, err)

	err = spare.IOStart(context.Background(), IOKindUnknownIoctl, 0, 0, nil)
	assert.Error(t, err)
}

func TestIsActive_TogglesViaSetActive(t *testing.T) {
	parent := newTestParent(t)
	spare, err := Open("draid1-0-0", parent, 1, 2)
	assert.NoError(t, err)

	assert.False(t, spare.IsActive())
	spare.SetActive(true)
	assert.True(t, spare.IsActive())
	assert.Equal(t, "ACTIVE", spare.Config().State)
}

// TestStateChange_DrivesSpareActivationThroughParentTLV exercises the
// real production path: the parent TLV's state_change op (spec.md
// §4.4/§6) flips a Spare's active flag through draidvdev.Activatable,
// not a direct SetActive call from the test.
func TestStateChange_DrivesSpareActivationThroughParentTLV(t *testing.T) {
	parent := newTestParent(t)
	spare, err := Open("draid1-0-0", parent, 1, 2)
	assert.NoError(t, err)

	assert.False(t, spare.IsActive())
	assert.NoError(t, parent.StateChange(draidvdev.StateBeginReplace, 3, spare))
	assert.True(t, spare.IsActive())
	assert.Equal(t, 1, parent.Stat().SparesActive)
	assert.Equal(t, draidvdev.ChildDevice(spare), parent.ChildAt(3))

	assert.NoError(t, parent.StateChange(draidvdev.StateEndReplace, 3, spare))
	assert.False(t, spare.IsActive())
	assert.Equal(t, 0, parent.Stat().SparesActive)
}

func TestConfig_ReflectsNameAndGUIDs(t *testing.T) {
	parent := newTestParent(t)
	spare, err := Open("draid1-0-3", parent, 42, 99)
	assert.Error(t, err) // spare_id 3 out of range for nspares=1
	_ = spare

	spare, err = Open("draid1-0-0", parent, 42, 99)
	assert.NoError(t, err)
	cfg := spare.Config()
	assert.Equal(t, uint64(42), cfg.PoolGUID)
	assert.Equal(t, uint64(99), cfg.TopGUID)
	assert.Equal(t, "draid1-0-0", cfg.Name)
	assert.Equal(t, "spare", cfg.Role)
}
