// Package draidspare is the distributed spare (DSP) from spec.md
// §4.5: a virtual leaf that resolves any offset, via the tail
// spare-id column of the permutation, to a concrete child and
// forwards the I/O — except for the label-reserved regions at either
// end, which it simulates without touching a child at all.
package draidspare

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/mattmacy/draid/draiderr"
	"github.com/mattmacy/draid/draidvdev"
	"github.com/mattmacy/draid/internal/config"
)

// Name is the parsed form of a DSP's textual identity,
// "draid<P>-<VDEV_ID>-<SPARE_ID>" (spec.md §4.5).
type Name struct {
	Parity  int
	VdevID  int
	SpareID int
}

var nameRE = regexp.MustCompile(`^draid([0-9]+)-([0-9]+)-([0-9]+)$`)

// ParseName parses a DSP identity string.
func ParseName(s string) (Name, error) {
	m := nameRE.FindStringSubmatch(s)
	if m == nil {
		return Name{}, draiderr.New(draiderr.KindInvalidInput, "malformed spare name %q", s)
	}
	parity, _ := strconv.Atoi(m[1])
	vdevID, _ := strconv.Atoi(m[2])
	spareID, _ := strconv.Atoi(m[3])
	return Name{Parity: parity, VdevID: vdevID, SpareID: spareID}, nil
}

// String formats a Name back to its canonical textual form.
func (n Name) String() string {
	return fmt.Sprintf("draid%d-%d-%d", n.Parity, n.VdevID, n.SpareID)
}

// State is the DSP's Active/Spare status (spec.md §4.5's config op).
type State int

const (
	StateSpare State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "ACTIVE"
	}
	return "SPARE"
}

// Config is the label-equivalent descriptor spec.md §4.5's config op
// synthesizes, exposed as a JSON-renderable struct per SPEC_FULL §4.
type Config struct {
	Role     string `json:"role"`
	PoolGUID uint64 `json:"pool_guid"`
	TopGUID  uint64 `json:"top_guid"`
	State    string `json:"state"`
	Name     string `json:"name"`
}

// Spare is a distributed spare bound to a parent TLV.
type Spare struct {
	name     Name
	parent   *draidvdev.TopLevelVdev
	poolGUID uint64
	topGUID  uint64
	active   bool
}

// Open parses name, locates and validates the parent TLV (matching
// nparity, spare_id within range), and records the back-reference
// (spec.md §4.5's open op).
func Open(name string, parent *draidvdev.TopLevelVdev, poolGUID, topGUID uint64) (*Spare, error) {
	n, err := ParseName(name)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, draiderr.New(draiderr.KindInvalidInput, "spare %q has no parent vdev", name)
	}
	if n.Parity != parent.Geo.NParity {
		return nil, draiderr.New(draiderr.KindInvalidInput, "spare %q parity %d does not match parent nparity %d", name, n.Parity, parent.Geo.NParity)
	}
	if n.SpareID < 0 || n.SpareID >= parent.Geo.NSpares {
		return nil, draiderr.New(draiderr.KindInvalidInput, "spare %q spare_id out of range [0, %d)", name, parent.Geo.NSpares)
	}
	return &Spare{name: n, parent: parent, poolGUID: poolGUID, topGUID: topGUID}, nil
}

// GetChild resolves a slice-relative offset to the concrete target
// child device, per spec.md §4.5: perm = offset / slice_size_per_disk;
// (base, iter) = PE.get_perm(perm); child = base[children-1-spare_id]
// permuted by iter. If that child is itself a distributed spare, its
// own ChildDevice methods (ReadAt etc.) resolve the rest — no explicit
// recursion is needed here.
func (s *Spare) GetChild(offset uint64) (draidvdev.ChildDevice, error) {
	geo := s.parent.Geo
	perm := int(offset / geo.SliceSizePerDisk)
	column := geo.Children - 1 - s.name.SpareID
	devIdx := s.parent.Map.PermuteID(perm, column)
	child := s.parent.ChildAt(devIdx)
	if child == nil {
		return nil, draiderr.New(draiderr.KindNoEntry, "spare %s: target child %d not open", s.name, devIdx)
	}
	return child, nil
}

func (s *Spare) inLabelRange(offset, length uint64) bool {
	if offset < config.LabelSize {
		return true
	}
	end := offset + length
	usable := s.usableSize()
	return end > usable-config.LabelSize
}

// usableSize approximates the virtual leaf's addressable span as one
// full slice; dRAID's metaslab allocator (out of scope per spec.md
// §1) owns the real figure.
func (s *Spare) usableSize() uint64 {
	return s.parent.Geo.SliceSizePerDisk
}

// IOKind distinguishes the request classes spec.md §4.5's io_start
// switches on.
type IOKind int

const (
	IOKindRead IOKind = iota
	IOKindWrite
	IOKindProbeWrite
	IOKindConfigWrite
	IOKindFlush
	IOKindTrim
	IOKindUnknownIoctl
)

// IOStart dispatches one request per spec.md §4.5's partitioning
// rule: label ranges are simulated, non-label ranges forward to
// GetChild, trim requires child support, unknown ioctls fail with
// NotSupported, and flush broadcasts to every real child.
func (s *Spare) IOStart(ctx context.Context, kind IOKind, offset, length uint64, buf []byte) error {
	switch kind {
	case IOKindUnknownIoctl:
		return draiderr.New(draiderr.KindNotSupported, "spare %s: unknown ioctl", s.name)

	case IOKindFlush:
		var firstErr error
		for i := 0; i < s.parent.Geo.Children; i++ {
			c := s.parent.ChildAt(i)
			if c == nil {
				continue
			}
			if err := c.Flush(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr

	case IOKindTrim:
		if s.inLabelRange(offset, length) {
			return nil
		}
		child, err := s.GetChild(offset)
		if err != nil {
			return err
		}
		if !child.SupportsTrim() {
			return draiderr.New(draiderr.KindNotSupported, "spare %s: target child does not support trim", s.name)
		}
		return child.Trim(ctx, offset, length)

	case IOKindRead:
		if s.inLabelRange(offset, length) {
			for i := range buf {
				buf[i] = 0
			}
			return nil
		}
		child, err := s.GetChild(offset)
		if err != nil {
			return err
		}
		return child.ReadAt(ctx, offset, buf)

	case IOKindProbeWrite, IOKindConfigWrite:
		if s.inLabelRange(offset, length) {
			return nil
		}
		return draiderr.New(draiderr.KindIoError, "spare %s: probe/config write outside label range", s.name)

	case IOKindWrite:
		if s.inLabelRange(offset, length) {
			return draiderr.New(draiderr.KindIoError, "spare %s: unexpected data write in label range", s.name)
		}
		child, err := s.GetChild(offset)
		if err != nil {
			return err
		}
		return child.WriteAt(ctx, offset, buf)

	default:
		return draiderr.New(draiderr.KindNotSupported, "spare %s: unrecognized I/O kind", s.name)
	}
}

// IsActive reports the flag SetActive last set. The parent TLV's
// StateChange sets it when a replace onto this spare begins and clears
// it when the replace ends; the parent's degradation is not consulted.
func (s *Spare) IsActive() bool {
	return s.active
}

// SetActive marks the spare active or idle; called by the parent TLV
// when it begins or ends absorbing writes for a failed column.
func (s *Spare) SetActive(active bool) {
	s.active = active
}

// Config synthesizes the label-equivalent descriptor spec.md §4.5's
// config op describes.
func (s *Spare) Config() Config {
	state := StateSpare
	if s.active {
		state = StateActive
	}
	return Config{
		Role:     "spare",
		PoolGUID: s.poolGUID,
		TopGUID:  s.topGUID,
		State:    state.String(),
		Name:     s.name.String(),
	}
}

// ReadAt, WriteAt, Flush, Trim, Readable, SupportsTrim let a Spare
// itself satisfy draidvdev.ChildDevice, so a spare-of-a-spare (tail
// recursion through GetChild) works without special-casing.
func (s *Spare) ReadAt(ctx context.Context, offset uint64, buf []byte) error {
	return s.IOStart(ctx, IOKindRead, offset, uint64(len(buf)), buf)
}

func (s *Spare) WriteAt(ctx context.Context, offset uint64, buf []byte) error {
	return s.IOStart(ctx, IOKindWrite, offset, uint64(len(buf)), buf)
}

func (s *Spare) Flush(ctx context.Context) error {
	return s.IOStart(ctx, IOKindFlush, 0, 0, nil)
}

func (s *Spare) Trim(ctx context.Context, offset, length uint64) error {
	return s.IOStart(ctx, IOKindTrim, offset, length, nil)
}

func (s *Spare) Readable() bool { return true }

func (s *Spare) SupportsTrim() bool {
	child, err := s.GetChild(config.LabelSize)
	if err != nil {
		return false
	}
	return child.SupportsTrim()
}
