package swap

import "fmt"

// Phase is the discrete state of the swap procedure, persisted in the
// status trailer.
type Phase uint8

// Phase values, wire-compatible with the trailer's phase byte (§6).
const (
	PhaseUnknown Phase = 0
	PhaseRequest Phase = 1
	PhaseSlide   Phase = 2
	PhaseSwap    Phase = 3
	PhaseDone    Phase = 4
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseRequest:
		return "request"
	case PhaseSlide:
		return "slide"
	case PhaseSwap:
		return "swap"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Sizes holds the per-slot image byte counts, sizes[0] for slot 0 and
// sizes[1] for slot 1.
type Sizes [2]uint32

// Fingerprint is a 4-byte keyed-hash prefix of one page's content, salted by
// the current trailer prefix.
type Fingerprint [fingerprintSize]byte

// Fingerprints holds the per-page fingerprint arrays for both slots.
// They are mutated only by Fingerprinter.Compute or Trailer.LoadStatus;
// every other consumer treats them as read-only.
type Fingerprints struct {
	Hashes  [2][MaxPages]Fingerprint
	Counts  [2]int // number of valid entries in Hashes[i][:Counts[i]]
	Sizes   Sizes
	Prefix  [trailerPrefixSize]byte
}

// WorkItem describes a single page-granular move: copy the page at
// (SrcSlot, SrcPage) to (DestSlot, DestPage) so that the destination's first
// Size bytes hash (under the current prefix) to Fingerprint. The executor
// checks the source against Fingerprint before writing; it does not re-hash
// the destination after the write.
type WorkItem struct {
	SrcSlot   int
	SrcPage   uint32
	DestSlot  int
	DestPage  uint32
	Size      uint32
	Fingerprint Fingerprint
}

func (w WorkItem) String() string {
	return fmt.Sprintf("%d/%d -> %d/%d (%d bytes)", w.SrcSlot, w.SrcPage, w.DestSlot, w.DestPage, w.Size)
}

// WorkList is a bounded, ordered sequence of work items for one phase
// (Slide or Swap).
type WorkList struct {
	Items [MaxPages]WorkItem
	Len   int
}

func (l *WorkList) push(item WorkItem) error {
	if l.Len >= len(l.Items) {
		return ErrWorkListOverflow
	}
	l.Items[l.Len] = item
	l.Len++
	return nil
}

// Slice returns the populated prefix of Items as a normal slice.
func (l *WorkList) Slice() []WorkItem {
	return l.Items[:l.Len]
}

// Resume identifies a restart point for the executor: the work-list index
// (0 = Slide, 1 = Swap) and the step index within it.
type Resume struct {
	WorkIdx int
	StepIdx int
}

// bound describes the page geometry derived from one slot's image size, per
// §4.2: count = ceil(size/page_size); partial = ((size-1) mod page_size) + 1.
type bound struct {
	size     uint32
	pageSize uint32
	count    uint32
	partial  uint32
}

func newBound(size, pageSize uint32) bound {
	if size == 0 {
		return bound{size: 0, pageSize: pageSize, count: 0, partial: 0}
	}
	count := (size + pageSize - 1) / pageSize
	partial := ((size-1)%pageSize) + 1
	return bound{size: size, pageSize: pageSize, count: count, partial: partial}
}

// getSize returns the byte count of page p: pageSize, except for the
// trailing page of the image, which is partial.
func (b bound) getSize(p uint32) uint32 {
	if p == b.count-1 {
		return b.partial
	}
	return b.pageSize
}
