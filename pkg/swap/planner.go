package swap

import (
	"fmt"

	"github.com/d3zd3z/swapcore/pkg/flash"
)

// Planner produces the two deterministic, ordered work lists that implement
// a swap: Slide (slot 0 shifts down by one page to make room for slot 1's
// first page) and Swap (the two slots exchange corresponding pages). Given
// the same (sizes, prefix, fingerprints), both builders produce
// byte-identical work lists on every invocation (§5 determinism).
type Planner struct {
	areas [2]flash.Area
}

// NewPlanner binds a Planner to the two slot areas it may need to
// byte-compare during collision validation.
func NewPlanner(slot0, slot1 flash.Area) *Planner {
	return &Planner{areas: [2]flash.Area{slot0, slot1}}
}

// BuildSlide builds the Slide-phase work list (§4.2).
//
// For p from count[0] down to 1: the step moves slot 0 page p-1 to slot 0
// page p. A step is skipped when p < count[0] and the source and
// destination fingerprints already agree. initial selects the tie-break for
// equal fingerprints: true treats equality as same content (first build
// after a clean request); false (rebuilding during recovery) requires a
// byte-level compare, raising ErrHashCollision on a real mismatch.
func (pl *Planner) BuildSlide(fp *Fingerprints, initial bool) (*WorkList, error) {
	pageSize := pl.areas[0].PageSize()
	b0 := newBound(fp.Sizes[0], pageSize)

	list := &WorkList{}

	for p := b0.count; p >= 1; p-- {
		size := b0.getSize(p - 1)
		srcFP := fp.Hashes[0][p-1]

		if p < b0.count {
			destFP := fp.Hashes[0][p]
			if srcFP == destFP {
				same, err := pl.sameContent(initial, 0, p-1, 0, p, size, srcFP, destFP)
				if err != nil {
					return nil, err
				}
				if same {
					continue
				}
			}
		}

		if err := list.push(WorkItem{
			SrcSlot: 0, SrcPage: p - 1,
			DestSlot: 0, DestPage: p,
			Size: size, Fingerprint: srcFP,
		}); err != nil {
			return nil, fmt.Errorf("build slide: %w", err)
		}
	}

	return list, nil
}

// BuildSwap builds the Swap-phase work list (§4.2): for p from 0 while
// p < max(count[0], count[1]), it interleaves moving slot 1 page p into
// slot 0 page p with moving slot 0 page p+1 (already slid) into slot 1
// page p.
func (pl *Planner) BuildSwap(fp *Fingerprints, initial bool) (*WorkList, error) {
	pageSize := pl.areas[0].PageSize()
	b0 := newBound(fp.Sizes[0], pageSize)
	b1 := newBound(fp.Sizes[1], pageSize)

	list := &WorkList{}

	maxCount := b0.count
	if b1.count > maxCount {
		maxCount = b1.count
	}

	for p := uint32(0); p < maxCount; p++ {
		if p < b1.count {
			srcFP := fp.Hashes[1][p]
			skip := false
			if p < b0.count {
				destFP := fp.Hashes[0][p]
				if srcFP == destFP {
					same, err := pl.sameContent(initial, 1, p, 0, p, b1.getSize(p), srcFP, destFP)
					if err != nil {
						return nil, err
					}
					skip = same
				}
			}
			if !skip {
				if err := list.push(WorkItem{
					SrcSlot: 1, SrcPage: p,
					DestSlot: 0, DestPage: p,
					Size: b1.getSize(p), Fingerprint: srcFP,
				}); err != nil {
					return nil, fmt.Errorf("build swap: %w", err)
				}
			}
		}

		if p < b0.count {
			// hashes[0][p] is the expected (final) content fingerprint for
			// this move; hashes[0][p+1] is what the planner checks against
			// slot 1's current page p to see whether the move already
			// happened. p+1 can reach b0.count (the slide-target page,
			// one past the image's own pages); that index was never
			// populated by Fingerprinter.Compute and reads as the zero
			// Fingerprint, which only ever coincidentally matches a real
			// page hash, so the skip is effectively never taken there -
			// correct, since the slide-target page must always be moved.
			destFP := fp.Hashes[1][p]
			emitFP := fp.Hashes[0][p]
			checkFP := hashAt(fp, 0, p+1)
			skip := false
			if p < b1.count && checkFP == destFP {
				same, err := pl.sameContent(initial, 0, p+1, 1, p, b0.getSize(p), checkFP, destFP)
				if err != nil {
					return nil, err
				}
				skip = same
			}
			if !skip {
				if err := list.push(WorkItem{
					SrcSlot: 0, SrcPage: p + 1,
					DestSlot: 1, DestPage: p,
					Size: b0.getSize(p), Fingerprint: emitFP,
				}); err != nil {
					return nil, fmt.Errorf("build swap: %w", err)
				}
			}
		}
	}

	return list, nil
}

// hashAt returns fp.Hashes[slot][page], or the zero Fingerprint if page is
// beyond the bounded array - used where spec §4.2 indexes one page past an
// image's own page count (the slide-target page).
func hashAt(fp *Fingerprints, slot int, page uint32) Fingerprint {
	if page >= MaxPages {
		return Fingerprint{}
	}
	return fp.Hashes[slot][page]
}

// sameContent resolves the tie-break for two pages whose fingerprints are
// equal. When initial is true, equality is taken as proof of same content.
// When initial is false (rebuilding during recovery), it reads both pages
// through the flash driver and compares bytes, returning ErrHashCollision
// on a genuine mismatch (Open Question (a) in spec §9: the byte-level
// compare is the part the original source left as a stub).
func (pl *Planner) sameContent(initial bool, slotA int, pageA uint32, slotB int, pageB uint32, size uint32, fpA, fpB Fingerprint) (bool, error) {
	if initial {
		return true, nil
	}

	pageSize := pl.areas[0].PageSize()
	bufA := make([]byte, size)
	bufB := make([]byte, size)

	if err := pl.areas[slotA].Read(pageA*pageSize, bufA); err != nil {
		return false, fmt.Errorf("validate collision slot %d page %d: %w", slotA, pageA, err)
	}
	if err := pl.areas[slotB].Read(pageB*pageSize, bufB); err != nil {
		return false, fmt.Errorf("validate collision slot %d page %d: %w", slotB, pageB, err)
	}

	if string(bufA) == string(bufB) {
		return true, nil
	}

	return false, fmt.Errorf("slot %d page %d vs slot %d page %d share fingerprint %x: %w",
		slotA, pageA, slotB, pageB, fpA, ErrHashCollision)
}
