package swap

import (
	"fmt"

	"github.com/d3zd3z/swapcore/pkg/flash"
)

// Fingerprinter derives short keyed fingerprints of each page of each slot
// and exposes a canonical iteration order over them (§4.1).
//
// Fingerprints arrays are mutated only by Compute or by Trailer.LoadStatus;
// every other consumer must treat them as read-only.
type Fingerprinter struct {
	areas [2]flash.Area
}

// NewFingerprinter binds a Fingerprinter to the two slot areas it will read.
func NewFingerprinter(slot0, slot1 flash.Area) *Fingerprinter {
	return &Fingerprinter{areas: [2]flash.Area{slot0, slot1}}
}

// Compute reads each page of slot i from offset 0 to sizes[i], feeding
// (prefix || page_bytes[0..count]) to the hasher where
// count = min(page_size, size-pos), and stores the 4-byte truncation into
// out.Hashes[i].
func (f *Fingerprinter) Compute(out *Fingerprints, sizes Sizes, prefix [trailerPrefixSize]byte) error {
	out.Sizes = sizes
	out.Prefix = prefix

	for i := 0; i < 2; i++ {
		area := f.areas[i]
		pageSize := area.PageSize()
		b := newBound(sizes[i], pageSize)

		if int(b.count) > MaxPages {
			return fmt.Errorf("slot %d needs %d pages: %w", i, b.count, ErrWorkListOverflow)
		}

		buf := make([]byte, pageSize)
		pos := uint32(0)
		for p := uint32(0); p < b.count; p++ {
			count := b.getSize(p)

			if err := area.Read(pos, buf[:count]); err != nil {
				return fmt.Errorf("fingerprint slot %d page %d: %w", i, p, err)
			}

			h := NewHasher()
			h.Init(prefix)
			h.Update(buf[:count])
			out.Hashes[i][p] = h.Final()

			pos += pageSize
		}
		out.Counts[i] = int(b.count)
	}

	return nil
}

// FingerprintIter is a restartable, finite iterator over both slots'
// fingerprints in canonical order: all of slot 0's pages, then all of slot
// 1's.
type FingerprintIter struct {
	fp     *Fingerprints
	slot   int
	page   int
}

// Iter returns a fresh iterator positioned before the first fingerprint.
func (f *Fingerprints) Iter() *FingerprintIter {
	return &FingerprintIter{fp: f}
}

// Next returns the next fingerprint in canonical order, or ok=false once
// exhausted.
func (it *FingerprintIter) Next() (fp Fingerprint, slot int, page int, ok bool) {
	for it.slot < 2 {
		if it.page < it.fp.Counts[it.slot] {
			fp = it.fp.Hashes[it.slot][it.page]
			slot = it.slot
			page = it.page
			it.page++
			return fp, slot, page, true
		}
		it.slot++
		it.page = 0
	}
	return Fingerprint{}, 0, 0, false
}
