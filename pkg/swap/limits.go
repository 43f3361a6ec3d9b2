package swap

// Compile-time sizing parameters.
//
// maxPages, pageSize and the trailer layout are fixed at build time, as
// spec'd: the LastPage and HashPage records must be exactly one page, and
// per-slot fingerprint/work-item arrays are bounded arrays sized by
// maxPages, not heap-allocated slices that grow without limit.
const (
	// MaxPages bounds the number of pages tracked per slot, and therefore
	// the size of the fingerprint and work-item arrays. Exceeding it at
	// plan-build time is ErrWorkListOverflow.
	MaxPages = 4096

	// DefaultPageSize is the typical flash page size used when a Driver
	// doesn't override it; the device's Area reports the authoritative
	// value.
	DefaultPageSize = 512

	// lastPageHashCount is the number of 4-byte fingerprints that fit in
	// the LastPage record alongside its other fields (§3).
	lastPageHashCount = 110

	// hashPageHashCount is the number of 4-byte fingerprints that fit in a
	// spill HashPage record alongside its integrity tag (§3).
	hashPageHashCount = 127

	// fingerprintSize is the width, in bytes, of a page fingerprint.
	fingerprintSize = 4

	// trailerPrefixSize is the width, in bytes, of the hash salt.
	trailerPrefixSize = 4

	// magicSize is the width, in bytes, of the fixed trailer magic
	// constant (§6: 14 bytes after a 2-byte 0x0200 alignment word).
	magicSize = 16
)

func init() {
	// Guard that the wire layout actually fits in one page for the
	// compiled-in page size assumption. Page sizes reported by a real
	// Driver are checked at runtime by NewTrailer, which rejects any
	// slot-1 page size other than lastPageSize.
	if lastPageHashCount*fingerprintSize > DefaultPageSize {
		panic("swap: lastPageHashCount does not fit DefaultPageSize")
	}
	if hashPageHashCount*fingerprintSize+fingerprintSize > DefaultPageSize {
		panic("swap: hashPageHashCount does not fit DefaultPageSize")
	}
}
