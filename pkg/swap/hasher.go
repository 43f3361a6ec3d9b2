package swap

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/dchest/siphash"
)

// Hasher is the keyed page-hash abstraction. A single configuration point
// (NewHasher) swaps the concrete algorithm between SipHash-64/2-4 and a
// SHA-256 truncation without touching Fingerprinter, Planner or Trailer
// code, per the design note in spec §9.
//
// Implementations differ in how the 4-byte prefix keys the hash: a
// cipher-style hash (SipHash) zero-pads the prefix into its key; a
// Merkle–Damgård hash (SHA-256) prepends the prefix to the input instead.
// Both must satisfy the same observable invariant: changing the prefix
// deterministically changes every fingerprint.
//
// Every Hasher is used for a short burst of Update calls followed by
// exactly one Final call per page (or per trailer section); a fresh Init
// is required before reuse.
type Hasher interface {
	// Init (re)starts the hash with the given 4-byte salt.
	Init(prefix [trailerPrefixSize]byte)
	// Update feeds more bytes into the running hash.
	Update(p []byte)
	// Final returns the 4-byte truncated digest.
	Final() Fingerprint
}

// NewHasher constructs the Hasher implementation used for page fingerprints
// and trailer integrity. Defaults to SipHash-64/2-4; set it to
// newSHA256Hasher to switch the whole package to SHA-256 truncation.
var NewHasher = newSipHasher

// sipHasher implements Hasher using SipHash-64/2-4, a cipher-style keyed
// hash: the 4-byte prefix is copied into a zero-padded 16-byte key.
// siphash.Hash is one-shot, so Update buffers input for a single Final call.
type sipHasher struct {
	key  [16]byte
	data []byte
}

func newSipHasher() Hasher {
	return &sipHasher{}
}

func (h *sipHasher) Init(prefix [trailerPrefixSize]byte) {
	var key [16]byte
	copy(key[:], prefix[:])
	h.key = key
	h.data = h.data[:0]
}

func (h *sipHasher) Update(p []byte) {
	h.data = append(h.data, p...)
}

func (h *sipHasher) Final() Fingerprint {
	k0 := binary.LittleEndian.Uint64(h.key[0:8])
	k1 := binary.LittleEndian.Uint64(h.key[8:16])
	sum := siphash.Hash(k0, k1, h.data)

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], sum)

	var out Fingerprint
	copy(out[:], buf[:fingerprintSize])
	return out
}

// sha256Hasher implements Hasher using truncated SHA-256, a Merkle–Damgård
// hash: the prefix is prepended to the input rather than used as a key.
type sha256Hasher struct {
	prefix [trailerPrefixSize]byte
	data   []byte
}

func newSHA256Hasher() Hasher {
	return &sha256Hasher{}
}

func (h *sha256Hasher) Init(prefix [trailerPrefixSize]byte) {
	h.prefix = prefix
	h.data = h.data[:0]
}

func (h *sha256Hasher) Update(p []byte) {
	h.data = append(h.data, p...)
}

func (h *sha256Hasher) Final() Fingerprint {
	sum := sha256.New()
	sum.Write(h.prefix[:])
	sum.Write(h.data)
	digest := sum.Sum(nil)

	var out Fingerprint
	copy(out[:], digest[:fingerprintSize])
	return out
}

// calcHash is the stateless integrity-check hash used by the status
// trailer: it always uses an all-zero prefix, regardless of the swap's
// current page-fingerprint prefix. Kept textually separate from the keyed
// per-page hasher per the design note in spec §9.
func calcHash(data []byte) Fingerprint {
	var zero [trailerPrefixSize]byte
	h := NewHasher()
	h.Init(zero)
	h.Update(data)
	return h.Final()
}
