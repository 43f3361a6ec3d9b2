package swap

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/d3zd3z/swapcore/pkg/flash"
)

// Wire-exact layout constants for the status trailer (§3, §6).
const (
	// lastPageSize is the fixed, wire-exact size of the LastPage record.
	// Trailer requires the slot-1 area's page size to equal this; the
	// canonical format is defined only for 512-byte pages.
	lastPageSize = 512

	offHashes    = 0
	offSizes     = offHashes + lastPageHashCount*fingerprintSize // 440
	offSeq       = offSizes + 8 + 32 + trailerPrefixSize         // 484 (sizes[2]+keys[2][16]+prefix[4])
	offPrefix    = offSizes + 8 + 32                             // 480
	offPhase     = offSeq + 4                                    // 488
	offSwapInfo  = offPhase + 1                                  // 489
	offCopyDone  = offSwapInfo + 1                                // 490
	offImageOK   = offCopyDone + 1                                // 491
	offHash      = offImageOK + 1                                  // 492
	offMagic     = offHash + fingerprintSize                       // 496
	lastPageIntegrityLen = offHash                                 // 492

	hashPageSize         = 512
	offHPHashes          = 0
	offHPHash            = hashPageHashCount * fingerprintSize // 508
	hashPageIntegrityLen = offHPHash
)

// magic is the fixed 16-byte constant written at the tail of the LastPage
// record: a 2-byte 0x0200 alignment word followed by the 14-byte magic
// proper (§6).
var magic = [magicSize]byte{
	0x02, 0x00,
	0x3e, 0x04, 0xec, 0x53, 0xa0, 0x40, 0x45, 0x39, 0x4a, 0x6e, 0x00, 0xd5, 0xa2, 0xb3,
}

// lastPage is the decoded form of the 512-byte trailer record.
type lastPage struct {
	Hashes   [lastPageHashCount]Fingerprint
	Sizes    Sizes
	Prefix   [trailerPrefixSize]byte
	Seq      uint32
	Phase    Phase
	SwapInfo byte
	CopyDone byte
	ImageOK  byte
	Hash     Fingerprint
	Magic    [magicSize]byte
}

func encodeLastPage(lp lastPage) []byte {
	buf := make([]byte, lastPageSize)

	for i, fp := range lp.Hashes {
		copy(buf[i*fingerprintSize:], fp[:])
	}
	binary.LittleEndian.PutUint32(buf[offSizes:], lp.Sizes[0])
	binary.LittleEndian.PutUint32(buf[offSizes+4:], lp.Sizes[1])
	copy(buf[offPrefix:], lp.Prefix[:])
	binary.LittleEndian.PutUint32(buf[offSeq:], lp.Seq)
	buf[offPhase] = byte(lp.Phase)
	buf[offSwapInfo] = lp.SwapInfo
	buf[offCopyDone] = lp.CopyDone
	buf[offImageOK] = lp.ImageOK
	copy(buf[offHash:], lp.Hash[:])
	copy(buf[offMagic:], lp.Magic[:])

	return buf
}

func decodeLastPage(buf []byte) lastPage {
	var lp lastPage
	for i := range lp.Hashes {
		copy(lp.Hashes[i][:], buf[i*fingerprintSize:(i+1)*fingerprintSize])
	}
	lp.Sizes[0] = binary.LittleEndian.Uint32(buf[offSizes:])
	lp.Sizes[1] = binary.LittleEndian.Uint32(buf[offSizes+4:])
	copy(lp.Prefix[:], buf[offPrefix:offPrefix+trailerPrefixSize])
	lp.Seq = binary.LittleEndian.Uint32(buf[offSeq:])
	lp.Phase = Phase(buf[offPhase])
	lp.SwapInfo = buf[offSwapInfo]
	lp.CopyDone = buf[offCopyDone]
	lp.ImageOK = buf[offImageOK]
	copy(lp.Hash[:], buf[offHash:offHash+fingerprintSize])
	copy(lp.Magic[:], buf[offMagic:offMagic+magicSize])
	return lp
}

// hashPage is the decoded form of a 512-byte spill fingerprint record.
type hashPage struct {
	Hashes [hashPageHashCount]Fingerprint
	Hash   Fingerprint
}

func encodeHashPage(hp hashPage) []byte {
	buf := make([]byte, hashPageSize)
	for i, fp := range hp.Hashes {
		copy(buf[i*fingerprintSize:], fp[:])
	}
	copy(buf[offHPHash:], hp.Hash[:])
	return buf
}

func decodeHashPage(buf []byte) hashPage {
	var hp hashPage
	for i := range hp.Hashes {
		copy(hp.Hashes[i][:], buf[i*fingerprintSize:(i+1)*fingerprintSize])
	}
	copy(hp.Hash[:], buf[offHPHash:offHPHash+fingerprintSize])
	return hp
}

// Trailer manages the two-page A/B status record in the tail of slot 1,
// overflowing into preceding spill hash pages when the combined fingerprint
// count exceeds what the LastPage record holds (§3, §4.3).
type Trailer struct {
	slot1        flash.Area
	pageSize     uint32
	ultOffset    uint32
	penultOffset uint32
}

// NewTrailer binds a Trailer to slot 1's area. The last two pages of the
// area are reserved for the trailer; callers must size images so they never
// overlap that reservation (§3: size[i] <= slot_capacity[i] -
// reserved_trailer_pages).
func NewTrailer(slot1 flash.Area) (*Trailer, error) {
	pageSize := slot1.PageSize()
	if pageSize != lastPageSize {
		return nil, fmt.Errorf("swap: trailer requires %d-byte pages, got %d", lastPageSize, pageSize)
	}

	cap := slot1.Capacity()
	if cap < 2*pageSize {
		return nil, fmt.Errorf("swap: slot 1 too small for a trailer: %d bytes", cap)
	}

	return &Trailer{
		slot1:        slot1,
		pageSize:     pageSize,
		ultOffset:    cap - pageSize,
		penultOffset: cap - 2*pageSize,
	}, nil
}

// hashPageOffset returns the address of the k-th spill hash page (k=0 is
// immediately below penult), laid out toward decreasing address.
func (t *Trailer) hashPageOffset(k int) uint32 {
	return t.penultOffset - uint32(k+1)*t.pageSize
}

// WriteMagic erases both trailer pages and writes a page carrying only the
// magic constant into the ult position, leaving penult erased. This is the
// sole effect of requesting an upgrade: scan() subsequently reports Request.
func (t *Trailer) WriteMagic() error {
	if err := t.slot1.Erase(t.ultOffset, t.pageSize); err != nil {
		return fmt.Errorf("write magic: erase ult: %w", err)
	}
	if err := t.slot1.Erase(t.penultOffset, t.pageSize); err != nil {
		return fmt.Errorf("write magic: erase penult: %w", err)
	}

	lp := lastPage{Magic: magic}
	buf := encodeLastPage(lp)

	if err := t.slot1.Write(t.ultOffset, buf); err != nil {
		return fmt.Errorf("write magic: write ult: %w", err)
	}
	return nil
}

// trailerSlot is one candidate trailer page read off flash.
type trailerSlot struct {
	off      uint32
	lp       lastPage
	written  bool
	hasMagic bool
	valid    bool
}

func (t *Trailer) readSlot(off uint32) (trailerSlot, error) {
	state, err := t.slot1.GetState(off)
	if err != nil {
		return trailerSlot{}, fmt.Errorf("get state at %#x: %w", off, err)
	}
	if state != flash.StateWritten {
		return trailerSlot{off: off}, nil
	}

	buf := make([]byte, t.pageSize)
	if err := t.slot1.Read(off, buf); err != nil {
		if errors.Is(err, flash.ErrUnwritten) {
			return trailerSlot{off: off}, nil
		}
		return trailerSlot{}, fmt.Errorf("read at %#x: %w", off, err)
	}

	lp := decodeLastPage(buf)
	hasMagic := lp.Magic == magic
	valid := hasMagic && calcHash(buf[:lastPageIntegrityLen]) == lp.Hash

	return trailerSlot{off: off, lp: lp, written: true, hasMagic: hasMagic, valid: valid}, nil
}

// locate finds the authoritative trailer page, per the rules in §4.3:
// neither readable/magic -> Unknown with no page; magic but no valid hash ->
// Request with no page; one valid -> that one; both valid -> lower seq.
func (t *Trailer) locate() (Phase, *trailerSlot, error) {
	ult, err := t.readSlot(t.ultOffset)
	if err != nil {
		return PhaseUnknown, nil, err
	}
	penult, err := t.readSlot(t.penultOffset)
	if err != nil {
		return PhaseUnknown, nil, err
	}

	switch {
	case ult.valid && penult.valid:
		if ult.lp.Seq <= penult.lp.Seq {
			return ult.lp.Phase, &ult, nil
		}
		return penult.lp.Phase, &penult, nil
	case ult.valid:
		return ult.lp.Phase, &ult, nil
	case penult.valid:
		return penult.lp.Phase, &penult, nil
	case ult.hasMagic || penult.hasMagic:
		return PhaseRequest, nil, nil
	default:
		return PhaseUnknown, nil, nil
	}
}

// Scan reads ult and penult, validates each, and returns the current phase
// (§4.3).
func (t *Trailer) Scan() (Phase, error) {
	phase, _, err := t.locate()
	return phase, err
}

// flattenFingerprints collects both slots' fingerprints into canonical
// order (all of slot 0, then all of slot 1), matching Fingerprints.Iter.
func flattenFingerprints(fp *Fingerprints) []Fingerprint {
	total := fp.Counts[0] + fp.Counts[1]
	out := make([]Fingerprint, 0, total)
	it := fp.Iter()
	for {
		f, _, _, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, f)
	}
	return out
}

// unflattenFingerprints is the inverse of flattenFingerprints: it splits a
// flat, canonically-ordered slice back into fp.Hashes[0]/[1] given the
// per-slot counts already derived from fp.Sizes.
func unflattenFingerprints(fp *Fingerprints, flat []Fingerprint) {
	idx := 0
	for slot := 0; slot < 2; slot++ {
		for page := 0; page < fp.Counts[slot]; page++ {
			fp.Hashes[slot][page] = flat[idx]
			idx++
		}
	}
}

func numHashPagesFor(total int) int {
	overflow := total - lastPageHashCount
	if overflow <= 0 {
		return 0
	}
	return (overflow + hashPageHashCount - 1) / hashPageHashCount
}

// StartStatus is called at the Request -> Slide phase transition. It writes
// spill hash pages first (toward decreasing address starting at penult-1),
// then fills and writes the LastPage into ult with seq=1, erasing both
// trailer pages beforehand. Spill pages must be durable before the last
// page because recovery keys off the last page's validity (§4.3).
func (t *Trailer) StartStatus(fp *Fingerprints, phase Phase) error {
	flat := flattenFingerprints(fp)
	total := len(flat)

	numPages := numHashPagesFor(total)
	for k := 0; k < numPages; k++ {
		start := lastPageHashCount + k*hashPageHashCount
		end := start + hashPageHashCount
		if end > total {
			end = total
		}

		var hp hashPage
		copy(hp.Hashes[:], flat[start:end])
		buf := encodeHashPage(hp)
		hp.Hash = calcHash(buf[:hashPageIntegrityLen])
		copy(buf[offHPHash:], hp.Hash[:])

		off := t.hashPageOffset(k)
		if err := t.slot1.Erase(off, t.pageSize); err != nil {
			return fmt.Errorf("start status: erase hash page %d: %w", k, err)
		}
		if err := t.slot1.Write(off, buf); err != nil {
			return fmt.Errorf("start status: write hash page %d: %w", k, err)
		}
	}

	lastCount := total
	if lastCount > lastPageHashCount {
		lastCount = lastPageHashCount
	}

	lp := lastPage{
		Sizes:  fp.Sizes,
		Prefix: fp.Prefix,
		Seq:    1,
		Phase:  phase,
		Magic:  magic,
	}
	copy(lp.Hashes[:], flat[:lastCount])

	if err := t.writeLastPage(t.ultOffset, t.penultOffset, lp); err != nil {
		return fmt.Errorf("start status: %w", err)
	}

	return nil
}

// writeLastPage erases both candidate trailer pages and writes the encoded
// record into dest.
func (t *Trailer) writeLastPage(dest, other uint32, lp lastPage) error {
	buf := encodeLastPage(lp)
	lp.Hash = calcHash(buf[:lastPageIntegrityLen])
	buf = encodeLastPage(lp)

	if err := t.slot1.Erase(dest, t.pageSize); err != nil {
		return fmt.Errorf("erase %#x: %w", dest, err)
	}
	if err := t.slot1.Erase(other, t.pageSize); err != nil {
		return fmt.Errorf("erase %#x: %w", other, err)
	}
	if err := t.slot1.Write(dest, buf); err != nil {
		return fmt.Errorf("write %#x: %w", dest, err)
	}
	return nil
}

// UpdateStatus bumps seq, updates phase, recomputes integrity, and writes
// into whichever trailer page is currently erased (A/B toggle), then erases
// the other (§4.3).
func (t *Trailer) UpdateStatus(newPhase Phase) error {
	_, at, err := t.locate()
	if err != nil {
		return err
	}
	if at == nil {
		return fmt.Errorf("update status: %w", ErrStateError)
	}

	newLP := at.lp
	newLP.Phase = newPhase
	newLP.Seq = at.lp.Seq + 1

	// Toggle to the other physical page: whichever one holds the current
	// valid record is the "old" page, so the new record goes to its sibling.
	dest, otherForErase := t.penultOffset, t.ultOffset
	if at.off == t.penultOffset {
		dest, otherForErase = t.ultOffset, t.penultOffset
	}

	buf := encodeLastPage(newLP)
	newLP.Hash = calcHash(buf[:lastPageIntegrityLen])
	buf = encodeLastPage(newLP)

	if err := t.slot1.Erase(dest, t.pageSize); err != nil {
		return fmt.Errorf("update status: erase dest: %w", err)
	}
	if err := t.slot1.Write(dest, buf); err != nil {
		return fmt.Errorf("update status: write dest: %w", err)
	}
	if err := t.slot1.Erase(otherForErase, t.pageSize); err != nil {
		return fmt.Errorf("update status: erase old: %w", err)
	}

	return nil
}

// LoadStatus is the inverse of StartStatus: it copies sizes and prefix back
// into fp, then reads the LastPage and any spill hash pages in canonical
// order into fp's fingerprint arrays, verifying every page's integrity tag.
// A spill-page integrity failure is fatal: phase cannot be recovered.
func (t *Trailer) LoadStatus(fp *Fingerprints) error {
	_, at, err := t.locate()
	if err != nil {
		return err
	}
	if at == nil {
		return fmt.Errorf("load status: %w", ErrStateError)
	}

	fp.Sizes = at.lp.Sizes
	fp.Prefix = at.lp.Prefix

	pageSize := t.pageSize
	b0 := newBound(fp.Sizes[0], pageSize)
	b1 := newBound(fp.Sizes[1], pageSize)
	fp.Counts[0] = int(b0.count)
	fp.Counts[1] = int(b1.count)

	total := fp.Counts[0] + fp.Counts[1]
	lastCount := total
	if lastCount > lastPageHashCount {
		lastCount = lastPageHashCount
	}

	flat := make([]Fingerprint, 0, total)
	flat = append(flat, at.lp.Hashes[:lastCount]...)

	numPages := numHashPagesFor(total)
	for k := 0; k < numPages; k++ {
		off := t.hashPageOffset(k)
		buf := make([]byte, t.pageSize)
		if err := t.slot1.Read(off, buf); err != nil {
			return fmt.Errorf("load status: read hash page %d: %w", k, err)
		}
		hp := decodeHashPage(buf)
		if calcHash(buf[:hashPageIntegrityLen]) != hp.Hash {
			return fmt.Errorf("load status: hash page %d: %w", k, ErrCorruptTrailer)
		}

		start := lastPageHashCount + k*hashPageHashCount
		end := start + hashPageHashCount
		if end > total {
			end = total
		}
		need := end - start
		flat = append(flat, hp.Hashes[:need]...)
	}

	unflattenFingerprints(fp, flat)
	return nil
}
