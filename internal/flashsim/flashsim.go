// Package flashsim provides an in-memory [flash.Driver] used by tests and
// cmd/bootsim to stand in for the external flash driver collaborator (§6).
// It models torn writes/erases, outright device I/O failures (classified
// via unix.EIO, matching the teacher's errno-based fault vocabulary), and
// simulated power loss, grounded on the teacher's pkg/fs fault-injection
// idioms: [ChaosConfig]'s per-operation failure rates (pkg/fs/chaos.go) and
// the "stop after exactly N operations" stepper (pkg/fs/crash_failpoint.go's
// After field).
package flashsim

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/d3zd3z/swapcore/pkg/flash"
)

// erasedByte is the value every byte of an erased NOR flash region reads as.
const erasedByte = 0xFF

// ErrExpired is returned by every Area operation once the shared Stepper's
// operation budget is exhausted, simulating power loss mid-operation. It is
// a test-harness-only condition (§7): production code never constructs it.
var ErrExpired = errors.New("flashsim: simulated power loss")

// Stepper is a shared, cross-area operation counter. When its budget is
// exhausted every subsequent Read/Erase/Write on any Area sharing it fails
// with ErrExpired. Reset arms a fresh budget for the next boot attempt
// against the same underlying content, modeling §8/S3: "stop the driver
// after exactly k operations and reboot."
type Stepper struct {
	mu    sync.Mutex
	max   uint64 // 0 = unlimited
	count uint64
}

// NewStepper returns a Stepper with the given budget (0 = unlimited).
func NewStepper(max uint64) *Stepper {
	return &Stepper{max: max}
}

// Reset rearms the stepper with a new budget and zeroes its counter,
// without touching any area's content - the next boot attempt continues
// against the same simulated flash state.
func (s *Stepper) Reset(max uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.max = max
	s.count = 0
}

// Count reports how many operations have ticked since the last Reset.
func (s *Stepper) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Stepper) tick() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.max > 0 && s.count >= s.max {
		return ErrExpired
	}
	s.count++
	return nil
}

// ChaosConfig controls torn-write fault injection rates, mirroring the
// teacher's ChaosConfig shape (pkg/fs/chaos.go): each rate is a probability
// in [0,1], and the zero value disables all injection.
type ChaosConfig struct {
	// TornWriteRate is the probability that Write only stores a random
	// non-empty prefix of its buffer, leaving the page's remaining bytes at
	// whatever they held before - still reported as Written per the flash
	// driver contract (§6).
	TornWriteRate float64

	// TornEraseRate is the probability that Erase only resets a random
	// non-empty prefix of each page to the erased value, still reported as
	// Erased per the flash driver contract (§6).
	TornEraseRate float64

	// HardErrorRate is the probability that Read, Erase or Write fails
	// outright with an I/O error (unix.EIO) instead of completing - even
	// partially - modeling a dying device rather than a torn operation.
	// Unlike a torn write/erase, the operation has no observable effect at
	// all: GetState and content are unchanged.
	HardErrorRate float64

	// Seed seeds the deterministic PRNG driving all three rates.
	Seed int64
}

// Driver is an in-memory flash.Driver backing two areas (slot 0 and slot
// 1). Both areas share one Stepper so a single simulated boot's operation
// budget spans the whole device, matching real hardware where power loss
// is not scoped to one slot.
type Driver struct {
	areas   [2]*Area
	stepper *Stepper
}

// NewDriver creates a two-slot simulated device. capacities and pageSize
// follow §3: slot 0 must be exactly one page larger than slot 1. A nil
// chaos disables torn-write injection; a nil stepper runs unlimited
// (equivalent to NewStepper(0)).
func NewDriver(capacities [2]uint32, pageSize uint32, chaos *ChaosConfig, stepper *Stepper) (*Driver, error) {
	if capacities[0] != capacities[1]+pageSize {
		return nil, fmt.Errorf("flashsim: slot 0 capacity %d must be slot 1 capacity %d plus one page (%d)",
			capacities[0], capacities[1], pageSize)
	}
	if stepper == nil {
		stepper = NewStepper(0)
	}

	d := &Driver{stepper: stepper}
	for i := 0; i < 2; i++ {
		d.areas[i] = newArea(capacities[i], pageSize, chaos, stepper, i)
	}
	return d, nil
}

// Open implements flash.Driver.
func (d *Driver) Open(id int) (flash.Area, error) {
	if id < 0 || id > 1 {
		return nil, fmt.Errorf("flashsim: no such area %d", id)
	}
	return d.areas[id], nil
}

// Stepper returns the shared operation-budget counter so test/scenario code
// can Reset it between simulated boot attempts.
func (d *Driver) Stepper() *Stepper {
	return d.stepper
}

// Snapshot returns a copy of area id's full content, for byte-compare
// verification against expected image bytes.
func (d *Driver) Snapshot(id int) []byte {
	a := d.areas[id]
	out := make([]byte, len(a.data))
	copy(out, a.data)
	return out
}

// Area is an in-memory flash.Area with torn-write simulation.
type Area struct {
	id       int
	data     []byte
	states   []flash.State
	pageSize uint32
	chaos    *ChaosConfig
	rng      *rand.Rand
	rngMu    sync.Mutex
	stepper  *Stepper
}

func newArea(capacity, pageSize uint32, chaos *ChaosConfig, stepper *Stepper, id int) *Area {
	data := make([]byte, capacity)
	for i := range data {
		data[i] = erasedByte
	}

	numPages := capacity / pageSize
	states := make([]flash.State, numPages)
	for i := range states {
		states[i] = flash.StateErased
	}

	var seed int64
	if chaos != nil {
		seed = chaos.Seed
	}

	return &Area{
		id:       id,
		data:     data,
		states:   states,
		pageSize: pageSize,
		chaos:    chaos,
		rng:      rand.New(rand.NewPCG(uint64(seed), uint64(seed)+uint64(id))),
		stepper:  stepper,
	}
}

// PageSize implements flash.Area.
func (a *Area) PageSize() uint32 { return a.pageSize }

// Capacity implements flash.Area.
func (a *Area) Capacity() uint32 { return uint32(len(a.data)) }

func (a *Area) pageIndex(off uint32) uint32 { return off / a.pageSize }

// hardError reports whether this operation should fail outright with a
// simulated unix.EIO, classifiable via errors.Is against the unix errno.
func (a *Area) hardError() error {
	if a.chaos == nil || !a.chance(a.chaos.HardErrorRate) {
		return nil
	}
	return fmt.Errorf("flashsim: simulated device I/O failure: %w", unix.EIO)
}

// Read implements flash.Area.
func (a *Area) Read(off uint32, buf []byte) error {
	if err := a.stepper.tick(); err != nil {
		return err
	}
	if err := a.hardError(); err != nil {
		return err
	}

	idx := a.pageIndex(off)
	if idx >= uint32(len(a.states)) || a.states[idx] != flash.StateWritten {
		return flash.ErrUnwritten
	}

	copy(buf, a.data[off:off+uint32(len(buf))])
	return nil
}

// Erase implements flash.Area.
func (a *Area) Erase(off uint32, length uint32) error {
	if err := a.stepper.tick(); err != nil {
		return err
	}
	if err := a.hardError(); err != nil {
		return err
	}

	numPages := length / a.pageSize
	for i := uint32(0); i < numPages; i++ {
		pageOff := off + i*a.pageSize
		idx := a.pageIndex(pageOff)

		n := a.pageSize
		if a.chaos != nil && a.chance(a.chaos.TornEraseRate) {
			n = uint32(a.randIntn(int(a.pageSize)-1)) + 1
		}
		for j := uint32(0); j < n; j++ {
			a.data[pageOff+j] = erasedByte
		}
		a.states[idx] = flash.StateErased
	}
	return nil
}

// Write implements flash.Area.
func (a *Area) Write(off uint32, buf []byte) error {
	if err := a.stepper.tick(); err != nil {
		return err
	}
	if err := a.hardError(); err != nil {
		return err
	}
	if uint32(len(buf)) != a.pageSize {
		return fmt.Errorf("flashsim: write length %d != page size %d", len(buf), a.pageSize)
	}

	n := uint32(len(buf))
	if a.chaos != nil && a.chance(a.chaos.TornWriteRate) {
		n = uint32(a.randIntn(len(buf)-1)) + 1
	}
	copy(a.data[off:off+n], buf[:n])

	idx := a.pageIndex(off)
	a.states[idx] = flash.StateWritten
	return nil
}

// GetState implements flash.Area. It never consumes the stepper's budget:
// a state query reflects what is already durably on the device, and
// recovery always runs it fresh on the next simulated boot.
func (a *Area) GetState(off uint32) (flash.State, error) {
	idx := a.pageIndex(off)
	if idx >= uint32(len(a.states)) {
		return flash.StateUnknown, fmt.Errorf("flashsim: offset %#x out of range", off)
	}
	return a.states[idx], nil
}

func (a *Area) chance(rate float64) bool {
	if rate <= 0 {
		return false
	}
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return a.rng.Float64() < rate
}

func (a *Area) randIntn(n int) int {
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return a.rng.IntN(n)
}
