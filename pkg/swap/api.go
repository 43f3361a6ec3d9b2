package swap

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/d3zd3z/swapcore/pkg/flash"
)

// maxCollisionRetries bounds how many times Startup bumps the prefix and
// restarts from Request before giving up (§6 exit code 2, §7 HashCollision
// handling).
const maxCollisionRetries = 4

// Swap is the caller-facing handle on one slot pair's swap state (§6, §9
// "Global state": an explicit value, never hidden module state, so the test
// harness can run many back-to-back scenarios).
type Swap struct {
	slot0, slot1 flash.Area
	sizes        Sizes
	prefixU32    uint32

	fingerprinter *Fingerprinter
	planner       *Planner
	trailer       *Trailer
	executor      *Executor

	fp Fingerprints
}

// Init opens both slots from driver, validates the slot-size relationship
// (§3: slot 0 is exactly one page larger than slot 1), and wires up the
// Fingerprinter, Planner, Trailer and Executor (§6: init(driver, sizes,
// prefix_u32) -> Swap).
func Init(driver flash.Driver, sizes Sizes, prefix uint32) (*Swap, error) {
	slot0, err := driver.Open(0)
	if err != nil {
		return nil, fmt.Errorf("init: open slot 0: %w", err)
	}
	slot1, err := driver.Open(1)
	if err != nil {
		return nil, fmt.Errorf("init: open slot 1: %w", err)
	}

	if slot0.PageSize() != slot1.PageSize() {
		return nil, fmt.Errorf("init: slot page sizes differ (%d vs %d): %w", slot0.PageSize(), slot1.PageSize(), ErrInvalidSizes)
	}
	pageSize := slot0.PageSize()
	if slot0.Capacity() != slot1.Capacity()+pageSize {
		return nil, fmt.Errorf("init: slot 0 must be exactly one page larger than slot 1: %w", ErrInvalidSizes)
	}
	if sizes[0] > slot0.Capacity() || sizes[1] > slot1.Capacity() {
		return nil, fmt.Errorf("init: image sizes exceed slot capacity: %w", ErrInvalidSizes)
	}

	trailer, err := NewTrailer(slot1)
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}

	s := &Swap{
		slot0:         slot0,
		slot1:         slot1,
		sizes:         sizes,
		prefixU32:     prefix,
		fingerprinter: NewFingerprinter(slot0, slot1),
		planner:       NewPlanner(slot0, slot1),
		trailer:       trailer,
		executor:      NewExecutor(slot0, slot1, trailer),
	}
	return s, nil
}

// RequestUpgrade writes the magic into slot 1's trailer, the precondition
// for Startup to do anything (§6).
func (s *Swap) RequestUpgrade() error {
	if err := s.trailer.WriteMagic(); err != nil {
		return fmt.Errorf("request upgrade: %w", err)
	}
	return nil
}

func (s *Swap) prefixBytes() [trailerPrefixSize]byte {
	var out [trailerPrefixSize]byte
	binary.LittleEndian.PutUint32(out[:], s.prefixU32)
	return out
}

// Startup is the idempotent entry point (§6): it scans the trailer, then
// dispatches to a fresh build (Request) or a recovery resume (Slide/Swap),
// retrying with a bumped prefix on hash collisions up to maxCollisionRetries
// before giving up (§7, §6 exit code 2).
func (s *Swap) Startup() error {
	for attempt := 0; ; attempt++ {
		err := s.startupOnce()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrHashCollision) {
			return err
		}
		if attempt >= maxCollisionRetries {
			return fmt.Errorf("startup: exhausted collision retries: %w", err)
		}
		if bumpErr := s.restartWithBumpedPrefix(); bumpErr != nil {
			return bumpErr
		}
	}
}

func (s *Swap) startupOnce() error {
	phase, err := s.trailer.Scan()
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	switch phase {
	case PhaseDone:
		return nil
	case PhaseUnknown:
		return ErrNotRequested
	case PhaseRequest:
		return s.runFromRequest()
	case PhaseSlide, PhaseSwap:
		return s.runFromRecovery(phase)
	default:
		return fmt.Errorf("startup: %w", ErrStateError)
	}
}

// runFromRequest implements the Request -> Slide transition: compute
// fingerprints, write the trailer, build both work lists with initial=true,
// and execute from the very first step (§4.4 state machine).
func (s *Swap) runFromRequest() error {
	if err := s.fingerprinter.Compute(&s.fp, s.sizes, s.prefixBytes()); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	if err := s.trailer.StartStatus(&s.fp, PhaseSlide); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	work, err := s.buildWork(true)
	if err != nil {
		return err
	}

	return s.executor.PerformWork(work, &s.fp, Resume{WorkIdx: 0, StepIdx: 0})
}

// runFromRecovery implements reboot-after-interruption: load fingerprints
// from the trailer (never recompute), rebuild both lists deterministically
// with initial=false, locate the resume point, and continue (§2, §4.4).
func (s *Swap) runFromRecovery(phase Phase) error {
	if err := s.trailer.LoadStatus(&s.fp); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	work, err := s.buildWork(false)
	if err != nil {
		return err
	}

	resume, err := s.executor.Recover(work, &s.fp, phase)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	return s.executor.PerformWork(work, &s.fp, resume)
}

func (s *Swap) buildWork(initial bool) ([2]*WorkList, error) {
	slide, err := s.planner.BuildSlide(&s.fp, initial)
	if err != nil {
		return [2]*WorkList{}, fmt.Errorf("startup: %w", err)
	}
	swp, err := s.planner.BuildSwap(&s.fp, initial)
	if err != nil {
		return [2]*WorkList{}, fmt.Errorf("startup: %w", err)
	}
	return [2]*WorkList{slide, swp}, nil
}

// restartWithBumpedPrefix implements the "Slide/Swap -> Request, bump
// prefix, restart" state-machine row (§4.4): it changes the hash salt and
// re-arms the trailer exactly as RequestUpgrade does, so the next
// startupOnce call recomputes fingerprints under the new prefix.
func (s *Swap) restartWithBumpedPrefix() error {
	s.prefixU32++
	if err := s.trailer.WriteMagic(); err != nil {
		return fmt.Errorf("restart after collision: %w", err)
	}
	return nil
}
