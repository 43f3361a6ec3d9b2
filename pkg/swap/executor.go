package swap

import (
	"errors"
	"fmt"

	"github.com/d3zd3z/swapcore/pkg/flash"
)

// Executor runs work-list steps against the two slot areas and reconstructs
// a resume point after an interruption (§4.4).
type Executor struct {
	areas    [2]flash.Area
	trailer  *Trailer
	pageSize uint32
}

// NewExecutor binds an Executor to the two slot areas and the trailer it
// advances between phases.
func NewExecutor(slot0, slot1 flash.Area, trailer *Trailer) *Executor {
	return &Executor{areas: [2]flash.Area{slot0, slot1}, trailer: trailer, pageSize: slot0.PageSize()}
}

// PerformWork runs work[resume.WorkIdx][resume.StepIdx:] and then, in order,
// every remaining work list, advancing the trailer's phase after each list
// finishes: Slide -> Swap after work[0], Swap -> Done after work[1] (§4.4).
func (e *Executor) PerformWork(work [2]*WorkList, fp *Fingerprints, resume Resume) error {
	tmp := make([]byte, e.pageSize)

	for workIdx := resume.WorkIdx; workIdx <= 1; workIdx++ {
		items := work[workIdx].Slice()

		start := 0
		if workIdx == resume.WorkIdx {
			start = resume.StepIdx
		}

		for i := start; i < len(items); i++ {
			if err := e.runStep(items[i], fp.Prefix, tmp); err != nil {
				return fmt.Errorf("perform work: phase %d step %d: %w", workIdx, i, err)
			}
		}

		var next Phase
		if workIdx == 0 {
			next = PhaseSwap
		} else {
			next = PhaseDone
		}
		if err := e.trailer.UpdateStatus(next); err != nil {
			return fmt.Errorf("perform work: advance to %s: %w", next, err)
		}
	}

	return nil
}

// runStep executes one work item: erase destination, read source, verify
// the source still hashes to the item's fingerprint (self-check), write the
// full page to destination (§4.4 steps 1-4). A self-check failure means the
// source page changed since the plan was built and is reported as
// ErrHashCollision so the caller restarts with a bumped prefix.
func (e *Executor) runStep(step WorkItem, prefix [trailerPrefixSize]byte, tmp []byte) error {
	dest := e.areas[step.DestSlot]
	src := e.areas[step.SrcSlot]
	destOff := step.DestPage * e.pageSize
	srcOff := step.SrcPage * e.pageSize

	if err := dest.Erase(destOff, e.pageSize); err != nil {
		return fmt.Errorf("erase dest slot %d page %d: %w", step.DestSlot, step.DestPage, err)
	}

	if err := src.Read(srcOff, tmp[:step.Size]); err != nil {
		return fmt.Errorf("read src slot %d page %d: %w", step.SrcSlot, step.SrcPage, err)
	}

	h := NewHasher()
	h.Init(prefix)
	h.Update(tmp[:step.Size])
	if got := h.Final(); got != step.Fingerprint {
		return fmt.Errorf("%s: source changed under us: %w", step, ErrHashCollision)
	}

	if err := dest.Write(destOff, tmp[:e.pageSize]); err != nil {
		return fmt.Errorf("write dest slot %d page %d: %w", step.DestSlot, step.DestPage, err)
	}

	return nil
}

// Recover determines the resume point within phase's work list (§4.4):
// forward-scan for the first step whose destination doesn't yet hold the
// expected, verified content, then back up one step if that step's
// predecessor's source page still carries its pre-move content (the only
// ambiguous boundary: a destination that looks done whose source has since
// been overwritten by the very next step).
func (e *Executor) Recover(work [2]*WorkList, fp *Fingerprints, phase Phase) (Resume, error) {
	var workIdx int
	switch phase {
	case PhaseSlide:
		workIdx = 0
	case PhaseSwap:
		workIdx = 1
	default:
		return Resume{}, fmt.Errorf("recover: phase %s: %w", phase, ErrStateError)
	}

	items := work[workIdx].Slice()

	i := 0
	for ; i < len(items); i++ {
		done, err := e.stepDone(items[i], fp.Prefix)
		if err != nil {
			return Resume{}, fmt.Errorf("recover: check step %d: %w", i, err)
		}
		if !done {
			break
		}
	}

	if i > 0 {
		intact, err := e.sourceIntact(items[i-1], fp.Prefix)
		if err != nil {
			return Resume{}, fmt.Errorf("recover: check boundary %d: %w", i-1, err)
		}
		if intact {
			i--
		}
	}

	return Resume{WorkIdx: workIdx, StepIdx: i}, nil
}

// stepDone reports whether step's destination is Written and already
// hashes to step's fingerprint.
func (e *Executor) stepDone(step WorkItem, prefix [trailerPrefixSize]byte) (bool, error) {
	return e.pageMatches(step.DestSlot, step.DestPage, step.Size, step.Fingerprint, prefix)
}

// sourceIntact reports whether step's source page still carries the
// content step's fingerprint describes - true means the step that writes to
// that same physical address (the next step in the list) has not yet run.
func (e *Executor) sourceIntact(step WorkItem, prefix [trailerPrefixSize]byte) (bool, error) {
	return e.pageMatches(step.SrcSlot, step.SrcPage, step.Size, step.Fingerprint, prefix)
}

func (e *Executor) pageMatches(slot int, page uint32, size uint32, want Fingerprint, prefix [trailerPrefixSize]byte) (bool, error) {
	area := e.areas[slot]

	state, err := area.GetState(page * e.pageSize)
	if err != nil {
		return false, fmt.Errorf("get state slot %d page %d: %w", slot, page, err)
	}
	if state != flash.StateWritten {
		return false, nil
	}

	buf := make([]byte, size)
	if err := area.Read(page*e.pageSize, buf); err != nil {
		if errors.Is(err, flash.ErrUnwritten) {
			return false, nil
		}
		return false, fmt.Errorf("read slot %d page %d: %w", slot, page, err)
	}

	h := NewHasher()
	h.Init(prefix)
	h.Update(buf)
	return h.Final() == want, nil
}
