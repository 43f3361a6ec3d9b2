package swap

import "errors"

// Error classification.
//
// Implementations MAY wrap these with additional context via fmt.Errorf's
// %w verb. Callers MUST classify errors using errors.Is.
var (
	// ErrHashCollision indicates the planner or executor found two pages
	// with equal fingerprints but different content under the current
	// prefix. The caller should bump the prefix and restart from Request.
	ErrHashCollision = errors.New("swap: hash collision")

	// ErrCorruptTrailer indicates a spill hash page of the status trailer
	// failed its integrity check while loading status. This is
	// unrecoverable; the caller should halt. (Two LastPage candidates that
	// both fail integrity while one carries the magic constant are not
	// reported with this error: Scan reads them as PhaseRequest.)
	ErrCorruptTrailer = errors.New("swap: corrupt trailer")

	// ErrStateError indicates the trailer holds a phase no state machine
	// transition covers, or holds no valid record where one is required
	// (updating or loading status, recovering). Unrecoverable; the caller
	// should halt.
	ErrStateError = errors.New("swap: undefined state")

	// ErrWorkListOverflow indicates an image requires more work items than
	// maxPages bounds allow. Fatal at plan-build time; a misconfiguration,
	// not a runtime condition the executor can recover from.
	ErrWorkListOverflow = errors.New("swap: work list exceeds max pages")

	// ErrInvalidSizes indicates the configured image sizes don't fit the
	// slot capacities the driver reports.
	ErrInvalidSizes = errors.New("swap: invalid image sizes")

	// ErrNotRequested indicates Startup was called while the trailer phase
	// is Unknown: no RequestUpgrade has been recorded yet, so there is
	// nothing to do.
	ErrNotRequested = errors.New("swap: upgrade not requested")
)

// ExitCode maps a Startup error to the bootloader exit code convention from
// the caller API: 0 when err is nil, 1 for unrecoverable trailer corruption
// or state errors, 2 when prefix-bump retries were exhausted on repeated
// hash collisions.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrCorruptTrailer), errors.Is(err, ErrStateError):
		return 1
	case errors.Is(err, ErrHashCollision):
		return 2
	default:
		return 1
	}
}
