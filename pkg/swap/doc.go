// Package swap implements the core of a firmware-update bootloader's
// image-swap engine.
//
// It exchanges the contents of two flash regions ("slot 0" and "slot 1") so
// that after a successful swap slot 0 holds what was previously the staged
// upgrade image and slot 1 holds the previous primary image. The swap is
// power-fail safe: interruption at any point during any flash erase or write
// is recoverable on the next boot, eventually completing the swap with no
// data loss and no undefined state.
//
// # Basic usage
//
//	sw, err := swap.Init(driver, swap.Sizes{sizeA, sizeB}, prefix)
//	if err != nil {
//	    // handle
//	}
//	if err := sw.RequestUpgrade(); err != nil {
//	    // handle
//	}
//	if err := sw.Startup(); err != nil {
//	    // classify with errors.Is against ErrHashCollision, ErrCorruptTrailer,
//	    // ErrStateError and retry/halt accordingly
//	}
//
// [Swap.Startup] is idempotent: calling it again after a clean completion is
// a no-op, and calling it after an interruption resumes from the first
// unfinished step.
//
// # Concurrency
//
// The core is single-threaded and cooperative, matching the bootloader
// environment it runs in: exactly one [Swap] value is active at a time, and
// none of its methods are safe for concurrent use. The only "cancellation"
// is asynchronous power loss between flash operations, which [Swap.Startup]
// is designed to recover from on the next call.
package swap
