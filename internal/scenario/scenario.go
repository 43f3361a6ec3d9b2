// Package scenario builds fixture images, drives a [flashsim.Driver] + the
// swap core end to end, and verifies the result - the "simulation harness,
// test-image generation and byte-compare verification" the spec names as
// test fixtures (§1, §8). It is never imported by pkg/swap.
package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"github.com/d3zd3z/swapcore/internal/flashsim"
	"github.com/d3zd3z/swapcore/pkg/flash"
	"github.com/d3zd3z/swapcore/pkg/swap"
)

// Config describes one scenario: image sizes, device geometry, and the
// fault-injection knobs applied to the simulated driver. It is usually
// loaded from a HuJSON file, so fixtures can carry explanatory comments.
type Config struct {
	Name      string `json:"name"`
	SizeA     uint32 `json:"sizeA"`
	SizeB     uint32 `json:"sizeB"`
	PageSize  uint32 `json:"pageSize"`
	Prefix    uint32 `json:"prefix"`
	StepLimit uint64 `json:"stepLimit"`

	TornWriteRate float64 `json:"tornWriteRate"`
	TornEraseRate float64 `json:"tornEraseRate"`
	HardErrorRate float64 `json:"hardErrorRate"`
	Seed          int64   `json:"seed"`
}

func (c *Config) setDefaults() {
	if c.PageSize == 0 {
		c.PageSize = swap.DefaultPageSize
	}
}

// LoadConfig reads a HuJSON scenario file (comments and trailing commas
// allowed), standardizes it to plain JSON, and decodes it into a Config.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}

	ast, err := hujson.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("scenario: parse %s: %w", path, err)
	}
	ast.Standardize()

	var cfg Config
	if err := json.Unmarshal(ast.Pack(), &cfg); err != nil {
		return nil, fmt.Errorf("scenario: decode %s: %w", path, err)
	}
	cfg.setDefaults()
	return &cfg, nil
}

// GenerateImage returns deterministic pseudo-random content for slotID,
// keyed by (slot_id, offset) as §8/S1 specifies: the same slotID and size
// always produce the same bytes.
func GenerateImage(slotID int, size uint32) []byte {
	rng := rand.New(rand.NewPCG(uint64(slotID)+1, uint64(slotID)+1))

	out := make([]byte, size)
	for i := uint32(0); i < size; i += 8 {
		v := rng.Uint64()
		for j := 0; j < 8 && i+uint32(j) < size; j++ {
			out[i+uint32(j)] = byte(v >> (8 * j))
		}
	}
	return out
}

// pagesFor returns the page count needed to hold size bytes of content.
func pagesFor(size, pageSize uint32) uint32 {
	if size == 0 {
		return 0
	}
	return (size + pageSize - 1) / pageSize
}

// reservedTrailerPages returns how many trailing pages of slot 1 the status
// trailer needs for the given image sizes: two LastPage slots plus however
// many HashPage spill records the combined fingerprint count requires.
func reservedTrailerPages(sizeA, sizeB, pageSize uint32) uint32 {
	total := int(pagesFor(sizeA, pageSize)) + int(pagesFor(sizeB, pageSize))
	const lastPageHashCount = 110
	const hashPageHashCount = 127

	overflow := total - lastPageHashCount
	if overflow <= 0 {
		return 2
	}
	return 2 + uint32((overflow+hashPageHashCount-1)/hashPageHashCount)
}

// Built holds everything one scenario run needs: the simulated driver, the
// initial images as they were written to flash, and the Swap handle.
type Built struct {
	Driver *flashsim.Driver
	Swap   *swap.Swap
	ImageA []byte // originally installed in slot 0
	ImageB []byte // originally installed in slot 1
}

// Build constructs a simulated device sized for cfg, writes the two
// fixture images into slot 0 and slot 1, and returns a ready-to-use Swap
// bound to it. The caller still must call RequestUpgrade before Startup.
func Build(cfg *Config) (*Built, error) {
	cfg.setDefaults()

	countA := pagesFor(cfg.SizeA, cfg.PageSize)
	countB := pagesFor(cfg.SizeB, cfg.PageSize)
	maxCount := countA
	if countB > maxCount {
		maxCount = countB
	}

	slot1Pages := maxCount + reservedTrailerPages(cfg.SizeA, cfg.SizeB, cfg.PageSize)
	slot1Capacity := slot1Pages * cfg.PageSize
	slot0Capacity := slot1Capacity + cfg.PageSize

	var chaos *flashsim.ChaosConfig
	if cfg.TornWriteRate > 0 || cfg.TornEraseRate > 0 || cfg.HardErrorRate > 0 {
		chaos = &flashsim.ChaosConfig{
			TornWriteRate: cfg.TornWriteRate,
			TornEraseRate: cfg.TornEraseRate,
			HardErrorRate: cfg.HardErrorRate,
			Seed:          cfg.Seed,
		}
	}

	// Unlimited until the fixtures are installed; the scenario's own budget
	// is armed below.
	stepper := flashsim.NewStepper(0)
	driver, err := flashsim.NewDriver([2]uint32{slot0Capacity, slot1Capacity}, cfg.PageSize, chaos, stepper)
	if err != nil {
		return nil, fmt.Errorf("scenario: build driver: %w", err)
	}

	imgA := GenerateImage(0, cfg.SizeA)
	imgB := GenerateImage(1, cfg.SizeB)

	if err := installImage(driver, 0, imgA, cfg.PageSize); err != nil {
		return nil, fmt.Errorf("scenario: install image a: %w", err)
	}
	if err := installImage(driver, 1, imgB, cfg.PageSize); err != nil {
		return nil, fmt.Errorf("scenario: install image b: %w", err)
	}
	stepper.Reset(cfg.StepLimit)

	sw, err := swap.Init(driver, swap.Sizes{cfg.SizeA, cfg.SizeB}, cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("scenario: init swap: %w", err)
	}

	return &Built{Driver: driver, Swap: sw, ImageA: imgA, ImageB: imgB}, nil
}

// installImage writes content into area id page by page. Build calls it
// before arming the scenario's step budget, so fixture setup never counts
// against that budget.
func installImage(driver *flashsim.Driver, id int, content []byte, pageSize uint32) error {
	area, err := driver.Open(id)
	if err != nil {
		return err
	}

	pos := uint32(0)
	for pos < uint32(len(content)) {
		buf := make([]byte, pageSize)
		copy(buf, content[pos:])

		if err := area.Erase(pos, pageSize); err != nil {
			return err
		}
		if err := area.Write(pos, buf); err != nil {
			return err
		}
		pos += pageSize
	}
	return nil
}

// VerifyImages asserts slot 0 holds wantSlot0 and slot 1 holds wantSlot1 in
// their first len(want...) bytes (§8, universal invariant 1).
func VerifyImages(driver *flashsim.Driver, wantSlot0, wantSlot1 []byte) error {
	got0 := driver.Snapshot(0)
	if len(got0) < len(wantSlot0) || !bytes.Equal(got0[:len(wantSlot0)], wantSlot0) {
		return fmt.Errorf("scenario: slot 0 content mismatch")
	}

	got1 := driver.Snapshot(1)
	if len(got1) < len(wantSlot1) || !bytes.Equal(got1[:len(wantSlot1)], wantSlot1) {
		return fmt.Errorf("scenario: slot 1 content mismatch")
	}
	return nil
}

// Report is the durable record of one scenario run, written via
// [WriteReport].
type Report struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Attempts int    `json:"attempts"`
	Steps    uint64 `json:"steps"`
	Error    string `json:"error,omitempty"`
}

// WriteReport durably records a scenario's outcome via an atomic
// temp-file-plus-rename write, so a crash mid-write never leaves a
// half-written report file (mirrors the teacher's cache_binary.go use of
// natefinch/atomic).
func WriteReport(path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("scenario: marshal report: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("scenario: write report %s: %w", path, err)
	}
	return nil
}

// RunToCompletion drives startup through simulated interruptions: it calls
// Startup, and on ErrExpired (the stepper tripping) disarms the stepper and
// retries from a fresh Swap handle bound to the same driver, as recovery
// requires re-entering startup() with no in-memory state (§2). An
// interruption can land in the narrow window where the trailer's Request
// marker has been erased but the Slide record has not yet landed; Startup
// correctly reports that as ErrNotRequested (§7), and the documented
// recovery action is for the caller to call RequestUpgrade again, which
// this loop does before retrying. It returns the number of Startup attempts
// made.
func RunToCompletion(b *Built, sizes swap.Sizes, prefix uint32) (int, error) {
	attempts := 0
	for {
		attempts++
		err := b.Swap.Startup()
		if err == nil {
			return attempts, nil
		}

		switch {
		case isExpired(err):
			b.Driver.Stepper().Reset(0)
			sw, initErr := swap.Init(b.Driver, sizes, prefix)
			if initErr != nil {
				return attempts, fmt.Errorf("scenario: reinit after interruption: %w", initErr)
			}
			b.Swap = sw
		case errors.Is(err, swap.ErrNotRequested):
			if reqErr := b.Swap.RequestUpgrade(); reqErr != nil {
				return attempts, fmt.Errorf("scenario: re-request after interruption: %w", reqErr)
			}
		default:
			return attempts, err
		}
	}
}

func isExpired(err error) bool {
	return errors.Is(err, flashsim.ErrExpired)
}

var _ flash.Driver = (*flashsim.Driver)(nil)
