package swap

import (
	"fmt"

	"github.com/d3zd3z/swapcore/pkg/flash"
)

// TrailerPageDump is a read-only snapshot of one physical trailer page (ult
// or penult), for diagnostic tooling (the inspect command of cmd/bootsim's
// step REPL).
type TrailerPageDump struct {
	Offset         uint32
	Written        bool
	HasMagic       bool
	ValidIntegrity bool
	Seq            uint32
	Phase          Phase
	Sizes          Sizes
}

// TrailerDump is a read-only snapshot of both trailer pages plus the
// resolved authoritative phase, produced by DumpTrailer.
type TrailerDump struct {
	Phase         Phase
	Authoritative string // "ult", "penult", or "" when neither page is valid
	Ult, Penult   TrailerPageDump
}

// DumpTrailer inspects slot 1's trailer without mutating any flash state: it
// decodes both candidate pages and reports which one (if either) Scan would
// treat as authoritative. It is built for offline inspection tools, never
// called from the Startup path itself.
func DumpTrailer(slot1 flash.Area) (*TrailerDump, error) {
	t, err := NewTrailer(slot1)
	if err != nil {
		return nil, fmt.Errorf("dump trailer: %w", err)
	}

	phase, at, err := t.locate()
	if err != nil {
		return nil, fmt.Errorf("dump trailer: %w", err)
	}

	ult, err := t.readSlot(t.ultOffset)
	if err != nil {
		return nil, fmt.Errorf("dump trailer: read ult: %w", err)
	}
	penult, err := t.readSlot(t.penultOffset)
	if err != nil {
		return nil, fmt.Errorf("dump trailer: read penult: %w", err)
	}

	d := &TrailerDump{
		Phase:  phase,
		Ult:    dumpSlot(ult),
		Penult: dumpSlot(penult),
	}
	if at != nil {
		if at.off == t.ultOffset {
			d.Authoritative = "ult"
		} else {
			d.Authoritative = "penult"
		}
	}
	return d, nil
}

func dumpSlot(s trailerSlot) TrailerPageDump {
	return TrailerPageDump{
		Offset:         s.off,
		Written:        s.written,
		HasMagic:       s.hasMagic,
		ValidIntegrity: s.valid,
		Seq:            s.lp.Seq,
		Phase:          s.lp.Phase,
		Sizes:          s.lp.Sizes,
	}
}
