// Package kind packs element kinds into uint64 values so that a kind can be
// tested against its bases with a few shifts instead of a type switch.
//
// The lowest byte of a Kind is its own ID. Each higher byte holds the ID of
// one base, so a Kind can carry up to seven bases.
package kind

import "sync/atomic"

const (
	width = 8
	slots = 64 / width
	mask  = 1<<width - 1
)

// Kind encodes an ID and the IDs of its bases.
type Kind = uint64

var next atomic.Uint64

// Make allocates a new Kind that inherits every ID carried by bases.
// IDs start at 1, so the zero Kind never matches anything.
func Make(bases ...Kind) Kind {
	id := next.Add(1) & mask
	out := id
	seen := map[Kind]bool{id: true}
	slot := 1
	for _, base := range bases {
		for _, baseID := range IDs(base) {
			if seen[baseID] || slot >= slots {
				continue
			}
			seen[baseID] = true
			out |= baseID << (width * slot)
			slot++
		}
	}
	return out
}

// ID returns the kind's own ID.
func ID(k Kind) Kind {
	return k & mask
}

// IDs returns the kind's own ID followed by the IDs of its bases.
func IDs(k Kind) []Kind {
	ids := make([]Kind, 0, slots)
	for i := 0; i < slots; i++ {
		id := (k >> (width * i)) & mask
		if id == 0 {
			break
		}
		ids = append(ids, id)
	}
	return ids
}

// Is reports whether k is, or inherits from, any of bases.
func Is(k Kind, bases ...Kind) bool {
	for _, base := range bases {
		want := ID(base)
		if want == 0 {
			continue
		}
		for i := 0; i < slots; i++ {
			id := (k >> (width * i)) & mask
			if id == 0 {
				break
			}
			if id == want {
				return true
			}
		}
	}
	return false
}

// Kinds of the elements exposed by the state machine engine.
var (
	Element             = Make()
	Machine             = Make(Element)
	Configuration       = Make(Element)
	GlobalConfiguration = Make(Configuration)
	Transition          = Make(Element)
	StateTransition     = Make(Transition)
	GlobalTransition    = Make(Transition)
)
