// Package muid generates identifiers for state machines and the transition
// events they emit.
//
// The native identifier is a MUID, a 64-bit monotonic value laid out as
//
//	[timestamp ms since Epoch][machine bits][counter]
//
// and rendered in base32. UUID, ULID and NanoID sources are available for
// hosts that correlate transition events with systems using those formats.
package muid

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Epoch is the default epoch in milliseconds (2023-11-14T22:13:20Z).
const Epoch int64 = 1700000000000

const (
	timestampBits = 41
	machineBits   = 14
	counterBits   = 64 - timestampBits - machineBits
	counterMask   = 1<<counterBits - 1
	machineMask   = 1<<machineBits - 1
)

// MUID is a monotonically increasing unique identifier.
type MUID uint64

// String returns the base32 rendering of the MUID.
func (m MUID) String() string {
	return strconv.FormatUint(uint64(m), 32)
}

// Time returns the millisecond the MUID was generated in.
func (m MUID) Time(epoch int64) time.Time {
	return time.UnixMilli(int64(uint64(m)>>(machineBits+counterBits)) + epoch)
}

// Generator produces MUIDs for one machine ID.
type Generator struct {
	machine uint64
	epoch   int64
	// last packs the last timestamp above the counter bits.
	last atomic.Uint64
}

// NewGenerator returns a generator for machine, masked to the machine bits.
// A non-positive epoch selects Epoch.
func NewGenerator(machine uint64, epoch int64) *Generator {
	if epoch <= 0 {
		epoch = Epoch
	}
	return &Generator{machine: machine & machineMask, epoch: epoch}
}

// ID returns the next MUID. Clock regressions reuse the last timestamp and a
// counter overflow borrows the next millisecond.
func (g *Generator) ID() MUID {
	for {
		now := uint64(time.Now().UnixMilli() - g.epoch)
		previous := g.last.Load()
		stamp, counter := previous>>counterBits, previous&counterMask
		switch {
		case now > stamp:
			stamp, counter = now, 0
		case counter == counterMask:
			stamp, counter = stamp+1, 0
		default:
			counter++
		}
		if g.last.CompareAndSwap(previous, stamp<<counterBits|counter) {
			return MUID(stamp<<(machineBits+counterBits) | g.machine<<counterBits | counter)
		}
	}
}

// MachineID derives a machine ID from the hostname, falling back to random
// bits when the hostname is unavailable.
func MachineID() uint64 {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		hash := fnv.New64a()
		hash.Write([]byte(hostname))
		return hash.Sum64() & machineMask
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:]) & machineMask
}

var defaultGenerator = sync.OnceValue(func() *Generator {
	return NewGenerator(MachineID(), Epoch)
})

// Make returns a MUID from the process-wide generator.
func Make() MUID {
	return defaultGenerator().ID()
}

// MakeString returns Make().String().
func MakeString() string {
	return Make().String()
}
