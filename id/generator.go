package id

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bit layout of a revision id: (ms_since_epoch << 22) | (instance << 16) | sequence.
// Ids stay below 2^63 so they fit signed BIGINT/INTEGER columns.
const (
	epochMS = 1704067200000 // 2024-01-01T00:00:00Z

	instanceBits = 6
	sequenceBits = 16
	instanceMask = (1 << instanceBits) - 1
	sequenceMask = (1 << sequenceBits) - 1
)

// Generator provides unique ids for backup revisions.
// IDs are unique per instance and strictly increasing, so they order
// revisions created within the same timestamp tick.
type Generator interface {
	NextID() uint64
}

// ClockGenerator derives ids from the wall clock plus a per-millisecond sequence.
// Thread-safe.
type ClockGenerator struct {
	mu       sync.Mutex
	instance uint64
	lastMS   int64
	seq      uint64
	now      func() time.Time
}

// NewClockGenerator creates a generator for the given instance.
// Only the low 6 bits of instance are used.
func NewClockGenerator(instance uint64) *ClockGenerator {
	return &ClockGenerator{instance: instance & instanceMask, now: time.Now}
}

// NextID generates a unique 64-bit ID.
func (g *ClockGenerator) NextID() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli() - epochMS
	if ms < g.lastMS {
		// Clock went backwards; keep counting on the last millisecond
		ms = g.lastMS
	}

	if ms == g.lastMS {
		g.seq++
		if g.seq > sequenceMask {
			// Sequence exhausted for this millisecond, spin until the next one
			for ms <= g.lastMS {
				time.Sleep(100 * time.Microsecond)
				ms = g.now().UnixMilli() - epochMS
			}
			g.seq = 0
		}
	} else {
		g.seq = 0
	}
	g.lastMS = ms

	return uint64(ms)<<(instanceBits+sequenceBits) | g.instance<<sequenceBits | g.seq
}

// Time extracts the wall-clock millisecond encoded in an id.
func Time(id uint64) time.Time {
	return time.UnixMilli(int64(id>>(instanceBits+sequenceBits)) + epochMS).UTC()
}

// NewBatchID returns a fresh identifier grouping the writes of one bulk operation.
func NewBatchID() string {
	return uuid.NewString()
}
