package publisher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
	"github.com/wpmeta/wpmeta/encoding"
)

// Key layout inside the pebble store
const (
	keyEventPrefix  = "/events/"  // /events/{016x seq}
	keyCursorPrefix = "/cursors/" // /cursors/{sink}
	keyLastSeq      = "/lastseq"
)

const (
	defaultReadLimit = 100
	pruneEvery       = 0x3F // prune when a cursor crosses a multiple of 64
	memTableSize     = 8 << 20
)

// ErrLogClosed is returned by every operation after Close
var ErrLogClosed = errors.New("change log is closed")

// ChangeLog is a durable, append-only queue of change events shared by all sinks.
// Each sink owns a cursor (last delivered sequence); entries below the lowest
// cursor are pruned.
type ChangeLog struct {
	db   *pebble.DB
	path string

	appendMu sync.Mutex
	lastSeq  atomic.Uint64

	cursorsMu sync.RWMutex
	cursors   map[string]uint64

	pruneMu      sync.Mutex
	pruneRunning atomic.Bool
	pruneWg      sync.WaitGroup

	closed atomic.Bool
}

// OpenChangeLog opens (or creates) the change log under dataDir
func OpenChangeLog(dataDir string) (*ChangeLog, error) {
	path := filepath.Join(dataDir, "change_log")

	db, err := pebble.Open(path, &pebble.Options{
		MemTableSize: memTableSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open change log at %s: %w", path, err)
	}

	cl := &ChangeLog{
		db:      db,
		path:    path,
		cursors: make(map[string]uint64),
	}

	if err := cl.load(); err != nil {
		db.Close()
		return nil, err
	}

	return cl, nil
}

func (cl *ChangeLog) load() error {
	val, closer, err := cl.db.Get([]byte(keyLastSeq))
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return fmt.Errorf("read last sequence: %w", err)
	default:
		seq, derr := decodeUint64(val)
		closer.Close()
		if derr != nil {
			return fmt.Errorf("read last sequence: %w", derr)
		}
		cl.lastSeq.Store(seq)
	}

	prefix := []byte(keyCursorPrefix)
	iter, err := cl.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		sink := string(iter.Key()[len(prefix):])
		cursor, err := decodeUint64(iter.Value())
		if err != nil {
			return fmt.Errorf("cursor for sink %s: %w", sink, err)
		}
		cl.cursors[sink] = cursor
	}

	if len(cl.cursors) > 0 {
		log.Info().Int("cursors", len(cl.cursors)).Uint64("last_seq", cl.lastSeq.Load()).Msg("Loaded change log")
	}

	return iter.Error()
}

// Append stores events and assigns their sequence numbers in place
func (cl *ChangeLog) Append(events []ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	if cl.closed.Load() {
		return ErrLogClosed
	}

	cl.appendMu.Lock()
	defer cl.appendMu.Unlock()

	seq := cl.lastSeq.Load()
	batch := cl.db.NewBatch()
	defer batch.Close()

	for i := range events {
		seq++
		events[i].SeqNum = seq

		val, err := encoding.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("marshal change event: %w", err)
		}
		if err := batch.Set(eventKey(seq), val, nil); err != nil {
			return err
		}
	}

	if err := batch.Set([]byte(keyLastSeq), encodeUint64(seq), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit change events: %w", err)
	}

	cl.lastSeq.Store(seq)
	return nil
}

// LastSeq returns the sequence number of the newest stored event
func (cl *ChangeLog) LastSeq() uint64 {
	return cl.lastSeq.Load()
}

// ReadFrom returns up to limit events with a sequence greater than cursor
func (cl *ChangeLog) ReadFrom(cursor uint64, limit int) ([]ChangeEvent, error) {
	if cl.closed.Load() {
		return nil, ErrLogClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	iter, err := cl.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(cursor + 1),
		UpperBound: prefixUpperBound([]byte(keyEventPrefix)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := make([]ChangeEvent, 0, limit)
	for iter.First(); iter.Valid() && len(events) < limit; iter.Next() {
		var ev ChangeEvent
		if err := encoding.Unmarshal(iter.Value(), &ev); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Skipping unreadable change event")
			continue
		}
		events = append(events, ev)
	}

	return events, iter.Error()
}

// Cursor returns the last delivered sequence for sink (0 for a new sink)
func (cl *ChangeLog) Cursor(sink string) (uint64, error) {
	if cl.closed.Load() {
		return 0, ErrLogClosed
	}

	cl.cursorsMu.RLock()
	defer cl.cursorsMu.RUnlock()
	return cl.cursors[sink], nil
}

// AdvanceCursor persists sink's cursor and prunes delivered events now and then
func (cl *ChangeLog) AdvanceCursor(sink string, seq uint64) error {
	if cl.closed.Load() {
		return ErrLogClosed
	}

	if err := cl.db.Set(cursorKey(sink), encodeUint64(seq), pebble.Sync); err != nil {
		return fmt.Errorf("persist cursor for %s: %w", sink, err)
	}

	cl.cursorsMu.Lock()
	prev := cl.cursors[sink]
	cl.cursors[sink] = seq
	cl.cursorsMu.Unlock()

	if prev|pruneEvery != seq|pruneEvery && cl.pruneRunning.CompareAndSwap(false, true) {
		cl.pruneWg.Add(1)
		go func() {
			defer cl.pruneWg.Done()
			defer cl.pruneRunning.Store(false)
			cl.prune()
		}()
	}

	return nil
}

// prune deletes every event all sinks have already delivered
func (cl *ChangeLog) prune() {
	cl.pruneMu.Lock()
	defer cl.pruneMu.Unlock()

	if cl.closed.Load() {
		return
	}

	cl.cursorsMu.RLock()
	if len(cl.cursors) == 0 {
		cl.cursorsMu.RUnlock()
		return
	}
	low := ^uint64(0)
	for _, c := range cl.cursors {
		low = min(low, c)
	}
	cl.cursorsMu.RUnlock()

	if low == 0 {
		return
	}

	if err := cl.db.DeleteRange([]byte(keyEventPrefix), eventKey(low+1), pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("through", low).Msg("Failed to prune change log")
		return
	}
	log.Debug().Uint64("through", low).Msg("Pruned change log")
}

// Close waits for a running prune and closes the store
func (cl *ChangeLog) Close() error {
	if !cl.closed.CompareAndSwap(false, true) {
		return ErrLogClosed
	}
	cl.pruneWg.Wait()
	return cl.db.Close()
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", keyEventPrefix, seq))
}

func cursorKey(sink string) []byte {
	return []byte(keyCursorPrefix + sink)
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid length %d", len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

// prefixUpperBound returns the smallest key greater than every key with prefix
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
