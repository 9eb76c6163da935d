// Package index implements the in-memory key index: the map from a
// record's key to its location in the data file, rebuilt at open from
// the WAL. The index holds no durable state of its own.
package index

import (
	"os"
	"sync"

	"github.com/Felmond13/raptor/codec"
)

// RecordLocation is where a key's latest DataRecord lives, and the
// sequence number of the write that put it there.
type RecordLocation struct {
	Offset   uint64
	Length   uint32
	Sequence int64
}

// Index is a concurrency-safe map from key to RecordLocation.
type Index struct {
	mu        sync.RWMutex
	locations map[string]RecordLocation
}

// New returns an empty index.
func New() *Index {
	return &Index{locations: make(map[string]RecordLocation)}
}

// Get returns the location for key, if present.
func (idx *Index) Get(key string) (RecordLocation, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	loc, ok := idx.locations[key]
	return loc, ok
}

// Has reports whether key is present.
func (idx *Index) Has(key string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.locations[key]
	return ok
}

// Apply updates the index for a single committed operation: insert and
// update set key's location, delete removes it.
func (idx *Index) Apply(op codec.Op, key string, loc RecordLocation) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	switch op {
	case codec.OpDelete:
		delete(idx.locations, key)
	default:
		idx.locations[key] = loc
	}
}

// Delete removes key unconditionally.
func (idx *Index) Delete(key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.locations, key)
}

// Keys returns a snapshot of every live key, in no particular order.
func (idx *Index) Keys() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	keys := make([]string, 0, len(idx.locations))
	for k := range idx.locations {
		keys = append(keys, k)
	}
	return keys
}

// Locations returns a snapshot of every live key and its location.
func (idx *Index) Locations() map[string]RecordLocation {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string]RecordLocation, len(idx.locations))
	for k, v := range idx.locations {
		out[k] = v
	}
	return out
}

// Count returns the number of live keys.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.locations)
}

// recoveryReadSize is how much of the data file BuildFromWAL reads at
// each entry's offset to recover the key. A DataRecord's fixed prefix is
// 30 bytes; 1024 comfortably covers any realistic key length without
// reading the (potentially large) embedding payload.
const recoveryReadSize = 1024

// recoverer is the subset of *wal.WAL that BuildFromWAL needs. Declaring
// it here lets callers pass any source of entries: the engine passes an
// empty one for a read-only open with no WAL file, and the tests pass a
// fake.
type recoverer interface {
	Recover() ([]codec.WalEntry, error)
}

// BuildFromWAL rebuilds an Index by replaying every valid WAL entry in
// w, reading each entry's key back from the data file at dataPath. It
// returns the rebuilt index and the maximum sequence number observed
// (0 if the WAL was empty). If the data file is missing, it returns an
// empty index and sequence 0 — there is nothing to recover.
//
// An entry whose key cannot be read (short read, bad magic at its
// offset) is skipped: the data file is the source of truth for keys,
// since the WAL carries only a hash of one.
func BuildFromWAL(w recoverer, dataPath string) (*Index, int64, error) {
	idx := New()

	dataFile, err := os.Open(dataPath)
	if os.IsNotExist(err) {
		return idx, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	defer dataFile.Close()

	entries, err := w.Recover()
	if err != nil {
		return nil, 0, err
	}

	var maxSequence int64
	buf := make([]byte, recoveryReadSize)
	for _, entry := range entries {
		if entry.Sequence > maxSequence {
			maxSequence = entry.Sequence
		}

		n, readErr := dataFile.ReadAt(buf, int64(entry.Offset))
		if readErr != nil && n == 0 {
			continue
		}
		key, ok := codec.ReadKeyFromBuffer(buf[:n], 0)
		if !ok {
			continue
		}

		idx.Apply(entry.Op, key, RecordLocation{
			Offset:   entry.Offset,
			Length:   entry.Length,
			Sequence: entry.Sequence,
		})
	}

	return idx, maxSequence, nil
}
