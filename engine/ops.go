package engine

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/Felmond13/raptor/codec"
	"github.com/Felmond13/raptor/index"
	"github.com/Felmond13/raptor/raptorerr"
)

// WriteRecord writes embedding under key, inserting it if key is new or
// updating it if key already exists. It acquires the write lock on the
// first call (lazily, once), assigns the next sequence number and a
// Unix-millisecond timestamp, and returns only after the write's commit
// point — the WAL fsync — has completed.
func (e *Engine) WriteRecord(key string, embedding []float32) error {
	if e.readOnly {
		return raptorerr.ErrReadOnly
	}
	if len(embedding) != int(e.dimension) {
		return fmt.Errorf("%w: got %d, want %d", raptorerr.ErrDimensionMismatch, len(embedding), e.dimension)
	}
	return e.writeInternal(key, embedding, nil)
}

// DeleteRecord removes key, if present, by writing a delete record with
// a zero vector through the normal write path. It reports whether key
// was present.
func (e *Engine) DeleteRecord(key string) (bool, error) {
	if e.readOnly {
		return false, raptorerr.ErrReadOnly
	}
	if !e.idx.Has(key) {
		return false, nil
	}
	op := codec.OpDelete
	zero := make([]float32, e.dimension)
	if err := e.writeInternal(key, zero, &op); err != nil {
		return false, err
	}
	return true, nil
}

// writeInternal performs the shared body of WriteRecord and
// DeleteRecord: lock acquisition, sequence assignment, serialization,
// and dispatch to the batcher or the direct path. explicitOp overrides
// the automatic insert/update detection; used only by DeleteRecord.
//
// The write mutex's critical section ends as soon as this write's
// place in the commit order is fixed — its sequence number, and either
// its batcher queue slot (offset already reserved) or its fully
// completed direct write. For a batched write that means unlocking
// right after Batcher.Enqueue returns, not after the batch it landed in
// has flushed: holding the mutex across the flush round trip would
// force every concurrent writer to wait for the previous write's batch
// to complete before it could even enqueue, so the batcher would never
// see more than one pending record at a time and could never coalesce
// anything. Releasing the mutex at enqueue time, then waiting on the
// completion channel outside it, lets concurrent writers queue behind
// each other in order while their batch is still open.
func (e *Engine) writeInternal(key string, embedding []float32, explicitOp *codec.Op) error {
	e.writeMu.Lock()

	if err := e.ensureLockAcquiredLocked(); err != nil {
		e.writeMu.Unlock()
		return err
	}

	op := codec.OpInsert
	switch {
	case explicitOp != nil:
		op = *explicitOp
	case e.idx.Has(key):
		op = codec.OpUpdate
	}

	seq := e.nextSequence
	e.nextSequence++
	ts := time.Now().UnixMilli()

	rec := codec.DataRecord{
		Op:        op,
		Sequence:  seq,
		Timestamp: ts,
		Key:       key,
		Dimension: e.dimension,
		Embedding: embedding,
	}
	serialized := codec.SerializeDataRecord(rec)

	if e.batcher != nil {
		_, done, err := e.batcher.Enqueue(serialized, key, op, seq)
		e.writeMu.Unlock()
		if err != nil {
			return err
		}
		return <-done
	}

	defer e.writeMu.Unlock()
	return e.writeDirectLocked(serialized, key, op, seq)
}

// writeDirectLocked performs the five-step direct write path: reserve
// the offset (writing the header first if this is the first record
// ever), append the data record and fsync, append one WAL entry and
// fsync, then update the index. Called with writeMu held.
func (e *Engine) writeDirectLocked(serialized []byte, key string, op codec.Op, seq int64) error {
	if !e.headerWritten {
		if _, err := e.dataFile.WriteAt(codec.SerializeHeader(e.dimension), 0); err != nil {
			return fmt.Errorf("raptor: write header: %w", err)
		}
		e.headerWritten = true
		if e.fileSize < codec.HeaderSize {
			e.fileSize = codec.HeaderSize
		}
	}

	offset := e.fileSize
	if _, err := e.dataFile.WriteAt(serialized, int64(offset)); err != nil {
		return fmt.Errorf("raptor: write record: %w", err)
	}
	if err := e.dataFile.Sync(); err != nil {
		return fmt.Errorf("raptor: fsync data file: %w", err)
	}
	e.fileSize = offset + uint64(len(serialized))

	entry := codec.WalEntry{
		Op:       op,
		Sequence: seq,
		Offset:   offset,
		Length:   uint32(len(serialized)),
		KeyHash:  codec.HashKey(key),
	}
	if err := e.wal.Append(entry); err != nil {
		return fmt.Errorf("raptor: wal append: %w", err)
	}

	e.idx.Apply(op, key, index.RecordLocation{Offset: offset, Length: uint32(len(serialized)), Sequence: seq})
	return nil
}

// ensureLockAcquiredLocked acquires the cross-process write lock the
// first time any mutating operation runs. Subsequent calls are no-ops.
// Must be called with writeMu held, which is what makes "acquire
// exactly once" trivial: only one goroutine can be inside this method
// at a time for a given engine.
func (e *Engine) ensureLockAcquiredLocked() error {
	if e.lockAcquired {
		return nil
	}
	if err := e.lock.Acquire(e.lockTimeout); err != nil {
		return err
	}
	e.lockAcquired = true
	return nil
}

// ReadRecord looks up key and decodes its record. Any codec validation
// failure — the index pointing at physically corrupted bytes — is
// logged and reported as "not found" rather than as an error: a caller
// asks "is the data intact?" and gets a definite answer either way.
func (e *Engine) ReadRecord(key string) (codec.DataRecord, bool) {
	loc, ok := e.idx.Get(key)
	if !ok {
		return codec.DataRecord{}, false
	}

	buf := make([]byte, loc.Length)
	n, err := e.dataFile.ReadAt(buf, int64(loc.Offset))
	if err != nil && n < int(loc.Length) {
		e.logger.Warn("raptor: short read at indexed offset", "key", key, "offset", loc.Offset, "error", err)
		return codec.DataRecord{}, false
	}

	rec, _, err := codec.DeserializeDataRecord(buf, 0)
	if err != nil {
		e.logger.Warn("raptor: corrupt record at indexed offset", "key", key, "offset", loc.Offset, "error", err)
		return codec.DataRecord{}, false
	}
	return rec, true
}

// readEmbeddingHeaderSize is how many bytes ReadEmbeddingAt reads at a
// record's offset before locating its embedding. The fields up to and
// including keyLen take 26 bytes — magic(4) + version(2) + opType(1) +
// flags(1) + seq(8) + ts(8) + keyLen(2) — and only keyLen (bytes 24:26)
// is parsed from this head.
const readEmbeddingHeaderSize = 28

// ReadEmbeddingAt reads just the embedding out of the record at offset,
// skipping the key and the per-record dimension field, for callers that
// walk every entry without needing a full DataRecord decode.
func (e *Engine) ReadEmbeddingAt(offset uint64) ([]float32, bool) {
	head := make([]byte, readEmbeddingHeaderSize)
	n, err := e.dataFile.ReadAt(head, int64(offset))
	if err != nil && n < readEmbeddingHeaderSize {
		return nil, false
	}

	keyLen := int(binary.LittleEndian.Uint16(head[24:26]))
	embStart := offset + 26 + uint64(keyLen) + 4 // skip key bytes and the dimension field
	embBytes := make([]byte, int(e.dimension)*4)
	n, err = e.dataFile.ReadAt(embBytes, int64(embStart))
	if err != nil && n < len(embBytes) {
		return nil, false
	}

	embedding := make([]float32, e.dimension)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(embBytes[i*4:]))
	}
	return embedding, true
}

// HasKey reports whether key is currently present.
func (e *Engine) HasKey(key string) bool { return e.idx.Has(key) }

// Keys returns every live key, in no particular order.
func (e *Engine) Keys() []string { return e.idx.Keys() }

// Locations returns every live key and its on-disk location.
func (e *Engine) Locations() map[string]index.RecordLocation { return e.idx.Locations() }

// Count returns the number of live keys.
func (e *Engine) Count() int { return e.idx.Count() }

// Flush is a no-op unless batching is enabled, in which case it blocks
// until the pending batch queue is drained.
func (e *Engine) Flush() error {
	if e.batcher == nil {
		return nil
	}
	return e.batcher.Flush()
}

// Close flushes the batcher, closes file handles, and releases the
// write lock if this engine acquired it. It is idempotent.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.batcher != nil {
			if ferr := e.batcher.Close(); ferr != nil {
				err = ferr
			}
		}
		if cerr := e.dataFile.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if e.wal != nil {
			if cerr := e.wal.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		if e.lockAcquired {
			if rerr := e.lock.Release(); rerr != nil && err == nil {
				err = rerr
			}
		}
		e.closed = true
	})
	return err
}
