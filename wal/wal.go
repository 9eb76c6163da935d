// Package wal implements the write-ahead log: a flat, header-less,
// append-only file of fixed-size codec.WalEntry records. The WAL owns no
// logical state of its own — it only durably records commit intents: the
// in-memory key index (package index) is what turns a recovered sequence
// of entries into "key → location".
package wal

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Felmond13/raptor/codec"
)

// WAL durably appends codec.WalEntry records and streams them back on
// recovery.
type WAL struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open opens or creates the WAL file at path. An existing file is left
// exactly as-is; recovery happens separately via Recover.
func Open(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &WAL{file: file, path: path}, nil
}

// OpenReadOnly opens an existing WAL file without creating it and
// without acquiring write access. Append and AppendBatch fail against a
// WAL opened this way; it supports Recover only.
func OpenReadOnly(path string) (*WAL, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &WAL{file: file, path: path}, nil
}

// Close closes the underlying file. It does not fsync; callers that need
// a final durable state should have already committed via Append or
// AppendBatch.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Path returns the WAL's file path.
func (w *WAL) Path() string {
	return w.path
}

// Append serializes entry, appends it at the current end of the file,
// and fsyncs. The fsync return is the commit point: once Append returns
// nil, the entry is durable.
func (w *WAL) Append(entry codec.WalEntry) error {
	return w.AppendBatch([]codec.WalEntry{entry})
}

// AppendBatch serializes every entry, writes them as a single contiguous
// append, and fsyncs once for the whole batch. Entries land on disk in
// slice order.
func (w *WAL) AppendBatch(entries []codec.WalEntry) error {
	if len(entries) == 0 {
		return nil
	}

	buf := make([]byte, 0, codec.WalEntrySize*len(entries))
	for _, e := range entries {
		buf = append(buf, codec.SerializeWalEntry(e)...)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("wal: seek end: %w", err)
	}
	if _, err := w.file.Write(buf); err != nil {
		return fmt.Errorf("wal: write: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return nil
}

// Recover reads every WalEntrySize-byte slot from the start of the file
// and attempts to deserialize it. It stops at the first slot that is
// short, malformed, or fails its checksum — a truncated or corrupt tail
// never causes already-recovered entries to be discarded, and it is
// never skipped over. A missing or empty WAL recovers as an empty slice.
func (w *WAL) Recover() ([]codec.WalEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("wal: seek start: %w", err)
	}

	var entries []codec.WalEntry
	buf := make([]byte, codec.WalEntrySize)
	for {
		n, err := io.ReadFull(w.file, buf)
		if err != nil || n < codec.WalEntrySize {
			break
		}
		entry, err := codec.DeserializeWalEntry(buf)
		if err != nil {
			break
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
