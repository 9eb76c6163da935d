// Package engine implements the storage engine: it orchestrates the
// write path, the read path, delete, close, recovery, and lazy write-lock
// acquisition on top of the codec, wal, index, filelock, writemutex, and
// batcher packages.
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Felmond13/raptor/batcher"
	"github.com/Felmond13/raptor/codec"
	"github.com/Felmond13/raptor/filelock"
	"github.com/Felmond13/raptor/index"
	"github.com/Felmond13/raptor/raptorerr"
	"github.com/Felmond13/raptor/wal"
	"github.com/Felmond13/raptor/writemutex"
)

// Paths resolves a logical base path into the three files a database
// occupies.
type Paths struct {
	Data string
	WAL  string
	Lock string
}

// ResolvePaths strips a trailing ".raptor" suffix from base, if present,
// then derives the data, WAL, and lock file paths.
func ResolvePaths(base string) Paths {
	base = strings.TrimSuffix(base, ".raptor")
	return Paths{
		Data: base + ".raptor",
		WAL:  base + ".raptor-wal",
		Lock: base + ".raptor.lock",
	}
}

// emptyRecoverer satisfies index.BuildFromWAL's recoverer interface for
// the case of a read-only open against a data file with no WAL.
type emptyRecoverer struct{}

func (emptyRecoverer) Recover() ([]codec.WalEntry, error) { return nil, nil }

// Engine is an open database.
type Engine struct {
	paths       Paths
	dimension   uint32
	readOnly    bool
	logger      *slog.Logger
	lockTimeout time.Duration

	dataFile *os.File
	wal      *wal.WAL
	idx      *index.Index
	writeMu  *writemutex.WriteMutex
	lock     *filelock.FileLock
	batcher  *batcher.Batcher

	lockAcquired  bool
	nextSequence  int64
	fileSize      uint64
	headerWritten bool

	closeOnce sync.Once
	closed    bool
}

// Open resolves cfg.DataPath into its three sibling files, recovers the
// index from the WAL, and returns a ready-to-use Engine. It never
// acquires the write lock; that happens lazily on the first mutating
// call.
func Open(cfg Config) (*Engine, error) {
	paths := ResolvePaths(cfg.DataPath)
	logger := cfg.logger()

	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = 384
	}

	dataExists := fileExists(paths.Data)
	walExists := fileExists(paths.WAL)

	if cfg.ReadOnly {
		if !dataExists && !walExists {
			return nil, fmt.Errorf("raptor: open %s read-only: %w", paths.Data, os.ErrNotExist)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(paths.Data), 0755); err != nil {
			return nil, fmt.Errorf("raptor: create data directory: %w", err)
		}
	}

	if dataExists && !cfg.ReadOnly {
		if err := checkHeaderVersion(paths.Data); err != nil {
			return nil, err
		}
	}

	dataFile, err := openDataFile(paths.Data, cfg.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("raptor: open data file: %w", err)
	}

	var w *wal.WAL
	var recoverer interface {
		Recover() ([]codec.WalEntry, error)
	}
	switch {
	case cfg.ReadOnly && walExists:
		w, err = wal.OpenReadOnly(paths.WAL)
		recoverer = w
	case cfg.ReadOnly:
		recoverer = emptyRecoverer{}
	default:
		w, err = wal.Open(paths.WAL)
		recoverer = w
	}
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("raptor: open wal: %w", err)
	}

	idx, maxSequence, err := index.BuildFromWAL(recoverer, paths.Data)
	if err != nil {
		dataFile.Close()
		if w != nil {
			w.Close()
		}
		return nil, fmt.Errorf("raptor: recover index: %w", err)
	}

	info, err := dataFile.Stat()
	if err != nil {
		dataFile.Close()
		if w != nil {
			w.Close()
		}
		return nil, fmt.Errorf("raptor: stat data file: %w", err)
	}

	lockTimeout := cfg.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = 10 * time.Second
	}

	e := &Engine{
		paths:        paths,
		dimension:    uint32(dimension),
		readOnly:     cfg.ReadOnly,
		logger:       logger,
		lockTimeout:  lockTimeout,
		dataFile:     dataFile,
		wal:          w,
		idx:          idx,
		writeMu:      writemutex.New(),
		lock:         filelock.New(paths.Lock),
		nextSequence: maxSequence + 1,
		fileSize:     uint64(info.Size()),
	}
	e.headerWritten = info.Size() > 0

	if cfg.BatchingEnabled && !cfg.ReadOnly {
		opts := cfg.BatchOptions
		if (opts == BatchOptions{}) {
			opts = batcher.DefaultOptions()
		}
		e.batcher = batcher.New(dataFile, w, idx, e.dimension, uint64(info.Size()), opts)
	}

	logger.Info("raptor: engine opened",
		"path", paths.Data,
		"dimension", e.dimension,
		"recoveredKeys", idx.Count(),
		"recoveredSequence", maxSequence,
		"readOnly", e.readOnly,
	)

	return e, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func openDataFile(path string, readOnly bool) (*os.File, error) {
	if readOnly {
		return os.Open(path)
	}
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
}

// checkHeaderVersion reads just the 16-byte header and rejects anything
// this codec cannot speak directly: v1 needs migration, anything else is
// unsupported.
func checkHeaderVersion(dataPath string) error {
	f, err := os.Open(dataPath)
	if err != nil {
		return fmt.Errorf("raptor: open data file for header check: %w", err)
	}
	defer f.Close()

	buf := make([]byte, codec.HeaderSize)
	n, err := f.ReadAt(buf, 0)
	if n < codec.HeaderSize {
		// A file shorter than one header is either brand new (size 0,
		// nothing to check) or already corrupt in a way recovery will
		// surface on its own; either way there's no version to object to.
		return nil
	}
	if err != nil {
		return fmt.Errorf("raptor: read header: %w", err)
	}

	hdr, err := codec.DeserializeHeader(buf)
	if err != nil {
		return nil // bad magic is a recovery-time concern, not an open-time one
	}
	switch hdr.Version {
	case codec.VersionCurrent:
		return nil
	case codec.VersionLegacy:
		return fmt.Errorf("%s: %w", dataPath, raptorerr.ErrMigrationRequired)
	default:
		return fmt.Errorf("%s: %w", dataPath, raptorerr.ErrVersionUnsupported)
	}
}

// GetDimension returns the database's fixed embedding width.
func (e *Engine) GetDimension() int { return int(e.dimension) }

// IsReadOnly reports whether the engine was opened read-only.
func (e *Engine) IsReadOnly() bool { return e.readOnly }

// HasWriteLock reports whether this engine currently holds the
// cross-process write lock.
func (e *Engine) HasWriteLock() bool {
	return e.lock.Acquired()
}

// NextSequence returns the sequence number the next write will be
// assigned.
func (e *Engine) NextSequence() int64 {
	return e.nextSequence
}
