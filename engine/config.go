package engine

import (
	"log/slog"
	"time"

	"github.com/Felmond13/raptor/batcher"
)

// BatchOptions configures the write batcher. It mirrors
// batcher.Options but is exposed here so callers configure the engine
// through one struct.
type BatchOptions = batcher.Options

// Config configures Open. Following the hashindex.Config /
// hashindex.DefaultConfig shape from the example pack: a plain struct
// plus a constructor that fills in defaults, rather than functional
// options.
type Config struct {
	// DataPath is the logical base path; Open resolves it into
	// DataPath+".raptor", DataPath+".raptor-wal", DataPath+".raptor.lock".
	// A caller-supplied ".raptor" suffix is stripped.
	DataPath string

	// Dimension is the fixed embedding width for this database.
	Dimension int

	// LockTimeout bounds how long write-lock acquisition waits for a
	// concurrent process to release it.
	LockTimeout time.Duration

	// BatchingEnabled routes writes through the batcher instead of
	// fsyncing per record.
	BatchingEnabled bool

	// BatchOptions configures the batcher when BatchingEnabled is true.
	BatchOptions BatchOptions

	// ReadOnly opens the engine without ever acquiring the write lock.
	// Mutating operations fail with raptorerr.ErrReadOnly.
	ReadOnly bool

	// Logger receives structured diagnostics. Defaults to slog.Default()
	// when nil.
	Logger *slog.Logger
}

// DefaultConfig returns a Config for dataPath with every other field set
// to its documented default: dimension 384, a ten-second lock timeout,
// batching enabled with batcher.DefaultOptions, and read-write mode.
func DefaultConfig(dataPath string) Config {
	return Config{
		DataPath:        dataPath,
		Dimension:       384,
		LockTimeout:     10 * time.Second,
		BatchingEnabled: true,
		BatchOptions:    batcher.DefaultOptions(),
		ReadOnly:        false,
	}
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
