// Package raptorerr defines the sentinel errors shared across raptor's
// packages, so callers can use errors.Is regardless of which package
// surfaced the failure.
package raptorerr

import "errors"

var (
	// ErrDimensionMismatch is returned when a write's embedding length
	// does not equal the database's fixed dimension.
	ErrDimensionMismatch = errors.New("raptor: embedding dimension mismatch")

	// ErrReadOnly is returned when a mutation is attempted on an engine
	// opened in read-only mode.
	ErrReadOnly = errors.New("raptor: database is read-only")

	// ErrDatabaseLocked is returned when write-lock acquisition exceeds
	// its timeout.
	ErrDatabaseLocked = errors.New("raptor: database is locked by another process")

	// ErrLockPermission is returned when the lock file cannot be created
	// for a reason other than it already existing (EACCES, EROFS, ...).
	ErrLockPermission = errors.New("raptor: cannot create lock file, check permissions or use read-only mode")

	// ErrVersionUnsupported is returned when the data file header
	// reports a version this codec does not understand.
	ErrVersionUnsupported = errors.New("raptor: unsupported data file version")

	// ErrMigrationRequired is returned when a non-read-only open finds a
	// v1 data file.
	ErrMigrationRequired = errors.New("raptor: data file is v1, run migration before opening for writes")
)
