// Package migrate implements the forward migration from the v1 data
// file layout to v2: detecting the on-disk version, backing up the v1
// file, deduplicating its records, and replaying them through a fresh v2
// engine so each receives a sequence number, timestamp, checksum, and
// WAL commit.
package migrate

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/Felmond13/raptor/codec"
	"github.com/Felmond13/raptor/engine"
	"github.com/Felmond13/raptor/raptorerr"
)

// v1RecordFixedSize is the framing overhead of a v1 record besides the
// key and embedding: keyLen(2) + recordLenFooter(4).
const v1RecordFixedSize = 2 + 4

type v1Record struct {
	key       string
	embedding []float32
}

// DetectVersion reads the 16-byte header at path and returns its
// version. ok is false if the file does not exist or its magic is
// invalid.
func DetectVersion(path string) (version int, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	buf := make([]byte, codec.HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return 0, false
	}
	hdr, err := codec.DeserializeHeader(buf)
	if err != nil {
		return 0, false
	}
	return int(hdr.Version), true
}

// EnsureV2 is a no-op if path does not exist or is already v2. If it is
// v1, it runs MigrateV1ToV2 with the default backup path. Any other
// version fails with raptorerr.ErrVersionUnsupported.
func EnsureV2(path string, logger *slog.Logger) (migrated int, err error) {
	version, ok := DetectVersion(path)
	if !ok {
		return 0, nil
	}
	switch version {
	case int(codec.VersionCurrent):
		return 0, nil
	case int(codec.VersionLegacy):
		return MigrateV1ToV2(path, "", logger)
	default:
		return 0, fmt.Errorf("%s: %w (version %d)", path, raptorerr.ErrVersionUnsupported, version)
	}
}

// MigrateV1ToV2 migrates the v1 data file at path to v2. If backupPath
// is empty, the backup is written to <base>.v1.backup, where base is path
// without its ".raptor" suffix. It returns how many distinct keys
// survived the migration.
func MigrateV1ToV2(path string, backupPath string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base := strings.TrimSuffix(path, ".raptor")
	if backupPath == "" {
		backupPath = base + ".v1.backup"
	}

	if err := copyFile(path, backupPath); err != nil {
		return 0, fmt.Errorf("migrate: backup: %w", err)
	}

	dimension, records, err := readV1File(path)
	if err != nil {
		return 0, fmt.Errorf("migrate: read v1 records: %w", err)
	}
	deduped := dedupLastWriteWins(records)

	paths := engine.ResolvePaths(path)
	for _, p := range []string{paths.Data, paths.WAL, paths.Lock} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("migrate: remove stale %s: %w", p, err)
		}
	}

	cfg := engine.DefaultConfig(base)
	cfg.Dimension = dimension
	cfg.Logger = logger
	eng, err := engine.Open(cfg)
	if err != nil {
		return 0, fmt.Errorf("migrate: open v2 engine: %w", err)
	}
	defer eng.Close()

	for _, rec := range deduped {
		if err := eng.WriteRecord(rec.key, rec.embedding); err != nil {
			return 0, fmt.Errorf("migrate: write %q: %w", rec.key, err)
		}
	}

	logger.Info("raptor: migration complete", "path", path, "migrated", len(deduped))
	return len(deduped), nil
}

// readV1File reads the v2-shaped 16-byte header (v1 and v2 share a
// header layout) for the dimension, then every v1 record that follows.
func readV1File(path string) (dimension int, records []v1Record, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	hdrBuf := make([]byte, codec.HeaderSize)
	if _, err := io.ReadFull(f, hdrBuf); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}
	hdr, err := codec.DeserializeHeader(hdrBuf)
	if err != nil {
		return 0, nil, err
	}
	dimension = int(hdr.Dimension)

	offset := int64(codec.HeaderSize)
	lenPrefix := make([]byte, 2)
	for {
		n, err := f.ReadAt(lenPrefix, offset)
		if err != nil || n < 2 {
			break
		}
		keyLen := int(binary.LittleEndian.Uint16(lenPrefix))
		recLen := v1RecordFixedSize + keyLen + dimension*4

		buf := make([]byte, recLen)
		n, err = f.ReadAt(buf, offset)
		if err != nil || n < recLen {
			break // truncated tail: stop, keep what was already read
		}

		key := string(buf[2 : 2+keyLen])
		embStart := 2 + keyLen
		embedding := make([]float32, dimension)
		for i := range embedding {
			embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[embStart+i*4:]))
		}
		records = append(records, v1Record{key: key, embedding: embedding})

		offset += int64(recLen)
	}
	return dimension, records, nil
}

// dedupLastWriteWins keeps only the last occurrence of each key's
// value, preserving the position of that key's first occurrence —
// matching a map whose values are overwritten in place without moving
// existing keys.
func dedupLastWriteWins(records []v1Record) []v1Record {
	order := make([]string, 0, len(records))
	latest := make(map[string]v1Record, len(records))
	for _, rec := range records {
		if _, seen := latest[rec.key]; !seen {
			order = append(order, rec.key)
		}
		latest[rec.key] = rec
	}
	out := make([]v1Record, len(order))
	for i, key := range order {
		out[i] = latest[key]
	}
	return out
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

