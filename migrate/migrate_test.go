package migrate

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/Felmond13/raptor/codec"
	"github.com/Felmond13/raptor/engine"
)

// writeV1File constructs a synthetic v1 data file: the shared 16-byte
// header followed by keyLen(2) ∥ key ∥ embedding(D×4) ∥ footer(4)
// records, no checksums, no sequence numbers.
func writeV1File(t *testing.T, path string, dimension int, entries []v1Record) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create v1 file: %v", err)
	}
	defer f.Close()

	hdr := make([]byte, codec.HeaderSize)
	copy(hdr[0:4], []byte{'E', 'M', 'B', 'D'})
	binary.LittleEndian.PutUint16(hdr[4:6], codec.VersionLegacy)
	binary.LittleEndian.PutUint32(hdr[6:10], uint32(dimension))
	if _, err := f.Write(hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}

	for _, e := range entries {
		recLen := 2 + len(e.key) + dimension*4 + 4
		buf := make([]byte, recLen)
		binary.LittleEndian.PutUint16(buf[0:2], uint16(len(e.key)))
		copy(buf[2:], e.key)
		off := 2 + len(e.key)
		for i, v := range e.embedding {
			binary.LittleEndian.PutUint32(buf[off+i*4:], math.Float32bits(v))
		}
		binary.LittleEndian.PutUint32(buf[off+dimension*4:], uint32(recLen))
		if _, err := f.Write(buf); err != nil {
			t.Fatalf("write v1 record: %v", err)
		}
	}
}

func TestDetectVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.raptor")
	writeV1File(t, path, 2, []v1Record{{key: "a", embedding: []float32{1, 2}}})

	version, ok := DetectVersion(path)
	if !ok || version != 1 {
		t.Fatalf("expected version 1, got version=%d ok=%v", version, ok)
	}

	missingVersion, ok := DetectVersion(filepath.Join(dir, "missing.raptor"))
	if ok || missingVersion != 0 {
		t.Fatalf("expected not-found for missing file, got version=%d ok=%v", missingVersion, ok)
	}
}

func TestMigrateV1ToV2DedupAndBackup(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "db")
	path := base + ".raptor"

	writeV1File(t, path, 2, []v1Record{
		{key: "a", embedding: []float32{1, 0}},
		{key: "b", embedding: []float32{0, 1}},
		{key: "a", embedding: []float32{9, 9}}, // last write wins for "a"
	})

	preMigration, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pre-migration file: %v", err)
	}

	migrated, err := MigrateV1ToV2(path, "", nil)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if migrated != 2 {
		t.Fatalf("expected 2 surviving keys, got %d", migrated)
	}

	backup, err := os.ReadFile(base + ".v1.backup")
	if err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	if string(backup) != string(preMigration) {
		t.Fatalf("backup does not match pre-migration bytes: got %d bytes, want %d bytes", len(backup), len(preMigration))
	}

	eng, err := engine.Open(engine.Config{DataPath: base, Dimension: 2, ReadOnly: true})
	if err != nil {
		t.Fatalf("open migrated engine: %v", err)
	}
	defer eng.Close()

	if eng.Count() != 2 {
		t.Fatalf("expected 2 keys in migrated engine, got %d", eng.Count())
	}
	rec, ok := eng.ReadRecord("a")
	if !ok {
		t.Fatal("expected key a present")
	}
	if rec.Embedding[0] != 9 || rec.Embedding[1] != 9 {
		t.Fatalf("expected last-write-wins value for a, got %v", rec.Embedding)
	}
}

func TestEnsureV2NoopOnAlreadyV2(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "db")

	eng, err := engine.Open(engine.Config{DataPath: base, Dimension: 2, BatchingEnabled: false})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := eng.WriteRecord("a", []float32{1, 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	eng.Close()

	migrated, err := EnsureV2(base+".raptor", nil)
	if err != nil {
		t.Fatalf("ensure v2: %v", err)
	}
	if migrated != 0 {
		t.Fatalf("expected no-op for v2 file, got migrated=%d", migrated)
	}
}

func TestEnsureV2NoopOnMissingFile(t *testing.T) {
	migrated, err := EnsureV2(filepath.Join(t.TempDir(), "missing.raptor"), nil)
	if err != nil || migrated != 0 {
		t.Fatalf("expected silent no-op, got migrated=%d err=%v", migrated, err)
	}
}
