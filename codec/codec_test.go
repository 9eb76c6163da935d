package codec

import (
	"math"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	buf := SerializeHeader(384)
	if len(buf) != HeaderSize {
		t.Fatalf("expected %d bytes, got %d", HeaderSize, len(buf))
	}
	hdr, err := DeserializeHeader(buf)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if hdr.Version != VersionCurrent || hdr.Dimension != 384 {
		t.Fatalf("unexpected header: %+v", hdr)
	}
}

func TestHeaderBadMagic(t *testing.T) {
	buf := SerializeHeader(4)
	buf[0] = 'X'
	if _, err := DeserializeHeader(buf); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestDataRecordRoundTrip(t *testing.T) {
	dims := []int{1, 8, 384, 768, 1536, 4096}
	for _, d := range dims {
		embedding := make([]float32, d)
		for i := range embedding {
			embedding[i] = float32(i) * 0.5
		}
		rec := DataRecord{
			Op:        OpInsert,
			Sequence:  42,
			Timestamp: 1234567890,
			Key:       "some-key",
			Dimension: uint32(d),
			Embedding: embedding,
		}
		buf := SerializeDataRecord(rec)
		got, n, err := DeserializeDataRecord(buf, 0)
		if err != nil {
			t.Fatalf("dimension %d: deserialize: %v", d, err)
		}
		if n != len(buf) {
			t.Fatalf("dimension %d: bytesRead %d != len(buf) %d", d, n, len(buf))
		}
		if got.Key != rec.Key || got.Sequence != rec.Sequence || got.Op != rec.Op {
			t.Fatalf("dimension %d: round trip mismatch: %+v", d, got)
		}
		for i := range embedding {
			if got.Embedding[i] != embedding[i] {
				t.Fatalf("dimension %d: embedding[%d] mismatch", d, i)
			}
		}
	}
}

func TestDataRecordEmptyKey(t *testing.T) {
	rec := DataRecord{Op: OpInsert, Key: "", Dimension: 2, Embedding: []float32{1, 2}}
	buf := SerializeDataRecord(rec)
	got, _, err := DeserializeDataRecord(buf, 0)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Key != "" {
		t.Fatalf("expected empty key, got %q", got.Key)
	}
}

func TestDataRecordSpecialFloats(t *testing.T) {
	values := []float32{0, float32(math.Copysign(0, -1)), math.MaxFloat32, math.SmallestNonzeroFloat32,
		float32(math.Inf(1)), float32(math.Inf(-1)), float32(math.NaN())}
	rec := DataRecord{Op: OpInsert, Key: "f", Dimension: uint32(len(values)), Embedding: values}
	buf := SerializeDataRecord(rec)
	got, _, err := DeserializeDataRecord(buf, 0)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	for i, v := range values {
		if math.IsNaN(float64(v)) {
			if !math.IsNaN(float64(got.Embedding[i])) {
				t.Fatalf("index %d: expected NaN, got %v", i, got.Embedding[i])
			}
			continue
		}
		if got.Embedding[i] != v {
			t.Fatalf("index %d: expected %v, got %v", i, v, got.Embedding[i])
		}
	}
}

func TestDataRecordAtOffset(t *testing.T) {
	rec := DataRecord{Op: OpInsert, Key: "k", Dimension: 2, Embedding: []float32{1, 2}}
	payload := SerializeDataRecord(rec)
	buf := make([]byte, 0, 16+len(payload))
	buf = append(buf, make([]byte, 16)...) // simulate the file header preceding the record
	buf = append(buf, payload...)

	got, n, err := DeserializeDataRecord(buf, 16)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("bytesRead %d != %d", n, len(payload))
	}
	if got.Key != "k" {
		t.Fatalf("unexpected key %q", got.Key)
	}
}

func TestDataRecordBitFlipDetected(t *testing.T) {
	rec := DataRecord{Op: OpInsert, Key: "flip-me", Dimension: 3, Embedding: []float32{1, 2, 3}}
	buf := SerializeDataRecord(rec)

	for i := 4; i < len(buf); i++ { // skip the magic bytes, which aren't load-bearing for corruption detection
		corrupt := append([]byte(nil), buf...)
		corrupt[i] ^= 0x01
		if _, _, err := DeserializeDataRecord(corrupt, 0); err == nil {
			t.Fatalf("byte %d: expected corruption to be detected", i)
		}
	}
}

func TestDataRecordShortBuffer(t *testing.T) {
	if _, _, err := DeserializeDataRecord([]byte{1, 2, 3}, 0); err != ErrInvalidRecord {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestReadKeyFromBuffer(t *testing.T) {
	rec := DataRecord{Op: OpUpdate, Key: "the-key", Dimension: 1, Embedding: []float32{9}}
	buf := SerializeDataRecord(rec)
	key, ok := ReadKeyFromBuffer(buf, 0)
	if !ok || key != "the-key" {
		t.Fatalf("expected (the-key, true), got (%q, %v)", key, ok)
	}
}

func TestReadKeyFromBufferBadMagic(t *testing.T) {
	buf := make([]byte, 30)
	if _, ok := ReadKeyFromBuffer(buf, 0); ok {
		t.Fatal("expected failure on all-zero buffer")
	}
}

func TestWalEntryRoundTrip(t *testing.T) {
	entry := WalEntry{Op: OpInsert, Sequence: 7, Offset: 16, Length: 64, KeyHash: HashKey("abc")}
	buf := SerializeWalEntry(entry)
	if len(buf) != WalEntrySize {
		t.Fatalf("expected %d bytes, got %d", WalEntrySize, len(buf))
	}
	got, err := DeserializeWalEntry(buf)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got != entry {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, entry)
	}
}

func TestWalEntryBitFlip(t *testing.T) {
	entry := WalEntry{Op: OpDelete, Sequence: 99, Offset: 1000, Length: 200, KeyHash: HashKey("zzz")}
	buf := SerializeWalEntry(entry)
	for i := 4; i < len(buf); i++ {
		corrupt := append([]byte(nil), buf...)
		corrupt[i] ^= 0x01
		if _, err := DeserializeWalEntry(corrupt); err == nil {
			t.Fatalf("byte %d: expected corruption to be detected", i)
		}
	}
}

func TestWalEntryShortBuffer(t *testing.T) {
	if _, err := DeserializeWalEntry(make([]byte, 10)); err != ErrInvalidRecord {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestHashKeyKnownVector(t *testing.T) {
	// FNV-1a 64 of the empty string is the offset basis itself.
	if got := HashKey(""); got != fnvOffsetBasis {
		t.Fatalf("hash of empty string = %x, want %x", got, fnvOffsetBasis)
	}
	if HashKey("a") == HashKey("b") {
		t.Fatal("distinct keys hashed identically")
	}
}
