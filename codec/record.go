package codec

import (
	"encoding/binary"
	"errors"
	"math"
)

// recordMagic and recordTrailer are the sentinels bracketing every
// DataRecord. SerializeWalEntry and DeserializeWalEntry in walentry.go
// use the same two constants for every WalEntry.
const (
	recordMagic   uint32 = 0xCAFEBABE
	recordTrailer uint32 = 0xDEADBEEF
)

// Op identifies the operation a DataRecord represents.
type Op byte

const (
	OpInsert Op = 0
	OpUpdate Op = 1
	OpDelete Op = 2
)

// recordFixedSize is the number of bytes in a DataRecord before the
// variable-length key and embedding: magic(4) + version(2) + opType(1) +
// flags(1) + seq(8) + ts(8) + keyLen(2) + dimension(4) = 30, plus
// checksum(4) + trailer(4) after the embedding.
const recordFixedSize = 4 + 2 + 1 + 1 + 8 + 8 + 2 + 4
const recordTrailingSize = 4 + 4

// ErrInvalidRecord is returned for any failure decoding a DataRecord:
// short buffer, bad magic, wrong version, checksum mismatch, or bad
// trailer. The spec requires this to be a single, total failure mode —
// callers never learn which sub-check failed.
var ErrInvalidRecord = errors.New("codec: invalid data record")

// DataRecord is the decoded form of a single data-file record.
type DataRecord struct {
	Op        Op
	Sequence  int64
	Timestamp int64
	Key       string
	Dimension uint32
	Embedding []float32
}

// SerializeDataRecord encodes rec, computing the CRC32 over every
// preceding byte of the record.
func SerializeDataRecord(rec DataRecord) []byte {
	keyBytes := []byte(rec.Key)
	total := recordFixedSize + len(keyBytes) + 4*len(rec.Embedding) + recordTrailingSize
	buf := make([]byte, total)

	off := 0
	binary.LittleEndian.PutUint32(buf[off:], recordMagic)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], VersionCurrent)
	off += 2
	buf[off] = byte(rec.Op)
	off++
	buf[off] = 0 // flags
	off++
	binary.LittleEndian.PutUint64(buf[off:], uint64(rec.Sequence))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(rec.Timestamp))
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(keyBytes)))
	off += 2
	copy(buf[off:], keyBytes)
	off += len(keyBytes)
	binary.LittleEndian.PutUint32(buf[off:], rec.Dimension)
	off += 4
	for _, f := range rec.Embedding {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
		off += 4
	}

	checksum := crc32Checksum(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], checksum)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], recordTrailer)

	return buf
}

// DeserializeDataRecord decodes a DataRecord starting at startOffset in
// buf, returning the record and the number of bytes it occupied.
// Failure is total: any structural problem (short buffer, bad magic,
// wrong version, checksum mismatch, bad trailer) returns
// ErrInvalidRecord.
func DeserializeDataRecord(buf []byte, startOffset int) (DataRecord, int, error) {
	b := buf[startOffset:]
	if len(b) < recordFixedSize {
		return DataRecord{}, 0, ErrInvalidRecord
	}

	off := 0
	magic := binary.LittleEndian.Uint32(b[off:])
	off += 4
	if magic != recordMagic {
		return DataRecord{}, 0, ErrInvalidRecord
	}
	version := binary.LittleEndian.Uint16(b[off:])
	off += 2
	if version != VersionCurrent {
		return DataRecord{}, 0, ErrInvalidRecord
	}
	op := Op(b[off])
	off++
	off++ // flags, ignored
	seq := int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	ts := int64(binary.LittleEndian.Uint64(b[off:]))
	off += 8
	keyLen := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2

	if len(b) < off+keyLen+4 {
		return DataRecord{}, 0, ErrInvalidRecord
	}
	key := string(b[off : off+keyLen])
	off += keyLen

	dimension := binary.LittleEndian.Uint32(b[off:])
	off += 4

	embeddingBytes := int(dimension) * 4
	if len(b) < off+embeddingBytes+recordTrailingSize {
		return DataRecord{}, 0, ErrInvalidRecord
	}
	embedding := make([]float32, dimension)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
		off += 4
	}

	prefixEnd := off
	storedChecksum := binary.LittleEndian.Uint32(b[off:])
	off += 4
	storedTrailer := binary.LittleEndian.Uint32(b[off:])
	off += 4

	if crc32Checksum(b[:prefixEnd]) != storedChecksum {
		return DataRecord{}, 0, ErrInvalidRecord
	}
	if storedTrailer != recordTrailer {
		return DataRecord{}, 0, ErrInvalidRecord
	}

	rec := DataRecord{
		Op:        op,
		Sequence:  seq,
		Timestamp: ts,
		Key:       key,
		Dimension: dimension,
		Embedding: embedding,
	}
	return rec, off, nil
}

// ReadKeyFromBuffer validates the magic at startOffset and extracts just
// the key, without decoding the embedding. Used by recovery (package
// index) to avoid materializing vectors it doesn't need.
func ReadKeyFromBuffer(buf []byte, startOffset int) (string, bool) {
	b := buf[startOffset:]
	// magic(4) + version(2) + opType(1) + flags(1) + seq(8) + ts(8) = 24
	// bytes before keyLen at offset 24, key bytes start at offset 26.
	if len(b) < 26 {
		return "", false
	}
	magic := binary.LittleEndian.Uint32(b[0:4])
	if magic != recordMagic {
		return "", false
	}
	keyLen := int(binary.LittleEndian.Uint16(b[24:26]))
	if len(b) < 26+keyLen {
		return "", false
	}
	return string(b[26 : 26+keyLen]), true
}
