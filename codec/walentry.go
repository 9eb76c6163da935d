package codec

import "encoding/binary"

// WalEntrySize is the fixed size of every WAL entry, in bytes.
const WalEntrySize = 48

// walEntryVersion is the WalEntry layout version. It is independent of
// the DataRecord version field and has stayed at 1 since the WAL's
// 48-byte layout has never changed.
const walEntryVersion uint16 = 1

// WalEntry is the decoded form of a single 48-byte WAL record. It points
// at — but does not contain — the DataRecord it commits.
type WalEntry struct {
	Op       Op
	Sequence int64
	Offset   uint64
	Length   uint32
	KeyHash  uint64
}

// SerializeWalEntry encodes entry into exactly WalEntrySize bytes.
func SerializeWalEntry(entry WalEntry) []byte {
	buf := make([]byte, WalEntrySize)

	binary.LittleEndian.PutUint32(buf[0:4], recordMagic)
	binary.LittleEndian.PutUint16(buf[4:6], walEntryVersion)
	buf[6] = byte(entry.Op)
	buf[7] = 0 // flags
	binary.LittleEndian.PutUint64(buf[8:16], uint64(entry.Sequence))
	binary.LittleEndian.PutUint64(buf[16:24], entry.Offset)
	binary.LittleEndian.PutUint32(buf[24:28], entry.Length)
	binary.LittleEndian.PutUint64(buf[28:36], entry.KeyHash)
	binary.LittleEndian.PutUint32(buf[36:40], 0) // reserved

	checksum := crc32Checksum(buf[0:40])
	binary.LittleEndian.PutUint32(buf[40:44], checksum)
	binary.LittleEndian.PutUint32(buf[44:48], recordTrailer)

	return buf
}

// DeserializeWalEntry decodes a single WalEntrySize-byte slice. As with
// DataRecord, failure is total: bad magic, wrong version, checksum
// mismatch, and bad trailer all return ErrInvalidRecord.
func DeserializeWalEntry(buf []byte) (WalEntry, error) {
	if len(buf) < WalEntrySize {
		return WalEntry{}, ErrInvalidRecord
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != recordMagic {
		return WalEntry{}, ErrInvalidRecord
	}
	version := binary.LittleEndian.Uint16(buf[4:6])
	if version != walEntryVersion {
		return WalEntry{}, ErrInvalidRecord
	}

	storedChecksum := binary.LittleEndian.Uint32(buf[40:44])
	if crc32Checksum(buf[0:40]) != storedChecksum {
		return WalEntry{}, ErrInvalidRecord
	}
	trailer := binary.LittleEndian.Uint32(buf[44:48])
	if trailer != recordTrailer {
		return WalEntry{}, ErrInvalidRecord
	}

	return WalEntry{
		Op:       Op(buf[6]),
		Sequence: int64(binary.LittleEndian.Uint64(buf[8:16])),
		Offset:   binary.LittleEndian.Uint64(buf[16:24]),
		Length:   binary.LittleEndian.Uint32(buf[24:28]),
		KeyHash:  binary.LittleEndian.Uint64(buf[28:36]),
	}, nil
}
