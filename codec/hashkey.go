package codec

const (
	fnvOffsetBasis uint64 = 0xCBF29CE484222325
	fnvPrime       uint64 = 0x100000001B3
)

// HashKey computes the FNV-1a 64 hash of key, applied per UTF-8 byte with
// 64-bit wraparound. This is the 8-byte fingerprint stored in every
// WalEntry; it is deliberately not a reversible encoding of the key —
// recovery reads the actual key back from the data file (see
// ReadKeyFromBuffer) and does not consult the hash.
func HashKey(key string) uint64 {
	h := fnvOffsetBasis
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= fnvPrime
	}
	return h
}
