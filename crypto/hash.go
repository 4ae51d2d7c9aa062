package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hash returns the Blake2b-256 hash of data as a lowercase hex string.
//
// The consortium uses Blake2b rather than SHA-256 throughout: record and
// block hashes, VM storage keys, and ceremony transcript digests all derive
// from this function so that every component agrees on one canonical
// 32-byte commitment.
func Hash(data []byte) string {
	h := blake2b.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw 32-byte Blake2b-256 digest of data.
func HashBytes(data []byte) []byte {
	h := blake2b.Sum256(data)
	return h[:]
}

// Hash32 is a fixed-size 32-byte Blake2b digest, used as a VM storage key
// and as the wire representation of commitments and nullifiers.
type Hash32 [32]byte

// HashKey returns the Hash32 digest of data.
func HashKey(data []byte) Hash32 {
	return blake2b.Sum256(data)
}

// String returns the lowercase hex encoding of the hash.
func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero hash, used by the VM to detect
// unset storage slots.
func (h Hash32) IsZero() bool {
	return h == Hash32{}
}
