// Package resourcestore holds the types shared by every layer of the resource store.
package resourcestore

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// HashSize is the size of a BLAKE3 digest in bytes (256 bits).
const HashSize = 32

// Hash is the BLAKE3-256 digest of a resource payload.
type Hash [HashSize]byte

// HashBytes computes the digest of a payload.
func HashBytes(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// ParseHash parses the hex form recorded in the ledger.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != HashSize*2 {
		return h, fmt.Errorf("invalid hash length: expected %d hex chars, got %d", HashSize*2, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return Hash{}, fmt.Errorf("invalid hash: %w", err)
	}
	return h, nil
}

// String returns the hex-encoded digest.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is unset.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Matches reports whether data hashes to h.
func (h Hash) Matches(data []byte) bool {
	return HashBytes(data) == h
}
