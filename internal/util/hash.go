package util

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Checksum returns the hex-encoded BLAKE2b-256 digest of data. Used for
// content checksums and as the hash function of the audit chain so that
// every digest in the system is comparable.
func Checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
