// Package crypto provides deterministic hashing and ed25519 signing for
// kernel artifacts. Receipt and root hashes are SHA-256 over RFC 8785
// canonical JSON; observation and action digests on the hot path use
// BLAKE2b, which is cheaper and needs no canonicalization for fixed-width
// integer vectors.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/blake2b"
)

// CanonicalHash returns the SHA-256 hex digest of the JCS canonical JSON
// form of v. Identical values always produce identical digests regardless
// of map ordering or struct field layout.
func CanonicalHash(v interface{}) (string, error) {
	b, err := CanonicalMarshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// CanonicalMarshal returns the RFC 8785 canonical JSON encoding of v.
func CanonicalMarshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("crypto: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: canonicalize failed: %w", err)
	}
	return canonical, nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// DigestU64 returns a BLAKE2b-256 hex digest of a fixed-order uint64
// vector, little-endian encoded. Used for observation and action digests.
func DigestU64(values []uint64) string {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	sum := blake2b.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
