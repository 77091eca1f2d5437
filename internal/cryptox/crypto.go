// Package cryptox holds the stateless primitives of the KDBX pipeline:
// block and stream ciphers for the payload, hashes and HMACs for the
// integrity layers, and the two key derivation functions.
package cryptox

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
)

// Random is the default randomness capability. Callers that need
// reproducible output pass their own io.Reader instead.
var Random io.Reader = rand.Reader

// RandomBytes reads n bytes from r, falling back to Random when r is nil.
func RandomBytes(r io.Reader, n int) ([]byte, error) {
	if r == nil {
		r = Random
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("random source: %w", err)
	}
	return b, nil
}

// Wipe overwrites b with zeros. It is safe on nil slices.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func Sha256(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func Sha512(parts ...[]byte) []byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// HmacSha256 computes HMAC-SHA256 of the concatenated parts.
func HmacSha256(key []byte, parts ...[]byte) []byte {
	m := hmac.New(sha256.New, key)
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}

// HmacBlockKey returns SHA-512(index_le64 ‖ baseKey), the per-block HMAC key
// of the KDBX4 block stream. The header uses index 2^64-1.
func HmacBlockKey(index uint64, baseKey []byte) []byte {
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], index)
	return Sha512(idx[:], baseKey)
}

// Equal compares two MACs in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
