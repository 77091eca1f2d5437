// Package protected keeps secret field values obfuscated while they sit in
// memory. A Value stores plaintext XOR pad together with the pad, and
// rebuilds the plaintext only for the duration of a Text or Binary call.
//
// This is independent from the inner stream cipher of the KDBX body: that
// cipher protects values on the wire, a Value protects them in RAM.
package protected

import (
	"crypto/subtle"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/dmitrijs2005/gokdbx/internal/cryptox"
)

// Value is an obfuscated secret. The zero value is an empty secret.
// A Value is immutable after construction.
type Value struct {
	masked []byte
	pad    []byte
}

// New wraps plaintext drawing the pad from r (cryptox.Random when nil).
// plaintext is copied; the caller may wipe its own slice afterwards.
func New(r io.Reader, plaintext []byte) (*Value, error) {
	pad, err := cryptox.RandomBytes(r, len(plaintext))
	if err != nil {
		return nil, err
	}
	masked := make([]byte, len(plaintext))
	subtle.XORBytes(masked, plaintext, pad)
	return &Value{masked: masked, pad: pad}, nil
}

// FromBinary wraps b using the default random source. It panics if the
// system random source fails, in the manner of uuid.New.
func FromBinary(b []byte) *Value {
	v, err := New(nil, b)
	if err != nil {
		panic(fmt.Sprintf("protected: %v", err))
	}
	return v
}

// FromString wraps the UTF-8 bytes of s.
func FromString(s string) *Value {
	return FromBinary([]byte(s))
}

// Binary returns a fresh copy of the plaintext. The caller owns it and
// should wipe it when done.
func (v *Value) Binary() []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v.masked))
	subtle.XORBytes(out, v.masked, v.pad)
	return out
}

// Text returns the plaintext as a string. Strings cannot be wiped, so prefer
// Binary on paths that can.
func (v *Value) Text() string {
	b := v.Binary()
	defer cryptox.Wipe(b)
	return string(b)
}

// Len is the plaintext length in bytes.
func (v *Value) Len() int {
	if v == nil {
		return 0
	}
	return len(v.masked)
}

// IsUTF8 reports whether the plaintext is valid UTF-8.
func (v *Value) IsUTF8() bool {
	b := v.Binary()
	defer cryptox.Wipe(b)
	return utf8.Valid(b)
}

// Equal compares plaintexts in constant time for equal lengths.
func (v *Value) Equal(o *Value) bool {
	if v.Len() != o.Len() {
		return false
	}
	a, b := v.Binary(), o.Binary()
	defer cryptox.Wipe(a)
	defer cryptox.Wipe(b)
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Hash is SHA-256 of the plaintext, usable as a map key for deduplication.
func (v *Value) Hash() [32]byte {
	b := v.Binary()
	defer cryptox.Wipe(b)
	var h [32]byte
	copy(h[:], cryptox.Sha256(b))
	return h
}

// Clone re-obfuscates the plaintext under a new pad.
func (v *Value) Clone() *Value {
	b := v.Binary()
	defer cryptox.Wipe(b)
	return FromBinary(b)
}

// String never reveals the secret; it keeps fmt and loggers safe.
func (v *Value) String() string { return "[protected]" }

// GoString masks %#v the same way.
func (v *Value) GoString() string { return "protected.Value{[protected]}" }
