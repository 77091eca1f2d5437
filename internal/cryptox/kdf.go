package cryptox

import (
	"crypto/aes"
	"errors"
	"fmt"

	argon2d "github.com/tobischo/argon2"
	"golang.org/x/crypto/argon2"
)

// Argon2Version13 is the only argon2 version golang.org/x/crypto implements.
const Argon2Version13 = 0x13

// ErrArgon2Params is returned when argon2 parameters fall outside what the
// implementation can compute.
var ErrArgon2Params = errors.New("cryptox: unsupported argon2 parameters")

// ErrKdfLimit is returned when KDF work factors exceed the limits below.
// The header supplying them is not yet authenticated.
var ErrKdfLimit = errors.New("cryptox: kdf parameters above limit")

// KDF work factor limits.
const (
	MaxAesKdfRounds      = 1 << 32
	MaxArgon2MemoryBytes = 4 << 30
	MaxArgon2Iterations  = 1 << 16
)

// AesKdf is the iterated KDF of KDBX: the 32-byte key is encrypted with
// AES-256-ECB keyed by seed, rounds times, then hashed once with SHA-256.
func AesKdf(key, seed []byte, rounds uint64) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cryptox: aes-kdf key must be 32 bytes, got %d", len(key))
	}
	if rounds > MaxAesKdfRounds {
		return nil, fmt.Errorf("%w: aes-kdf rounds=%d", ErrKdfLimit, rounds)
	}
	block, err := aes.NewCipher(seed)
	if err != nil {
		return nil, fmt.Errorf("cryptox: aes-kdf seed: %w", err)
	}
	buf := make([]byte, 32)
	copy(buf, key)
	defer Wipe(buf)
	for i := uint64(0); i < rounds; i++ {
		block.Encrypt(buf[:16], buf[:16])
		block.Encrypt(buf[16:], buf[16:])
	}
	return Sha256(buf), nil
}

// Argon2Params mirrors the argon2 entries of the KDBX4 KDF dictionary.
type Argon2Params struct {
	Salt        []byte
	Iterations  uint64
	MemoryBytes uint64
	Parallelism uint32
	Version     uint32
	Secret      []byte
	AssocData   []byte
}

// Argon2id derives a 32-byte key with Argon2id.
func Argon2id(password []byte, p Argon2Params) ([]byte, error) {
	return argon2Key(password, p, argon2.IDKey)
}

// Argon2d derives a 32-byte key with Argon2d, the KeePass default for
// KDBX 4.
func Argon2d(password []byte, p Argon2Params) ([]byte, error) {
	return argon2Key(password, p, argon2d.DKey)
}

type argon2Func func(password, salt []byte, time, memory uint32, threads uint8, keyLen uint32) []byte

// argon2Key validates p and runs fn. Secret key and associated data are part
// of the KDBX dictionary but neither implementation accepts them, so their
// presence is reported as ErrArgon2Params.
func argon2Key(password []byte, p Argon2Params, fn argon2Func) ([]byte, error) {
	if p.Version != Argon2Version13 {
		return nil, fmt.Errorf("%w: version 0x%x", ErrArgon2Params, p.Version)
	}
	if len(p.Secret) > 0 || len(p.AssocData) > 0 {
		return nil, fmt.Errorf("%w: secret key or associated data", ErrArgon2Params)
	}
	if p.Iterations == 0 || p.Parallelism == 0 || p.Parallelism > 255 {
		return nil, fmt.Errorf("%w: iterations=%d parallelism=%d", ErrArgon2Params, p.Iterations, p.Parallelism)
	}
	memKiB := p.MemoryBytes / 1024
	if memKiB < 8*uint64(p.Parallelism) {
		return nil, fmt.Errorf("%w: memory=%d", ErrArgon2Params, p.MemoryBytes)
	}
	if p.Iterations > MaxArgon2Iterations || p.MemoryBytes > MaxArgon2MemoryBytes {
		return nil, fmt.Errorf("%w: iterations=%d memory=%d", ErrKdfLimit, p.Iterations, p.MemoryBytes)
	}
	return fn(password, p.Salt, uint32(p.Iterations), uint32(memKiB), uint8(p.Parallelism), 32), nil
}
