package container

import (
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gokdbx/internal/common"
	"github.com/dmitrijs2005/gokdbx/internal/cryptox"
	"github.com/dmitrijs2005/gokdbx/internal/innerstream"
	"github.com/google/uuid"
)

// KDF ids stored under $UUID in the KDBX4 KDF dictionary.
var (
	KdfAes      = uuid.MustParse("c9d9f39a-628a-4460-bf74-0d08c18a4fea")
	KdfAesKdbx4 = uuid.MustParse("7c02bb82-79a7-4ac0-927d-114a00648238")
	KdfArgon2d  = uuid.MustParse("ef636ddf-8c29-444b-91f7-a9a403e30a0c")
	KdfArgon2id = uuid.MustParse("9e298b19-56db-4773-b23d-fc3ec6f0a1e6")
)

// KDF dictionary keys.
const (
	kdfKeyUUID        = "$UUID"
	kdfKeyRounds      = "R"
	kdfKeySalt        = "S"
	kdfKeyParallelism = "P"
	kdfKeyMemory      = "M"
	kdfKeyIterations  = "I"
	kdfKeyVersion     = "V"
	kdfKeySecret      = "K"
	kdfKeyAssocData   = "A"
)

// KdfSettings selects and tunes the KDF written into new headers.
type KdfSettings struct {
	ID          uuid.UUID
	Rounds      uint64 // AES-KDF
	Iterations  uint64 // argon2
	MemoryBytes uint64 // argon2
	Parallelism uint32 // argon2
}

// DefaultArgon2id is used for new KDBX4 files.
func DefaultArgon2id() KdfSettings {
	return KdfSettings{ID: KdfArgon2id, Iterations: 2, MemoryBytes: 64 << 20, Parallelism: 2}
}

// DefaultAesKdf is used for new KDBX3 files.
func DefaultAesKdf() KdfSettings {
	return KdfSettings{ID: KdfAes, Rounds: 60000}
}

// KdfName is a short label for logs.
func KdfName(id uuid.UUID) string {
	switch id {
	case KdfAes, KdfAesKdbx4:
		return "aes"
	case KdfArgon2d:
		return "argon2d"
	case KdfArgon2id:
		return "argon2id"
	}
	return id.String()
}

// HeaderOptions describe a header for a file that has never been saved.
type HeaderOptions struct {
	Version     Version
	Cipher      uuid.UUID
	Compression Compression
	Kdf         KdfSettings
	InnerStream innerstream.ID
}

// DefaultHeaderOptions returns KDBX 4 with AES, Argon2id, gzip and ChaCha20
// for protected values.
func DefaultHeaderOptions() HeaderOptions {
	return HeaderOptions{
		Version:     Version40,
		Cipher:      CipherAES256,
		Compression: CompressionGzip,
		Kdf:         DefaultArgon2id(),
		InnerStream: innerstream.ChaCha20,
	}
}

// NewHeader builds a header from o. Seeds, IVs and keys are left empty until
// Refresh.
func NewHeader(o HeaderOptions) (*Header, error) {
	if o.Version.Major != 3 && o.Version.Major != 4 {
		return nil, common.InvalidArg("version", fmt.Sprintf("unsupported version %s", o.Version))
	}
	if _, ok := cipherIVSize(o.Cipher); !ok {
		return nil, common.InvalidArg("cipher", "unknown cipher "+o.Cipher.String())
	}
	if o.Compression > CompressionGzip {
		return nil, common.InvalidArg("compression", fmt.Sprintf("unknown compression %d", o.Compression))
	}
	if _, err := innerstream.New(o.InnerStream, make([]byte, o.InnerStream.KeySize())); err != nil {
		return nil, common.InvalidArg("innerStream", err.Error())
	}
	h := &Header{
		Version:       o.Version,
		CipherID:      o.Cipher,
		Compression:   o.Compression,
		InnerStreamID: o.InnerStream,
	}
	if !h.IsKdbx4() {
		if o.Kdf.ID != KdfAes && o.Kdf.ID != uuid.Nil {
			return nil, common.InvalidArg("kdf", "KDBX3 files only support AES-KDF")
		}
		h.TransformRounds = o.Kdf.Rounds
		return h, nil
	}
	d := NewVariantDictionary()
	d.SetBytes(kdfKeyUUID, o.Kdf.ID[:])
	switch o.Kdf.ID {
	case KdfAes, KdfAesKdbx4:
		d.SetUint64(kdfKeyRounds, o.Kdf.Rounds)
	case KdfArgon2id, KdfArgon2d:
		d.SetUint32(kdfKeyVersion, cryptox.Argon2Version13)
		d.SetUint64(kdfKeyIterations, o.Kdf.Iterations)
		d.SetUint64(kdfKeyMemory, o.Kdf.MemoryBytes)
		d.SetUint32(kdfKeyParallelism, o.Kdf.Parallelism)
	default:
		return nil, common.InvalidArg("kdf", "unsupported kdf "+KdfName(o.Kdf.ID))
	}
	h.KdfParameters = d
	return h, nil
}

// KdfID returns the KDF named by the header.
func (h *Header) KdfID() uuid.UUID {
	if !h.IsKdbx4() {
		return KdfAes
	}
	b, ok := h.KdfParameters.Bytes(kdfKeyUUID)
	if !ok || len(b) != 16 {
		return uuid.Nil
	}
	return uuid.UUID(b)
}

// Refresh replaces every seed, salt, IV and stream key with fresh random
// bytes from rnd. It must run before each save.
func (h *Header) Refresh(rnd io.Reader) error {
	ivSize, ok := cipherIVSize(h.CipherID)
	if !ok {
		return common.Unsupported("cipher %s", h.CipherID)
	}
	var err error
	fill := func(n int) []byte {
		if err != nil {
			return nil
		}
		var b []byte
		b, err = cryptox.RandomBytes(rnd, n)
		return b
	}
	h.MasterSeed = fill(32)
	h.EncryptionIV = fill(ivSize)
	h.ProtectedStreamKey = fill(h.InnerStreamID.KeySize())
	if h.IsKdbx4() {
		salt := fill(32)
		if err == nil {
			h.KdfParameters.SetBytes(kdfKeySalt, salt)
		}
		h.TransformSeed, h.StreamStartBytes = nil, nil
	} else {
		h.TransformSeed = fill(32)
		h.StreamStartBytes = fill(32)
	}
	if err != nil {
		return fmt.Errorf("refresh header: %w", err)
	}
	return nil
}

// Keys is the key material derived for one file.
type Keys struct {
	Cipher   []byte
	HmacBase []byte
}

// Wipe zeroes the key material.
func (k *Keys) Wipe() {
	cryptox.Wipe(k.Cipher)
	cryptox.Wipe(k.HmacBase)
}

// DeriveKeys runs the header's KDF over the composite key and derives the
// payload cipher key and the base HMAC key.
func DeriveKeys(h *Header, compositeKey []byte) (*Keys, error) {
	transformed, err := transformKey(h, compositeKey)
	if err != nil {
		return nil, err
	}
	defer cryptox.Wipe(transformed)
	return &Keys{
		Cipher:   cryptox.Sha256(h.MasterSeed, transformed),
		HmacBase: cryptox.Sha512(h.MasterSeed, transformed, []byte{0x01}),
	}, nil
}

func transformKey(h *Header, compositeKey []byte) ([]byte, error) {
	if !h.IsKdbx4() {
		return aesKdf(compositeKey, h.TransformSeed, h.TransformRounds)
	}
	d := h.KdfParameters
	id := h.KdfID()
	switch id {
	case KdfAes, KdfAesKdbx4:
		seed, ok := d.Bytes(kdfKeySalt)
		if !ok {
			return nil, common.Corrupt("kdf parameters: no salt")
		}
		rounds, ok := d.Uint64(kdfKeyRounds)
		if !ok {
			return nil, common.Corrupt("kdf parameters: no rounds")
		}
		return aesKdf(compositeKey, seed, rounds)
	case KdfArgon2id, KdfArgon2d:
		p, err := argon2Params(d)
		if err != nil {
			return nil, err
		}
		derive := cryptox.Argon2id
		if id == KdfArgon2d {
			derive = cryptox.Argon2d
		}
		out, err := derive(compositeKey, p)
		if errors.Is(err, cryptox.ErrArgon2Params) || errors.Is(err, cryptox.ErrKdfLimit) {
			return nil, common.WrapError(common.CodeUnsupported, err, "%s", KdfName(id))
		}
		return out, err
	case uuid.Nil:
		return nil, common.Corrupt("kdf parameters: no kdf id")
	}
	return nil, common.Unsupported("kdf %s", id)
}

func aesKdf(compositeKey, seed []byte, rounds uint64) ([]byte, error) {
	out, err := cryptox.AesKdf(compositeKey, seed, rounds)
	if errors.Is(err, cryptox.ErrKdfLimit) {
		return nil, common.WrapError(common.CodeUnsupported, err, "aes-kdf")
	}
	if err != nil {
		return nil, common.WrapError(common.CodeFileCorrupt, err, "aes-kdf")
	}
	return out, nil
}

func argon2Params(d *VariantDictionary) (cryptox.Argon2Params, error) {
	var p cryptox.Argon2Params
	var ok bool
	if p.Salt, ok = d.Bytes(kdfKeySalt); !ok {
		return p, common.Corrupt("kdf parameters: no salt")
	}
	if p.Iterations, ok = d.Uint64(kdfKeyIterations); !ok {
		return p, common.Corrupt("kdf parameters: no iterations")
	}
	if p.MemoryBytes, ok = d.Uint64(kdfKeyMemory); !ok {
		return p, common.Corrupt("kdf parameters: no memory")
	}
	if p.Parallelism, ok = d.Uint32(kdfKeyParallelism); !ok {
		return p, common.Corrupt("kdf parameters: no parallelism")
	}
	if p.Version, ok = d.Uint32(kdfKeyVersion); !ok {
		return p, common.Corrupt("kdf parameters: no version")
	}
	p.Secret, _ = d.Bytes(kdfKeySecret)
	p.AssocData, _ = d.Bytes(kdfKeyAssocData)
	return p, nil
}

// newPayloadCipher returns the header's payload cipher keyed with key.
func newPayloadCipher(h *Header, key []byte) (cryptox.PayloadCipher, error) {
	var (
		c   cryptox.PayloadCipher
		err error
	)
	switch h.CipherID {
	case CipherAES256:
		c, err = cryptox.NewAESCBC(key, h.EncryptionIV)
	case CipherTwofish:
		c, err = cryptox.NewTwofishCBC(key, h.EncryptionIV)
	case CipherChaCha20:
		c, err = cryptox.NewChaCha20(key, h.EncryptionIV)
	default:
		return nil, common.Unsupported("cipher %s", h.CipherID)
	}
	if err != nil {
		return nil, common.WrapError(common.CodeFileCorrupt, err, "payload cipher")
	}
	return c, nil
}
