package container

import (
	"bytes"
	"errors"
	"math"

	"github.com/dmitrijs2005/gokdbx/internal/common"
	"github.com/dmitrijs2005/gokdbx/internal/cryptox"
)

// Stage is a step of the load pipeline.
type Stage int

const (
	StageHeaderPending Stage = iota
	StageHeaderParsed
	StageKeyDerived
	StageDecrypted
	StageIntegrityVerified
	StageDecompressed
	StageBodyParsed
	StageReady
	StageCorrupt
	StageBadKey
)

var stageNames = [...]string{
	"header_pending", "header_parsed", "key_derived", "decrypted",
	"integrity_verified", "decompressed", "body_parsed", "ready",
	"corrupt", "bad_key",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// StageFunc observes pipeline progress. It may be nil.
type StageFunc func(Stage)

// Payload is what Open recovers from a container.
type Payload struct {
	Header   *Header
	Body     []byte
	Binaries []Binary // KDBX4 inner header binaries
}

// Open decrypts and verifies data with compositeKey. Wrong credentials are
// reported as common.ErrInvalidKey, any other damage as common.ErrFileCorrupt.
//
// KDBX3 checks the key with the StreamStartBytes known plaintext. KDBX4
// checks it with the header HMAC, after the plain header SHA-256 has ruled
// out header corruption. A damaged header HMAC therefore reads as a wrong
// key. KDBX4 verifies block tags over the ciphertext, so StageIntegrityVerified
// is reported before StageDecrypted there.
func Open(data, compositeKey []byte, onStage StageFunc) (*Payload, error) {
	if onStage == nil {
		onStage = func(Stage) {}
	}
	p, err := open(data, compositeKey, onStage)
	if err != nil {
		if errors.Is(err, common.ErrInvalidKey) {
			onStage(StageBadKey)
		} else {
			onStage(StageCorrupt)
		}
		return nil, err
	}
	return p, nil
}

func open(data, compositeKey []byte, onStage StageFunc) (*Payload, error) {
	onStage(StageHeaderPending)
	h, off, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	onStage(StageHeaderParsed)
	if h.IsKdbx4() {
		return open4(h, data[off:], compositeKey, onStage)
	}
	return open3(h, data[off:], compositeKey, onStage)
}

func open3(h *Header, ct, compositeKey []byte, onStage StageFunc) (*Payload, error) {
	keys, err := DeriveKeys(h, compositeKey)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe()
	onStage(StageKeyDerived)

	c, err := newPayloadCipher(h, keys.Cipher)
	if err != nil {
		return nil, err
	}
	start, err := c.Peek(ct, len(h.StreamStartBytes))
	if err != nil {
		return nil, common.WrapError(common.CodeFileCorrupt, err, "payload")
	}
	if !cryptox.Equal(start, h.StreamStartBytes) {
		return nil, common.NewError(common.CodeInvalidKey, "stream start bytes do not match")
	}
	plain, err := c.Decrypt(ct)
	if err != nil {
		return nil, common.WrapError(common.CodeFileCorrupt, err, "decrypt payload")
	}
	onStage(StageDecrypted)

	if !bytes.HasPrefix(plain, h.StreamStartBytes) {
		return nil, common.Corrupt("stream start bytes damaged")
	}
	payload, err := readHashedBlocks(plain[len(h.StreamStartBytes):])
	if err != nil {
		return nil, err
	}
	onStage(StageIntegrityVerified)

	body, err := inflate(payload, h.Compression)
	if err != nil {
		return nil, err
	}
	onStage(StageDecompressed)
	return &Payload{Header: h, Body: body}, nil
}

func headerHmac(h *Header, hmacBase []byte) []byte {
	key := cryptox.HmacBlockKey(math.MaxUint64, hmacBase)
	defer cryptox.Wipe(key)
	return cryptox.HmacSha256(key, h.Raw())
}

func open4(h *Header, rest, compositeKey []byte, onStage StageFunc) (*Payload, error) {
	if len(rest) < 64 {
		return nil, common.Corrupt("truncated header checksums")
	}
	if !cryptox.Equal(h.Hash(), rest[:32]) {
		return nil, common.Corrupt("header hash mismatch")
	}
	keys, err := DeriveKeys(h, compositeKey)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe()
	onStage(StageKeyDerived)

	if !cryptox.Equal(headerHmac(h, keys.HmacBase), rest[32:64]) {
		return nil, common.NewError(common.CodeInvalidKey, "header hmac mismatch")
	}
	ct, err := readHmacBlocks(rest[64:], keys.HmacBase)
	if err != nil {
		return nil, err
	}
	onStage(StageIntegrityVerified)

	c, err := newPayloadCipher(h, keys.Cipher)
	if err != nil {
		return nil, err
	}
	payload, err := c.Decrypt(ct)
	if err != nil {
		return nil, common.WrapError(common.CodeFileCorrupt, err, "decrypt payload")
	}
	onStage(StageDecrypted)

	plain, err := inflate(payload, h.Compression)
	if err != nil {
		return nil, err
	}
	onStage(StageDecompressed)

	bins, body, err := parseInner(h, plain)
	if err != nil {
		return nil, err
	}
	return &Payload{Header: h, Body: body, Binaries: bins}, nil
}

// Seal encrypts body under h and compositeKey. It writes h.Raw() as the
// header, so h must have been refreshed and marshaled for this save.
// Binaries are only stored for KDBX4; KDBX3 keeps them in the body.
func Seal(h *Header, compositeKey, body []byte, bins []Binary) ([]byte, error) {
	if len(h.Raw()) == 0 {
		return nil, common.InvalidArg("header", "not marshaled")
	}
	keys, err := DeriveKeys(h, compositeKey)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe()
	c, err := newPayloadCipher(h, keys.Cipher)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Write(h.Raw())
	if !h.IsKdbx4() {
		payload, err := deflate(body, h.Compression)
		if err != nil {
			return nil, err
		}
		plain := append(bytes.Clone(h.StreamStartBytes), writeHashedBlocks(payload)...)
		ct, err := c.Encrypt(plain)
		if err != nil {
			return nil, err
		}
		out.Write(ct)
		return out.Bytes(), nil
	}

	inner := marshalInner(h, bins)
	payload, err := deflate(append(inner, body...), h.Compression)
	if err != nil {
		return nil, err
	}
	ct, err := c.Encrypt(payload)
	if err != nil {
		return nil, err
	}
	out.Write(h.Hash())
	out.Write(headerHmac(h, keys.HmacBase))
	out.Write(writeHmacBlocks(ct, keys.HmacBase))
	return out.Bytes(), nil
}
