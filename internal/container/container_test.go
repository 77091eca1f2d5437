package container

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/dmitrijs2005/gokdbx/internal/common"
	"github.com/dmitrijs2005/gokdbx/internal/cryptox"
	"github.com/dmitrijs2005/gokdbx/internal/innerstream"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRand() *rand.Rand { return rand.New(rand.NewSource(42)) }

func cheapOptions(v Version, cipherID uuid.UUID) HeaderOptions {
	o := HeaderOptions{
		Version:     v,
		Cipher:      cipherID,
		Compression: CompressionGzip,
		Kdf:         KdfSettings{ID: KdfArgon2id, Iterations: 1, MemoryBytes: 1 << 20, Parallelism: 1},
		InnerStream: innerstream.ChaCha20,
	}
	if v.Major == 3 {
		o.Kdf = KdfSettings{ID: KdfAes, Rounds: 10}
		o.InnerStream = innerstream.Salsa20
	}
	return o
}

func sealed(t *testing.T, o HeaderOptions, key, body []byte, bins []Binary) ([]byte, *Header) {
	t.Helper()
	h, err := NewHeader(o)
	require.NoError(t, err)
	require.NoError(t, h.Refresh(testRand()))
	_, err = h.Marshal()
	require.NoError(t, err)
	data, err := Seal(h, key, body, bins)
	require.NoError(t, err)
	return data, h
}

var (
	goodKey = cryptox.Sha256([]byte("good"))
	badKey  = cryptox.Sha256([]byte("bad"))
	body    = []byte(`<?xml version="1.0" encoding="utf-8" standalone="yes"?><KeePassFile><Meta/></KeePassFile>`)
)

func TestOpen_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		opts HeaderOptions
	}{
		{"kdbx3 aes", cheapOptions(Version31, CipherAES256)},
		{"kdbx3 twofish", cheapOptions(Version31, CipherTwofish)},
		{"kdbx4 aes argon2id", cheapOptions(Version40, CipherAES256)},
		{"kdbx4 chacha20", cheapOptions(Version40, CipherChaCha20)},
		{"kdbx4 argon2d", func() HeaderOptions {
			o := cheapOptions(Version40, CipherAES256)
			o.Kdf.ID = KdfArgon2d
			return o
		}()},
		{"kdbx4 twofish aes-kdf", func() HeaderOptions {
			o := cheapOptions(Version40, CipherTwofish)
			o.Kdf = KdfSettings{ID: KdfAes, Rounds: 5}
			return o
		}()},
		{"kdbx4 uncompressed", func() HeaderOptions {
			o := cheapOptions(Version40, CipherAES256)
			o.Compression = CompressionNone
			return o
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bins := []Binary{{Protected: true, Data: []byte("secret")}, {Data: []byte{}}}
			data, h := sealed(t, tt.opts, goodKey, body, bins)

			var stages []Stage
			p, err := Open(data, goodKey, func(s Stage) { stages = append(stages, s) })
			require.NoError(t, err)
			assert.Equal(t, body, p.Body)
			assert.Equal(t, h.ProtectedStreamKey, p.Header.ProtectedStreamKey)
			assert.Equal(t, h.InnerStreamID, p.Header.InnerStreamID)
			assert.Equal(t, h.Raw(), p.Header.Raw())
			if tt.opts.Version.Major == 4 {
				assert.Equal(t, bins, p.Binaries)
			} else {
				assert.Empty(t, p.Binaries)
			}
			assert.Equal(t, StageHeaderPending, stages[0])
			assert.Contains(t, stages, StageKeyDerived)
			assert.Equal(t, StageDecompressed, stages[len(stages)-1])
		})
	}
}

func TestOpen_WrongKey(t *testing.T) {
	for _, v := range []Version{Version31, Version40} {
		t.Run(v.String(), func(t *testing.T) {
			data, _ := sealed(t, cheapOptions(v, CipherAES256), goodKey, body, nil)
			var last Stage
			_, err := Open(data, badKey, func(s Stage) { last = s })
			require.ErrorIs(t, err, common.ErrInvalidKey)
			assert.NotErrorIs(t, err, common.ErrFileCorrupt)
			assert.Equal(t, StageBadKey, last)
		})
	}
}

func TestOpen_Kdbx4TamperIsCorrupt(t *testing.T) {
	data, h := sealed(t, cheapOptions(Version40, CipherAES256), goodKey, body, nil)
	headerLen := len(h.Raw())
	hmacStart, hmacEnd := headerLen+32, headerLen+64

	for i := 0; i < len(data); i++ {
		if i >= hmacStart && i < hmacEnd {
			continue
		}
		tampered := bytes.Clone(data)
		tampered[i] ^= 0x01
		_, err := Open(tampered, goodKey, nil)
		require.Errorf(t, err, "byte %d", i)
		require.Equalf(t, common.CodeFileCorrupt, common.CodeOf(err), "byte %d: %v", i, err)
	}
}

func TestOpen_Kdbx4HeaderHmacTamperReadsAsBadKey(t *testing.T) {
	data, h := sealed(t, cheapOptions(Version40, CipherAES256), goodKey, body, nil)
	data[len(h.Raw())+40] ^= 0xFF
	_, err := Open(data, goodKey, nil)
	require.ErrorIs(t, err, common.ErrInvalidKey)
}

func TestOpen_Kdbx3CiphertextTamperIsCorrupt(t *testing.T) {
	data, h := sealed(t, cheapOptions(Version31, CipherAES256), goodKey, body, nil)
	start := len(h.Raw()) + 32
	for i := start; i < len(data); i++ {
		tampered := bytes.Clone(data)
		tampered[i] ^= 0x80
		_, err := Open(tampered, goodKey, nil)
		require.Errorf(t, err, "byte %d", i)
		require.Equalf(t, common.CodeFileCorrupt, common.CodeOf(err), "byte %d: %v", i, err)
	}
}

func TestOpen_TrailingBytesAfterFinalBlock(t *testing.T) {
	data, _ := sealed(t, cheapOptions(Version40, CipherAES256), goodKey, body, nil)
	_, err := Open(append(data, 0), goodKey, nil)
	require.ErrorIs(t, err, common.ErrFileCorrupt)
}

func TestParseHeader_Signatures(t *testing.T) {
	sig := func(s1, s2 uint32, minor, major uint16) []byte {
		b := binary.LittleEndian.AppendUint32(nil, s1)
		b = binary.LittleEndian.AppendUint32(b, s2)
		b = binary.LittleEndian.AppendUint16(b, minor)
		b = binary.LittleEndian.AppendUint16(b, major)
		return append(b, 0, 4, 0, 0x0D, 0x0A, 0x0D, 0x0A)
	}
	tests := []struct {
		name string
		data []byte
		code common.Code
	}{
		{"empty", nil, common.CodeFileCorrupt},
		{"garbage", []byte("not a kdbx file at all"), common.CodeFileCorrupt},
		{"keepass1", sig(Signature1, signatureKeePass1, 0, 1), common.CodeUnsupported},
		{"version 2", sig(Signature1, Signature2, 0, 2), common.CodeFileCorrupt},
		{"version 5", sig(Signature1, Signature2, 0, 5), common.CodeFileCorrupt},
		{"missing fields", sig(Signature1, Signature2, 1, 3), common.CodeFileCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseHeader(tt.data)
			require.Error(t, err)
			assert.Equal(t, tt.code, common.CodeOf(err))
		})
	}
}

func TestHeader_UnknownFieldsSurviveRoundTrip(t *testing.T) {
	h, err := NewHeader(cheapOptions(Version40, CipherAES256))
	require.NoError(t, err)
	require.NoError(t, h.Refresh(testRand()))
	h.Comment = []byte("hello")
	h.Extra = []RawField{{ID: 99, Data: []byte{1, 2, 3}}}
	h.PublicCustomData = NewVariantDictionary()
	h.PublicCustomData.SetString("plugin", "value")
	raw, err := h.Marshal()
	require.NoError(t, err)

	got, off, err := ParseHeader(append(bytes.Clone(raw), 0xAA))
	require.NoError(t, err)
	assert.Equal(t, len(raw), off)
	assert.Equal(t, h.Extra, got.Extra)
	assert.Equal(t, []byte("hello"), got.Comment)
	s, ok := got.PublicCustomData.String("plugin")
	assert.True(t, ok)
	assert.Equal(t, "value", s)
	assert.Equal(t, raw, got.Raw())
}

func TestHeader_RefreshNeverReusesSeeds(t *testing.T) {
	h, err := NewHeader(cheapOptions(Version40, CipherAES256))
	require.NoError(t, err)
	rnd := testRand()
	require.NoError(t, h.Refresh(rnd))
	seed, iv, key := h.MasterSeed, h.EncryptionIV, h.ProtectedStreamKey
	salt, _ := h.KdfParameters.Bytes(kdfKeySalt)
	require.NoError(t, h.Refresh(rnd))
	salt2, _ := h.KdfParameters.Bytes(kdfKeySalt)

	assert.NotEqual(t, seed, h.MasterSeed)
	assert.NotEqual(t, iv, h.EncryptionIV)
	assert.NotEqual(t, key, h.ProtectedStreamKey)
	assert.NotEqual(t, salt, salt2)
	assert.Len(t, h.ProtectedStreamKey, 64)
}

func TestDeriveKeys_UnsupportedKdf(t *testing.T) {
	tests := []struct {
		name string
		edit func(d *VariantDictionary)
		code common.Code
	}{
		{"short id", func(d *VariantDictionary) { d.SetBytes(kdfKeyUUID, []byte{1, 2, 3}) }, common.CodeFileCorrupt},
		{"foreign uuid", func(d *VariantDictionary) {
			id := uuid.MustParse("00000000-1111-2222-3333-444444444444")
			d.SetBytes(kdfKeyUUID, id[:])
		}, common.CodeUnsupported},
		{"argon2 secret", func(d *VariantDictionary) { d.SetBytes(kdfKeySecret, []byte("k")) }, common.CodeUnsupported},
		{"argon2 version", func(d *VariantDictionary) { d.SetUint32(kdfKeyVersion, 0x10) }, common.CodeUnsupported},
		{"argon2 memory above limit", func(d *VariantDictionary) { d.SetUint64(kdfKeyMemory, (1<<32-1)*1024) }, common.CodeUnsupported},
		{"argon2d memory above limit", func(d *VariantDictionary) {
			d.SetBytes(kdfKeyUUID, KdfArgon2d[:])
			d.SetUint64(kdfKeyMemory, cryptox.MaxArgon2MemoryBytes+1024)
		}, common.CodeUnsupported},
		{"aes rounds above limit", func(d *VariantDictionary) {
			d.SetBytes(kdfKeyUUID, KdfAesKdbx4[:])
			d.SetUint64(kdfKeyRounds, 1<<63)
		}, common.CodeUnsupported},
		{"no salt", func(d *VariantDictionary) { d.Delete(kdfKeySalt) }, common.CodeFileCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHeader(cheapOptions(Version40, CipherAES256))
			require.NoError(t, err)
			require.NoError(t, h.Refresh(testRand()))
			tt.edit(h.KdfParameters)
			_, err = DeriveKeys(h, goodKey)
			require.Error(t, err)
			assert.Equal(t, tt.code, common.CodeOf(err), err.Error())
		})
	}
}

func TestDeriveKeys_Deterministic(t *testing.T) {
	h, err := NewHeader(cheapOptions(Version31, CipherAES256))
	require.NoError(t, err)
	require.NoError(t, h.Refresh(testRand()))
	a, err := DeriveKeys(h, goodKey)
	require.NoError(t, err)
	b, err := DeriveKeys(h, goodKey)
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("keys differ (-a +b):\n%s", diff)
	}
	assert.Len(t, a.Cipher, 32)
	assert.Len(t, a.HmacBase, 64)
}

func TestNewHeader_BadOptions(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(o *HeaderOptions)
		param string
	}{
		{"version", func(o *HeaderOptions) { o.Version = Version{Major: 2} }, "version"},
		{"cipher", func(o *HeaderOptions) { o.Cipher = uuid.Nil }, "cipher"},
		{"compression", func(o *HeaderOptions) { o.Compression = 7 }, "compression"},
		{"arcfour", func(o *HeaderOptions) { o.InnerStream = innerstream.ArcFour }, "innerStream"},
		{"scrypt", func(o *HeaderOptions) { o.Kdf.ID = uuid.MustParse("00000000-1111-2222-3333-444444444444") }, "kdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := cheapOptions(Version40, CipherAES256)
			tt.edit(&o)
			_, err := NewHeader(o)
			require.ErrorIs(t, err, common.ErrInvalidArg)
			assert.Contains(t, err.Error(), tt.param)
		})
	}
}

func TestBlocks_MultiBlockPayload(t *testing.T) {
	payload := make([]byte, BlockSize*2+17)
	_, _ = testRand().Read(payload)
	base := cryptox.Sha512([]byte("base"))

	got, err := readHmacBlocks(writeHmacBlocks(payload, base), base)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	got, err = readHashedBlocks(writeHashedBlocks(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestHmacBlocks_ReorderIsCorrupt(t *testing.T) {
	base := cryptox.Sha512([]byte("base"))
	a := writeHmacBlocks([]byte("first"), base)
	// block 0 replayed at index 1
	replay := append(bytes.Clone(a[:36+5]), a[:36+5]...)
	_, err := readHmacBlocks(replay, base)
	require.ErrorIs(t, err, common.ErrFileCorrupt)
}

func TestVariantDictionary_RoundTrip(t *testing.T) {
	d := NewVariantDictionary()
	d.SetUint32("u32", 7)
	d.SetUint64("u64", 1<<40)
	d.SetBool("b", true)
	d.SetString("s", "str")
	d.SetBytes("raw", []byte{9, 9})
	d.Items = append(d.Items, VariantItem{Type: VariantInt32, Name: "i32", Value: []byte{1, 0, 0, 0}})

	got, err := ParseVariantDictionary(d.Marshal())
	require.NoError(t, err)
	if diff := cmp.Diff(d, got); diff != "" {
		t.Fatalf("dictionary mismatch (-want +got):\n%s", diff)
	}
	v, ok := got.Uint64("u32")
	assert.True(t, ok)
	assert.Equal(t, uint64(7), v)
	_, ok = got.Uint32("u64")
	assert.False(t, ok)
}

func TestVariantDictionary_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		code common.Code
	}{
		{"short", []byte{0}, common.CodeFileCorrupt},
		{"no terminator", []byte{0, 1}, common.CodeFileCorrupt},
		{"newer version", []byte{0, 2, 0}, common.CodeUnsupported},
		{"bad length", []byte{0, 1, VariantBytes, 0xFF, 0xFF, 0xFF, 0x7F}, common.CodeFileCorrupt},
		{"wrong width", []byte{0, 1, VariantUint32, 1, 0, 0, 0, 'x', 1, 0, 0, 0, 1, 0}, common.CodeFileCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseVariantDictionary(tt.data)
			require.Error(t, err)
			assert.Equal(t, tt.code, common.CodeOf(err))
		})
	}
}

func TestInnerHeader_RoundTrip(t *testing.T) {
	h := &Header{InnerStreamID: innerstream.ChaCha20, ProtectedStreamKey: bytes.Repeat([]byte{7}, 64)}
	bins := []Binary{{Protected: true, Data: []byte("a")}, {Data: []byte("bb")}}
	data := append(marshalInner(h, bins), []byte("<xml/>")...)

	got := &Header{}
	gotBins, rest, err := parseInner(got, data)
	require.NoError(t, err)
	assert.Equal(t, bins, gotBins)
	assert.Equal(t, []byte("<xml/>"), rest)
	assert.Equal(t, h.InnerStreamID, got.InnerStreamID)
	assert.Equal(t, h.ProtectedStreamKey, got.ProtectedStreamKey)
}

func TestInflate_Garbage(t *testing.T) {
	_, err := inflate([]byte("definitely not gzip"), CompressionGzip)
	require.ErrorIs(t, err, common.ErrFileCorrupt)
}
