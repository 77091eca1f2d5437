// Package container reads and writes the outer KDBX envelope: signature and
// header fields, master key derivation, payload encryption, the block-level
// integrity layers and gzip compression. It works on in-memory buffers only.
package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gokdbx/internal/common"
	"github.com/dmitrijs2005/gokdbx/internal/cryptox"
	"github.com/dmitrijs2005/gokdbx/internal/innerstream"
	"github.com/google/uuid"
)

// File signature.
const (
	Signature1        uint32 = 0x9AA2D903
	Signature2        uint32 = 0xB54BFB67
	signatureKeePass1 uint32 = 0xB54BFB65
)

// Header field ids.
const (
	fieldEnd                 uint8 = 0
	fieldComment             uint8 = 1
	fieldCipherID            uint8 = 2
	fieldCompressionFlags    uint8 = 3
	fieldMasterSeed          uint8 = 4
	fieldTransformSeed       uint8 = 5
	fieldTransformRounds     uint8 = 6
	fieldEncryptionIV        uint8 = 7
	fieldProtectedStreamKey  uint8 = 8
	fieldStreamStartBytes    uint8 = 9
	fieldInnerRandomStreamID uint8 = 10
	fieldKdfParameters       uint8 = 11
	fieldPublicCustomData    uint8 = 12
)

var endOfHeader = []byte{0x0D, 0x0A, 0x0D, 0x0A}

// Compression is the payload compression algorithm.
type Compression uint32

const (
	CompressionNone Compression = 0
	CompressionGzip Compression = 1
)

// Payload cipher ids.
var (
	CipherAES256   = uuid.MustParse("31c1f2e6-bf71-4350-be58-05216afc5aff")
	CipherTwofish  = uuid.MustParse("ad68f29f-576f-4bb9-a36a-d47af965346c")
	CipherChaCha20 = uuid.MustParse("d6038a2b-8b6f-4cb5-a524-339a31dbb59a")
)

// CipherName is a short label for logs and listings.
func CipherName(id uuid.UUID) string {
	switch id {
	case CipherAES256:
		return "aes"
	case CipherTwofish:
		return "twofish"
	case CipherChaCha20:
		return "chacha20"
	}
	return id.String()
}

// Version is the file format version from the signature block.
type Version struct {
	Major uint16
	Minor uint16
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

var (
	Version31 = Version{Major: 3, Minor: 1}
	Version40 = Version{Major: 4, Minor: 0}
)

// RawField is a header field this package does not interpret. It is written
// back unchanged.
type RawField struct {
	ID   uint8
	Data []byte
}

// Header holds every outer header field. For KDBX4 files InnerStreamID and
// ProtectedStreamKey come from the inner header instead.
type Header struct {
	Version      Version
	Comment      []byte
	CipherID     uuid.UUID
	Compression  Compression
	MasterSeed   []byte
	EncryptionIV []byte

	// KDBX 3.x
	TransformSeed    []byte
	TransformRounds  uint64
	StreamStartBytes []byte

	// KDBX 3.x outer header, KDBX 4 inner header
	InnerStreamID      innerstream.ID
	ProtectedStreamKey []byte

	// KDBX 4
	KdfParameters    *VariantDictionary
	PublicCustomData *VariantDictionary

	Extra []RawField

	raw []byte
}

// Raw returns the header bytes exactly as last parsed or marshaled.
func (h *Header) Raw() []byte { return h.raw }

// Hash is SHA-256 of Raw, stored as Meta/HeaderHash in KDBX3 bodies and
// ahead of the header HMAC in KDBX4 files.
func (h *Header) Hash() []byte { return cryptox.Sha256(h.raw) }

func (h *Header) IsKdbx4() bool { return h.Version.Major >= 4 }

// ParseHeader decodes the signature and header fields of data and returns
// the offset of the first byte after the end-of-header field.
func ParseHeader(data []byte) (*Header, int, error) {
	if len(data) < 12 {
		return nil, 0, common.Corrupt("file too short for signature")
	}
	sig1 := binary.LittleEndian.Uint32(data[0:])
	sig2 := binary.LittleEndian.Uint32(data[4:])
	if sig1 != Signature1 {
		return nil, 0, common.Corrupt("bad signature")
	}
	switch sig2 {
	case Signature2:
	case signatureKeePass1:
		return nil, 0, common.Unsupported("KeePass 1.x files")
	default:
		return nil, 0, common.Corrupt("bad signature")
	}
	h := &Header{Version: Version{
		Minor: binary.LittleEndian.Uint16(data[8:]),
		Major: binary.LittleEndian.Uint16(data[10:]),
	}}
	if h.Version.Major != 3 && h.Version.Major != 4 {
		return nil, 0, common.Corrupt("unsupported version %s", h.Version)
	}

	pos := 12
	for {
		id, value, next, err := h.readField(data, pos)
		if err != nil {
			return nil, 0, err
		}
		pos = next
		if id == fieldEnd {
			break
		}
		if err := h.setField(id, value); err != nil {
			return nil, 0, err
		}
	}
	h.raw = bytes.Clone(data[:pos])
	if err := h.validate(); err != nil {
		return nil, 0, err
	}
	return h, pos, nil
}

func (h *Header) readField(data []byte, pos int) (uint8, []byte, int, error) {
	lenSize := 2
	if h.IsKdbx4() {
		lenSize = 4
	}
	if pos+1+lenSize > len(data) {
		return 0, nil, 0, common.Corrupt("truncated header")
	}
	id := data[pos]
	pos++
	var n int
	if lenSize == 2 {
		n = int(binary.LittleEndian.Uint16(data[pos:]))
	} else {
		n = int(int32(binary.LittleEndian.Uint32(data[pos:])))
	}
	pos += lenSize
	if n < 0 || pos+n > len(data) {
		return 0, nil, 0, common.Corrupt("header field %d length %d out of range", id, n)
	}
	return id, bytes.Clone(data[pos : pos+n]), pos + n, nil
}

func (h *Header) setField(id uint8, v []byte) error {
	v3only := func() error {
		if h.IsKdbx4() {
			return common.Corrupt("header field %d is not valid in KDBX4", id)
		}
		return nil
	}
	switch id {
	case fieldComment:
		h.Comment = v
	case fieldCipherID:
		if len(v) != 16 {
			return common.Corrupt("cipher id must be 16 bytes")
		}
		h.CipherID = uuid.UUID(v)
	case fieldCompressionFlags:
		if len(v) != 4 {
			return common.Corrupt("compression flags must be 4 bytes")
		}
		h.Compression = Compression(binary.LittleEndian.Uint32(v))
	case fieldMasterSeed:
		h.MasterSeed = v
	case fieldEncryptionIV:
		h.EncryptionIV = v
	case fieldTransformSeed:
		h.TransformSeed = v
		return v3only()
	case fieldTransformRounds:
		if len(v) != 8 {
			return common.Corrupt("transform rounds must be 8 bytes")
		}
		h.TransformRounds = binary.LittleEndian.Uint64(v)
		return v3only()
	case fieldProtectedStreamKey:
		h.ProtectedStreamKey = v
		return v3only()
	case fieldStreamStartBytes:
		h.StreamStartBytes = v
		return v3only()
	case fieldInnerRandomStreamID:
		if len(v) != 4 {
			return common.Corrupt("inner random stream id must be 4 bytes")
		}
		h.InnerStreamID = innerstream.ID(binary.LittleEndian.Uint32(v))
		return v3only()
	case fieldKdfParameters:
		d, err := ParseVariantDictionary(v)
		if err != nil {
			return err
		}
		h.KdfParameters = d
	case fieldPublicCustomData:
		d, err := ParseVariantDictionary(v)
		if err != nil {
			return err
		}
		h.PublicCustomData = d
	default:
		h.Extra = append(h.Extra, RawField{ID: id, Data: v})
	}
	return nil
}

func (h *Header) validate() error {
	if h.CipherID == uuid.Nil {
		return common.Corrupt("no cipher id in header")
	}
	if len(h.MasterSeed) != 32 {
		return common.Corrupt("master seed must be 32 bytes")
	}
	if h.EncryptionIV == nil {
		return common.Corrupt("no encryption iv in header")
	}
	if h.Compression > CompressionGzip {
		return common.Corrupt("unknown compression algorithm %d", h.Compression)
	}
	if ivSize, ok := cipherIVSize(h.CipherID); ok && len(h.EncryptionIV) != ivSize {
		return common.Corrupt("encryption iv must be %d bytes", ivSize)
	}
	if h.IsKdbx4() {
		if h.KdfParameters == nil {
			return common.Corrupt("no kdf parameters in header")
		}
		return nil
	}
	switch {
	case h.TransformSeed == nil:
		return common.Corrupt("no transform seed in header")
	case h.ProtectedStreamKey == nil:
		return common.Corrupt("no protected stream key in header")
	case len(h.StreamStartBytes) != 32:
		return common.Corrupt("stream start bytes must be 32 bytes")
	}
	return nil
}

func cipherIVSize(id uuid.UUID) (int, bool) {
	switch id {
	case CipherAES256, CipherTwofish:
		return 16, true
	case CipherChaCha20:
		return 12, true
	}
	return 0, false
}

// Marshal encodes the header, records the bytes as Raw and returns them.
func (h *Header) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, Signature1)
	binary.Write(&buf, binary.LittleEndian, Signature2)
	binary.Write(&buf, binary.LittleEndian, h.Version.Minor)
	binary.Write(&buf, binary.LittleEndian, h.Version.Major)

	u32 := func(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }
	u64 := func(v uint64) []byte { return binary.LittleEndian.AppendUint64(nil, v) }

	fields := []RawField{}
	if len(h.Comment) > 0 {
		fields = append(fields, RawField{fieldComment, h.Comment})
	}
	fields = append(fields,
		RawField{fieldCipherID, h.CipherID[:]},
		RawField{fieldCompressionFlags, u32(uint32(h.Compression))},
		RawField{fieldMasterSeed, h.MasterSeed},
	)
	if h.IsKdbx4() {
		if h.KdfParameters == nil {
			return nil, common.InvalidArg("header", "kdf parameters missing")
		}
		fields = append(fields,
			RawField{fieldEncryptionIV, h.EncryptionIV},
			RawField{fieldKdfParameters, h.KdfParameters.Marshal()},
		)
		if h.PublicCustomData != nil {
			fields = append(fields, RawField{fieldPublicCustomData, h.PublicCustomData.Marshal()})
		}
	} else {
		fields = append(fields,
			RawField{fieldTransformSeed, h.TransformSeed},
			RawField{fieldTransformRounds, u64(h.TransformRounds)},
			RawField{fieldEncryptionIV, h.EncryptionIV},
			RawField{fieldProtectedStreamKey, h.ProtectedStreamKey},
			RawField{fieldStreamStartBytes, h.StreamStartBytes},
			RawField{fieldInnerRandomStreamID, u32(uint32(h.InnerStreamID))},
		)
	}
	fields = append(fields, h.Extra...)
	fields = append(fields, RawField{fieldEnd, endOfHeader})

	for _, f := range fields {
		if err := h.writeField(&buf, f); err != nil {
			return nil, err
		}
	}
	h.raw = buf.Bytes()
	return h.raw, nil
}

func (h *Header) writeField(w io.Writer, f RawField) error {
	if err := binary.Write(w, binary.LittleEndian, f.ID); err != nil {
		return err
	}
	if h.IsKdbx4() {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(f.Data))); err != nil {
			return err
		}
	} else {
		if len(f.Data) > 0xFFFF {
			return common.InvalidArg("header", fmt.Sprintf("field %d too large for KDBX3", f.ID))
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(len(f.Data))); err != nil {
			return err
		}
	}
	_, err := w.Write(f.Data)
	return err
}
