package container

import (
	"bytes"
	"encoding/binary"

	"github.com/dmitrijs2005/gokdbx/internal/common"
	"github.com/dmitrijs2005/gokdbx/internal/innerstream"
)

// Inner header field ids (KDBX4).
const (
	innerEnd         uint8 = 0
	innerStreamID    uint8 = 1
	innerStreamKey   uint8 = 2
	innerBinary      uint8 = 3
	innerFlagProtect byte  = 0x01
)

// Binary is an attachment carried in the KDBX4 inner header. Its position
// in Payload.Binaries is the reference used by entries.
type Binary struct {
	Protected bool
	Data      []byte
}

// parseInner reads the inner header into h and returns the binaries and
// the remaining body bytes.
func parseInner(h *Header, data []byte) ([]Binary, []byte, error) {
	var bins []Binary
	pos := 0
	for {
		if pos+5 > len(data) {
			return nil, nil, common.Corrupt("inner header: truncated")
		}
		id := data[pos]
		n := int(int32(binary.LittleEndian.Uint32(data[pos+1:])))
		pos += 5
		if n < 0 || pos+n > len(data) {
			return nil, nil, common.Corrupt("inner header field %d: length %d out of range", id, n)
		}
		v := data[pos : pos+n]
		pos += n
		switch id {
		case innerEnd:
			if h.ProtectedStreamKey == nil {
				return nil, nil, common.Corrupt("inner header: no stream key")
			}
			return bins, data[pos:], nil
		case innerStreamID:
			if n != 4 {
				return nil, nil, common.Corrupt("inner header: stream id must be 4 bytes")
			}
			h.InnerStreamID = innerstream.ID(binary.LittleEndian.Uint32(v))
		case innerStreamKey:
			h.ProtectedStreamKey = bytes.Clone(v)
		case innerBinary:
			if n < 1 {
				return nil, nil, common.Corrupt("inner header: empty binary record")
			}
			bins = append(bins, Binary{
				Protected: v[0]&innerFlagProtect != 0,
				Data:      bytes.Clone(v[1:]),
			})
		default:
			return nil, nil, common.Corrupt("inner header: unknown field %d", id)
		}
	}
}

func marshalInner(h *Header, bins []Binary) []byte {
	var buf bytes.Buffer
	field := func(id uint8, parts ...[]byte) {
		n := 0
		for _, p := range parts {
			n += len(p)
		}
		buf.WriteByte(id)
		_ = binary.Write(&buf, binary.LittleEndian, uint32(n))
		for _, p := range parts {
			buf.Write(p)
		}
	}
	field(innerStreamID, binary.LittleEndian.AppendUint32(nil, uint32(h.InnerStreamID)))
	field(innerStreamKey, h.ProtectedStreamKey)
	for _, b := range bins {
		flag := byte(0)
		if b.Protected {
			flag = innerFlagProtect
		}
		field(innerBinary, []byte{flag}, b.Data)
	}
	field(innerEnd)
	return buf.Bytes()
}
