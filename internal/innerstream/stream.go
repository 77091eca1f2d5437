// Package innerstream implements the inner random stream of KDBX bodies:
// the keystream whose bytes are XORed into protected field values as they
// appear in the serialized body. Offsets advance monotonically across all
// calls on one Cipher, so a body must be encoded and decoded by visiting
// protected values in exactly the same order.
package innerstream

import (
	"encoding/binary"
	"fmt"

	"github.com/dmitrijs2005/gokdbx/internal/common"
	"github.com/dmitrijs2005/gokdbx/internal/cryptox"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/salsa20/salsa"
)

// ID is the inner random stream identifier stored in the header.
type ID uint32

const (
	None     ID = 0
	ArcFour  ID = 1
	Salsa20  ID = 2
	ChaCha20 ID = 3
)

func (id ID) String() string {
	switch id {
	case None:
		return "none"
	case ArcFour:
		return "arcfour"
	case Salsa20:
		return "salsa20"
	case ChaCha20:
		return "chacha20"
	default:
		return fmt.Sprintf("stream(%d)", uint32(id))
	}
}

// KeySize returns the length of a freshly generated stream key for id.
func (id ID) KeySize() int {
	if id == ChaCha20 {
		return 64
	}
	return 32
}

// Cipher is a stateful keystream. Process XORs in with the next len(in)
// keystream bytes and returns the result in a new slice.
type Cipher interface {
	Process(in []byte) []byte
}

var salsaNonce = [8]byte{0xE8, 0x30, 0x09, 0x4B, 0x97, 0x20, 0x5D, 0x2A}

// New creates the keystream for id from the stream key stored in the
// container (the random seed, never the password).
func New(id ID, key []byte) (Cipher, error) {
	switch id {
	case None:
		return plain{}, nil
	case Salsa20:
		return newSalsa(key), nil
	case ChaCha20:
		h := cryptox.Sha512(key)
		s, err := chacha20.NewUnauthenticatedCipher(h[:32], h[32:44])
		if err != nil {
			return nil, err
		}
		return &chacha{s: s}, nil
	case ArcFour:
		return nil, common.Unsupported("inner stream %s", id)
	default:
		return nil, common.Unsupported("inner stream id %d", uint32(id))
	}
}

type plain struct{}

func (plain) Process(in []byte) []byte { return append([]byte(nil), in...) }

type chacha struct {
	s *chacha20.Cipher
}

func (c *chacha) Process(in []byte) []byte {
	out := make([]byte, len(in))
	c.s.XORKeyStream(out, in)
	return out
}

type salsaStream struct {
	key     [32]byte
	counter uint64
	block   [64]byte
	used    int
}

func newSalsa(key []byte) *salsaStream {
	s := &salsaStream{used: 64}
	copy(s.key[:], cryptox.Sha256(key))
	return s
}

func (s *salsaStream) refill() {
	var ctr [16]byte
	copy(ctr[:8], salsaNonce[:])
	binary.LittleEndian.PutUint64(ctr[8:], s.counter)
	var zero [64]byte
	salsa.XORKeyStream(s.block[:], zero[:], &ctr, &s.key)
	s.counter++
	s.used = 0
}

func (s *salsaStream) Process(in []byte) []byte {
	out := make([]byte, len(in))
	for i := range in {
		if s.used == len(s.block) {
			s.refill()
		}
		out[i] = in[i] ^ s.block[s.used]
		s.used++
	}
	return out
}
