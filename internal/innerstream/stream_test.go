package innerstream

import (
	"bytes"
	"testing"

	"github.com/dmitrijs2005/gokdbx/internal/common"
	"github.com/dmitrijs2005/gokdbx/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/salsa20"
)

func TestSalsa20_MatchesOneShotKeystream(t *testing.T) {
	key := []byte("protected-stream-key-32-bytes!!!")
	c, err := New(Salsa20, key)
	require.NoError(t, err)

	var k [32]byte
	copy(k[:], cryptox.Sha256(key))
	zeros := make([]byte, 200)
	want := make([]byte, 200)
	salsa20.XORKeyStream(want, zeros, salsaNonce[:], &k)

	var got []byte
	for _, n := range []int{3, 61, 0, 64, 72} {
		got = append(got, c.Process(make([]byte, n))...)
	}
	assert.Equal(t, want, got)
}

func TestStreams_ChunkingDoesNotChangeOutput(t *testing.T) {
	for _, id := range []ID{Salsa20, ChaCha20, None} {
		t.Run(id.String(), func(t *testing.T) {
			key := bytes.Repeat([]byte{0x42}, id.KeySize())
			data := bytes.Repeat([]byte("field-value;"), 20)

			whole, err := New(id, key)
			require.NoError(t, err)
			expected := whole.Process(data)

			split, err := New(id, key)
			require.NoError(t, err)
			var got []byte
			for off := 0; off < len(data); off += 7 {
				end := min(off+7, len(data))
				got = append(got, split.Process(data[off:end])...)
			}
			assert.Equal(t, expected, got)
		})
	}
}

func TestStreams_DecodeInSameOrder(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 64)
	fields := [][]byte{[]byte("pass1"), []byte(""), []byte("second secret"), []byte("3")}

	enc, err := New(ChaCha20, key)
	require.NoError(t, err)
	var wire [][]byte
	for _, f := range fields {
		wire = append(wire, enc.Process(f))
	}

	dec, err := New(ChaCha20, key)
	require.NoError(t, err)
	for i, w := range wire {
		assert.Equal(t, fields[i], dec.Process(w))
	}

	// visiting in a different order desynchronizes the keystream
	dec2, err := New(ChaCha20, key)
	require.NoError(t, err)
	assert.NotEqual(t, fields[2], dec2.Process(wire[2]))
}

func TestNew_UnsupportedStreams(t *testing.T) {
	_, err := New(ArcFour, []byte("k"))
	require.ErrorIs(t, err, common.ErrUnsupported)

	_, err = New(ID(42), []byte("k"))
	require.ErrorIs(t, err, common.ErrUnsupported)
}

func TestNone_IsIdentity(t *testing.T) {
	c, err := New(None, nil)
	require.NoError(t, err)
	in := []byte("plain")
	out := c.Process(in)
	assert.Equal(t, in, out)
	out[0] = 'X'
	assert.Equal(t, []byte("plain"), in)
}
