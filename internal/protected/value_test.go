package protected

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_TextAndBinaryRoundTrip(t *testing.T) {
	v := FromString("пароль")

	assert.Equal(t, "пароль", v.Text())
	assert.Equal(t, []byte("пароль"), v.Binary())
	assert.Equal(t, len("пароль"), v.Len())
	assert.True(t, v.IsUTF8())
}

func TestValue_StoresOnlyMaskedBytes(t *testing.T) {
	pad := bytes.Repeat([]byte{0xFF}, 4)
	v, err := New(bytes.NewReader(pad), []byte{1, 2, 3, 4})
	require.NoError(t, err)

	assert.Equal(t, []byte{0xFE, 0xFD, 0xFC, 0xFB}, v.masked)
	assert.Equal(t, []byte{1, 2, 3, 4}, v.Binary())
}

func TestValue_BinaryReturnsFreshCopy(t *testing.T) {
	v := FromString("secret")

	first := v.Binary()
	first[0] = 'X'

	assert.Equal(t, "secret", v.Text())
}

func TestValue_SourceCanBeWiped(t *testing.T) {
	src := []byte("hunter2")
	v := FromBinary(src)
	for i := range src {
		src[i] = 0
	}
	assert.Equal(t, "hunter2", v.Text())
}

func TestValue_EqualComparesPlaintext(t *testing.T) {
	a := FromString("same")
	b := FromString("same")
	c := FromString("diff")

	assert.NotEqual(t, a.masked, b.masked, "independent pads")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(FromString("same!")))
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestValue_NilAndEmpty(t *testing.T) {
	var nilValue *Value
	empty := FromString("")

	assert.Equal(t, 0, nilValue.Len())
	assert.Equal(t, "", nilValue.Text())
	assert.True(t, nilValue.Equal(empty))
}

func TestValue_CloneUsesNewPad(t *testing.T) {
	v := FromString("clone me")
	c := v.Clone()

	assert.True(t, v.Equal(c))
	assert.NotEqual(t, v.pad, c.pad)
}

func TestValue_FormattingIsMasked(t *testing.T) {
	v := FromString("top-secret")

	assert.NotContains(t, fmt.Sprintf("%v %s %+v %#v", v, v, v, v), "top-secret")
}

func TestNew_RandomFailure(t *testing.T) {
	_, err := New(bytes.NewReader(nil), []byte("abc"))
	require.Error(t, err)
}
