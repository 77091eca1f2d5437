package common

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKdbxError_IsMatchesByCode(t *testing.T) {
	err := Corrupt("bad block %d", 3)

	require.ErrorIs(t, err, ErrFileCorrupt)
	assert.NotErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, "FileCorrupt: bad block 3", err.Error())
}

func TestKdbxError_WrappedThroughFmt(t *testing.T) {
	err := fmt.Errorf("load: %w", InvalidArg("data", "must not be empty"))

	require.ErrorIs(t, err, ErrInvalidArg)
	assert.Equal(t, CodeInvalidArg, CodeOf(err))
	assert.Contains(t, err.Error(), "data")
}

func TestKdbxError_UnwrapKeepsCause(t *testing.T) {
	err := WrapError(CodeFileCorrupt, io.ErrUnexpectedEOF, "reading header")

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrFileCorrupt)
	assert.Contains(t, err.Error(), "unexpected EOF")
}

func TestCodeOf_ForeignAndNil(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, Code(""), CodeOf(errors.New("boom")))
	assert.Equal(t, CodeUnsupported, CodeOf(Unsupported("cipher")))
}
