package container

import (
	"bytes"
	"io"

	"github.com/dmitrijs2005/gokdbx/internal/common"
	"github.com/klauspost/compress/gzip"
)

func inflate(payload []byte, c Compression) ([]byte, error) {
	if c == CompressionNone {
		return payload, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, common.WrapError(common.CodeFileCorrupt, err, "gzip header")
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, common.WrapError(common.CodeFileCorrupt, err, "gzip stream")
	}
	return out, nil
}

func deflate(body []byte, c Compression) ([]byte, error) {
	if c == CompressionNone {
		return body, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
