// Package body maps the XML body of a KDBX file to a document.Document and
// back. Protected values pass through the inner stream cipher in document
// order on both paths; without a cipher they are read and written as
// plain text flagged ProtectInMemory.
package body

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/gokdbx/internal/common"
	"github.com/dmitrijs2005/gokdbx/internal/xmltree"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// seconds between 0001-01-01 and the unix epoch
const epochOffset = 62135596800

const isoLayout = "2006-01-02T15:04:05Z"

var b64 = base64.StdEncoding

func formatTime(t time.Time, kdbx4 bool) string {
	if !kdbx4 {
		return t.UTC().Format(isoLayout)
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(t.Unix()+epochOffset))
	return b64.EncodeToString(b[:])
}

// parseTime accepts both ISO-8601 and the KDBX4 base64 seconds form.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Truncate(time.Second), nil
	}
	b, err := b64.DecodeString(s)
	if err != nil || len(b) != 8 {
		return time.Time{}, common.Corrupt("bad time %q", s)
	}
	secs := int64(binary.LittleEndian.Uint64(b))
	return time.Unix(secs-epochOffset, 0).UTC(), nil
}

func formatUUID(id uuid.UUID) string { return b64.EncodeToString(id[:]) }

func parseUUID(s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, nil
	}
	b, err := b64.DecodeString(s)
	if err != nil || len(b) != 16 {
		return uuid.Nil, common.Corrupt("bad uuid %q", s)
	}
	return uuid.UUID(b), nil
}

func formatBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true, nil
	case "false", "0", "":
		return false, nil
	}
	return false, common.Corrupt("bad boolean %q", s)
}

func formatTristate(v *bool) string {
	if v == nil {
		return "null"
	}
	return formatBool(*v)
}

func parseTristate(s string) (*bool, error) {
	if t := strings.ToLower(strings.TrimSpace(s)); t == "null" || t == "" {
		return nil, nil
	}
	v, err := parseBool(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, common.Corrupt("bad number %q", s)
	}
	return v, nil
}

func parseTags(s string) []string {
	var out []string
	for _, t := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' }) {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, common.WrapError(common.CodeFileCorrupt, err, "binary gzip header")
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, common.WrapError(common.CodeFileCorrupt, err, "binary gzip stream")
	}
	return out, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sortedPoolKeys orders numeric keys numerically, then the rest by name.
func sortedPoolKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		ai, aerr := strconv.Atoi(a)
		bi, berr := strconv.Atoi(b)
		switch {
		case aerr == nil && berr == nil:
			return ai - bi
		case aerr == nil:
			return -1
		case berr == nil:
			return 1
		}
		return strings.Compare(a, b)
	})
	return keys
}

// field helpers over a parsed element

type reader struct {
	n   *xmltree.Node
	err error
}

func (r *reader) text(name string) string {
	s, _ := r.n.ChildText(name)
	return s
}

func (r *reader) has(name string) bool { return r.n.Child(name) != nil }

func (r *reader) time(name string) time.Time {
	if r.err != nil {
		return time.Time{}
	}
	t, err := parseTime(r.text(name))
	r.fail(name, err)
	return t
}

func (r *reader) uuid(name string) uuid.UUID {
	if r.err != nil {
		return uuid.Nil
	}
	id, err := parseUUID(r.text(name))
	r.fail(name, err)
	return id
}

func (r *reader) bool(name string) bool {
	if r.err != nil {
		return false
	}
	v, err := parseBool(r.text(name))
	r.fail(name, err)
	return v
}

func (r *reader) tristate(name string) *bool {
	if r.err != nil {
		return nil
	}
	v, err := parseTristate(r.text(name))
	r.fail(name, err)
	return v
}

func (r *reader) int64(name string) int64 {
	if r.err != nil {
		return 0
	}
	v, err := parseInt(r.text(name))
	r.fail(name, err)
	return v
}

func (r *reader) int(name string) int { return int(r.int64(name)) }

func (r *reader) bytes(name string) []byte {
	if r.err != nil {
		return nil
	}
	s := strings.TrimSpace(r.text(name))
	if s == "" {
		return nil
	}
	b, err := b64.DecodeString(s)
	if err != nil {
		r.fail(name, common.Corrupt("bad base64"))
	}
	return b
}

func (r *reader) fail(name string, err error) {
	if err != nil && r.err == nil {
		r.err = common.WrapError(common.CodeFileCorrupt, err, "%s/%s", r.n.Name, name)
	}
}
