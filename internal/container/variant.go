package container

import (
	"bytes"
	"encoding/binary"

	"github.com/dmitrijs2005/gokdbx/internal/common"
)

// Variant dictionary value types.
const (
	VariantUint32 byte = 0x04
	VariantUint64 byte = 0x05
	VariantBool   byte = 0x08
	VariantInt32  byte = 0x0C
	VariantInt64  byte = 0x0D
	VariantString byte = 0x18
	VariantBytes  byte = 0x42
)

const (
	variantVersion      uint16 = 0x0100
	variantCriticalMask uint16 = 0xFF00
)

// VariantItem is one typed entry of a VariantDictionary.
type VariantItem struct {
	Type  byte
	Name  string
	Value []byte
}

// VariantDictionary is the typed key/value map of KDBX4 headers. Items keep
// their file order, and unknown types are carried through unchanged.
type VariantDictionary struct {
	Version uint16
	Items   []VariantItem
}

// NewVariantDictionary returns an empty dictionary of the current version.
func NewVariantDictionary() *VariantDictionary {
	return &VariantDictionary{Version: variantVersion}
}

// ParseVariantDictionary decodes data; every length is bounds-checked.
func ParseVariantDictionary(data []byte) (*VariantDictionary, error) {
	if len(data) < 2 {
		return nil, common.Corrupt("variant dictionary: truncated version")
	}
	d := &VariantDictionary{Version: binary.LittleEndian.Uint16(data)}
	if d.Version&variantCriticalMask > variantVersion&variantCriticalMask {
		return nil, common.Unsupported("variant dictionary version 0x%04x", d.Version)
	}
	pos := 2
	for {
		if pos >= len(data) {
			return nil, common.Corrupt("variant dictionary: missing terminator")
		}
		typ := data[pos]
		pos++
		if typ == 0 {
			return d, nil
		}
		name, next, err := readLengthPrefixed(data, pos)
		if err != nil {
			return nil, err
		}
		value, next, err := readLengthPrefixed(data, next)
		if err != nil {
			return nil, err
		}
		pos = next
		if want := fixedSize(typ); want > 0 && len(value) != want {
			return nil, common.Corrupt("variant dictionary: %q has %d bytes, want %d", name, len(value), want)
		}
		d.Items = append(d.Items, VariantItem{Type: typ, Name: string(name), Value: value})
	}
}

func readLengthPrefixed(data []byte, pos int) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, 0, common.Corrupt("variant dictionary: truncated length")
	}
	n := int(int32(binary.LittleEndian.Uint32(data[pos:])))
	pos += 4
	if n < 0 || pos+n > len(data) {
		return nil, 0, common.Corrupt("variant dictionary: length %d out of range", n)
	}
	return bytes.Clone(data[pos : pos+n]), pos + n, nil
}

func fixedSize(typ byte) int {
	switch typ {
	case VariantUint32, VariantInt32:
		return 4
	case VariantUint64, VariantInt64:
		return 8
	case VariantBool:
		return 1
	}
	return 0
}

// Marshal encodes the dictionary including its terminator.
func (d *VariantDictionary) Marshal() []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, d.Version)
	for _, it := range d.Items {
		buf.WriteByte(it.Type)
		_ = binary.Write(&buf, binary.LittleEndian, int32(len(it.Name)))
		buf.WriteString(it.Name)
		_ = binary.Write(&buf, binary.LittleEndian, int32(len(it.Value)))
		buf.Write(it.Value)
	}
	buf.WriteByte(0)
	return buf.Bytes()
}

func (d *VariantDictionary) get(name string) (VariantItem, bool) {
	for _, it := range d.Items {
		if it.Name == name {
			return it, true
		}
	}
	return VariantItem{}, false
}

func (d *VariantDictionary) set(typ byte, name string, value []byte) {
	for i := range d.Items {
		if d.Items[i].Name == name {
			d.Items[i] = VariantItem{Type: typ, Name: name, Value: value}
			return
		}
	}
	d.Items = append(d.Items, VariantItem{Type: typ, Name: name, Value: value})
}

// Bytes returns a byte-array item.
func (d *VariantDictionary) Bytes(name string) ([]byte, bool) {
	it, ok := d.get(name)
	if !ok || it.Type != VariantBytes {
		return nil, false
	}
	return it.Value, true
}

// Uint64 reads name as an unsigned integer of either width.
func (d *VariantDictionary) Uint64(name string) (uint64, bool) {
	it, ok := d.get(name)
	if !ok {
		return 0, false
	}
	switch it.Type {
	case VariantUint64:
		return binary.LittleEndian.Uint64(it.Value), true
	case VariantUint32:
		return uint64(binary.LittleEndian.Uint32(it.Value)), true
	}
	return 0, false
}

// Uint32 reads name as a uint32 item.
func (d *VariantDictionary) Uint32(name string) (uint32, bool) {
	it, ok := d.get(name)
	if !ok || it.Type != VariantUint32 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(it.Value), true
}

func (d *VariantDictionary) String(name string) (string, bool) {
	it, ok := d.get(name)
	if !ok || it.Type != VariantString {
		return "", false
	}
	return string(it.Value), true
}

func (d *VariantDictionary) Bool(name string) (bool, bool) {
	it, ok := d.get(name)
	if !ok || it.Type != VariantBool {
		return false, false
	}
	return it.Value[0] != 0, true
}

func (d *VariantDictionary) SetBytes(name string, v []byte) {
	d.set(VariantBytes, name, bytes.Clone(v))
}

func (d *VariantDictionary) SetUint64(name string, v uint64) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	d.set(VariantUint64, name, b)
}

func (d *VariantDictionary) SetUint32(name string, v uint32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	d.set(VariantUint32, name, b)
}

func (d *VariantDictionary) SetString(name string, v string) {
	d.set(VariantString, name, []byte(v))
}

func (d *VariantDictionary) SetBool(name string, v bool) {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	d.set(VariantBool, name, b)
}

// Delete removes name if present.
func (d *VariantDictionary) Delete(name string) {
	out := d.Items[:0]
	for _, it := range d.Items {
		if it.Name != name {
			out = append(out, it)
		}
	}
	d.Items = out
}
