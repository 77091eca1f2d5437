// Package credentials builds the composite key of a KDBX file from its
// factors: an optional password and an optional key file.
package credentials

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/gokdbx/internal/common"
	"github.com/dmitrijs2005/gokdbx/internal/cryptox"
	"github.com/dmitrijs2005/gokdbx/internal/protected"
)

// Credentials holds the present key factors. A Credentials with neither
// factor is the explicit "no key" state; its composite key is the hash of
// the empty factor list.
type Credentials struct {
	password   *protected.Value
	keyFileKey *protected.Value
}

// New builds credentials from a password and the raw bytes of a key file.
// Either may be nil.
func New(password *protected.Value, keyFile []byte) (*Credentials, error) {
	c := &Credentials{}
	c.SetPassword(password)
	if keyFile != nil {
		if err := c.SetKeyFile(keyFile); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Empty returns credentials with no factor at all.
func Empty() *Credentials { return &Credentials{} }

// SetPassword replaces the password factor; nil removes it.
func (c *Credentials) SetPassword(password *protected.Value) {
	c.password = password
}

// SetKeyFile normalizes and stores the key file factor; nil removes it.
func (c *Credentials) SetKeyFile(data []byte) error {
	if data == nil {
		c.keyFileKey = nil
		return nil
	}
	if len(data) == 0 {
		return common.InvalidArg("keyFile", "must not be empty")
	}
	key, err := keyFromFile(data)
	if err != nil {
		return err
	}
	c.keyFileKey = protected.FromBinary(key)
	cryptox.Wipe(key)
	return nil
}

func (c *Credentials) HasPassword() bool { return c.password != nil }
func (c *Credentials) HasKeyFile() bool  { return c.keyFileKey != nil }

// IsEmpty reports the no-factor state.
func (c *Credentials) IsEmpty() bool { return !c.HasPassword() && !c.HasKeyFile() }

// CompositeKey is SHA-256 over the hashes of the present factors, password
// factor first. The caller should wipe the result.
func (c *Credentials) CompositeKey() []byte {
	var parts [][]byte
	if c.password != nil {
		pw := c.password.Binary()
		parts = append(parts, cryptox.Sha256(pw))
		cryptox.Wipe(pw)
	}
	if c.keyFileKey != nil {
		parts = append(parts, c.keyFileKey.Binary())
	}
	key := cryptox.Sha256(parts...)
	for _, p := range parts {
		cryptox.Wipe(p)
	}
	return key
}

type xmlKeyFile struct {
	XMLName xml.Name `xml:"KeyFile"`
	Meta    struct {
		Version string `xml:"Version"`
	} `xml:"Meta"`
	Key struct {
		Data struct {
			Hash  string `xml:"Hash,attr"`
			Value string `xml:",chardata"`
		} `xml:"Data"`
	} `xml:"Key"`
}

// keyFromFile applies the KeePass key file rules: XML (v1 base64, v2 hex),
// 32 raw bytes, 64 hex characters, otherwise SHA-256 of the content.
func keyFromFile(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<KeyFile")) {
		var kf xmlKeyFile
		if err := xml.Unmarshal(trimmed, &kf); err == nil && kf.Key.Data.Value != "" {
			return keyFromXML(kf)
		}
	}
	switch len(data) {
	case 32:
		return bytes.Clone(data), nil
	case 64:
		if key, err := hex.DecodeString(string(data)); err == nil {
			return key, nil
		}
	}
	return cryptox.Sha256(data), nil
}

func keyFromXML(kf xmlKeyFile) ([]byte, error) {
	value := strings.Join(strings.Fields(kf.Key.Data.Value), "")
	if strings.HasPrefix(kf.Meta.Version, "2.") {
		key, err := hex.DecodeString(value)
		if err != nil {
			return nil, common.WrapError(common.CodeFileCorrupt, err, "key file data")
		}
		if kf.Key.Data.Hash != "" {
			want, err := hex.DecodeString(kf.Key.Data.Hash)
			if err != nil || len(want) > 32 || !bytes.Equal(cryptox.Sha256(key)[:len(want)], want) {
				return nil, common.Corrupt("key file hash mismatch")
			}
		}
		return key, nil
	}
	key, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, common.WrapError(common.CodeFileCorrupt, err, "key file data")
	}
	return key, nil
}

// CreateRandomKeyFile returns a new XML (version 1.0) key file with 32
// random bytes drawn from r.
func CreateRandomKeyFile(r io.Reader) ([]byte, error) {
	key, err := cryptox.RandomBytes(r, 32)
	if err != nil {
		return nil, err
	}
	defer cryptox.Wipe(key)
	doc := fmt.Sprintf("<?xml version=\"1.0\" encoding=\"utf-8\"?>\n"+
		"<KeyFile>\n\t<Meta>\n\t\t<Version>1.00</Version>\n\t</Meta>\n"+
		"\t<Key>\n\t\t<Data>%s</Data>\n\t</Key>\n</KeyFile>\n", base64.StdEncoding.EncodeToString(key))
	return []byte(doc), nil
}
