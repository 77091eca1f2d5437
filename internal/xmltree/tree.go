// Package xmltree is a small element tree over encoding/xml. It keeps
// element order and attributes, which the KDBX body needs for the inner
// stream walk, and drops comments, processing instructions and whitespace
// between elements.
package xmltree

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/gokdbx/internal/common"
)

// Node is one element. Text holds the character data of leaf elements.
type Node struct {
	Name     string
	Attrs    []xml.Attr
	Text     string
	Children []*Node
}

// New returns an element with no attributes or children.
func New(name string) *Node { return &Node{Name: name} }

// Parse reads a single-rooted document. Any syntax error, or a document
// without a root, is reported as FileCorrupt with a "bad xml" message.
func Parse(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		stack []*Node
		root  *Node
		text  strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, common.WrapError(common.CodeFileCorrupt, err, "bad xml")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				return nil, common.Corrupt("bad xml: more than one root element")
			}
			n := &Node{Name: t.Name.Local, Attrs: localAttrs(t.Attr)}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			} else {
				root = n
			}
			stack = append(stack, n)
			text.Reset()
		case xml.EndElement:
			n := stack[len(stack)-1]
			if len(n.Children) == 0 {
				n.Text = text.String()
			}
			stack = stack[:len(stack)-1]
			text.Reset()
		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) > 0 {
					return nil, common.Corrupt("bad xml: text outside root element")
				}
				continue
			}
			text.Write(t)
		}
	}
	if root == nil {
		return nil, common.Corrupt("bad xml: no root element")
	}
	return root, nil
}

func localAttrs(attrs []xml.Attr) []xml.Attr {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]xml.Attr, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, xml.Attr{Name: xml.Name{Local: a.Name.Local}, Value: a.Value})
	}
	return out
}

// Child returns the first child element called name, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// All returns every child element called name.
func (n *Node) All(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// ChildText returns the text of the named child and whether it exists.
func (n *Node) ChildText(name string) (string, bool) {
	c := n.Child(name)
	if c == nil {
		return "", false
	}
	return c.Text, true
}

func (n *Node) Attr(name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr replaces or appends an attribute.
func (n *Node) SetAttr(name, value string) *Node {
	for i := range n.Attrs {
		if n.Attrs[i].Name.Local == name {
			n.Attrs[i].Value = value
			return n
		}
	}
	n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
	return n
}

func (n *Node) RemoveAttr(name string) {
	out := n.Attrs[:0]
	for _, a := range n.Attrs {
		if a.Name.Local != name {
			out = append(out, a)
		}
	}
	n.Attrs = out
}

// Add appends and returns a new child element.
func (n *Node) Add(name string) *Node {
	c := New(name)
	n.Children = append(n.Children, c)
	return c
}

// AddText appends a leaf child holding text.
func (n *Node) AddText(name, text string) *Node {
	c := n.Add(name)
	c.Text = text
	return c
}

// Append adds existing nodes as children.
func (n *Node) Append(children ...*Node) {
	n.Children = append(n.Children, children...)
}

// Walk visits n and its descendants depth-first in document order and stops
// at the first error.
func (n *Node) Walk(fn func(*Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// Marshal writes the document with an XML declaration, indented with tabs.
func (n *Node) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8" standalone="yes"?>` + "\n")
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "\t")
	if err := n.encode(enc); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) encode(enc *xml.Encoder) error {
	start := xml.StartElement{Name: xml.Name{Local: n.Name}}
	for _, a := range n.Attrs {
		start.Attr = append(start.Attr, xml.Attr{Name: a.Name, Value: Sanitize(a.Value)})
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if len(n.Children) == 0 && n.Text != "" {
		if err := enc.EncodeToken(xml.CharData(Sanitize(n.Text))); err != nil {
			return err
		}
	}
	for _, c := range n.Children {
		if err := c.encode(enc); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// Sanitize drops characters outside the XML 1.0 Char production, such as
// control characters other than tab, newline and carriage return. Invalid
// UTF-8 sequences become U+FFFD.
func Sanitize(s string) string {
	if strings.IndexFunc(s, invalidChar) < 0 && utf8.ValidString(s) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if invalidChar(r) {
			return -1
		}
		return r
	}, s)
}

func invalidChar(r rune) bool {
	switch {
	case r == 0x09 || r == 0x0A || r == 0x0D:
		return false
	case r >= 0x20 && r <= 0xD7FF:
		return false
	case r >= 0xE000 && r <= 0xFFFD:
		return false
	case r >= 0x10000 && r <= 0x10FFFF:
		return false
	}
	return true
}
