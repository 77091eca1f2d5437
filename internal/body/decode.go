package body

import (
	"strconv"
	"strings"

	"github.com/dmitrijs2005/gokdbx/internal/common"
	"github.com/dmitrijs2005/gokdbx/internal/container"
	"github.com/dmitrijs2005/gokdbx/internal/cryptox"
	"github.com/dmitrijs2005/gokdbx/internal/document"
	"github.com/dmitrijs2005/gokdbx/internal/innerstream"
	"github.com/dmitrijs2005/gokdbx/internal/protected"
	"github.com/dmitrijs2005/gokdbx/internal/xmltree"
	"github.com/google/uuid"
)

const (
	attrProtected       = "Protected"
	attrProtectInMemory = "ProtectInMemory"
)

type decoder struct {
	secrets map[*xmltree.Node]*protected.Value
	pool    map[string]*document.Binary
}

// Decode parses a body. stream is the inner stream for a container body,
// or nil for a plain XML body, where a Protected value is an error.
// bins are the KDBX4 inner header binaries.
func Decode(data []byte, stream innerstream.Cipher, bins []container.Binary, env document.Env) (*document.Document, error) {
	root, err := xmltree.Parse(data)
	if err != nil {
		return nil, err
	}
	if root.Name != "KeePassFile" {
		return nil, common.Corrupt("bad xml: root element is %q, want KeePassFile", root.Name)
	}
	dec := &decoder{secrets: map[*xmltree.Node]*protected.Value{}, pool: map[string]*document.Binary{}}
	if err := dec.unprotect(root, stream); err != nil {
		return nil, err
	}
	for i, b := range bins {
		dec.pool[strconv.Itoa(i)] = &document.Binary{Protected: b.Protected, Data: protected.FromBinary(b.Data)}
	}

	d := document.New(env)
	meta, err := dec.meta(root.Child("Meta"))
	if err != nil {
		return nil, err
	}
	d.Meta = meta
	if r := root.Child("Root"); r != nil {
		for _, g := range r.All("Group") {
			grp, err := dec.group(g)
			if err != nil {
				return nil, err
			}
			d.Groups = append(d.Groups, grp)
		}
		for _, n := range r.Child("DeletedObjects").All("DeletedObject") {
			rd := &reader{n: n}
			obj := document.DeletedObject{UUID: rd.uuid("UUID"), DeletionTime: rd.time("DeletionTime")}
			if rd.err != nil {
				return nil, rd.err
			}
			d.DeletedObjects = append(d.DeletedObjects, obj)
		}
	}
	return d, nil
}

// unprotect walks the whole tree in document order, so every protected
// value takes its keystream slice in the order it was written.
func (dec *decoder) unprotect(root *xmltree.Node, stream innerstream.Cipher) error {
	return root.Walk(func(n *xmltree.Node) error {
		if v, ok := n.Attr(attrProtected); ok && strings.EqualFold(v, "True") {
			if stream == nil {
				return common.Corrupt("bad xml: protected value in plain body")
			}
			ct, err := b64.DecodeString(strings.TrimSpace(n.Text))
			if err != nil {
				return common.Corrupt("bad protected value in %s", n.Name)
			}
			plain := stream.Process(ct)
			dec.secrets[n] = protected.FromBinary(plain)
			cryptox.Wipe(plain)
			return nil
		}
		if v, ok := n.Attr(attrProtectInMemory); ok && strings.EqualFold(v, "True") {
			if _, pool := n.Attr("ID"); pool && n.Name == "Binary" {
				data, err := b64.DecodeString(strings.TrimSpace(n.Text))
				if err != nil {
					return common.Corrupt("bad base64 in protected binary")
				}
				dec.secrets[n] = protected.FromBinary(data)
				cryptox.Wipe(data)
				return nil
			}
			dec.secrets[n] = protected.FromString(n.Text)
		}
		return nil
	})
}

func (dec *decoder) meta(n *xmltree.Node) (*document.Meta, error) {
	m := &document.Meta{
		CustomIcons: map[uuid.UUID][]byte{},
		Binaries:    dec.pool,
		CustomData:  map[string]string{},
	}
	if n == nil {
		return m, nil
	}
	r := &reader{n: n}
	m.Generator = r.text("Generator")
	m.HeaderHash = r.bytes("HeaderHash")
	m.Name = r.text("DatabaseName")
	m.NameChanged = r.time("DatabaseNameChanged")
	m.Desc = r.text("DatabaseDescription")
	m.DescChanged = r.time("DatabaseDescriptionChanged")
	m.DefaultUser = r.text("DefaultUserName")
	m.DefaultUserChanged = r.time("DefaultUserNameChanged")
	m.MaintenanceHistoryDays = r.int("MaintenanceHistoryDays")
	m.Color = r.text("Color")
	m.KeyChanged = r.time("MasterKeyChanged")
	m.KeyChangeRec = r.int64("MasterKeyChangeRec")
	m.KeyChangeForce = r.int64("MasterKeyChangeForce")
	m.RecycleBinEnabled = r.bool("RecycleBinEnabled")
	m.RecycleBinUUID = r.uuid("RecycleBinUUID")
	m.RecycleBinChanged = r.time("RecycleBinChanged")
	m.EntryTemplatesGroup = r.uuid("EntryTemplatesGroup")
	m.EntryTemplatesGroupChanged = r.time("EntryTemplatesGroupChanged")
	if r.has("HistoryMaxItems") {
		v := r.int64("HistoryMaxItems")
		m.HistoryMaxItems = &v
	}
	if r.has("HistoryMaxSize") {
		v := r.int64("HistoryMaxSize")
		m.HistoryMaxSize = &v
	}
	m.LastSelectedGroup = r.uuid("LastSelectedGroup")
	m.LastTopVisibleGroup = r.uuid("LastTopVisibleGroup")
	if mp := n.Child("MemoryProtection"); mp != nil {
		pr := &reader{n: mp}
		m.MemoryProtection = document.MemoryProtection{
			Title:    pr.bool("ProtectTitle"),
			UserName: pr.bool("ProtectUserName"),
			Password: pr.bool("ProtectPassword"),
			URL:      pr.bool("ProtectURL"),
			Notes:    pr.bool("ProtectNotes"),
		}
		if pr.err != nil {
			return nil, pr.err
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	for _, icon := range n.Child("CustomIcons").All("Icon") {
		ir := &reader{n: icon}
		id, data := ir.uuid("UUID"), ir.bytes("Data")
		if ir.err != nil {
			return nil, ir.err
		}
		if id != uuid.Nil {
			m.CustomIcons[id] = data
		}
	}
	for _, b := range n.Child("Binaries").All("Binary") {
		if err := dec.metaBinary(b); err != nil {
			return nil, err
		}
	}
	for _, it := range n.Child("CustomData").All("Item") {
		ir := &reader{n: it}
		m.CustomData[ir.text("Key")] = ir.text("Value")
	}
	return m, nil
}

// metaBinary reads a Meta/Binaries pool binary.
func (dec *decoder) metaBinary(n *xmltree.Node) error {
	id, ok := n.Attr("ID")
	if !ok {
		return common.Corrupt("Meta/Binaries: binary without ID")
	}
	var data []byte
	secret, protectedBin := dec.secrets[n]
	if protectedBin {
		data = secret.Binary()
		defer cryptox.Wipe(data)
	} else {
		b, err := b64.DecodeString(strings.TrimSpace(n.Text))
		if err != nil {
			return common.Corrupt("Meta/Binaries: bad base64 in binary %s", id)
		}
		data = b
	}
	if c, _ := n.Attr("Compressed"); strings.EqualFold(c, "True") {
		out, err := gunzip(data)
		if err != nil {
			return err
		}
		data = out
	}
	dec.pool[id] = &document.Binary{Protected: protectedBin, Data: protected.FromBinary(data)}
	return nil
}

func (dec *decoder) times(n *xmltree.Node) (document.Times, error) {
	var t document.Times
	if n == nil {
		return t, nil
	}
	r := &reader{n: n}
	t.CreationTime = r.time("CreationTime")
	t.LastModTime = r.time("LastModificationTime")
	t.LastAccessTime = r.time("LastAccessTime")
	t.ExpiryTime = r.time("ExpiryTime")
	t.Expires = r.bool("Expires")
	t.UsageCount = r.int64("UsageCount")
	t.LocationChanged = r.time("LocationChanged")
	return t, r.err
}

func (dec *decoder) group(n *xmltree.Node) (*document.Group, error) {
	r := &reader{n: n}
	g := &document.Group{
		UUID:                r.uuid("UUID"),
		Name:                r.text("Name"),
		Notes:               r.text("Notes"),
		Icon:                r.int("IconID"),
		CustomIcon:          r.uuid("CustomIconUUID"),
		Expanded:            r.bool("IsExpanded"),
		DefaultAutoTypeSeq:  r.text("DefaultAutoTypeSequence"),
		EnableAutoType:      r.tristate("EnableAutoType"),
		EnableSearching:     r.tristate("EnableSearching"),
		LastTopVisibleEntry: r.uuid("LastTopVisibleEntry"),
	}
	if r.err != nil {
		return nil, r.err
	}
	var err error
	if g.Times, err = dec.times(n.Child("Times")); err != nil {
		return nil, err
	}
	for _, c := range n.Children {
		switch c.Name {
		case "Entry":
			e, err := dec.entry(c, true)
			if err != nil {
				return nil, err
			}
			g.Entries = append(g.Entries, e)
		case "Group":
			sub, err := dec.group(c)
			if err != nil {
				return nil, err
			}
			g.Groups = append(g.Groups, sub)
		}
	}
	return g, nil
}

func (dec *decoder) entry(n *xmltree.Node, withHistory bool) (*document.Entry, error) {
	r := &reader{n: n}
	e := &document.Entry{
		UUID:        r.uuid("UUID"),
		Icon:        r.int("IconID"),
		CustomIcon:  r.uuid("CustomIconUUID"),
		FgColor:     r.text("ForegroundColor"),
		BgColor:     r.text("BackgroundColor"),
		OverrideURL: r.text("OverrideURL"),
		Tags:        parseTags(r.text("Tags")),
	}
	if r.err != nil {
		return nil, r.err
	}
	var err error
	if e.Times, err = dec.times(n.Child("Times")); err != nil {
		return nil, err
	}
	for _, s := range n.All("String") {
		key, _ := s.ChildText("Key")
		v := s.Child("Value")
		if secret, ok := dec.secrets[v]; ok {
			e.Fields.Set(key, document.Protect(secret))
		} else {
			text, _ := s.ChildText("Value")
			e.Fields.Set(key, document.Plain(text))
		}
	}
	for _, b := range n.All("Binary") {
		key, _ := b.ChildText("Key")
		ref, ok := b.Child("Value").Attr("Ref")
		if !ok {
			return nil, common.Corrupt("Entry/Binary %q: no Ref", key)
		}
		e.Binaries = append(e.Binaries, document.BinaryRef{Name: key, Ref: ref})
	}
	if at := n.Child("AutoType"); at != nil {
		ar := &reader{n: at}
		e.AutoType = document.AutoType{
			Enabled:         ar.bool("Enabled"),
			Obfuscation:     ar.int("DataTransferObfuscation"),
			DefaultSequence: ar.text("DefaultSequence"),
		}
		if ar.err != nil {
			return nil, ar.err
		}
		for _, a := range at.All("Association") {
			w, _ := a.ChildText("Window")
			k, _ := a.ChildText("KeystrokeSequence")
			e.AutoType.Items = append(e.AutoType.Items, document.AutoTypeItem{Window: w, KeystrokeSequence: k})
		}
	}
	if h := n.Child("History"); h != nil {
		if !withHistory {
			return nil, common.Corrupt("nested history in entry %s", e.UUID)
		}
		for _, he := range h.All("Entry") {
			snap, err := dec.entry(he, false)
			if err != nil {
				return nil, err
			}
			e.History = append(e.History, snap)
		}
	}
	return e, nil
}
