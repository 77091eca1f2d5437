package body

import (
	"fmt"
	"maps"
	"slices"
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

// EncodeOptions selects the body dialect.
type EncodeOptions struct {
	// Kdbx4 writes base64 timestamps and moves pool binaries to the
	// returned inner header list instead of Meta/Binaries.
	Kdbx4 bool
	// MetaBinaries writes the pool to Meta/Binaries even for KDBX4, for
	// standalone XML bodies that have no inner header.
	MetaBinaries bool
	// HeaderHash is written to Meta for KDBX3 files when set.
	HeaderHash []byte
	// Stream encrypts protected values. Nil writes them as plain text
	// marked ProtectInMemory.
	Stream innerstream.Cipher
}

type encoder struct {
	opts    EncodeOptions
	secrets map[*xmltree.Node]*protected.Value
	refs    map[string]string
}

// Encode renders d. Pool binaries are renumbered 0..n-1 in key order and
// entry references are rewritten to match; d itself is not modified.
func Encode(d *document.Document, opts EncodeOptions) ([]byte, []container.Binary, error) {
	enc := &encoder{opts: opts, secrets: map[*xmltree.Node]*protected.Value{}, refs: map[string]string{}}
	keys := sortedPoolKeys(d.Meta.Binaries)
	for i, k := range keys {
		enc.refs[k] = strconv.Itoa(i)
	}

	root := xmltree.New("KeePassFile")
	root.Append(enc.meta(d.Meta, keys))
	r := root.Add("Root")
	for _, g := range d.Groups {
		n, err := enc.group(g)
		if err != nil {
			return nil, nil, err
		}
		r.Append(n)
	}
	del := r.Add("DeletedObjects")
	for _, o := range d.DeletedObjects {
		dn := del.Add("DeletedObject")
		dn.AddText("UUID", formatUUID(o.UUID))
		dn.AddText("DeletionTime", formatTime(o.DeletionTime, opts.Kdbx4))
	}

	if err := enc.protect(root); err != nil {
		return nil, nil, err
	}
	out, err := root.Marshal()
	if err != nil {
		return nil, nil, fmt.Errorf("marshal body: %w", err)
	}

	var bins []container.Binary
	if opts.Kdbx4 && !opts.MetaBinaries {
		for _, k := range keys {
			b := d.Meta.Binaries[k]
			bins = append(bins, container.Binary{Protected: b.Protected, Data: b.Data.Binary()})
		}
	}
	return out, bins, nil
}

// protect fills protected nodes in document order, the same order Decode
// consumes the keystream in.
func (enc *encoder) protect(root *xmltree.Node) error {
	return root.Walk(func(n *xmltree.Node) error {
		secret, ok := enc.secrets[n]
		if !ok {
			return nil
		}
		plain := secret.Binary()
		defer cryptox.Wipe(plain)
		if enc.opts.Stream == nil {
			n.SetAttr(attrProtectInMemory, "True")
			if n.Name == "Binary" {
				n.Text = b64.EncodeToString(plain)
				return nil
			}
			n.Text = string(plain)
			return nil
		}
		n.SetAttr(attrProtected, "True")
		n.Text = b64.EncodeToString(enc.opts.Stream.Process(plain))
		return nil
	})
}

func (enc *encoder) meta(m *document.Meta, poolKeys []string) *xmltree.Node {
	k4 := enc.opts.Kdbx4
	n := xmltree.New("Meta")
	n.AddText("Generator", common.Generator)
	if !k4 && len(enc.opts.HeaderHash) > 0 {
		n.AddText("HeaderHash", b64.EncodeToString(enc.opts.HeaderHash))
	}
	n.AddText("DatabaseName", m.Name)
	n.AddText("DatabaseNameChanged", formatTime(m.NameChanged, k4))
	n.AddText("DatabaseDescription", m.Desc)
	n.AddText("DatabaseDescriptionChanged", formatTime(m.DescChanged, k4))
	n.AddText("DefaultUserName", m.DefaultUser)
	n.AddText("DefaultUserNameChanged", formatTime(m.DefaultUserChanged, k4))
	n.AddText("MaintenanceHistoryDays", strconv.Itoa(m.MaintenanceHistoryDays))
	n.AddText("Color", m.Color)
	n.AddText("MasterKeyChanged", formatTime(m.KeyChanged, k4))
	n.AddText("MasterKeyChangeRec", strconv.FormatInt(m.KeyChangeRec, 10))
	n.AddText("MasterKeyChangeForce", strconv.FormatInt(m.KeyChangeForce, 10))

	mp := n.Add("MemoryProtection")
	mp.AddText("ProtectTitle", formatBool(m.MemoryProtection.Title))
	mp.AddText("ProtectUserName", formatBool(m.MemoryProtection.UserName))
	mp.AddText("ProtectPassword", formatBool(m.MemoryProtection.Password))
	mp.AddText("ProtectURL", formatBool(m.MemoryProtection.URL))
	mp.AddText("ProtectNotes", formatBool(m.MemoryProtection.Notes))

	if len(m.CustomIcons) > 0 {
		icons := n.Add("CustomIcons")
		ids := slices.SortedFunc(maps.Keys(m.CustomIcons), func(a, b uuid.UUID) int {
			return strings.Compare(a.String(), b.String())
		})
		for _, id := range ids {
			icon := icons.Add("Icon")
			icon.AddText("UUID", formatUUID(id))
			icon.AddText("Data", b64.EncodeToString(m.CustomIcons[id]))
		}
	}

	n.AddText("RecycleBinEnabled", formatBool(m.RecycleBinEnabled))
	n.AddText("RecycleBinUUID", formatUUID(m.RecycleBinUUID))
	n.AddText("RecycleBinChanged", formatTime(m.RecycleBinChanged, k4))
	n.AddText("EntryTemplatesGroup", formatUUID(m.EntryTemplatesGroup))
	n.AddText("EntryTemplatesGroupChanged", formatTime(m.EntryTemplatesGroupChanged, k4))
	if m.HistoryMaxItems != nil {
		n.AddText("HistoryMaxItems", strconv.FormatInt(*m.HistoryMaxItems, 10))
	}
	if m.HistoryMaxSize != nil {
		n.AddText("HistoryMaxSize", strconv.FormatInt(*m.HistoryMaxSize, 10))
	}
	n.AddText("LastSelectedGroup", formatUUID(m.LastSelectedGroup))
	n.AddText("LastTopVisibleGroup", formatUUID(m.LastTopVisibleGroup))

	if (!k4 || enc.opts.MetaBinaries) && len(poolKeys) > 0 {
		bins := n.Add("Binaries")
		for _, k := range poolKeys {
			enc.metaBinary(bins, enc.refs[k], m.Binaries[k])
		}
	}

	cd := n.Add("CustomData")
	for _, k := range slices.Sorted(maps.Keys(m.CustomData)) {
		it := cd.Add("Item")
		it.AddText("Key", k)
		it.AddText("Value", m.CustomData[k])
	}
	return n
}

func (enc *encoder) metaBinary(parent *xmltree.Node, id string, b *document.Binary) {
	n := parent.Add("Binary").SetAttr("ID", id)
	if b.Protected {
		enc.secrets[n] = b.Data
		return
	}
	data := b.Data.Binary()
	defer cryptox.Wipe(data)
	z, err := gzipBytes(data)
	if err != nil {
		n.Text = b64.EncodeToString(data)
		return
	}
	n.SetAttr("Compressed", "True")
	n.Text = b64.EncodeToString(z)
}

func (enc *encoder) times(parent *xmltree.Node, t document.Times) {
	k4 := enc.opts.Kdbx4
	n := parent.Add("Times")
	n.AddText("CreationTime", formatTime(t.CreationTime, k4))
	n.AddText("LastModificationTime", formatTime(t.LastModTime, k4))
	n.AddText("LastAccessTime", formatTime(t.LastAccessTime, k4))
	n.AddText("ExpiryTime", formatTime(t.ExpiryTime, k4))
	n.AddText("Expires", formatBool(t.Expires))
	n.AddText("UsageCount", strconv.FormatInt(t.UsageCount, 10))
	n.AddText("LocationChanged", formatTime(t.LocationChanged, k4))
}

func (enc *encoder) group(g *document.Group) (*xmltree.Node, error) {
	n := xmltree.New("Group")
	n.AddText("UUID", formatUUID(g.UUID))
	n.AddText("Name", g.Name)
	n.AddText("Notes", g.Notes)
	n.AddText("IconID", strconv.Itoa(g.Icon))
	if g.CustomIcon != uuid.Nil {
		n.AddText("CustomIconUUID", formatUUID(g.CustomIcon))
	}
	enc.times(n, g.Times)
	n.AddText("IsExpanded", formatBool(g.Expanded))
	n.AddText("DefaultAutoTypeSequence", g.DefaultAutoTypeSeq)
	n.AddText("EnableAutoType", formatTristate(g.EnableAutoType))
	n.AddText("EnableSearching", formatTristate(g.EnableSearching))
	n.AddText("LastTopVisibleEntry", formatUUID(g.LastTopVisibleEntry))
	for _, e := range g.Entries {
		en, err := enc.entry(e, true)
		if err != nil {
			return nil, err
		}
		n.Append(en)
	}
	for _, sub := range g.Groups {
		sn, err := enc.group(sub)
		if err != nil {
			return nil, err
		}
		n.Append(sn)
	}
	return n, nil
}

func (enc *encoder) entry(e *document.Entry, withHistory bool) (*xmltree.Node, error) {
	n := xmltree.New("Entry")
	n.AddText("UUID", formatUUID(e.UUID))
	n.AddText("IconID", strconv.Itoa(e.Icon))
	if e.CustomIcon != uuid.Nil {
		n.AddText("CustomIconUUID", formatUUID(e.CustomIcon))
	}
	n.AddText("ForegroundColor", e.FgColor)
	n.AddText("BackgroundColor", e.BgColor)
	n.AddText("OverrideURL", e.OverrideURL)
	n.AddText("Tags", strings.Join(e.Tags, ";"))
	enc.times(n, e.Times)
	for _, f := range e.Fields {
		s := n.Add("String")
		s.AddText("Key", f.Key)
		v := s.Add("Value")
		if f.Value.IsProtected() {
			enc.secrets[v] = f.Value.Secret()
		} else {
			v.Text = f.Value.Text()
		}
	}
	for _, b := range e.Binaries {
		ref, ok := enc.refs[b.Ref]
		if !ok {
			return nil, common.InvalidArg("document", fmt.Sprintf("entry %s: binary %q refers to missing pool item %q", e.UUID, b.Name, b.Ref))
		}
		bn := n.Add("Binary")
		bn.AddText("Key", b.Name)
		bn.Add("Value").SetAttr("Ref", ref)
	}
	at := n.Add("AutoType")
	at.AddText("Enabled", formatBool(e.AutoType.Enabled))
	at.AddText("DataTransferObfuscation", strconv.Itoa(e.AutoType.Obfuscation))
	at.AddText("DefaultSequence", e.AutoType.DefaultSequence)
	for _, it := range e.AutoType.Items {
		a := at.Add("Association")
		a.AddText("Window", it.Window)
		a.AddText("KeystrokeSequence", it.KeystrokeSequence)
	}
	if withHistory {
		h := n.Add("History")
		for _, he := range e.History {
			hn, err := enc.entry(he, false)
			if err != nil {
				return nil, err
			}
			h.Append(hn)
		}
	}
	return n, nil
}
