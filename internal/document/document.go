package document

import (
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gokdbx/internal/common"
	"github.com/dmitrijs2005/gokdbx/internal/cryptox"
	"github.com/dmitrijs2005/gokdbx/internal/protected"
	"github.com/google/uuid"
)

// Env carries the capabilities tree operations need: a clock for
// timestamps and a random source for UUIDs. Zero fields fall back to
// time.Now and cryptox.Random.
type Env struct {
	Now    func() time.Time
	Random io.Reader
}

func (e Env) now() time.Time {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return now().UTC().Truncate(time.Second)
}

func (e Env) newUUID() (uuid.UUID, error) {
	r := e.Random
	if r == nil {
		r = cryptox.Random
	}
	id, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return uuid.Nil, common.WrapError(common.CodeInvalidArg, err, "random source")
	}
	return id, nil
}

// Document is the decoded vault.
type Document struct {
	Meta           *Meta
	Groups         []*Group
	DeletedObjects []DeletedObject

	env Env
}

// New returns an empty document with default metadata and no groups.
func New(env Env) *Document {
	return &Document{Meta: newMeta(env.now()), env: env}
}

// Create returns a minimal document: default metadata named name and one
// empty root group of the same name. The recycle bin is enabled and is
// created the first time it is needed.
func Create(name string, env Env) (*Document, error) {
	d := New(env)
	d.Meta.Name = name
	root, err := d.CreateDefaultGroup()
	if err != nil {
		return nil, err
	}
	d.Meta.LastSelectedGroup = root.UUID
	d.Meta.LastTopVisibleGroup = root.UUID
	return d, nil
}

// SetEnv replaces the capabilities of a decoded document.
func (d *Document) SetEnv(env Env) { d.env = env }

// Now returns the document clock's current time.
func (d *Document) Now() time.Time { return d.env.now() }

// DefaultGroup is the first root group, or nil for an empty forest.
func (d *Document) DefaultGroup() *Group {
	if len(d.Groups) == 0 {
		return nil
	}
	return d.Groups[0]
}

// CreateDefaultGroup adds the root group if the forest is empty and returns
// the default group.
func (d *Document) CreateDefaultGroup() (*Group, error) {
	if g := d.DefaultGroup(); g != nil {
		return g, nil
	}
	g, err := d.newGroup(d.Meta.Name)
	if err != nil {
		return nil, err
	}
	g.Icon = IconFolder
	g.Expanded = true
	d.Groups = append(d.Groups, g)
	return g, nil
}

func (d *Document) newGroup(name string) (*Group, error) {
	id, err := d.env.newUUID()
	if err != nil {
		return nil, err
	}
	return &Group{UUID: id, Name: name, Icon: IconFolder, Times: NewTimes(d.env.now())}, nil
}

// RecycleBin returns the configured recycle bin group if it resolves.
func (d *Document) RecycleBin() *Group {
	return d.GetGroup(d.Meta.RecycleBinUUID)
}

// CreateRecycleBin enables the recycle bin and creates its group at the
// front of the default group unless it already exists.
func (d *Document) CreateRecycleBin() (*Group, error) {
	d.Meta.RecycleBinEnabled = true
	if bin := d.RecycleBin(); bin != nil {
		return bin, nil
	}
	root, err := d.CreateDefaultGroup()
	if err != nil {
		return nil, err
	}
	bin, err := d.newGroup("Recycle Bin")
	if err != nil {
		return nil, err
	}
	bin.Icon = IconTrash
	bin.EnableAutoType, bin.EnableSearching = new(bool), new(bool)
	root.Groups = slices.Insert(root.Groups, 0, bin)
	d.Meta.RecycleBinUUID = bin.UUID
	d.Meta.RecycleBinChanged = bin.Times.CreationTime
	return bin, nil
}

// CreateGroup appends a new group to parent.
func (d *Document) CreateGroup(parent *Group, name string) (*Group, error) {
	if !d.contains(parent) {
		return nil, common.InvalidArg("parent", "group is not part of the document")
	}
	g, err := d.newGroup(name)
	if err != nil {
		return nil, err
	}
	parent.Groups = append(parent.Groups, g)
	return g, nil
}

// CreateEntry appends a new entry to parent with the standard fields, each
// protected according to Meta.MemoryProtection.
func (d *Document) CreateEntry(parent *Group) (*Entry, error) {
	if !d.contains(parent) {
		return nil, common.InvalidArg("parent", "group is not part of the document")
	}
	id, err := d.env.newUUID()
	if err != nil {
		return nil, err
	}
	e := &Entry{UUID: id, Icon: IconDefault, Times: NewTimes(d.env.now())}
	for _, key := range []string{FieldTitle, FieldUserName, FieldPassword, FieldURL, FieldNotes} {
		v := Plain("")
		if d.Meta.MemoryProtection.Protects(key) {
			v = ProtectString("")
		}
		e.Fields.Set(key, v)
	}
	parent.Entries = append(parent.Entries, e)
	return e, nil
}

// GetGroup finds a live group by UUID. The empty UUID never resolves.
func (d *Document) GetGroup(id uuid.UUID) *Group {
	if id == uuid.Nil {
		return nil
	}
	var found *Group
	d.walkGroups(func(g *Group) bool {
		if g.UUID == id {
			found = g
			return false
		}
		return true
	})
	return found
}

// GetEntry finds a live entry by UUID. History snapshots are not searched.
func (d *Document) GetEntry(id uuid.UUID) *Entry {
	if id == uuid.Nil {
		return nil
	}
	var found *Entry
	d.walkGroups(func(g *Group) bool {
		for _, e := range g.Entries {
			if e.UUID == id {
				found = e
				return false
			}
		}
		return true
	})
	return found
}

// WalkGroups visits every live group depth-first in document order.
func (d *Document) WalkGroups(fn func(*Group)) {
	d.walkGroups(func(g *Group) bool { fn(g); return true })
}

// WalkEntries visits every live entry in document order.
func (d *Document) WalkEntries(fn func(*Entry)) {
	d.WalkGroups(func(g *Group) {
		for _, e := range g.Entries {
			fn(e)
		}
	})
}

func (d *Document) walkGroups(fn func(*Group) bool) {
	for _, g := range d.Groups {
		if !g.Walk(fn) {
			return
		}
	}
}

func (d *Document) contains(n Node) bool {
	if n == nil {
		return false
	}
	switch v := n.(type) {
	case *Group:
		if v == nil {
			return false
		}
	case *Entry:
		if v == nil {
			return false
		}
	}
	for _, g := range d.Groups {
		if g.Contains(n) {
			return true
		}
	}
	return false
}

// parentOf returns the group holding n, or nil when n is a root group or
// not in the document.
func (d *Document) parentOf(n Node) *Group {
	var parent *Group
	d.walkGroups(func(g *Group) bool {
		for _, c := range g.Groups {
			if Node(c) == n {
				parent = g
				return false
			}
		}
		for _, e := range g.Entries {
			if Node(e) == n {
				parent = g
				return false
			}
		}
		return true
	})
	return parent
}

func (d *Document) detach(n Node) {
	if parent := d.parentOf(n); parent != nil {
		switch v := n.(type) {
		case *Group:
			parent.Groups = slices.DeleteFunc(parent.Groups, func(g *Group) bool { return g == v })
		case *Entry:
			parent.Entries = slices.DeleteFunc(parent.Entries, func(e *Entry) bool { return e == v })
		}
		return
	}
	if g, ok := n.(*Group); ok {
		d.Groups = slices.DeleteFunc(d.Groups, func(x *Group) bool { return x == g })
	}
}

// Move reparents n under to. UUIDs and history are unchanged; the location
// stamp is updated. Moving a group into itself or a descendant fails.
func (d *Document) Move(n Node, to *Group) error {
	if !d.contains(n) {
		return common.InvalidArg("node", "not part of the document")
	}
	if !d.contains(to) {
		return common.InvalidArg("newParent", "group is not part of the document")
	}
	g, isGroup := n.(*Group)
	if isGroup && g.Contains(to) {
		return common.InvalidArg("newParent", "cannot move a group into itself or its descendant")
	}
	d.detach(n)
	now := d.env.now()
	if isGroup {
		to.Groups = append(to.Groups, g)
		g.Times.LocationChanged = now
		return nil
	}
	e := n.(*Entry)
	to.Entries = append(to.Entries, e)
	e.Times.LocationChanged = now
	return nil
}

// Remove deletes n. With the recycle bin enabled, n is moved into it (the
// bin is created when it does not resolve). Nodes already in the bin, the
// bin itself, any group holding the bin, and all nodes when the bin is
// disabled are detached and recorded once in DeletedObjects.
func (d *Document) Remove(n Node) error {
	if !d.contains(n) {
		return common.InvalidArg("node", "not part of the document")
	}
	if d.Meta.RecycleBinEnabled {
		bin := d.RecycleBin()
		holdsBin := false
		if g, ok := n.(*Group); ok && bin != nil {
			holdsBin = g.Contains(bin)
		}
		if bin == nil || (!bin.Contains(n) && !holdsBin) {
			if bin == nil {
				var err error
				if bin, err = d.CreateRecycleBin(); err != nil {
					return err
				}
				if g, ok := n.(*Group); ok && g.Contains(bin) {
					return d.hardDelete(n)
				}
			}
			return d.Move(n, bin)
		}
	}
	return d.hardDelete(n)
}

func (d *Document) hardDelete(n Node) error {
	d.detach(n)
	d.DeletedObjects = append(d.DeletedObjects, DeletedObject{UUID: n.NodeUUID(), DeletionTime: d.env.now()})
	d.dropDanglingRefs()
	return nil
}

// dropDanglingRefs resets references to groups and entries that left the
// live tree.
func (d *Document) dropDanglingRefs() {
	m := d.Meta
	for _, ref := range []*uuid.UUID{&m.RecycleBinUUID, &m.EntryTemplatesGroup, &m.LastSelectedGroup, &m.LastTopVisibleGroup} {
		if *ref != uuid.Nil && d.GetGroup(*ref) == nil {
			*ref = uuid.Nil
		}
	}
	d.WalkGroups(func(g *Group) {
		if g.LastTopVisibleEntry != uuid.Nil && d.GetEntry(g.LastTopVisibleEntry) == nil {
			g.LastTopVisibleEntry = uuid.Nil
		}
	})
}

// AddBinary stores data in the binary pool under the next free numeric key
// and returns the key.
func (d *Document) AddBinary(data *protected.Value, protect bool) string {
	for i := 0; ; i++ {
		key := strconv.Itoa(i)
		if _, ok := d.Meta.Binaries[key]; !ok {
			if d.Meta.Binaries == nil {
				d.Meta.Binaries = map[string]*Binary{}
			}
			d.Meta.Binaries[key] = &Binary{Protected: protect, Data: data}
			return key
		}
	}
}

// SetCustomIcon stores image data under id.
func (d *Document) SetCustomIcon(id uuid.UUID, data []byte) error {
	if id == uuid.Nil {
		return common.InvalidArg("uuid", "empty")
	}
	if d.Meta.CustomIcons == nil {
		d.Meta.CustomIcons = map[uuid.UUID][]byte{}
	}
	d.Meta.CustomIcons[id] = slices.Clone(data)
	return nil
}

// NewUUID returns a fresh random UUID from the document's random source.
func (d *Document) NewUUID() (uuid.UUID, error) { return d.env.newUUID() }
