// Package document is the in-memory model of a vault: metadata, the group
// forest with entries and their history, and the deleted-objects ledger.
// Cross references (recycle bin, icons, binaries) are UUIDs or pool keys
// resolved on demand; no node points to its parent.
//
// A Document is not safe for concurrent use.
package document

import (
	"slices"
	"time"

	"github.com/dmitrijs2005/gokdbx/internal/protected"
	"github.com/google/uuid"
)

// Well-known field keys.
const (
	FieldTitle    = "Title"
	FieldUserName = "UserName"
	FieldPassword = "Password"
	FieldURL      = "URL"
	FieldNotes    = "Notes"
)

// Standard icon ids used by new groups.
const (
	IconKey     = 0
	IconFolder  = 48
	IconTrash   = 43
	IconDefault = IconKey
)

// Times is the timestamp block shared by groups and entries. All times are
// UTC with second precision.
type Times struct {
	CreationTime    time.Time
	LastModTime     time.Time
	LastAccessTime  time.Time
	ExpiryTime      time.Time
	LocationChanged time.Time
	Expires         bool
	UsageCount      int64
}

// NewTimes returns Times with every stamp set to now.
func NewTimes(now time.Time) Times {
	return Times{
		CreationTime:    now,
		LastModTime:     now,
		LastAccessTime:  now,
		ExpiryTime:      now,
		LocationChanged: now,
	}
}

// Touch records a use of the node: the usage counter always grows, modify
// moves LastModTime and access moves LastAccessTime.
func (t *Times) Touch(now time.Time, modify, access bool) {
	t.UsageCount++
	if modify {
		t.LastModTime = now
	}
	if access {
		t.LastAccessTime = now
	}
}

// BinaryRef attaches a pool binary to an entry under a file name.
type BinaryRef struct {
	Name string
	Ref  string // key into Meta.Binaries
}

// AutoTypeItem overrides the keystroke sequence for matching windows.
type AutoTypeItem struct {
	Window            string
	KeystrokeSequence string
}

type AutoType struct {
	Enabled         bool
	Obfuscation     int
	DefaultSequence string
	Items           []AutoTypeItem
}

// Entry is a single record. History snapshots are Entries whose own
// History is always empty.
type Entry struct {
	UUID       uuid.UUID
	Icon       int
	CustomIcon uuid.UUID
	// FgColor and BgColor are "#RRGGBB" or empty.
	FgColor     string
	BgColor     string
	OverrideURL string
	Tags        []string
	Times       Times
	Fields      Fields
	Binaries    []BinaryRef
	AutoType    AutoType
	History     []*Entry
}

// NodeUUID implements Node.
func (e *Entry) NodeUUID() uuid.UUID { return e.UUID }
func (e *Entry) node()               {}

// Binary returns the reference attached as name.
func (e *Entry) Binary(name string) (BinaryRef, bool) {
	for _, b := range e.Binaries {
		if b.Name == name {
			return b, true
		}
	}
	return BinaryRef{}, false
}

// SetBinary attaches ref as name, replacing an attachment of the same name.
func (e *Entry) SetBinary(name, ref string) {
	for i := range e.Binaries {
		if e.Binaries[i].Name == name {
			e.Binaries[i].Ref = ref
			return
		}
	}
	e.Binaries = append(e.Binaries, BinaryRef{Name: name, Ref: ref})
}

// snapshot deep-copies the entry without its history.
func (e *Entry) snapshot() *Entry {
	c := *e
	c.Tags = slices.Clone(e.Tags)
	c.Fields = e.Fields.Clone()
	c.Binaries = slices.Clone(e.Binaries)
	c.AutoType.Items = slices.Clone(e.AutoType.Items)
	c.History = nil
	return &c
}

// Clone deep-copies the entry including its history.
func (e *Entry) Clone() *Entry {
	c := e.snapshot()
	for _, h := range e.History {
		c.History = append(c.History, h.snapshot())
	}
	return c
}

// PushHistory appends a snapshot of the current state to History.
func (e *Entry) PushHistory() {
	e.History = append(e.History, e.snapshot())
}

// Size approximates the serialized size of the entry, used by the history
// size cap: field keys and values, tags, colors, url override and the
// auto-type strings. Attachment contents live in the shared pool and count
// once per reference name only.
func (e *Entry) Size() int64 {
	var n int
	for _, f := range e.Fields {
		n += len(f.Key) + f.Value.Len()
	}
	for _, t := range e.Tags {
		n += len(t)
	}
	for _, b := range e.Binaries {
		n += len(b.Name) + len(b.Ref)
	}
	n += len(e.FgColor) + len(e.BgColor) + len(e.OverrideURL) + len(e.AutoType.DefaultSequence)
	for _, it := range e.AutoType.Items {
		n += len(it.Window) + len(it.KeystrokeSequence)
	}
	return int64(n)
}

// Group is a folder of entries and sub-groups. Child order is meaningful.
type Group struct {
	UUID       uuid.UUID
	Name       string
	Notes      string
	Icon       int
	CustomIcon uuid.UUID
	Times      Times
	Expanded   bool
	// DefaultAutoTypeSeq is inherited by entries without their own sequence.
	DefaultAutoTypeSeq string
	// EnableAutoType and EnableSearching are nil to inherit from the parent.
	EnableAutoType      *bool
	EnableSearching     *bool
	LastTopVisibleEntry uuid.UUID
	Groups              []*Group
	Entries             []*Entry
}

// NodeUUID implements Node.
func (g *Group) NodeUUID() uuid.UUID { return g.UUID }
func (g *Group) node()               {}

// Walk visits g and all descendant groups depth-first, parents first. It
// stops when fn returns false.
func (g *Group) Walk(fn func(*Group) bool) bool {
	if !fn(g) {
		return false
	}
	for _, c := range g.Groups {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Contains reports whether n is g or lies below it.
func (g *Group) Contains(n Node) bool {
	found := false
	g.Walk(func(x *Group) bool {
		if Node(x) == n {
			found = true
			return false
		}
		for _, e := range x.Entries {
			if Node(e) == n {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// Node is a *Group or an *Entry.
type Node interface {
	NodeUUID() uuid.UUID
	node()
}

// MemoryProtection lists which standard fields new entries protect.
type MemoryProtection struct {
	Title    bool
	UserName bool
	Password bool
	URL      bool
	Notes    bool
}

// Protects reports whether the standard field key is protected by default.
func (m MemoryProtection) Protects(key string) bool {
	switch key {
	case FieldTitle:
		return m.Title
	case FieldUserName:
		return m.UserName
	case FieldPassword:
		return m.Password
	case FieldURL:
		return m.URL
	case FieldNotes:
		return m.Notes
	}
	return false
}

// Binary is a pool attachment. Protected is the flag stored in the file;
// the content is kept obfuscated in memory either way.
type Binary struct {
	Protected bool
	Data      *protected.Value
}

func (b *Binary) Equal(o *Binary) bool {
	if b == nil || o == nil {
		return b == o
	}
	return b.Protected == o.Protected && b.Data.Equal(o.Data)
}

// Meta is the document-wide metadata block.
type Meta struct {
	Generator string
	// HeaderHash is the KDBX3 header checksum read from the body; it is
	// recomputed on every save.
	HeaderHash             []byte
	Name                   string
	NameChanged            time.Time
	Desc                   string
	DescChanged            time.Time
	DefaultUser            string
	DefaultUserChanged     time.Time
	MaintenanceHistoryDays int
	Color                  string
	KeyChanged             time.Time
	// KeyChangeRec and KeyChangeForce are days, -1 for never.
	KeyChangeRec               int64
	KeyChangeForce             int64
	RecycleBinEnabled          bool
	RecycleBinUUID             uuid.UUID
	RecycleBinChanged          time.Time
	EntryTemplatesGroup        uuid.UUID
	EntryTemplatesGroupChanged time.Time
	// HistoryMaxItems and HistoryMaxSize are nil or negative for unlimited.
	HistoryMaxItems     *int64
	HistoryMaxSize      *int64
	LastSelectedGroup   uuid.UUID
	LastTopVisibleGroup uuid.UUID
	MemoryProtection    MemoryProtection
	CustomIcons         map[uuid.UUID][]byte
	Binaries            map[string]*Binary
	CustomData          map[string]string
}

// Default history caps of new documents.
const (
	DefaultHistoryMaxItems = 10
	DefaultHistoryMaxSize  = 6 * 1024 * 1024
)

func newMeta(now time.Time) *Meta {
	items, size := int64(DefaultHistoryMaxItems), int64(DefaultHistoryMaxSize)
	return &Meta{
		NameChanged:                now,
		DescChanged:                now,
		DefaultUserChanged:         now,
		MaintenanceHistoryDays:     365,
		KeyChanged:                 now,
		KeyChangeRec:               -1,
		KeyChangeForce:             -1,
		RecycleBinEnabled:          true,
		RecycleBinChanged:          now,
		EntryTemplatesGroupChanged: now,
		HistoryMaxItems:            &items,
		HistoryMaxSize:             &size,
		MemoryProtection:           MemoryProtection{Password: true},
		CustomIcons:                map[uuid.UUID][]byte{},
		Binaries:                   map[string]*Binary{},
		CustomData:                 map[string]string{},
	}
}

// DeletedObject is a ledger record of a hard-deleted node.
type DeletedObject struct {
	UUID         uuid.UUID
	DeletionTime time.Time
}
