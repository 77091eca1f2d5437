package retention

import (
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/dmitrijs2005/gokdbx/internal/document"
	"github.com/dmitrijs2005/gokdbx/internal/protected"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(t *testing.T) (*document.Document, *document.Group, *document.Entry) {
	t.Helper()
	env := document.Env{
		Now:    func() time.Time { return time.Date(2015, 8, 16, 14, 45, 23, 0, time.UTC) },
		Random: rand.New(rand.NewSource(3)),
	}
	d, err := document.Create("example", env)
	require.NoError(t, err)
	sub, err := d.CreateGroup(d.DefaultGroup(), "subgroup")
	require.NoError(t, err)
	e, err := d.CreateEntry(sub)
	require.NoError(t, err)
	return d, sub, e
}

func push(e *document.Entry, from, to int) {
	for i := from; i < to; i++ {
		e.Fields.Set(document.FieldTitle, document.Plain(strconv.Itoa(i)))
		e.PushHistory()
	}
}

func oldestTitle(e *document.Entry) string {
	return e.History[0].Fields.Text(document.FieldTitle)
}

func TestApply_HistoryRules(t *testing.T) {
	d, _, e := newEntry(t)
	hist := Options{HistoryRules: true}

	push(e, 0, 3)
	Apply(d, hist)
	assert.Len(t, e.History, 3)
	assert.Equal(t, "0", oldestTitle(e))

	push(e, 3, 10)
	Apply(d, hist)
	assert.Len(t, e.History, 10)
	assert.Equal(t, "0", oldestTitle(e))

	push(e, 10, 11)
	require.Len(t, e.History, 11)
	r := Apply(d, hist)
	assert.Equal(t, 1, r.History)
	assert.Len(t, e.History, 10)
	assert.Equal(t, "1", oldestTitle(e))

	push(e, 11, 20)
	Apply(d, hist)
	assert.Len(t, e.History, 10)
	assert.Equal(t, "10", oldestTitle(e))

	push(e, 20, 30)
	unlimited := int64(-1)
	d.Meta.HistoryMaxItems = &unlimited
	Apply(d, hist)
	assert.Len(t, e.History, 20)
	assert.Equal(t, "10", oldestTitle(e))

	assert.True(t, Apply(d, Options{}).Empty())
	assert.Len(t, e.History, 20)

	d.Meta.HistoryMaxItems = nil
	Apply(d, hist)
	assert.Len(t, e.History, 20)
	assert.Equal(t, "10", oldestTitle(e))
}

func TestApply_HistoryZeroKeepsNone(t *testing.T) {
	d, _, e := newEntry(t)
	push(e, 0, 4)
	zero := int64(0)
	d.Meta.HistoryMaxItems = &zero
	r := Apply(d, Options{HistoryRules: true})
	assert.Equal(t, 4, r.History)
	assert.Empty(t, e.History)
}

func TestApply_HistorySizeCap(t *testing.T) {
	d, _, e := newEntry(t)
	d.Meta.HistoryMaxItems = nil
	push(e, 0, 5)
	each := e.History[0].Size()
	capBytes := each*2 + 1
	d.Meta.HistoryMaxSize = &capBytes

	Apply(d, Options{HistoryRules: true})
	require.Len(t, e.History, 2)
	assert.Equal(t, "3", oldestTitle(e))
}

func TestApply_Idempotent(t *testing.T) {
	d, _, e := newEntry(t)
	push(e, 0, 15)
	e.SetBinary("a", d.AddBinary(protected.FromString("x"), false))
	d.AddBinary(protected.FromString("orphan"), false)
	require.NoError(t, d.SetCustomIcon(uuid.New(), []byte("icon")))

	Apply(d, All)
	snapshot := cloneForCompare(d)
	r := Apply(d, All)
	assert.True(t, r.Empty())
	opts := []cmp.Option{cmpopts.IgnoreUnexported(document.Document{}), cmpopts.EquateEmpty()}
	if diff := cmp.Diff(snapshot, d, opts...); diff != "" {
		t.Fatalf("second cleanup changed the document (-first +second):\n%s", diff)
	}
}

func cloneForCompare(d *document.Document) *document.Document {
	m := *d.Meta
	m.CustomIcons = map[uuid.UUID][]byte{}
	for k, v := range d.Meta.CustomIcons {
		m.CustomIcons[k] = v
	}
	m.Binaries = map[string]*document.Binary{}
	for k, v := range d.Meta.Binaries {
		m.Binaries[k] = v
	}
	c := &document.Document{Meta: &m, DeletedObjects: d.DeletedObjects}
	for _, g := range d.Groups {
		c.Groups = append(c.Groups, cloneGroup(g))
	}
	return c
}

func cloneGroup(g *document.Group) *document.Group {
	c := *g
	c.Groups, c.Entries = nil, nil
	for _, sub := range g.Groups {
		c.Groups = append(c.Groups, cloneGroup(sub))
	}
	for _, e := range g.Entries {
		c.Entries = append(c.Entries, e.Clone())
	}
	return &c
}

func TestApply_CustomIcons(t *testing.T) {
	d, sub, e := newEntry(t)
	i1, i2, i3 := uuid.New(), uuid.New(), uuid.New()
	for i := 0; i < 3; i++ {
		e.Fields.Set(document.FieldTitle, document.Plain(strconv.Itoa(i)))
		e.CustomIcon = i1
		e.PushHistory()
	}
	e.CustomIcon = i2
	sub.CustomIcon = i3
	keep := map[uuid.UUID][]byte{i1: []byte("icon1"), i2: []byte("icon2"), i3: []byte("icon3")}
	for id, data := range keep {
		require.NoError(t, d.SetCustomIcon(id, data))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, d.SetCustomIcon(uuid.New(), []byte("rem")))
	}

	r := Apply(d, Options{CustomIcons: true})
	assert.Equal(t, 3, r.CustomIcons)
	assert.Equal(t, keep, d.Meta.CustomIcons)
}

func TestApply_Binaries(t *testing.T) {
	d, _, e := newEntry(t)
	d.Meta.Binaries["b1"] = &document.Binary{Data: protected.FromBinary([]byte{1})}
	d.Meta.Binaries["b2"] = &document.Binary{Data: protected.FromBinary([]byte{2})}
	d.Meta.Binaries["b3"] = &document.Binary{Data: protected.FromBinary([]byte{3})}
	for i := 0; i < 3; i++ {
		e.Fields.Set(document.FieldTitle, document.Plain(strconv.Itoa(i)))
		e.SetBinary("bin", "b1")
		e.PushHistory()
	}
	e.SetBinary("bin", "b2")

	r := Apply(d, Options{Binaries: true})
	assert.Equal(t, 1, r.Binaries)
	assert.Len(t, d.Meta.Binaries, 2)
	assert.Contains(t, d.Meta.Binaries, "b1")
	assert.Contains(t, d.Meta.Binaries, "b2")
}

func TestApply_DroppedHistoryReleasesResources(t *testing.T) {
	d, _, e := newEntry(t)
	e.SetBinary("bin", d.AddBinary(protected.FromString("old"), false))
	e.PushHistory()
	e.SetBinary("bin", d.AddBinary(protected.FromString("new"), false))
	zero := int64(0)
	d.Meta.HistoryMaxItems = &zero

	r := Apply(d, All)
	assert.Equal(t, Report{History: 1, Binaries: 1}, r)
	assert.Len(t, d.Meta.Binaries, 1)
	assert.Contains(t, d.Meta.Binaries, "1")
}

func TestApply_NilDocument(t *testing.T) {
	assert.True(t, Apply(nil, All).Empty())
}
