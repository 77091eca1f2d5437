package xmltree

import (
	"testing"

	"github.com/dmitrijs2005/gokdbx/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Malformed(t *testing.T) {
	for _, in := range []string{"", "not-xml", "<a><b></a>", "<a/><b/>", "<a>"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse([]byte(in))
			require.ErrorIs(t, err, common.ErrFileCorrupt)
			assert.Contains(t, err.Error(), "bad xml")
		})
	}
}

func TestParse_KeepsOrderAttrsAndText(t *testing.T) {
	root, err := Parse([]byte(`<?xml version="1.0" encoding="utf-8"?>
<!-- comment -->
<Root a="1">
	<String><Key>Title</Key><Value>hi &amp; bye</Value></String>
	<String><Key>Password</Key><Value Protected="True">c2VjcmV0</Value></String>
	<Empty/>
</Root>`))
	require.NoError(t, err)

	assert.Equal(t, "Root", root.Name)
	v, ok := root.Attr("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	strs := root.All("String")
	require.Len(t, strs, 2)
	key, _ := strs[0].ChildText("Key")
	assert.Equal(t, "Title", key)
	val, _ := strs[0].ChildText("Value")
	assert.Equal(t, "hi & bye", val)
	p, ok := strs[1].Child("Value").Attr("Protected")
	assert.True(t, ok)
	assert.Equal(t, "True", p)
	assert.Equal(t, "", root.Child("Empty").Text)
	assert.Nil(t, root.Child("Missing"))
	assert.Nil(t, root.Child("Missing").Child("Deeper"))
}

func TestWalk_DocumentOrder(t *testing.T) {
	root, err := Parse([]byte(`<a><b><c/></b><d/></a>`))
	require.NoError(t, err)
	var names []string
	require.NoError(t, root.Walk(func(n *Node) error {
		names = append(names, n.Name)
		return nil
	}))
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)
}

func TestMarshal_RoundTrip(t *testing.T) {
	root := New("KeePassFile")
	meta := root.Add("Meta")
	meta.AddText("Generator", "GoKdbx")
	meta.AddText("Notes", "line1\nline2 <tag>")
	root.Add("Root").SetAttr("x", `"q"`)

	out, err := root.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(out), "<Generator>GoKdbx</Generator>")

	back, err := Parse(out)
	require.NoError(t, err)
	notes, _ := back.Child("Meta").ChildText("Notes")
	assert.Equal(t, "line1\nline2 <tag>", notes)
	x, _ := back.Child("Root").Attr("x")
	assert.Equal(t, `"q"`, x)
}

func TestSetAttrAndRemoveAttr(t *testing.T) {
	n := New("Value")
	n.SetAttr("Protected", "True").SetAttr("Protected", "False")
	require.Len(t, n.Attrs, 1)
	v, _ := n.Attr("Protected")
	assert.Equal(t, "False", v)
	n.RemoveAttr("Protected")
	_, ok := n.Attr("Protected")
	assert.False(t, ok)
}

func TestMarshal_DropsInvalidChars(t *testing.T) {
	root := New("Entry")
	root.AddText("Title", "a\x01b\x1fc\td\uFFFEe")
	root.SetAttr("x", "1\x002")

	out, err := root.Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "\uFFFD")

	back, err := Parse(out)
	require.NoError(t, err)
	title, _ := back.ChildText("Title")
	assert.Equal(t, "abc\tde", title)
	x, _ := back.Attr("x")
	assert.Equal(t, "12", x)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"tab\tnl\ncr\r", "tab\tnl\ncr\r"},
		{"\x00\x08\x0b\x0c", ""},
		{"emoji \U0001F600", "emoji \U0001F600"},
		{"bad \xff utf8", "bad \uFFFD utf8"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in), "%q", tt.in)
	}
}
