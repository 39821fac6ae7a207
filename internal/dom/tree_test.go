package dom

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const composerHTML = `<html><body>
<div id="app" style="opacity:0.5">
  <form id="composer">
    <textarea id="prompt" placeholder="Message" data-rect="10,700,600,40">draft</textarea>
    <button id="send" type="submit" data-rect="620,700,40,40">Send</button>
  </form>
  <div id="hidden-wrap" style="display:none"><input id="buried" data-rect="0,0,10,10"></div>
  <div id="editor" contenteditable="true" data-rect="10,100,500,200"><p>hello <b>there</b></p></div>
  <div id="draft" contenteditable="true"><div data-contents="true"></div></div>
  <input id="check" type="checkbox">
</div>
</body></html>`

func parseComposer(t *testing.T) *Tree {
	t.Helper()
	tree, err := ParseHTML(strings.NewReader(composerHTML), ParseOptions{Host: "Chat.Example.com"})
	require.NoError(t, err)
	return tree
}

func byHTMLID(t *testing.T, doc Document, id string) Element {
	t.Helper()
	found, err := doc.Query("//*[@id='" + id + "']")
	require.NoError(t, err)
	require.Len(t, found, 1, id)
	return found[0]
}

func TestParseHTMLReadsGeometryAndStyle(t *testing.T) {
	tree := parseComposer(t)
	require.Equal(t, "chat.example.com", tree.Host())
	require.Equal(t, Rect{Width: 1280, Height: 800}, tree.Viewport())

	prompt := byHTMLID(t, tree, "prompt")
	rect, err := prompt.Rect()
	require.NoError(t, err)
	require.Equal(t, Rect{X: 10, Y: 700, Width: 600, Height: 40}, rect)

	style, err := prompt.Style()
	require.NoError(t, err)
	require.InDelta(t, 0.5, style.Opacity, 0.0001)

	buried, err := byHTMLID(t, tree, "buried").Style()
	require.NoError(t, err)
	require.Equal(t, "none", buried.Display)
}

func TestEditableClassification(t *testing.T) {
	tree := parseComposer(t)
	require.Equal(t, NativeValue, byHTMLID(t, tree, "prompt").Editable())
	require.Equal(t, ContentEditable, byHTMLID(t, tree, "editor").Editable())
	require.Equal(t, RichBlock, byHTMLID(t, tree, "draft").Editable())
	require.Equal(t, NotEditable, byHTMLID(t, tree, "check").Editable())
	require.Equal(t, NotEditable, byHTMLID(t, tree, "send").Editable())
}

func TestQueryWithinAndParent(t *testing.T) {
	tree := parseComposer(t)
	form := byHTMLID(t, tree, "composer")

	buttons, err := tree.QueryWithin(form, ".//button")
	require.NoError(t, err)
	require.Len(t, buttons, 1)
	require.Equal(t, "send", buttons[0].Attr("id"))

	parent := buttons[0].Parent()
	require.NotNil(t, parent)
	require.Equal(t, "composer", parent.Attr("id"))

	_, err = tree.Query("//*[")
	require.Error(t, err)
}

func TestRemoveDetachesSubtree(t *testing.T) {
	tree := parseComposer(t)
	form := byHTMLID(t, tree, "composer")
	prompt := byHTMLID(t, tree, "prompt")

	tree.Remove(form.ID())

	_, err := prompt.Rect()
	require.ErrorIs(t, err, ErrDetached)
	_, ok := tree.Lookup(prompt.ID())
	require.False(t, ok)
	require.False(t, tree.Alive(context.Background(), prompt.ID()))

	found, err := tree.Query("//textarea")
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestBuildKeepsIDsAndRendersGeometry(t *testing.T) {
	tree := Build(ParseOptions{Host: "x.com", Viewport: Rect{Width: 800, Height: 600}}, []NodeData{
		{ID: 7, Parent: 3, Tag: "BUTTON", Attrs: map[string]string{"aria-label": "Post"}, Text: "Post", Rect: Rect{X: 5, Y: 6, Width: 7, Height: 8}},
		{ID: 3, Tag: "div", Attrs: map[string]string{"role": "group"}},
		{ID: 4, Parent: 3, Tag: "textarea", Value: "typed", Style: Style{Display: "block", Visibility: "hidden", Opacity: 1}},
	})

	button, ok := tree.Lookup(7)
	require.True(t, ok)
	require.Equal(t, "button", button.Tag())
	require.Equal(t, "Post", button.Text())
	require.Equal(t, 3, button.Parent().ID())

	style, err := button.Style()
	require.NoError(t, err)
	require.Equal(t, DefaultStyle(), style)

	textarea, ok := tree.Lookup(4)
	require.True(t, ok)
	style, err = textarea.Style()
	require.NoError(t, err)
	require.Equal(t, "hidden", style.Visibility)

	value, err := tree.Value(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, "typed", value)

	var out bytes.Buffer
	require.NoError(t, tree.Render(&out))
	require.Contains(t, out.String(), `data-rect="5,6,7,8"`)
	require.Contains(t, out.String(), `aria-label="Post"`)
}

func TestRectIntersect(t *testing.T) {
	a := Rect{X: 0, Y: 0, Width: 100, Height: 100}
	require.Equal(t, Rect{X: 50, Y: 50, Width: 50, Height: 50}, a.Intersect(Rect{X: 50, Y: 50, Width: 100, Height: 100}))
	require.True(t, a.Intersect(Rect{X: 200, Y: 0, Width: 10, Height: 10}).Empty())
}
