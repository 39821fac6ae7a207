package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rbright/voxpage/internal/dom"
	"github.com/stretchr/testify/require"
)

const surfaces = `<body>
<input id="single" data-rect="0,0,200,30">
<textarea id="multi" data-rect="0,40,200,80">old</textarea>
<div id="editable" contenteditable="true" data-rect="0,140,200,80"><p>old</p></div>
<div id="rich" contenteditable="true" data-rect="0,240,200,80"><div data-contents="true"></div></div>
</body>`

func setup(t *testing.T) (*dom.Tree, *Deliverer) {
	t.Helper()
	tree, err := dom.ParseHTML(strings.NewReader(surfaces), dom.ParseOptions{})
	require.NoError(t, err)
	d := New(tree, nil)
	d.newKey = func() string { return "abcde" }
	return tree, d
}

func target(t *testing.T, tree *dom.Tree, id string) Target {
	t.Helper()
	found, err := tree.Query("//*[@id='" + id + "']")
	require.NoError(t, err)
	require.Len(t, found, 1)
	return Target{ID: found[0].ID(), Protocol: ProtocolFor(found[0].Editable())}
}

func TestProtocolFor(t *testing.T) {
	require.Equal(t, Native, ProtocolFor(dom.NativeValue))
	require.Equal(t, ContentEditable, ProtocolFor(dom.ContentEditable))
	require.Equal(t, RichBlock, ProtocolFor(dom.RichBlock))
}

func TestWriteThenReadReturnsWrittenText(t *testing.T) {
	for _, id := range []string{"single", "multi", "editable", "rich"} {
		t.Run(id, func(t *testing.T) {
			tree, d := setup(t)
			tgt := target(t, tree, id)

			require.NoError(t, d.Write(context.Background(), tgt, "dictated text"))
			got, err := d.Read(context.Background(), tgt)
			require.NoError(t, err)
			require.Equal(t, "dictated text", got)
		})
	}
}

func TestNativeWriteEventOrder(t *testing.T) {
	tree, d := setup(t)
	tgt := target(t, tree, "single")

	require.NoError(t, d.Write(context.Background(), tgt, "hi"))
	require.Equal(t, []dom.EventType{dom.EventInput, dom.EventChange, dom.EventKeyDown, dom.EventKeyUp}, tree.Dispatched(tgt.ID))
}

func TestNativeClearSkipsKeyEvents(t *testing.T) {
	tree, d := setup(t)
	tgt := target(t, tree, "multi")

	require.NoError(t, d.Clear(context.Background(), tgt))
	require.Equal(t, []dom.EventType{dom.EventInput, dom.EventChange}, tree.Dispatched(tgt.ID))
	got, err := d.Read(context.Background(), tgt)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestContentEditableUsesEditCommands(t *testing.T) {
	tree, d := setup(t)
	tgt := target(t, tree, "editable")

	require.NoError(t, d.Write(context.Background(), tgt, "new"))

	var kinds []string
	for _, ev := range tree.Events() {
		if ev.ID == tgt.ID {
			kinds = append(kinds, ev.Type)
		}
	}
	require.Equal(t, []string{"call:focus", "command:selectAll", "command:delete", "command:insertText"}, kinds)
	require.Empty(t, tree.Dispatched(tgt.ID))
}

func TestContentEditableFallsBackToDirectAssignment(t *testing.T) {
	tree, d := setup(t)
	tgt := target(t, tree, "editable")
	tree.FailCommand(dom.CommandInsertText)

	require.NoError(t, d.Write(context.Background(), tgt, "fallback"))
	got, err := d.Read(context.Background(), tgt)
	require.NoError(t, err)
	require.Equal(t, "fallback", got)
	require.Equal(t, []dom.EventType{dom.EventInput, dom.EventChange}, tree.Dispatched(tgt.ID))
}

func TestRichBlockBuildsBlockStructure(t *testing.T) {
	tree, d := setup(t)
	tgt := target(t, tree, "rich")
	require.Equal(t, RichBlock, tgt.Protocol)

	require.NoError(t, d.Write(context.Background(), tgt, "posted"))
	require.Equal(t, []dom.EventType{
		dom.EventInput, dom.EventChange, dom.EventKeyDown, dom.EventKeyUp, dom.EventBlur, dom.EventFocus,
	}, tree.Dispatched(tgt.ID))

	spans, err := tree.Query("//div[@data-contents='true']/div[@data-block='true' and @data-offset-key='abcde-0-0']/div/span[@data-offset-key='abcde-0-0']/span[@data-text='true']")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	require.Equal(t, "posted", spans[0].Text())
}

func TestRichBlockFragmentForEmptyText(t *testing.T) {
	fragment := RichBlockFragment("k", "")
	leaf := fragment.Children[0].Children[0].Children[0].Children[0]
	require.Equal(t, "br", leaf.Tag)
	require.Empty(t, dom.FragmentText(fragment))
	require.Len(t, blockKey(), 5)
}

func TestWriteRejectsDetachedTarget(t *testing.T) {
	tree, d := setup(t)
	tgt := target(t, tree, "single")
	tree.Remove(tgt.ID)

	require.ErrorIs(t, d.Write(context.Background(), tgt, "x"), ErrTargetGone)
	_, err := d.Read(context.Background(), tgt)
	require.ErrorIs(t, err, ErrTargetGone)
}

type brokenEditor struct {
	*dom.Tree
}

func (brokenEditor) SetText(context.Context, int, string) error {
	return errors.New("blocked")
}

func TestWriteFailsOnlyWhenLastResortFails(t *testing.T) {
	tree, _ := setup(t)
	tree.FailCommand(dom.CommandSelectAll)
	d := New(brokenEditor{tree}, nil)

	err := d.Write(context.Background(), target(t, tree, "editable"), "x")
	require.ErrorIs(t, err, ErrWriteFailed)
	require.ErrorIs(t, err, dom.ErrCommandFailed)
}

func TestAppendInterimThenFinal(t *testing.T) {
	for _, id := range []string{"single", "editable", "rich"} {
		t.Run(id, func(t *testing.T) {
			tree, d := setup(t)
			ctx := context.Background()
			tgt := target(t, tree, id)
			require.NoError(t, d.Clear(ctx, tgt))

			require.NoError(t, d.Append(ctx, tgt, "a", "a", false))
			require.NoError(t, d.Append(ctx, tgt, "b", "ab", true))

			got, err := d.Read(ctx, tgt)
			require.NoError(t, err)
			require.Equal(t, "ab", got)
		})
	}
}

func TestAppendInsertsDeltaIncrementally(t *testing.T) {
	tree, d := setup(t)
	ctx := context.Background()
	tgt := target(t, tree, "editable")
	require.NoError(t, d.Write(ctx, tgt, "hello"))
	before := len(tree.Events())

	require.NoError(t, d.Append(ctx, tgt, " world", "hello world", false))
	got, err := d.Read(ctx, tgt)
	require.NoError(t, err)
	require.Equal(t, "hello world", got)

	after := tree.Events()[before:]
	require.Equal(t, []dom.Event{{ID: tgt.ID, Type: "command:insertText"}}, after)
}

func TestAppendRewritesWhenContentDiverged(t *testing.T) {
	tree, d := setup(t)
	ctx := context.Background()
	tgt := target(t, tree, "editable")
	require.NoError(t, d.Write(ctx, tgt, "hello"))

	require.NoError(t, d.Append(ctx, tgt, " there", "help there", false))
	got, err := d.Read(ctx, tgt)
	require.NoError(t, err)
	require.Equal(t, "help there", got)
}
