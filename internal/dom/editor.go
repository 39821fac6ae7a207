package dom

import (
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Editor commands understood by ExecCommand.
const (
	CommandSelectAll  = "selectAll"
	CommandDelete     = "delete"
	CommandInsertText = "insertText"
)

// FailCommand makes subsequent ExecCommand calls with command report failure.
func (t *Tree) FailCommand(command string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failing[command] = true
}

// Events returns every interaction recorded so far.
func (t *Tree) Events() []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Event(nil), t.events...)
}

// Dispatched returns the synthesized event types sent to id, in order.
func (t *Tree) Dispatched(id int) []EventType {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []EventType
	for _, ev := range t.events {
		if ev.ID != id {
			continue
		}
		if name, ok := strings.CutPrefix(ev.Type, "event:"); ok {
			out = append(out, EventType(name))
		}
	}
	return out
}

func (t *Tree) Alive(_ context.Context, id int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, err := t.state(id)
	return err == nil
}

func (t *Tree) Value(_ context.Context, id int) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, err := t.state(id)
	if err != nil {
		return "", err
	}
	if editableOf(state.node) == NativeValue {
		return state.value, nil
	}
	return htmlquery.InnerText(state.node), nil
}

func (t *Tree) SetValue(_ context.Context, id int, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, err := t.state(id)
	if err != nil {
		return err
	}
	if editableOf(state.node) != NativeValue {
		return ErrNotEditable
	}
	state.value = value
	t.record(id, "call:set-value")
	return nil
}

func (t *Tree) SetText(_ context.Context, id int, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, err := t.state(id)
	if err != nil {
		return err
	}
	t.replaceText(state, text)
	t.record(id, "call:set-text")
	return nil
}

func (t *Tree) ExecCommand(_ context.Context, id int, command string, arg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, err := t.state(id)
	if err != nil {
		return err
	}
	if editableOf(state.node) == NotEditable {
		return ErrNotEditable
	}
	t.record(id, "command:"+command)
	if t.failing[command] {
		return fmt.Errorf("%s: %w", command, ErrCommandFailed)
	}

	switch command {
	case CommandSelectAll:
		state.selected = true
	case CommandDelete:
		if state.selected {
			t.replaceText(state, "")
			state.selected = false
		}
	case CommandInsertText:
		if state.selected {
			t.replaceText(state, arg)
			state.selected = false
			return nil
		}
		if editableOf(state.node) == NativeValue {
			state.value += arg
			return nil
		}
		state.node.AppendChild(&html.Node{Type: html.TextNode, Data: arg})
	default:
		return fmt.Errorf("unsupported command %q: %w", command, ErrCommandFailed)
	}
	return nil
}

func (t *Tree) ReplaceChildren(_ context.Context, id int, fragment Fragment) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, err := t.state(id)
	if err != nil {
		return err
	}
	t.clearChildren(state.node)
	child := buildFragment(fragment)
	state.node.AppendChild(child)
	t.indexSubtree(child)
	state.selected = false
	t.record(id, "call:replace-children")
	return nil
}

func (t *Tree) Dispatch(_ context.Context, id int, event EventType) error {
	return t.touch(id, "event:"+string(event))
}

func (t *Tree) Focus(_ context.Context, id int) error {
	return t.touch(id, "call:focus")
}

func (t *Tree) Click(_ context.Context, id int) error {
	return t.touch(id, "call:click")
}

func (t *Tree) PressKey(_ context.Context, id int, key string) error {
	return t.touch(id, "key:"+key)
}

func (t *Tree) touch(id int, kind string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.state(id); err != nil {
		return err
	}
	t.record(id, kind)
	return nil
}

func (t *Tree) record(id int, kind string) {
	t.events = append(t.events, Event{ID: id, Type: kind})
}

func (t *Tree) replaceText(state *nodeState, text string) {
	if editableOf(state.node) == NativeValue {
		state.value = text
		return
	}
	t.clearChildren(state.node)
	if text != "" {
		state.node.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func (t *Tree) clearChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		t.detachSubtree(c)
		c = next
	}
}

func buildFragment(f Fragment) *html.Node {
	n := newElement(f.Tag, f.Attrs)
	if f.Text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: f.Text})
	}
	for _, child := range f.Children {
		n.AppendChild(buildFragment(child))
	}
	return n
}

// FragmentText returns the concatenated text content of a fragment.
func FragmentText(f Fragment) string {
	var b strings.Builder
	var walk func(Fragment)
	walk = func(f Fragment) {
		b.WriteString(f.Text)
		for _, c := range f.Children {
			walk(c)
		}
	}
	walk(f)
	return b.String()
}
