package dom

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RectAttr carries element geometry ("x,y,w,h") in parsed and saved snapshots.
const RectAttr = "data-rect"

// ParseOptions describes the page an HTML snapshot was taken from.
type ParseOptions struct {
	Host     string
	Viewport Rect
}

// NodeData is one element of a serialized live-page snapshot.
type NodeData struct {
	ID     int               `json:"id"`
	Parent int               `json:"parent"`
	Tag    string            `json:"tag"`
	Attrs  map[string]string `json:"attrs"`
	Text   string            `json:"text"`
	Value  string            `json:"value"`
	Rect   Rect              `json:"rect"`
	Style  Style             `json:"style"`
}

// Tree is an in-memory document. It backs offline snapshots, live-page
// snapshots, and doubles as an Editor that records synthesized events.
type Tree struct {
	host     string
	viewport Rect

	mu       sync.RWMutex
	root     *html.Node
	ids      map[*html.Node]int
	nodes    map[int]*nodeState
	nextID   int
	computed bool
	events   []Event
	failing  map[string]bool
}

type nodeState struct {
	node     *html.Node
	rect     Rect
	style    Style
	value    string
	detached bool
	selected bool
}

// Event is one recorded editor interaction.
type Event struct {
	ID   int
	Type string
}

var exprCache sync.Map

// ParseHTML builds a Tree from markup. Geometry comes from data-rect
// attributes and style from inline style attributes.
func ParseHTML(r io.Reader, opts ParseOptions) (*Tree, error) {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	t := newTree(root, opts)
	t.indexSubtree(root)
	return t, nil
}

// Build reconstructs a Tree from a live-page snapshot. Node ids are kept so
// writes can be addressed back to the live page.
func Build(opts ParseOptions, data []NodeData) *Tree {
	root := &html.Node{Type: html.DocumentNode}
	t := newTree(root, opts)
	t.computed = true

	ordered := append([]NodeData(nil), data...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	byID := make(map[int]*html.Node, len(ordered))
	for _, d := range ordered {
		tag := strings.ToLower(strings.TrimSpace(d.Tag))
		if tag == "" || d.ID <= 0 {
			continue
		}
		n := newElement(tag, sortedAttrs(d.Attrs))
		setAttr(n, RectAttr, formatRect(d.Rect))
		if d.Text != "" {
			n.AppendChild(&html.Node{Type: html.TextNode, Data: d.Text})
		}
		byID[d.ID] = n

		style := d.Style
		if style == (Style{}) {
			style = DefaultStyle()
		}
		value := d.Value
		t.ids[n] = d.ID
		t.nodes[d.ID] = &nodeState{node: n, rect: d.Rect, style: style, value: value}
		if d.ID >= t.nextID {
			t.nextID = d.ID + 1
		}
	}

	for _, d := range ordered {
		n, ok := byID[d.ID]
		if !ok {
			continue
		}
		parent, ok := byID[d.Parent]
		if !ok {
			parent = root
		}
		parent.AppendChild(n)
	}
	return t
}

func newTree(root *html.Node, opts ParseOptions) *Tree {
	viewport := opts.Viewport
	if viewport.Empty() {
		viewport = Rect{Width: 1280, Height: 800}
	}
	return &Tree{
		host:     strings.ToLower(strings.TrimSpace(opts.Host)),
		viewport: viewport,
		root:     root,
		ids:      make(map[*html.Node]int),
		nodes:    make(map[int]*nodeState),
		nextID:   1,
		failing:  make(map[string]bool),
	}
}

// indexSubtree assigns ids in document order. Callers hold the write lock or
// own the tree exclusively.
func (t *Tree) indexSubtree(n *html.Node) {
	if n.Type == html.ElementNode {
		if _, ok := t.ids[n]; !ok {
			id := t.nextID
			t.nextID++
			state := &nodeState{node: n, rect: parseRect(attrOf(n, RectAttr)), style: parseInlineStyle(attrOf(n, "style"))}
			switch n.Data {
			case "input":
				state.value = attrOf(n, "value")
			case "textarea":
				state.value = htmlquery.InnerText(n)
			}
			t.ids[n] = id
			t.nodes[id] = state
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		t.indexSubtree(c)
	}
}

func (t *Tree) Host() string   { return t.host }
func (t *Tree) Viewport() Rect { return t.viewport }

// Snapshot returns the tree itself; an in-memory page is always current.
func (t *Tree) Snapshot(context.Context) (Document, error) { return t, nil }

// Query evaluates an XPath expression over the whole document.
func (t *Tree) Query(expr string) ([]Element, error) {
	return t.QueryWithin(nil, expr)
}

// QueryWithin evaluates an XPath expression relative to root.
func (t *Tree) QueryWithin(root Element, expr string) ([]Element, error) {
	compiled, err := compile(expr)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	top := t.root
	if root != nil {
		state, ok := t.nodes[root.ID()]
		if !ok || state.detached {
			return nil, ErrDetached
		}
		top = state.node
	}

	found := htmlquery.QuerySelectorAll(top, compiled)
	out := make([]Element, 0, len(found))
	seen := make(map[int]struct{}, len(found))
	for _, n := range found {
		id, ok := t.ids[n]
		if !ok || t.nodes[id].detached {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, element{tree: t, id: id})
	}
	return out, nil
}

// Lookup resolves an element id to a live element reference.
func (t *Tree) Lookup(id int) (Element, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.nodes[id]
	if !ok || state.detached {
		return nil, false
	}
	return element{tree: t, id: id}, true
}

// Remove detaches an element and its subtree, as a page re-render would.
func (t *Tree) Remove(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.nodes[id]
	if !ok || state.detached {
		return
	}
	if state.node.Parent != nil {
		state.node.Parent.RemoveChild(state.node)
	}
	t.detachSubtree(state.node)
}

// Render writes the document as HTML, including geometry attributes.
func (t *Tree) Render(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return html.Render(w, t.root)
}

func (t *Tree) detachSubtree(n *html.Node) {
	if id, ok := t.ids[n]; ok {
		t.nodes[id].detached = true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		t.detachSubtree(c)
	}
}

func (t *Tree) state(id int) (*nodeState, error) {
	state, ok := t.nodes[id]
	if !ok {
		return nil, ErrUnknownElement
	}
	if state.detached {
		return nil, ErrDetached
	}
	return state, nil
}

func compile(expr string) (*xpath.Expr, error) {
	if cached, ok := exprCache.Load(expr); ok {
		return cached.(*xpath.Expr), nil
	}
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile xpath %q: %w", expr, err)
	}
	exprCache.Store(expr, compiled)
	return compiled, nil
}

// element is a by-id handle; every read consults current tree state.
type element struct {
	tree *Tree
	id   int
}

func (e element) ID() int { return e.id }

func (e element) Tag() string {
	e.tree.mu.RLock()
	defer e.tree.mu.RUnlock()
	if state, ok := e.tree.nodes[e.id]; ok {
		return state.node.Data
	}
	return ""
}

func (e element) Attr(name string) string {
	e.tree.mu.RLock()
	defer e.tree.mu.RUnlock()
	if state, ok := e.tree.nodes[e.id]; ok {
		return attrOf(state.node, name)
	}
	return ""
}

func (e element) HasAttr(name string) bool {
	e.tree.mu.RLock()
	defer e.tree.mu.RUnlock()
	if state, ok := e.tree.nodes[e.id]; ok {
		return hasAttr(state.node, name)
	}
	return false
}

func (e element) Text() string {
	e.tree.mu.RLock()
	defer e.tree.mu.RUnlock()
	state, ok := e.tree.nodes[e.id]
	if !ok {
		return ""
	}
	return strings.Join(strings.Fields(htmlquery.InnerText(state.node)), " ")
}

func (e element) Editable() Editable {
	e.tree.mu.RLock()
	defer e.tree.mu.RUnlock()
	state, ok := e.tree.nodes[e.id]
	if !ok {
		return NotEditable
	}
	return editableOf(state.node)
}

func (e element) Rect() (Rect, error) {
	e.tree.mu.RLock()
	defer e.tree.mu.RUnlock()
	state, err := e.tree.state(e.id)
	if err != nil {
		return Rect{}, err
	}
	return state.rect, nil
}

func (e element) Style() (Style, error) {
	e.tree.mu.RLock()
	defer e.tree.mu.RUnlock()
	state, err := e.tree.state(e.id)
	if err != nil {
		return Style{}, err
	}
	if e.tree.computed {
		return state.style, nil
	}
	return e.tree.effectiveStyle(state), nil
}

func (e element) Parent() Element {
	e.tree.mu.RLock()
	defer e.tree.mu.RUnlock()
	state, ok := e.tree.nodes[e.id]
	if !ok {
		return nil
	}
	for p := state.node.Parent; p != nil; p = p.Parent {
		if id, ok := e.tree.ids[p]; ok {
			return element{tree: e.tree, id: id}
		}
	}
	return nil
}

// effectiveStyle folds inherited and ancestor-hiding properties of inline
// styles into a computed-style approximation.
func (t *Tree) effectiveStyle(state *nodeState) Style {
	out := state.style
	visibilitySet := hasInlineProperty(state.node, "visibility")
	pointerSet := hasInlineProperty(state.node, "pointer-events")
	for p := state.node.Parent; p != nil; p = p.Parent {
		id, ok := t.ids[p]
		if !ok {
			continue
		}
		ancestor := t.nodes[id].style
		if ancestor.Display == "none" {
			out.Display = "none"
		}
		if !visibilitySet && hasInlineProperty(p, "visibility") {
			out.Visibility = ancestor.Visibility
			visibilitySet = true
		}
		if !pointerSet && hasInlineProperty(p, "pointer-events") {
			out.PointerEvents = ancestor.PointerEvents
			pointerSet = true
		}
		out.Opacity *= ancestor.Opacity
	}
	return out
}

func editableOf(n *html.Node) Editable {
	switch n.Data {
	case "input":
		switch strings.ToLower(strings.TrimSpace(attrOf(n, "type"))) {
		case "", "text", "search", "email", "url", "tel":
			return NativeValue
		default:
			return NotEditable
		}
	case "textarea":
		return NativeValue
	}

	if hasAttr(n, "contenteditable") {
		value := strings.ToLower(strings.TrimSpace(attrOf(n, "contenteditable")))
		if value != "false" {
			if isRichBlock(n) {
				return RichBlock
			}
			return ContentEditable
		}
	}
	if strings.EqualFold(attrOf(n, "role"), "textbox") {
		return ContentEditable
	}
	return NotEditable
}

func isRichBlock(n *html.Node) bool {
	if strings.Contains(attrOf(n, "class"), "public-DraftEditor-content") {
		return true
	}
	compiled, err := compile(".//*[@data-contents='true']")
	if err != nil {
		return false
	}
	return htmlquery.QuerySelector(n, compiled) != nil
}

func newElement(tag string, attrs []Attr) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	for _, a := range attrs {
		n.Attr = append(n.Attr, html.Attribute{Key: a.Key, Val: a.Val})
	}
	return n
}

func sortedAttrs(attrs map[string]string) []Attr {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Attr, 0, len(keys))
	for _, k := range keys {
		out = append(out, Attr{Key: k, Val: attrs[k]})
	}
	return out
}

func attrOf(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func parseRect(raw string) Rect {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return Rect{}
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Rect{}
		}
		vals[i] = v
	}
	return Rect{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}
}

func formatRect(r Rect) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return f(r.X) + "," + f(r.Y) + "," + f(r.Width) + "," + f(r.Height)
}

func parseInlineStyle(raw string) Style {
	style := DefaultStyle()
	for _, decl := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "!important")))
		switch name {
		case "display":
			style.Display = value
		case "visibility":
			style.Visibility = value
		case "opacity":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				style.Opacity = v
			}
		case "pointer-events":
			style.PointerEvents = value
		case "cursor":
			style.Cursor = value
		}
	}
	return style
}

func hasInlineProperty(n *html.Node, property string) bool {
	for _, decl := range strings.Split(attrOf(n, "style"), ";") {
		name, _, ok := strings.Cut(decl, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), property) {
			return true
		}
	}
	return false
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return true
		}
	}
	return false
}
