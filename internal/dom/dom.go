// Package dom models the page surface dictation works against: read-only
// element snapshots for ranking and an Editor for live writes by element id.
package dom

import (
	"context"
	"errors"
)

var (
	// ErrDetached indicates the element left the document since it was observed.
	ErrDetached = errors.New("element detached from document")
	// ErrUnknownElement indicates no element exists for the requested id.
	ErrUnknownElement = errors.New("unknown element")
	// ErrNotEditable indicates a write was attempted against a non-editable element.
	ErrNotEditable = errors.New("element is not editable")
	// ErrCommandFailed indicates a document edit command reported failure.
	ErrCommandFailed = errors.New("edit command failed")
)

// Editable classifies how an element accepts text.
type Editable int

const (
	NotEditable Editable = iota
	NativeValue
	ContentEditable
	RichBlock
)

func (e Editable) String() string {
	switch e {
	case NativeValue:
		return "native"
	case ContentEditable:
		return "content-editable"
	case RichBlock:
		return "rich-block"
	default:
		return "none"
	}
}

// Rect is an element's layout box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64   { return r.X + r.Width }
func (r Rect) Bottom() float64  { return r.Y + r.Height }
func (r Rect) CenterX() float64 { return r.X + r.Width/2 }
func (r Rect) CenterY() float64 { return r.Y + r.Height/2 }
func (r Rect) Area() float64    { return r.Width * r.Height }
func (r Rect) Empty() bool      { return r.Width <= 0 || r.Height <= 0 }

// Intersect returns the overlapping box of r and o (empty when disjoint).
func (r Rect) Intersect(o Rect) Rect {
	x0 := max(r.X, o.X)
	y0 := max(r.Y, o.Y)
	x1 := min(r.Right(), o.Right())
	y1 := min(r.Bottom(), o.Bottom())
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Style is the subset of computed style the visibility rules consult.
type Style struct {
	Display       string  `json:"display"`
	Visibility    string  `json:"visibility"`
	Opacity       float64 `json:"opacity"`
	PointerEvents string  `json:"pointerEvents"`
	Cursor        string  `json:"cursor"`
}

// DefaultStyle is the computed style of an unstyled element.
func DefaultStyle() Style {
	return Style{Display: "block", Visibility: "visible", Opacity: 1, PointerEvents: "auto", Cursor: "auto"}
}

// Element is a transient reference into one page snapshot. Geometry and
// style reads fail with ErrDetached once the element leaves the document.
type Element interface {
	ID() int
	Tag() string
	Attr(name string) string
	HasAttr(name string) bool
	Text() string
	Editable() Editable
	Rect() (Rect, error)
	Style() (Style, error)
	Parent() Element
}

// Document is a queryable page snapshot.
type Document interface {
	Host() string
	Viewport() Rect
	Query(expr string) ([]Element, error)
	QueryWithin(root Element, expr string) ([]Element, error)
	Lookup(id int) (Element, bool)
}

// EventType names a synthesized DOM event.
type EventType string

const (
	EventInput   EventType = "input"
	EventChange  EventType = "change"
	EventKeyDown EventType = "keydown"
	EventKeyUp   EventType = "keyup"
	EventBlur    EventType = "blur"
	EventFocus   EventType = "focus"
)

// Attr is one fragment attribute; order is preserved when rendered.
type Attr struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// Fragment is a detached element subtree used to replace editor content.
type Fragment struct {
	Tag      string     `json:"tag,omitempty"`
	Attrs    []Attr     `json:"attrs,omitempty"`
	Text     string     `json:"text,omitempty"`
	Children []Fragment `json:"children,omitempty"`
}

// Editor performs live writes against elements by id. Every operation
// targets the element as it exists now, not as it was snapshotted.
type Editor interface {
	Alive(ctx context.Context, id int) bool
	Value(ctx context.Context, id int) (string, error)
	SetValue(ctx context.Context, id int, value string) error
	SetText(ctx context.Context, id int, text string) error
	ExecCommand(ctx context.Context, id int, command string, arg string) error
	ReplaceChildren(ctx context.Context, id int, fragment Fragment) error
	Dispatch(ctx context.Context, id int, event EventType) error
	Focus(ctx context.Context, id int) error
	Click(ctx context.Context, id int) error
	PressKey(ctx context.Context, id int, key string) error
}

// Page is a live page: snapshots for ranking plus an Editor for writes.
type Page interface {
	Editor
	Snapshot(ctx context.Context) (Document, error)
}
