package resolve

import (
	"fmt"
	"strings"

	"github.com/rbright/voxpage/internal/dom"
	"github.com/rbright/voxpage/internal/visibility"
)

const inputCandidatesExpr = `//*[self::input or self::textarea or @contenteditable or @role='textbox']`

// RankInputs scores every visible editable surface on the page.
func (r *Resolver) RankInputs(doc dom.Document) ([]Ranked, error) {
	candidates, err := doc.Query(inputCandidatesExpr)
	if err != nil {
		return nil, fmt.Errorf("query input candidates: %w", err)
	}

	viewport := doc.Viewport()
	ranked := make([]Ranked, 0, len(candidates))
	for _, el := range candidates {
		kind := el.Editable()
		if kind == dom.NotEditable {
			continue
		}
		if kind != dom.NativeValue && hasEditableAncestor(el) {
			continue
		}
		if !visibility.IsVisible(el) {
			continue
		}
		ranked = append(ranked, r.scoreInput(el, kind, viewport))
	}
	sortRanked(ranked)
	return ranked, nil
}

// BestInput returns the top-ranked usable input.
func (r *Resolver) BestInput(doc dom.Document) (dom.Element, error) {
	ranked, err := r.RankInputs(doc)
	if err != nil {
		return nil, err
	}
	best, ok := firstAccepted(ranked)
	if !ok {
		return nil, ErrNoInput
	}
	return best.Element, nil
}

func (r *Resolver) scoreInput(el dom.Element, kind dom.Editable, viewport dom.Rect) Ranked {
	w := r.weights
	candidate := Ranked{Element: el}
	if !visibility.IsUsableControl(el) {
		candidate.reject("unusable")
	}

	if visibility.IsInViewport(el, viewport) {
		candidate.add("viewport", w.InViewport)
	}

	descriptor := inputDescriptor(el)
	if r.chat.match(descriptor) {
		candidate.add("chat", w.ChatKeyword)
	}
	if r.search.match(descriptor) {
		candidate.add("search", w.SearchKeyword)
	}

	if isMultiLine(el, kind) {
		candidate.add("multiline", w.MultiLine)
	}

	if w.AreaUnit > 0 {
		points := int(visibility.VisibleArea(el, viewport) / w.AreaUnit)
		candidate.add("area", min(points, w.AreaMax))
	}

	if kind != dom.NativeValue {
		candidate.add("contenteditable", w.ContentEditable)
	}
	return candidate
}

func inputDescriptor(el dom.Element) string {
	parts := make([]string, 0, 6)
	for _, name := range []string{"id", "name", "class", "placeholder", "aria-label", "title"} {
		if v := strings.TrimSpace(el.Attr(name)); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func isMultiLine(el dom.Element, kind dom.Editable) bool {
	if el.Tag() == "textarea" {
		return true
	}
	if strings.EqualFold(el.Attr("aria-multiline"), "true") {
		return true
	}
	return kind == dom.ContentEditable || kind == dom.RichBlock
}

// hasEditableAncestor reports whether el sits inside another editable
// region; only the outermost region is a candidate.
func hasEditableAncestor(el dom.Element) bool {
	for p := el.Parent(); p != nil; p = p.Parent() {
		switch p.Editable() {
		case dom.ContentEditable, dom.RichBlock:
			return true
		}
	}
	return false
}
