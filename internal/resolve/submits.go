package resolve

import (
	"fmt"
	"math"
	"strings"

	"github.com/rbright/voxpage/internal/dom"
	"github.com/rbright/voxpage/internal/visibility"
)

const (
	clickableExpr       = `//*[self::button or self::input or @role='button']`
	clickableWithinExpr = `.//*[self::button or self::input or @role='button']`
	iconWithinExpr      = `.//*[local-name()='svg' or local-name()='img' or local-name()='use']`
	pathWithinExpr      = `.//*[local-name()='path']`
)

// sendGlyphs are fragments of path data used by common send-arrow icons.
var sendGlyphs = []string{
	"M2.01 21L23 12 2.01 3",
	"M3.4 20.4l17.45-7.48",
	"M2 21l21-9L2 3v7l15 2-15 2z",
	"M8.99992 16V6.41407",
	"M15.192 8.906a1.143",
	"M.5 1.163A1 1 0 0 1 1.97.28",
}

var sendIconTokens = []string{"send", "submit", "paper-plane", "paperplane", "paper_plane", "arrow-up", "arrowup", "arrow_up", "arrow-right"}

// RankSubmits scores submit-control candidates for input. The pool is the
// input's grouping unioned with every visible clickable on the page.
func (r *Resolver) RankSubmits(doc dom.Document, input dom.Element) ([]Ranked, error) {
	all, err := doc.Query(clickableExpr)
	if err != nil {
		return nil, fmt.Errorf("query clickables: %w", err)
	}
	group, err := r.grouping(doc, input)
	if err != nil {
		return nil, err
	}

	inGroup := make(map[int]bool, len(group))
	enabledInGroup := 0
	for _, el := range group {
		if !isClickable(el) || isSelf(el, input) {
			continue
		}
		inGroup[el.ID()] = true
		if !visibility.IsActionDisabled(el) {
			enabledInGroup++
		}
	}

	var inputRect dom.Rect
	hasInputRect := false
	if input != nil {
		if rect, rectErr := input.Rect(); rectErr == nil && !rect.Empty() {
			inputRect, hasInputRect = rect, true
		}
	}

	ranked := make([]Ranked, 0, len(all))
	for _, el := range all {
		if !isClickable(el) || isSelf(el, input) {
			continue
		}
		member := inGroup[el.ID()]
		if !member && !visibility.IsVisible(el) {
			continue
		}
		candidate := r.scoreSubmit(doc, el, member && enabledInGroup == 1)
		if hasInputRect {
			r.scorePosition(&candidate, inputRect)
		}
		ranked = append(ranked, candidate)
	}
	sortRanked(ranked)
	return ranked, nil
}

// SubmitFor returns the best enabled submit control for input.
func (r *Resolver) SubmitFor(doc dom.Document, input dom.Element) (dom.Element, error) {
	ranked, err := r.RankSubmits(doc, input)
	if err != nil {
		return nil, err
	}
	best, ok := firstAccepted(ranked)
	if !ok {
		return nil, ErrNoSubmit
	}
	return best.Element, nil
}

func (r *Resolver) scoreSubmit(doc dom.Document, el dom.Element, onlyInGroup bool) Ranked {
	w := r.weights
	candidate := Ranked{Element: el}

	if strings.EqualFold(strings.TrimSpace(el.Attr("type")), "submit") {
		candidate.add("submit-type", w.ExplicitSubmit)
	}

	keywordPoints := 0
	if r.submit.match(el.Text() + " " + el.Attr("aria-label") + " " + el.Attr("title")) {
		keywordPoints += w.KeywordText
	}
	if r.submit.match(el.Attr("value")) {
		keywordPoints += w.KeywordValue
	}
	if r.submit.match(el.Attr("id") + " " + el.Attr("data-testid")) {
		keywordPoints += w.KeywordID
	}
	if r.submit.match(el.Attr("class")) {
		keywordPoints += w.KeywordClass
	}
	candidate.add("keyword", min(keywordPoints, w.KeywordCap))

	icons, _ := doc.QueryWithin(el, iconWithinExpr)
	if hasSendIcon(doc, el, icons) {
		candidate.add("send-icon", w.SendIcon)
	}
	if len(icons) > 0 || strings.EqualFold(el.Attr("type"), "image") {
		candidate.add("icon", w.AnyIcon)
	}

	disabled := visibility.IsActionDisabled(el)
	if onlyInGroup && !disabled {
		candidate.add("only-in-group", w.OnlyInGroup)
	}
	if disabled {
		candidate.add("disabled", w.Disabled)
		candidate.reject("disabled")
	}
	return candidate
}

func (r *Resolver) scorePosition(candidate *Ranked, input dom.Rect) {
	w := r.weights
	rect, err := candidate.Element.Rect()
	if err != nil || rect.Empty() {
		return
	}
	centerY := rect.CenterY()
	switch {
	case rect.X >= input.Right()-w.AlignTolerance && centerY >= input.Y-w.AlignTolerance && centerY <= input.Bottom()+w.AlignTolerance:
		candidate.add("right-aligned", w.RightAligned)
	case rect.Y >= input.Bottom()-w.AlignTolerance && math.Abs(rect.X-input.X) <= w.LeftTolerance:
		candidate.add("below-left", w.BelowLeft)
	case rect.X >= input.CenterX() && rect.Y >= input.CenterY():
		candidate.add("diagonal", w.Diagonal)
	}
}

// grouping returns the clickables sharing input's submission grouping: its
// form, or the nearest ancestor containing a clickable.
func (r *Resolver) grouping(doc dom.Document, input dom.Element) ([]dom.Element, error) {
	if input == nil {
		return nil, nil
	}
	if form := formOf(doc, input); form != nil {
		members, err := doc.QueryWithin(form, clickableWithinExpr)
		if err != nil {
			return nil, fmt.Errorf("query form controls: %w", err)
		}
		return members, nil
	}

	depth := 0
	for p := input.Parent(); p != nil && depth < r.weights.AncestorDepth; p = p.Parent() {
		depth++
		members, err := doc.QueryWithin(p, clickableWithinExpr)
		if err != nil {
			return nil, fmt.Errorf("query ancestor controls: %w", err)
		}
		for _, el := range members {
			if isClickable(el) && !isSelf(el, input) {
				return members, nil
			}
		}
	}
	return nil, nil
}

func formOf(doc dom.Document, input dom.Element) dom.Element {
	if owner := strings.TrimSpace(input.Attr("form")); owner != "" && !strings.ContainsAny(owner, `'"`) {
		if found, err := doc.Query("//form[@id='" + owner + "']"); err == nil && len(found) > 0 {
			return found[0]
		}
	}
	for p := input.Parent(); p != nil; p = p.Parent() {
		if p.Tag() == "form" {
			return p
		}
	}
	return nil
}

func isClickable(el dom.Element) bool {
	switch el.Tag() {
	case "button":
		return true
	case "input":
		switch strings.ToLower(strings.TrimSpace(el.Attr("type"))) {
		case "submit", "button", "image":
			return true
		}
		return false
	}
	return strings.EqualFold(el.Attr("role"), "button")
}

func hasSendIcon(doc dom.Document, el dom.Element, icons []dom.Element) bool {
	if strings.EqualFold(el.Attr("type"), "image") && containsSendToken(el.Attr("src")+" "+el.Attr("alt")) {
		return true
	}
	for _, icon := range icons {
		if containsSendToken(icon.Attr("class") + " " + icon.Attr("data-icon") + " " + icon.Attr("aria-label") + " " + icon.Attr("href")) {
			return true
		}
		if icon.Tag() == "img" && containsSendToken(icon.Attr("src")+" "+icon.Attr("alt")) {
			return true
		}
	}
	paths, _ := doc.QueryWithin(el, pathWithinExpr)
	for _, path := range paths {
		d := strings.Join(strings.Fields(path.Attr("d")), " ")
		for _, glyph := range sendGlyphs {
			if strings.Contains(d, glyph) {
				return true
			}
		}
	}
	return false
}

func containsSendToken(s string) bool {
	lower := strings.ToLower(s)
	for _, token := range sendIconTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func isSelf(el, input dom.Element) bool {
	return input != nil && el.ID() == input.ID()
}
