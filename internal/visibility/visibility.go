// Package visibility answers whether page elements can be seen and used.
package visibility

import (
	"strings"

	"github.com/rbright/voxpage/internal/dom"
)

// FauxDisabledOpacity is the opacity below which a control reads as disabled.
const FauxDisabledOpacity = 0.5

// IsVisible reports whether el renders with a non-empty box. Elements that
// left the document are never visible.
func IsVisible(el dom.Element) bool {
	if el == nil {
		return false
	}
	rect, err := el.Rect()
	if err != nil || rect.Empty() {
		return false
	}
	style, err := el.Style()
	if err != nil {
		return false
	}
	switch style.Display {
	case "none", "contents":
		return false
	}
	switch style.Visibility {
	case "hidden", "collapse":
		return false
	}
	if style.Opacity <= 0 {
		return false
	}
	return !el.HasAttr("hidden")
}

// IsInViewport reports whether el intersects the viewport.
func IsInViewport(el dom.Element, viewport dom.Rect) bool {
	if el == nil {
		return false
	}
	rect, err := el.Rect()
	if err != nil {
		return false
	}
	return !rect.Intersect(viewport).Empty()
}

// VisibleArea returns the part of el's box inside the viewport.
func VisibleArea(el dom.Element, viewport dom.Rect) float64 {
	if el == nil {
		return 0
	}
	rect, err := el.Rect()
	if err != nil {
		return 0
	}
	return rect.Intersect(viewport).Area()
}

// IsUsableControl reports whether el is visible and accepts interaction.
func IsUsableControl(el dom.Element) bool {
	if !IsVisible(el) {
		return false
	}
	if el.HasAttr("disabled") || el.HasAttr("readonly") {
		return false
	}
	if ariaTrue(el, "aria-disabled") || ariaTrue(el, "aria-readonly") {
		return false
	}
	return true
}

// IsActionDisabled reports whether a clickable control is disabled, either
// natively or by visual convention.
func IsActionDisabled(control dom.Element) bool {
	if !IsVisible(control) {
		return true
	}
	if control.HasAttr("disabled") || ariaTrue(control, "aria-disabled") {
		return true
	}
	style, err := control.Style()
	if err != nil {
		return true
	}
	if style.Opacity < FauxDisabledOpacity {
		return true
	}
	if style.PointerEvents == "none" || style.Cursor == "not-allowed" {
		return true
	}
	for _, token := range strings.Fields(strings.ToLower(control.Attr("class"))) {
		switch token {
		case "disabled", "is-disabled", "btn-disabled", "button--disabled":
			return true
		}
	}
	return false
}

func ariaTrue(el dom.Element, name string) bool {
	return strings.EqualFold(strings.TrimSpace(el.Attr(name)), "true")
}
