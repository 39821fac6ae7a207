package delivery

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rbright/voxpage/internal/dom"
)

// RichBlockFragment builds the minimal block structure a block-model editor
// renders from: content block, inline block, offset-keyed span, text span.
func RichBlockFragment(key string, text string) dom.Fragment {
	offsetKey := key + "-0-0"

	leaf := dom.Fragment{Tag: "span", Attrs: []dom.Attr{{Key: "data-text", Val: "true"}}, Text: text}
	if text == "" {
		leaf = dom.Fragment{Tag: "br", Attrs: []dom.Attr{{Key: "data-text", Val: "true"}}}
	}

	return dom.Fragment{
		Tag:   "div",
		Attrs: []dom.Attr{{Key: "data-contents", Val: "true"}},
		Children: []dom.Fragment{{
			Tag: "div",
			Attrs: []dom.Attr{
				{Key: "class", Val: ""},
				{Key: "data-block", Val: "true"},
				{Key: "data-editor", Val: key},
				{Key: "data-offset-key", Val: offsetKey},
			},
			Children: []dom.Fragment{{
				Tag: "div",
				Attrs: []dom.Attr{
					{Key: "data-offset-key", Val: offsetKey},
					{Key: "class", Val: "public-DraftStyleDefault-block public-DraftStyleDefault-ltr"},
				},
				Children: []dom.Fragment{{
					Tag:      "span",
					Attrs:    []dom.Attr{{Key: "data-offset-key", Val: offsetKey}},
					Children: []dom.Fragment{leaf},
				}},
			}},
		}},
	}
}

func blockKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
}
