// Package resolve ranks candidate editable inputs and submit controls on an
// arbitrary page.
package resolve

import (
	"errors"
	"sort"
	"strconv"

	"github.com/rbright/voxpage/internal/dom"
)

var (
	// ErrNoInput indicates no usable editable element exists on the page.
	ErrNoInput = errors.New("no usable input found")
	// ErrNoSubmit indicates no enabled submit control could be found.
	ErrNoSubmit = errors.New("no usable submit control found")
)

// Weights are the additive ranking weights. Relative order matters more
// than exact values: ExplicitSubmit must stay above KeywordCap.
type Weights struct {
	InViewport      int
	ChatKeyword     int
	SearchKeyword   int
	MultiLine       int
	AreaMax         int
	AreaUnit        float64
	ContentEditable int

	ExplicitSubmit int
	KeywordText    int
	KeywordValue   int
	KeywordID      int
	KeywordClass   int
	KeywordCap     int
	SendIcon       int
	AnyIcon        int
	OnlyInGroup    int
	RightAligned   int
	BelowLeft      int
	Diagonal       int
	Disabled       int

	AlignTolerance float64
	LeftTolerance  float64
	AncestorDepth  int
}

// DefaultWeights returns the tuned default weights.
func DefaultWeights() Weights {
	return Weights{
		InViewport:      5,
		ChatKeyword:     3,
		SearchKeyword:   2,
		MultiLine:       2,
		AreaMax:         5,
		AreaUnit:        20000,
		ContentEditable: -1,

		ExplicitSubmit: 10,
		KeywordText:    5,
		KeywordValue:   4,
		KeywordID:      3,
		KeywordClass:   2,
		KeywordCap:     9,
		SendIcon:       5,
		AnyIcon:        2,
		OnlyInGroup:    8,
		RightAligned:   3,
		BelowLeft:      3,
		Diagonal:       4,
		Disabled:       -20,

		AlignTolerance: 8,
		LeftTolerance:  48,
		AncestorDepth:  10,
	}
}

// Resolver ranks inputs and submit controls. It holds no page state, so
// repeated calls against an unchanged page yield the same order.
type Resolver struct {
	weights Weights
	chat    keywordSet
	search  keywordSet
	submit  keywordSet
}

// New builds a resolver from explicit weights and keywords.
func New(weights Weights, keywords Keywords) *Resolver {
	return &Resolver{
		weights: weights,
		chat:    newKeywordSet(keywords.Chat),
		search:  newKeywordSet(keywords.Search),
		submit:  newKeywordSet(keywords.Submit),
	}
}

// NewDefault builds a resolver with default weights and keywords.
func NewDefault() *Resolver {
	return New(DefaultWeights(), DefaultKeywords())
}

// Weights returns the resolver's ranking weights.
func (r *Resolver) Weights() Weights { return r.weights }

// Ranked is one scored candidate. Rejected candidates always sort below
// accepted ones regardless of Score.
type Ranked struct {
	Element  dom.Element
	Score    int
	Rejected bool
	Reasons  []string
}

// sortRanked orders accepted candidates by descending score ahead of every
// rejected candidate. Ties keep pool order.
func sortRanked(ranked []Ranked) {
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Rejected != ranked[j].Rejected {
			return !ranked[i].Rejected
		}
		return ranked[i].Score > ranked[j].Score
	})
}

func firstAccepted(ranked []Ranked) (Ranked, bool) {
	for _, candidate := range ranked {
		if !candidate.Rejected {
			return candidate, true
		}
	}
	return Ranked{}, false
}

func (c *Ranked) add(reason string, points int) {
	if points == 0 {
		return
	}
	c.Score += points
	sign := "+"
	if points < 0 {
		sign = ""
	}
	c.Reasons = append(c.Reasons, reason+sign+strconv.Itoa(points))
}

func (c *Ranked) reject(reason string) {
	c.Rejected = true
	c.Reasons = append(c.Reasons, "rejected:"+reason)
}
