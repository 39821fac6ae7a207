// Package sites classifies pages and applies per-site resolver overrides.
package sites

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbright/voxpage/internal/delivery"
	"github.com/rbright/voxpage/internal/dom"
	"github.com/rbright/voxpage/internal/resolve"
	"github.com/rbright/voxpage/internal/visibility"
)

var (
	// ErrNoTarget indicates no editable target could be bound.
	ErrNoTarget = errors.New("no dictation target")
	// ErrUndrivable indicates the site's editor must not be driven directly.
	ErrUndrivable = errors.New("site editor cannot be driven")
)

// Target is an input bound by a resolution attempt.
type Target struct {
	Element  dom.Element
	Class    Class
	Protocol delivery.Protocol
}

// Delivery returns the write address for the target.
func (t Target) Delivery() delivery.Target {
	if t.Element == nil {
		return delivery.Target{Protocol: t.Protocol}
	}
	return delivery.Target{ID: t.Element.ID(), Protocol: t.Protocol}
}

// Override resolves targets and submits for one site class.
type Override interface {
	BestInput(doc dom.Document) (Target, error)
	SubmitFor(doc dom.Document, input dom.Element) (dom.Element, error)
	SubmitAfterDictation(ctx context.Context, doc dom.Document, editor dom.Editor, target Target) error
}

// Registry maps site classes to overrides.
type Registry struct {
	profiles  []Profile
	generic   Override
	overrides map[Class]Override
}

// NewRegistry builds a registry from the built-in profiles.
func NewRegistry(resolver *resolve.Resolver) (*Registry, error) {
	profiles, err := LoadProfiles(builtinProfiles)
	if err != nil {
		return nil, err
	}
	return NewRegistryFromProfiles(resolver, profiles), nil
}

// NewRegistryFromProfiles builds a registry from explicit profiles.
func NewRegistryFromProfiles(resolver *resolve.Resolver, profiles []Profile) *Registry {
	if resolver == nil {
		resolver = resolve.NewDefault()
	}
	generic := genericOverride{resolver: resolver}
	r := &Registry{
		profiles:  profiles,
		generic:   generic,
		overrides: make(map[Class]Override, len(profiles)),
	}
	for _, p := range profiles {
		if p.Undrivable {
			r.overrides[p.Name] = undrivableOverride{class: p.Name}
			continue
		}
		r.overrides[p.Name] = profileOverride{profile: p, generic: generic}
	}
	return r
}

// Classify returns the page's site class by host, then structural probes.
// It is recomputed on every call since client-side routing can change it.
func (r *Registry) Classify(doc dom.Document) Class {
	for _, p := range r.profiles {
		if p.matchesHost(doc.Host()) {
			return p.Name
		}
	}
	for _, p := range r.profiles {
		for _, expr := range p.probeExprs() {
			found, err := doc.Query(expr)
			if err == nil && len(found) > 0 {
				return p.Name
			}
		}
	}
	return Generic
}

// Override returns the override for class, or the generic resolver.
func (r *Registry) Override(class Class) Override {
	if o, ok := r.overrides[class]; ok {
		return o
	}
	return r.generic
}

// Resolve binds the best input on the page. An override that yields nothing
// falls back to the generic resolver; an undrivable site does not.
func (r *Registry) Resolve(doc dom.Document) (Target, error) {
	class := r.Classify(doc)
	target, err := r.Override(class).BestInput(doc)
	if err == nil {
		return target, nil
	}
	if errors.Is(err, ErrUndrivable) {
		return Target{Class: class}, err
	}
	if class == Generic {
		return Target{Class: class}, err
	}

	target, genericErr := r.generic.BestInput(doc)
	if genericErr != nil {
		return Target{Class: class}, fmt.Errorf("%s override: %w", class, genericErr)
	}
	target.Class = class
	return target, nil
}

// SubmitFor returns the submit control for input, preferring the page's override.
func (r *Registry) SubmitFor(doc dom.Document, input dom.Element) (dom.Element, error) {
	el, err := r.Override(r.Classify(doc)).SubmitFor(doc, input)
	if err == nil {
		return el, nil
	}
	if errors.Is(err, ErrUndrivable) {
		return nil, err
	}
	return r.generic.SubmitFor(doc, input)
}

// Submit triggers the page's own submit action for target.
func (r *Registry) Submit(ctx context.Context, doc dom.Document, editor dom.Editor, target Target) error {
	return r.Override(r.Classify(doc)).SubmitAfterDictation(ctx, doc, editor, target)
}

type genericOverride struct {
	resolver *resolve.Resolver
}

func (g genericOverride) BestInput(doc dom.Document) (Target, error) {
	el, err := g.resolver.BestInput(doc)
	if err != nil {
		if errors.Is(err, resolve.ErrNoInput) {
			return Target{Class: Generic}, fmt.Errorf("%w: %w", ErrNoTarget, err)
		}
		return Target{Class: Generic}, err
	}
	return Target{Element: el, Class: Generic, Protocol: delivery.ProtocolFor(el.Editable())}, nil
}

func (g genericOverride) SubmitFor(doc dom.Document, input dom.Element) (dom.Element, error) {
	return g.resolver.SubmitFor(doc, input)
}

func (g genericOverride) SubmitAfterDictation(ctx context.Context, doc dom.Document, editor dom.Editor, target Target) error {
	control, err := g.SubmitFor(doc, liveInput(doc, target))
	if err != nil {
		return err
	}
	return click(ctx, editor, control)
}

type profileOverride struct {
	profile Profile
	generic genericOverride
}

func (p profileOverride) BestInput(doc dom.Document) (Target, error) {
	for _, expr := range p.profile.Inputs {
		found, err := doc.Query(expr)
		if err != nil {
			return Target{Class: p.profile.Name}, err
		}
		for _, el := range found {
			if el.Editable() == dom.NotEditable || !visibility.IsUsableControl(el) {
				continue
			}
			protocol := p.profile.Protocol
			if protocol == "" {
				protocol = delivery.ProtocolFor(el.Editable())
			}
			return Target{Element: el, Class: p.profile.Name, Protocol: protocol}, nil
		}
	}
	return Target{Class: p.profile.Name}, ErrNoTarget
}

func (p profileOverride) SubmitFor(doc dom.Document, input dom.Element) (dom.Element, error) {
	for _, expr := range p.profile.Submits {
		found, err := doc.Query(expr)
		if err != nil {
			return nil, err
		}
		for _, el := range found {
			if !visibility.IsActionDisabled(el) {
				return el, nil
			}
		}
	}
	return nil, resolve.ErrNoSubmit
}

func (p profileOverride) SubmitAfterDictation(ctx context.Context, doc dom.Document, editor dom.Editor, target Target) error {
	input := liveInput(doc, target)
	control, err := p.SubmitFor(doc, input)
	if err != nil {
		control, err = p.generic.SubmitFor(doc, input)
	}
	if err == nil {
		return click(ctx, editor, control)
	}
	if p.profile.EnterFallback && target.Element != nil {
		if keyErr := editor.PressKey(ctx, target.Element.ID(), "Enter"); keyErr != nil {
			return fmt.Errorf("press enter: %w", keyErr)
		}
		return nil
	}
	return err
}

type undrivableOverride struct {
	class Class
}

func (u undrivableOverride) BestInput(dom.Document) (Target, error) {
	return Target{Class: u.class}, ErrUndrivable
}

func (undrivableOverride) SubmitFor(dom.Document, dom.Element) (dom.Element, error) {
	return nil, ErrUndrivable
}

func (undrivableOverride) SubmitAfterDictation(context.Context, dom.Document, dom.Editor, Target) error {
	return ErrUndrivable
}

func liveInput(doc dom.Document, target Target) dom.Element {
	if target.Element == nil {
		return nil
	}
	if el, ok := doc.Lookup(target.Element.ID()); ok {
		return el
	}
	return nil
}

func click(ctx context.Context, editor dom.Editor, control dom.Element) error {
	if err := editor.Click(ctx, control.ID()); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}
	return nil
}
