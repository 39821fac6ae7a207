package sites

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/antchfx/xpath"
	"github.com/rbright/voxpage/internal/delivery"
	"gopkg.in/yaml.v3"
)

//go:embed sites.yaml
var builtinProfiles []byte

// Class is a coarse site category selecting a resolver override.
type Class string

const (
	Generic    Class = "generic"
	ChatGPT    Class = "chatgpt"
	Claude     Class = "claude"
	X          Class = "x"
	GoogleDocs Class = "google-docs"
)

var knownClasses = map[Class]struct{}{
	ChatGPT:    {},
	Claude:     {},
	X:          {},
	GoogleDocs: {},
}

// Profile describes how one site class is recognized and driven.
type Profile struct {
	Name          Class             `yaml:"name"`
	Hosts         []string          `yaml:"hosts"`
	Probes        []string          `yaml:"probes"`
	Glyphs        []string          `yaml:"glyphs"`
	Inputs        []string          `yaml:"inputs"`
	Submits       []string          `yaml:"submits"`
	Protocol      delivery.Protocol `yaml:"protocol"`
	EnterFallback bool              `yaml:"enter_fallback"`
	Undrivable    bool              `yaml:"undrivable"`
}

type profileFile struct {
	Classes []Profile `yaml:"classes"`
}

// LoadProfiles decodes and validates a profile document.
func LoadProfiles(data []byte) ([]Profile, error) {
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode site profiles: %w", err)
	}

	seen := make(map[Class]struct{}, len(file.Classes))
	for i := range file.Classes {
		p := &file.Classes[i]
		if _, ok := knownClasses[p.Name]; !ok {
			return nil, fmt.Errorf("site profile %d: unknown class %q", i, p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("site profile %q: duplicate class", p.Name)
		}
		seen[p.Name] = struct{}{}

		for j, host := range p.Hosts {
			p.Hosts[j] = strings.ToLower(strings.TrimSpace(host))
		}
		switch p.Protocol {
		case "", delivery.Native, delivery.ContentEditable, delivery.RichBlock:
		default:
			return nil, fmt.Errorf("site profile %q: unknown protocol %q", p.Name, p.Protocol)
		}
		for _, glyph := range p.Glyphs {
			if strings.ContainsAny(glyph, `'"`) {
				return nil, fmt.Errorf("site profile %q: glyph %q must not contain quotes", p.Name, glyph)
			}
		}
		for _, expr := range append(append(append([]string(nil), p.Probes...), p.Inputs...), p.Submits...) {
			if _, err := xpath.Compile(expr); err != nil {
				return nil, fmt.Errorf("site profile %q: selector %q: %w", p.Name, expr, err)
			}
		}
		if !p.Undrivable && len(p.Inputs) == 0 {
			return nil, fmt.Errorf("site profile %q: inputs are required unless undrivable", p.Name)
		}
	}
	return file.Classes, nil
}

func (p Profile) matchesHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, h := range p.Hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (p Profile) probeExprs() []string {
	exprs := append([]string(nil), p.Probes...)
	for _, glyph := range p.Glyphs {
		exprs = append(exprs, "//*[local-name()='path' and contains(@d, '"+glyph+"')]")
	}
	return exprs
}
