package plugin

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"

	"github.com/3-lines-studio/kiln/internal/core"
)

var (
	Style  Plugin = stylePlugin{}
	Copy   Plugin = copyPlugin{}
	Module Plugin = modulePlugin{}
	Script Plugin = scriptPlugin{}
)

var all = []Plugin{Style, Copy, Module, Script}

func ByName(name string) (Plugin, bool) {
	for _, p := range all {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// RuleSpec is a user supplied match rule. An empty Kind matches every kind
// the plugin accepts.
type RuleSpec struct {
	Plugin  string
	Pattern string
	Kind    string
}

type rule struct {
	plugin      Plugin
	kind        core.Kind
	pattern     string
	glob        glob.Glob
	specificity int
}

// Matcher selects the plugin for an asset. Patterns are matched against the
// asset path relative to its root; the match with the most literal
// characters wins.
type Matcher struct {
	rules []rule
}

// NewMatcher compiles the default rules followed by extra.
func NewMatcher(extra []RuleSpec) (*Matcher, error) {
	specs := []RuleSpec{
		{Plugin: Style.Name(), Kind: "style", Pattern: "**"},
		{Plugin: Script.Name(), Kind: "script", Pattern: "**"},
		{Plugin: Module.Name(), Kind: "module", Pattern: "**"},
		{Plugin: Copy.Name(), Kind: "static", Pattern: "**"},
	}
	specs = append(specs, extra...)

	m := &Matcher{rules: make([]rule, 0, len(specs))}
	for _, spec := range specs {
		p, ok := ByName(spec.Plugin)
		if !ok {
			return nil, fmt.Errorf("unknown plugin %q", spec.Plugin)
		}
		kind, err := core.ParseKind(spec.Kind)
		if err != nil {
			return nil, err
		}
		g, err := glob.Compile(spec.Pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q for plugin %s: %w", spec.Pattern, spec.Plugin, err)
		}
		m.rules = append(m.rules, rule{
			plugin:      p,
			kind:        kind,
			pattern:     spec.Pattern,
			glob:        g,
			specificity: Specificity(spec.Pattern),
		})
	}
	return m, nil
}

// Select returns the plugin for asset, or an AmbiguousPluginMatchError when
// different plugins match with equal specificity.
func (m *Matcher) Select(asset *core.Asset) (Plugin, error) {
	rel := matchPath(asset)

	best := -1
	var winners []Plugin
	for _, r := range m.rules {
		if r.kind != core.KindUnknown && r.kind != asset.Kind {
			continue
		}
		if !r.plugin.Accepts(asset.Kind) || !r.glob.Match(rel) {
			continue
		}
		switch {
		case r.specificity > best:
			best = r.specificity
			winners = []Plugin{r.plugin}
		case r.specificity == best && !slices.Contains(winners, r.plugin):
			winners = append(winners, r.plugin)
		}
	}

	switch len(winners) {
	case 0:
		return nil, fmt.Errorf("no plugin matches %s", asset)
	case 1:
		return winners[0], nil
	}

	names := make([]string, len(winners))
	for i, p := range winners {
		names[i] = p.Name()
	}
	slices.Sort(names)
	return nil, &core.AmbiguousPluginMatchError{Asset: asset.Path, Plugins: names}
}

func matchPath(asset *core.Asset) string {
	if asset.Root != "" {
		if rel, err := core.RelSlash(asset.Root, asset.Path); err == nil {
			return rel
		}
	}
	return strings.TrimPrefix(asset.Path, "/")
}

// Specificity counts the literal characters of a glob pattern. Characters
// inside character classes and alternations are not counted.
func Specificity(pattern string) int {
	n := 0
	depth := 0
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			escaped = false
			if depth == 0 {
				n++
			}
		case r == '\\':
			escaped = true
		case r == '[' || r == '{':
			depth++
		case (r == ']' || r == '}') && depth > 0:
			depth--
		case r == '*' || r == '?':
		case depth == 0:
			n++
		}
	}
	return n
}
