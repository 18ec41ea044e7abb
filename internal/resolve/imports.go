package resolve

import (
	"regexp"
	"strings"

	"github.com/3-lines-studio/kiln/internal/core"
)

var (
	scriptImportRe = regexp.MustCompile(`(?m)(?:^[ \t]*(?:import|export)[ \t]+(?:[\w*{}\s,$]+?\s+from\s*)?["']([^"'\n]+)["'])|(?:\bimport\s*\(\s*["']([^"'\n]+)["']\s*\))`)
	styleImportRe  = regexp.MustCompile(`(?m)^[ \t]*@(?:import|use|forward)[ \t]+([^;\n]+)`)
	quotedRe       = regexp.MustCompile(`["']([^"']+)["']`)
)

// ScanImports extracts import specifiers from an asset's content in
// declaration order. Repeated specifiers are reported once; external
// references are omitted. Only scripts and styles have imports.
func ScanImports(kind core.Kind, content []byte) []string {
	var refs []string
	switch kind {
	case core.KindScript:
		refs = scanScript(string(content))
	case core.KindStyle:
		refs = scanStyle(string(content))
	default:
		return nil
	}

	seen := make(map[string]bool, len(refs))
	out := refs[:0]
	for _, ref := range refs {
		if ref == "" || seen[ref] || core.IsExternal(ref) {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Span locates one import statement in a script and its specifier.
type Span struct {
	Start, End         int
	SpecStart, SpecEnd int
	Dynamic            bool
}

func (s Span) Spec(src string) string {
	return src[s.SpecStart:s.SpecEnd]
}

// ScriptImportSpans returns the import statements of a script in source
// order.
func ScriptImportSpans(src string) []Span {
	matches := scriptImportRe.FindAllStringSubmatchIndex(src, -1)
	spans := make([]Span, 0, len(matches))
	for _, m := range matches {
		span := Span{Start: m[0], End: m[1]}
		if m[2] >= 0 {
			span.SpecStart, span.SpecEnd = m[2], m[3]
		} else {
			span.SpecStart, span.SpecEnd = m[4], m[5]
			span.Dynamic = true
		}
		spans = append(spans, span)
	}
	return spans
}

func scanScript(src string) []string {
	var refs []string
	for _, span := range ScriptImportSpans(src) {
		refs = append(refs, span.Spec(src))
	}
	return refs
}

func scanStyle(src string) []string {
	var refs []string
	for _, m := range styleImportRe.FindAllStringSubmatch(src, -1) {
		args := strings.TrimSpace(m[1])
		if quoted := quotedRe.FindAllStringSubmatch(args, -1); len(quoted) > 0 {
			for _, q := range quoted {
				if isURLArg(args, q[0]) {
					continue
				}
				refs = append(refs, q[1])
				if !strings.Contains(args, ",") {
					break
				}
			}
			continue
		}
		// Indented sass allows unquoted targets: @import base, theme
		for _, part := range strings.Split(args, ",") {
			part = strings.TrimSpace(part)
			if part == "" || strings.HasPrefix(part, "url(") {
				continue
			}
			refs = append(refs, strings.Fields(part)[0])
		}
	}
	return refs
}

func isURLArg(args, quoted string) bool {
	i := strings.Index(args, quoted)
	return i >= 4 && strings.HasSuffix(strings.TrimSpace(args[:i]), "url(")
}
