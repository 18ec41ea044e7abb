package plugin

import (
	"context"
	"fmt"
	"strings"

	"github.com/3-lines-studio/kiln/internal/core"
	"github.com/3-lines-studio/kiln/internal/resolve"
)

const (
	StageRewriteImports = "rewrite-imports"
	StageInjectStyle    = "inject-style"
)

type scriptPlugin struct{}

func (scriptPlugin) sealed() {}

func (scriptPlugin) Name() string { return "script" }

func (scriptPlugin) Stages() []string {
	return []string{StageRewriteImports, StageInjectStyle, StageMinify}
}

func (scriptPlugin) Accepts(kind core.Kind) bool { return kind == core.KindScript }

// Apply rewrites import specifiers to public URLs. Module imports point at
// the module's loader, style imports are dropped because styles ship as one
// merged sheet that the entry script links.
func (scriptPlugin) Apply(ctx context.Context, env *Env, asset *core.Asset) (*Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	code, err := rewriteScriptImports(env, asset)
	if err != nil {
		return nil, transformErr(asset, StageRewriteImports, err)
	}

	if asset.Path == env.Entry && env.StyleOutput != "" {
		code = styleInjector(core.PublicURL(env.Base, env.StyleOutput)) + code
	}

	out := []byte(code)
	if env.Minify {
		out, err = minifyJS(out)
		if err != nil {
			return nil, transformErr(asset, StageMinify, err)
		}
	}

	artifact, err := artifactFor(env, asset, out)
	if err != nil {
		return nil, transformErr(asset, StageRewriteImports, err)
	}
	return &Fragment{
		Source:    asset.Path,
		Kind:      core.KindScript,
		Strategy:  Emit,
		Artifacts: []core.Artifact{artifact},
	}, nil
}

func rewriteScriptImports(env *Env, asset *core.Asset) (string, error) {
	src := string(asset.Content)
	spans := resolve.ScriptImportSpans(src)
	if len(spans) == 0 {
		return src, nil
	}

	var b strings.Builder
	b.Grow(len(src))
	last := 0
	for _, span := range spans {
		spec := span.Spec(src)
		path, ok := asset.Resolved[spec]
		if !ok {
			continue
		}
		target, ok := env.Lookup(path)
		if !ok {
			return "", fmt.Errorf("import %q resolved to %s which is not part of the pass", spec, path)
		}

		if target.Kind == core.KindStyle {
			if span.Dynamic {
				return "", fmt.Errorf("style sheet %q cannot be loaded with import(); import it statically", spec)
			}
			if strings.TrimSpace(src[span.Start:span.SpecStart-1]) != "import" {
				return "", fmt.Errorf("style import %q cannot bind names; style sheets are merged into %s", spec, env.StyleOutput)
			}
			b.WriteString(src[last:span.Start])
			last = skipStatementEnd(src, span.End)
			continue
		}

		dest, err := env.DestFor(target)
		if err != nil {
			return "", err
		}
		b.WriteString(src[last:span.SpecStart])
		b.WriteString(core.PublicURL(env.Base, dest))
		last = span.SpecEnd
	}
	b.WriteString(src[last:])
	return b.String(), nil
}

// skipStatementEnd returns the offset after an optional semicolon and the
// rest of the line following a removed statement.
func skipStatementEnd(src string, i int) int {
	if i < len(src) && src[i] == ';' {
		i++
	}
	for i < len(src) && (src[i] == ' ' || src[i] == '\t') {
		i++
	}
	if i < len(src) && src[i] == '\r' {
		i++
	}
	if i < len(src) && src[i] == '\n' {
		i++
	}
	return i
}

func styleInjector(href string) string {
	return fmt.Sprintf(`(() => {
  const link = document.createElement("link");
  link.rel = "stylesheet";
  link.href = %q;
  document.head.appendChild(link);
})();
`, href)
}
