package plugin

import (
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/3-lines-studio/kiln/internal/core"
)

const (
	StageStripImports = "strip-imports"
	StagePreprocess   = "preprocess"
	StageRewriteURLs  = "rewrite-urls"
	StageMinify       = "minify"
)

var (
	styleImportLineRe = regexp.MustCompile(`(?m)^[ \t]*@(?:import|use|forward)[ \t]+[^;\n]*;?[ \t]*\r?\n?`)
	cssURLRe          = regexp.MustCompile(`url\(\s*(?:"([^"]*)"|'([^']*)'|([^)'"\s]*))\s*\)`)
)

type stylePlugin struct{}

func (stylePlugin) sealed() {}

func (stylePlugin) Name() string { return "style" }

func (stylePlugin) Stages() []string {
	return []string{StageStripImports, StagePreprocess, StageRewriteURLs, StageMinify}
}

func (stylePlugin) Accepts(kind core.Kind) bool { return kind == core.KindStyle }

func (p stylePlugin) Apply(ctx context.Context, env *Env, asset *core.Asset) (*Fragment, error) {
	preprocessor := env.Preprocessor
	if preprocessor == nil || isPlainCSS(asset.Path) {
		preprocessor = PlainCSS
	}
	_, plain := preprocessor.(plainCSS)

	// A sheet pulled in by a preprocessed sheet is compiled as part of its
	// importer, in the importer's scope.
	if !plain && compiledByImporter(env, asset) {
		return &Fragment{Source: asset.Path, Kind: core.KindStyle, Strategy: Concat}, nil
	}

	src := stripStyleImports(asset, plain)
	css, err := preprocessor.Preprocess(ctx, asset.Path, src)
	if err != nil {
		return nil, transformErr(asset, StagePreprocess, err)
	}

	css, err = rewriteURLs(env, asset, css)
	if err != nil {
		return nil, transformErr(asset, StageRewriteURLs, err)
	}

	if env.Minify {
		css, err = minifyCSS(css)
		if err != nil {
			return nil, transformErr(asset, StageMinify, err)
		}
	}

	if len(css) > 0 && css[len(css)-1] != '\n' {
		css = append(css, '\n')
	}

	return &Fragment{
		Source:   asset.Path,
		Kind:     core.KindStyle,
		Strategy: Concat,
		Content:  css,
	}, nil
}

// stripStyleImports removes import rules whose targets are merged
// separately, dependencies first. A preprocessed sheet keeps its imports of
// other preprocessed sheets so the preprocessor sees their declarations.
func stripStyleImports(asset *core.Asset, plain bool) []byte {
	if len(asset.Resolved) == 0 {
		return asset.Content
	}
	return styleImportLineRe.ReplaceAllFunc(asset.Content, func(line []byte) []byte {
		for ref, target := range asset.Resolved {
			if !plain && !isPlainCSS(target) {
				continue
			}
			if bytes.Contains(line, []byte(`"`+ref+`"`)) || bytes.Contains(line, []byte(`'`+ref+`'`)) || containsBare(line, ref) {
				return nil
			}
		}
		return line
	})
}

func compiledByImporter(env *Env, asset *core.Asset) bool {
	if env.Importers == nil || env.Lookup == nil {
		return false
	}
	for _, path := range env.Importers(asset.Path) {
		if importer, ok := env.Lookup(path); ok && importer.Kind == core.KindStyle && !isPlainCSS(importer.Path) {
			return true
		}
	}
	return false
}

func isPlainCSS(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".css")
}

func containsBare(line []byte, ref string) bool {
	for _, field := range strings.FieldsFunc(string(line), func(r rune) bool { return r == ' ' || r == ',' || r == '\t' || r == ';' || r == '\n' || r == '\r' }) {
		if field == ref {
			return true
		}
	}
	return false
}

// rewriteURLs points url() references at the public location of the static
// file they name. Targets must live in a static directory.
func rewriteURLs(env *Env, asset *core.Asset, css []byte) ([]byte, error) {
	var firstErr error
	out := cssURLRe.ReplaceAllFunc(css, func(match []byte) []byte {
		sub := cssURLRe.FindSubmatch(match)
		ref := string(sub[1]) + string(sub[2]) + string(sub[3])
		if ref == "" || core.IsExternal(ref) {
			return match
		}
		url, err := publicAssetURL(env, asset, ref)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return []byte(`url("` + url + `")`)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func publicAssetURL(env *Env, asset *core.Asset, ref string) (string, error) {
	target, suffix := ref, ""
	if i := strings.IndexAny(target, "?#"); i >= 0 {
		target, suffix = target[:i], target[i:]
	}

	if strings.HasPrefix(target, "/") {
		return core.PublicURL(env.Base, target) + suffix, nil
	}

	abs := filepath.Join(filepath.Dir(asset.Path), filepath.FromSlash(target))
	for _, dir := range env.Statics {
		if rel, err := core.RelSlash(dir, abs); err == nil {
			return core.PublicURL(env.Base, rel) + suffix, nil
		}
	}
	return "", &core.UnresolvedReferenceError{Ref: ref, From: asset.Path}
}
