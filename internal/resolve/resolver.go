// Package resolve maps import references to assets and keeps the per-pass
// resolution cache.
package resolve

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/3-lines-studio/kiln/internal/core"
)

var (
	StyleExtensions  = []string{".sass", ".scss", ".css"}
	ScriptExtensions = []string{".js", ".mjs"}
)

type FileSystem interface {
	Stat(path string) (iofs.FileInfo, error)
	ReadFile(path string) ([]byte, error)
}

type Options struct {
	// Root is the project directory. Script and style destinations are
	// computed relative to it.
	Root string

	// EntryDir anchors bare references.
	EntryDir string

	// Manifest is the file name that marks a directory as a module.
	Manifest string
}

// Resolver resolves references for one build pass. It is safe for
// concurrent use.
type Resolver struct {
	fs    FileSystem
	opts  Options
	cache *Cache
}

func New(fsys FileSystem, opts Options, cache *Cache) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	if opts.EntryDir == "" {
		opts.EntryDir = opts.Root
	}
	if opts.Manifest == "" {
		opts.Manifest = "Cargo.toml"
	}
	return &Resolver{fs: fsys, opts: opts, cache: cache}
}

func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve maps ref, as written in from, to an asset. A nil from resolves
// ref as a top-level reference (the entry or a configured module). created
// is true for exactly one caller per canonical path and pass.
func (r *Resolver) Resolve(ctx context.Context, ref string, from *core.Asset) (asset *core.Asset, created bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	path, kind, err := r.Locate(ref, from)
	if err != nil {
		return nil, false, err
	}

	return r.cache.LoadOrCreate(path, func() (*core.Asset, error) {
		return r.load(path, kind, r.opts.Root)
	})
}

// Static registers a file from a static directory. Its destination is
// computed relative to dir.
func (r *Resolver) Static(ctx context.Context, dir, path string) (*core.Asset, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	path = filepath.Clean(path)
	return r.cache.LoadOrCreate(path, func() (*core.Asset, error) {
		return r.load(path, core.KindStatic, dir)
	})
}

// Locate returns the canonical path and kind for ref without reading it.
// Resolution order: exact file, extension inference for the referring kind,
// module directory.
func (r *Resolver) Locate(ref string, from *core.Asset) (string, core.Kind, error) {
	unresolved := &core.UnresolvedReferenceError{Ref: ref, From: "<entry>"}
	if from != nil {
		unresolved.From = from.Path
	}
	if ref == "" || core.IsExternal(ref) {
		return "", core.KindUnknown, unresolved
	}

	base := r.candidateBase(ref, from)

	if info, err := r.fs.Stat(base); err == nil {
		if !info.IsDir() {
			return base, KindOf(base), nil
		}
		if r.isModuleDir(base) {
			return base, core.KindModule, nil
		}
	}

	fromKind := core.KindUnknown
	if from != nil {
		fromKind = from.Kind
	}
	for _, candidate := range inferCandidates(base, fromKind) {
		if info, err := r.fs.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, KindOf(candidate), nil
		}
	}

	return "", core.KindUnknown, unresolved
}

func (r *Resolver) candidateBase(ref string, from *core.Asset) string {
	native := filepath.FromSlash(ref)
	switch {
	case filepath.IsAbs(native):
		return filepath.Clean(native)
	case from != nil && (strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../")):
		return filepath.Join(filepath.Dir(from.Path), native)
	case from != nil && from.Kind == core.KindStyle:
		// Style imports are relative to the importing sheet even without a
		// leading ./
		return filepath.Join(filepath.Dir(from.Path), native)
	default:
		return filepath.Join(r.opts.EntryDir, native)
	}
}

func (r *Resolver) isModuleDir(dir string) bool {
	info, err := r.fs.Stat(filepath.Join(dir, r.opts.Manifest))
	return err == nil && !info.IsDir()
}

func inferCandidates(base string, fromKind core.Kind) []string {
	var exts []string
	switch fromKind {
	case core.KindStyle:
		exts = StyleExtensions
	case core.KindScript:
		exts = ScriptExtensions
	default:
		exts = slices.Concat(ScriptExtensions, StyleExtensions)
	}

	candidates := make([]string, 0, len(exts)*2)
	if filepath.Ext(base) == "" || fromKind == core.KindStyle {
		for _, ext := range exts {
			candidates = append(candidates, base+ext)
		}
	}
	if fromKind == core.KindStyle {
		dir, name := filepath.Split(base)
		if !strings.HasPrefix(name, "_") {
			partial := filepath.Join(dir, "_"+name)
			candidates = append(candidates, partial)
			for _, ext := range exts {
				candidates = append(candidates, partial+ext)
			}
		}
	}
	return candidates
}

func (r *Resolver) load(path string, kind core.Kind, root string) (*core.Asset, error) {
	asset := &core.Asset{Path: path, Kind: kind, Root: root}
	if kind == core.KindModule {
		return asset, nil
	}

	content, err := r.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, &core.SourceNotFoundError{Path: path}
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	asset.Content = content
	asset.Refs = ScanImports(kind, content)
	return asset, nil
}

// KindOf infers the kind of a file from its extension.
func KindOf(path string) core.Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case slices.Contains(StyleExtensions, ext):
		return core.KindStyle
	case slices.Contains(ScriptExtensions, ext):
		return core.KindScript
	default:
		return core.KindStatic
	}
}
