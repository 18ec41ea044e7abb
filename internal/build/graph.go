package build

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"slices"
	"sort"
	"sync"

	"github.com/dominikbraun/graph"
	"golang.org/x/sync/errgroup"

	"github.com/3-lines-studio/kiln/internal/core"
)

// Graph binds the entry to every asset reachable from it. Edges point from
// importer to imported asset and never form a cycle.
type Graph struct {
	Entry  *core.Asset
	Assets map[string]*core.Asset

	// Modules are in first-reference order followed by configured modules.
	// Scripts and Styles are in post-order, dependencies first. Statics are
	// sorted by destination path.
	Modules []string
	Scripts []string
	Styles  []string
	Statics []string

	mu    sync.Mutex
	edges graph.Graph[string, string]
}

func newGraph() *Graph {
	return &Graph{
		Assets: make(map[string]*core.Asset),
		edges:  graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles()),
	}
}

func (g *Graph) Asset(path string) (*core.Asset, bool) {
	a, ok := g.Assets[path]
	return a, ok
}

func (g *Graph) addVertex(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_ = g.edges.AddVertex(path)
}

func (g *Graph) link(from, to *core.Asset) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	_ = g.edges.AddVertex(from.Path)
	_ = g.edges.AddVertex(to.Path)
	err := g.edges.AddEdge(from.Path, to.Path)
	switch {
	case err == nil, errors.Is(err, graph.ErrEdgeAlreadyExists):
		return nil
	case errors.Is(err, graph.ErrEdgeCreatesCycle):
		return &core.ImportCycleError{From: from.Path, To: to.Path}
	default:
		return fmt.Errorf("failed to link %s to %s: %w", from.Path, to.Path, err)
	}
}

// Importers returns the assets that directly import path, sorted.
func (g *Graph) Importers(path string) []string {
	g.mu.Lock()
	preds, err := g.edges.PredecessorMap()
	g.mu.Unlock()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(preds[path]))
	for importer := range preds[path] {
		out = append(out, importer)
	}
	sort.Strings(out)
	return out
}

// Dependents returns the assets that transitively import path through
// importers of the same kind, nearest first.
func (g *Graph) Dependents(path string) []string {
	target, ok := g.Assets[path]
	if !ok {
		return nil
	}

	g.mu.Lock()
	preds, err := g.edges.PredecessorMap()
	g.mu.Unlock()
	if err != nil {
		return nil
	}

	var out []string
	seen := map[string]bool{path: true}
	queue := []string{path}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		importers := make([]string, 0, len(preds[current]))
		for importer := range preds[current] {
			importers = append(importers, importer)
		}
		sort.Strings(importers)

		for _, importer := range importers {
			a, ok := g.Assets[importer]
			if seen[importer] || !ok || a.Kind != target.Kind {
				continue
			}
			seen[importer] = true
			out = append(out, importer)
			queue = append(queue, importer)
		}
	}
	return out
}

// Walk resolves the entry, every asset it transitively imports, the
// configured modules and the static directories.
func (p *Pass) Walk(ctx context.Context) (*Graph, error) {
	opts := p.builder.opts
	g := newGraph()

	// Static directories are registered first so a file that is both
	// imported and static keeps its static destination.
	statics, staticCtx := errgroup.WithContext(ctx)
	statics.SetLimit(opts.Workers)
	for _, dir := range opts.Statics {
		statics.Go(func() error { return p.walkStatic(staticCtx, g, dir) })
	}
	if err := statics.Wait(); err != nil {
		return nil, err
	}

	entry, _, err := p.resolver.Resolve(ctx, opts.Entry, nil)
	if err != nil {
		return nil, err
	}
	if entry.Kind != core.KindScript {
		return nil, fmt.Errorf("entry %s is a %s, not a script", entry.Path, entry.Kind)
	}
	g.Entry = entry
	g.addVertex(entry.Path)

	eg, egCtx := errgroup.WithContext(ctx)
	var walk func(asset *core.Asset) error
	walk = func(asset *core.Asset) error {
		resolved := make(map[string]string, len(asset.Refs))
		imports := make([]string, 0, len(asset.Refs))
		for _, ref := range asset.Refs {
			child, created, err := p.resolver.Resolve(egCtx, ref, asset)
			if err != nil {
				return err
			}
			resolved[ref] = child.Path
			if !slices.Contains(imports, child.Path) {
				imports = append(imports, child.Path)
			}
			if err := g.link(asset, child); err != nil {
				return err
			}
			if created {
				eg.Go(func() error { return walk(child) })
			}
		}
		asset.Resolved = resolved
		asset.Imports = imports
		return nil
	}
	eg.Go(func() error { return walk(entry) })

	for _, dir := range opts.Modules {
		eg.Go(func() error {
			mod, _, err := p.resolver.Resolve(egCtx, dir, nil)
			if err != nil {
				return err
			}
			if mod.Kind != core.KindModule {
				return fmt.Errorf("configured module %s has no %s", dir, opts.Manifest)
			}
			g.addVertex(mod.Path)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, a := range p.resolver.Cache().Assets() {
		g.Assets[a.Path] = a
	}
	p.order(g)

	p.log.Debugf("Resolved %d assets from %s", len(g.Assets), entry.Path)
	return g, nil
}

func (p *Pass) walkStatic(ctx context.Context, g *Graph, dir string) error {
	info, err := p.builder.fs.Stat(dir)
	if errors.Is(err, iofs.ErrNotExist) {
		p.log.Debugf("Static directory %s does not exist, skipping", dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat static directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("static path %s is not a directory", dir)
	}

	return p.builder.fs.WalkDir(dir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return ctx.Err()
		}
		asset, _, err := p.resolver.Static(ctx, dir, path)
		if err != nil {
			return err
		}
		g.addVertex(asset.Path)
		return nil
	})
}

// order fills the emission order lists. It walks imports in declaration
// order, so the result does not depend on resolution concurrency.
func (p *Pass) order(g *Graph) {
	visited := make(map[string]bool, len(g.Assets))
	var visit func(path string)
	visit = func(path string) {
		if visited[path] {
			return
		}
		visited[path] = true
		a := g.Assets[path]
		if a.Kind == core.KindModule {
			g.Modules = append(g.Modules, path)
		}
		for _, imp := range a.Imports {
			visit(imp)
		}
		switch a.Kind {
		case core.KindScript:
			g.Scripts = append(g.Scripts, path)
		case core.KindStyle:
			g.Styles = append(g.Styles, path)
		case core.KindStatic:
			g.Statics = append(g.Statics, path)
		}
	}
	visit(g.Entry.Path)

	for _, dir := range p.builder.opts.Modules {
		if path, _, err := p.resolver.Locate(dir, nil); err == nil {
			visit(path)
		}
	}

	var statics []string
	for path, a := range g.Assets {
		if a.Kind == core.KindStatic && !visited[path] {
			statics = append(statics, path)
		}
	}
	g.Statics = append(g.Statics, statics...)

	dest := func(path string) string {
		a := g.Assets[path]
		rel, err := core.RelSlash(a.Root, a.Path)
		if err != nil {
			return a.Path
		}
		return rel
	}
	sort.SliceStable(g.Statics, func(i, j int) bool {
		di, dj := dest(g.Statics[i]), dest(g.Statics[j])
		if di != dj {
			return di < dj
		}
		return g.Statics[i] < g.Statics[j]
	})
}
