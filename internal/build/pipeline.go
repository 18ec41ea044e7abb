package build

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/3-lines-studio/kiln/internal/core"
	"github.com/3-lines-studio/kiln/internal/metrics"
	"github.com/3-lines-studio/kiln/internal/plugin"
)

// Plan selects the plugin of every asset in the graph. It runs before any
// transform so configuration errors surface first.
func (p *Pass) Plan(g *Graph) (map[string]plugin.Plugin, error) {
	paths := make([]string, 0, len(g.Assets))
	for path := range g.Assets {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	plan := make(map[string]plugin.Plugin, len(paths))
	for _, path := range paths {
		pl, err := p.builder.matcher.Select(g.Assets[path])
		if err != nil {
			return nil, err
		}
		plan[path] = pl
	}
	return plan, nil
}

// TransformResult holds the fragments of the assets that transformed and
// the errors of those that did not.
type TransformResult struct {
	Fragments map[string]*plugin.Fragment
	Errors    map[string]error
}

// Transform applies the planned plugins to paths on a bounded worker pool.
// With failFast the first error cancels the remaining transforms and is
// returned; otherwise failures are collected per asset.
func (p *Pass) Transform(ctx context.Context, g *Graph, plan map[string]plugin.Plugin, paths []string, failFast bool) (*TransformResult, error) {
	env := p.Env(g)
	res := &TransformResult{
		Fragments: make(map[string]*plugin.Fragment, len(paths)),
		Errors:    make(map[string]error),
	}
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.builder.opts.Workers)

	for _, path := range paths {
		asset, pl := g.Assets[path], plan[path]
		if asset == nil || pl == nil {
			continue
		}
		eg.Go(func() error {
			runCtx := ctx
			if failFast {
				runCtx = egCtx
			}
			start := time.Now()
			frag, err := pl.Apply(runCtx, env, asset)
			metrics.TransformObserved(pl.Name(), start)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.log.With("asset", asset.Path).Debugf("Transform with %s failed: %v", pl.Name(), err)
				res.Errors[path] = err
				if failFast {
					return err
				}
				return nil
			}
			res.Fragments[path] = frag
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

// Run executes a complete pass and fails on the first fatal error.
func (p *Pass) Run(ctx context.Context) (*Result, error) {
	g, err := p.Walk(ctx)
	if err != nil {
		return nil, err
	}

	plan, err := p.Plan(g)
	if err != nil {
		return nil, err
	}

	tr, err := p.Transform(ctx, g, plan, g.Paths(), true)
	if err != nil {
		return nil, err
	}

	return p.Merge(g, tr.Fragments, false)
}

// Paths returns every asset path in emission order.
func (g *Graph) Paths() []string {
	out := make([]string, 0, len(g.Assets))
	out = append(out, g.Modules...)
	out = append(out, g.Scripts...)
	out = append(out, g.Styles...)
	out = append(out, g.Statics...)
	return out
}

// Kinds counts the graph's assets per kind.
func (g *Graph) Kinds() map[core.Kind]int {
	out := make(map[core.Kind]int)
	for _, a := range g.Assets {
		out[a.Kind]++
	}
	return out
}
