package build

import (
	"bytes"
	"fmt"

	"github.com/3-lines-studio/kiln/internal/core"
	"github.com/3-lines-studio/kiln/internal/plugin"
)

// Result is the outcome of a merged pass.
type Result struct {
	Pass      uint64
	Graph     *Graph
	Artifacts []core.Artifact
	Manifest  *core.Manifest
	Fragments map[string]*plugin.Fragment
}

// Set returns the artifacts as an immutable set tagged with the pass id.
func (r *Result) Set() *core.ArtifactSet {
	return core.NewArtifactSet(r.Pass, r.Artifacts)
}

// Merge combines fragments into artifacts in emission order: modules,
// scripts (entry last), the merged style sheet, statics and the manifest.
// With allowMissing, assets without a fragment are left out instead of
// failing the merge.
func (p *Pass) Merge(g *Graph, fragments map[string]*plugin.Fragment, allowMissing bool) (*Result, error) {
	opts := p.builder.opts
	res := &Result{Pass: p.ID, Graph: g, Fragments: fragments}
	manifest := &core.Manifest{Script: opts.EntryOutput}
	if rel, err := core.RelSlash(opts.Root, g.Entry.Path); err == nil {
		manifest.Entry = rel
	} else {
		manifest.Entry = g.Entry.Path
	}

	fragment := func(path string) (*plugin.Fragment, error) {
		frag, ok := fragments[path]
		if !ok {
			if allowMissing {
				return nil, nil
			}
			return nil, fmt.Errorf("asset %s has no output", path)
		}
		return frag, nil
	}

	emit := func(a core.Artifact) error {
		if err := p.Claim(a.Path, a.Sources[0]); err != nil {
			return err
		}
		res.Artifacts = append(res.Artifacts, a)
		return nil
	}

	var styleFrags []*plugin.Fragment
	emitAll := func(paths []string, record func(*plugin.Fragment, core.Artifact)) error {
		for _, path := range paths {
			frag, err := fragment(path)
			if err != nil {
				return err
			}
			if frag == nil {
				continue
			}
			if frag.Strategy == plugin.Concat {
				styleFrags = append(styleFrags, frag)
				continue
			}
			for _, a := range frag.Artifacts {
				if err := emit(a); err != nil {
					return err
				}
				if record != nil {
					record(frag, a)
				}
			}
		}
		return nil
	}

	err := emitAll(g.Modules, func(frag *plugin.Fragment, _ core.Artifact) {
		if frag.Module == nil {
			return
		}
		if manifest.Modules == nil {
			manifest.Modules = make(map[string]core.ManifestModule)
		}
		manifest.Modules[frag.Module.Name] = core.ManifestModule{Loader: frag.Module.Loader, Binary: frag.Module.Binary}
	})
	if err != nil {
		return nil, err
	}

	err = emitAll(g.Scripts, func(_ *plugin.Fragment, a core.Artifact) {
		if a.Path != opts.EntryOutput {
			manifest.Scripts = append(manifest.Scripts, a.Path)
		}
	})
	if err != nil {
		return nil, err
	}

	// Style fragments concatenate in import order into one sheet.
	if err := emitAll(g.Styles, nil); err != nil {
		return nil, err
	}
	if len(styleFrags) > 0 {
		var buf bytes.Buffer
		sources := make([]string, 0, len(styleFrags))
		for _, frag := range styleFrags {
			buf.Write(frag.Content)
			sources = append(sources, frag.Source)
		}
		path := core.StylePathForEntry(opts.EntryOutput)
		if err := emit(core.Artifact{Path: path, Kind: core.KindStyle, Content: buf.Bytes(), Sources: sources}); err != nil {
			return nil, err
		}
		manifest.Style = path
	}

	err = emitAll(g.Statics, func(_ *plugin.Fragment, a core.Artifact) {
		manifest.Static = append(manifest.Static, a.Path)
	})
	if err != nil {
		return nil, err
	}

	data, err := core.EncodeManifest(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := emit(core.Artifact{Path: core.ManifestPath, Kind: core.KindStatic, Content: data, Sources: []string{core.ManifestPath}}); err != nil {
		return nil, err
	}

	res.Manifest = manifest
	return res, nil
}
