// Package plugin holds the closed set of transform plugins and the rules
// that select one per asset.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/3-lines-studio/kiln/internal/core"
	"github.com/3-lines-studio/kiln/internal/logging"
)

// Plugin transforms one asset into a fragment of the output. The set of
// implementations is closed: Style, Copy, Module and Script.
type Plugin interface {
	Name() string
	Stages() []string
	Accepts(kind core.Kind) bool
	Apply(ctx context.Context, env *Env, asset *core.Asset) (*Fragment, error)

	sealed()
}

type Strategy int

const (
	// Emit places the fragment's artifacts in the output as they are.
	Emit Strategy = iota
	// Concat appends the fragment's content to the merged artifact of its
	// kind, in import order.
	Concat
)

type Fragment struct {
	Source    string
	Kind      core.Kind
	Strategy  Strategy
	Content   []byte
	Artifacts []core.Artifact

	// Module is set by the module plugin.
	Module *ModuleOutput
}

type ModuleOutput struct {
	Name   string
	Loader string
	Binary string
}

type StylePreprocessor interface {
	Preprocess(ctx context.Context, path string, src []byte) ([]byte, error)
}

type PreprocessorFunc func(ctx context.Context, path string, src []byte) ([]byte, error)

func (f PreprocessorFunc) Preprocess(ctx context.Context, path string, src []byte) ([]byte, error) {
	return f(ctx, path, src)
}

// PlainCSS is the preprocessor for sources that are already CSS. Unlike
// other preprocessors it does not follow imports, so every sheet is
// compiled on its own.
var PlainCSS StylePreprocessor = plainCSS{}

type plainCSS struct{}

func (plainCSS) Preprocess(_ context.Context, _ string, src []byte) ([]byte, error) {
	return src, nil
}

// Toolchain compiles a module directory and returns the binary it produced.
type Toolchain interface {
	Build(ctx context.Context, dir, name string) ([]byte, error)
}

// Env is the read-only context plugins run in during one pass.
type Env struct {
	Root        string
	Base        string
	Entry       string
	EntryOutput string

	// StyleOutput is the merged style artifact path, empty when the graph
	// has no styles.
	StyleOutput string

	Statics      []string
	Minify       bool
	Preprocessor StylePreprocessor
	Toolchain    Toolchain
	Locks        *KeyedMutex
	Log          *logging.Logger

	// Lookup returns an asset of the current pass by canonical path.
	Lookup func(path string) (*core.Asset, bool)

	// Importers returns the assets that directly import path.
	Importers func(path string) []string
}

// DestFor returns the destination path an asset contributes to.
func (e *Env) DestFor(a *core.Asset) (string, error) {
	switch a.Kind {
	case core.KindScript:
		if a.Path == e.Entry {
			return e.EntryOutput, nil
		}
		return core.RelSlash(e.Root, a.Path)
	case core.KindStyle:
		return e.StyleOutput, nil
	case core.KindModule:
		return core.LoaderPath(core.ModuleName(a.Path)), nil
	default:
		root := a.Root
		if root == "" {
			root = e.Root
		}
		return core.RelSlash(root, a.Path)
	}
}

func (e *Env) logger() *logging.Logger {
	if e.Log == nil {
		return logging.NewNop()
	}
	return e.Log
}

// KeyedMutex serializes work per key. Lock waits until the key is free or
// ctx is done.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]chan struct{})}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	ch, ok := k.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.locks[key] = ch
	}
	k.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func transformErr(asset *core.Asset, stage string, err error) error {
	return &core.TransformError{Asset: asset.Path, Stage: stage, Cause: err}
}

func artifactFor(env *Env, asset *core.Asset, content []byte) (core.Artifact, error) {
	dest, err := env.DestFor(asset)
	if err != nil {
		return core.Artifact{}, fmt.Errorf("failed to compute destination of %s: %w", asset.Path, err)
	}
	return core.Artifact{Path: dest, Kind: asset.Kind, Content: content, Sources: []string{asset.Path}}, nil
}
