// Package build runs one build pass: it walks the import graph from the
// entry, selects and applies a plugin per asset and merges the fragments
// into an ordered artifact set.
package build

import (
	iofs "io/fs"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/3-lines-studio/kiln/internal/core"
	"github.com/3-lines-studio/kiln/internal/logging"
	"github.com/3-lines-studio/kiln/internal/plugin"
	"github.com/3-lines-studio/kiln/internal/resolve"
)

type FileSystem interface {
	resolve.FileSystem
	WalkDir(root string, fn iofs.WalkDirFunc) error
}

type Options struct {
	Root        string
	Entry       string
	EntryOutput string
	Base        string
	Statics     []string
	Modules     []string
	Manifest    string
	Minify      bool
	Workers     int
}

// Builder holds what outlives a pass: the file system, plugin selection,
// injected collaborators and the per-directory toolchain locks.
type Builder struct {
	fs           FileSystem
	opts         Options
	matcher      *plugin.Matcher
	preprocessor plugin.StylePreprocessor
	toolchain    plugin.Toolchain
	locks        *plugin.KeyedMutex
	log          *logging.Logger
	passes       atomic.Uint64
}

type BuilderConfig struct {
	FS           FileSystem
	Options      Options
	Matcher      *plugin.Matcher
	Preprocessor plugin.StylePreprocessor
	Toolchain    plugin.Toolchain
	Logger       *logging.Logger
}

func NewBuilder(cfg BuilderConfig) *Builder {
	opts := cfg.Options
	if opts.EntryOutput == "" {
		opts.EntryOutput = filepath.Base(opts.Entry)
	}
	opts.Base = core.NormalizeBase(opts.Base)
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	matcher := cfg.Matcher
	if matcher == nil {
		matcher, _ = plugin.NewMatcher(nil)
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewNop()
	}

	return &Builder{
		fs:           cfg.FS,
		opts:         opts,
		matcher:      matcher,
		preprocessor: cfg.Preprocessor,
		toolchain:    cfg.Toolchain,
		locks:        plugin.NewKeyedMutex(),
		log:          log,
	}
}

func (b *Builder) Options() Options {
	return b.opts
}

// NewPass starts a pass with a fresh resolution cache and collision table.
func (b *Builder) NewPass() *Pass {
	id := b.passes.Add(1)
	return &Pass{
		ID:      id,
		builder: b,
		log:     b.log.With("pass", id),
		resolver: resolve.New(b.fs, resolve.Options{
			Root:     b.opts.Root,
			EntryDir: filepath.Dir(b.opts.Entry),
			Manifest: b.opts.Manifest,
		}, resolve.NewCache()),
		claims: make(map[string]string),
	}
}

// Pass is the state of one build pass. Nothing in it is shared with other
// passes.
type Pass struct {
	ID       uint64
	builder  *Builder
	log      *logging.Logger
	resolver *resolve.Resolver

	mu     sync.Mutex
	claims map[string]string
}

// Claim records that source produces dest. A second claim on dest by a
// different source is a collision.
func (p *Pass) Claim(dest, source string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.claims[dest]; ok && prev != source {
		return &core.DestinationCollisionError{Path: dest, First: prev, Second: source}
	}
	p.claims[dest] = source
	return nil
}

func (p *Pass) Resolver() *resolve.Resolver {
	return p.resolver
}

// Env returns the plugin environment for graph.
func (p *Pass) Env(g *Graph) *plugin.Env {
	opts := p.builder.opts
	env := &plugin.Env{
		Root:         opts.Root,
		Base:         opts.Base,
		Entry:        g.Entry.Path,
		EntryOutput:  opts.EntryOutput,
		Statics:      opts.Statics,
		Minify:       opts.Minify,
		Preprocessor: p.builder.preprocessor,
		Toolchain:    p.builder.toolchain,
		Locks:        p.builder.locks,
		Log:          p.log,
		Lookup:       g.Asset,
		Importers:    g.Importers,
	}
	if len(g.Styles) > 0 {
		env.StyleOutput = core.StylePathForEntry(opts.EntryOutput)
	}
	return env
}
