// Package kiln turns a web project's entry script, style sheets, static
// files and compiled modules into a deployable bundle, or serves that bundle
// from memory with live reload while sources change.
package kiln

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/3-lines-studio/kiln/internal/adapters/cli"
	"github.com/3-lines-studio/kiln/internal/adapters/fs"
	kilnhttp "github.com/3-lines-studio/kiln/internal/adapters/http"
	"github.com/3-lines-studio/kiln/internal/adapters/process"
	"github.com/3-lines-studio/kiln/internal/adapters/watch"
	"github.com/3-lines-studio/kiln/internal/build"
	"github.com/3-lines-studio/kiln/internal/config"
	"github.com/3-lines-studio/kiln/internal/core"
	"github.com/3-lines-studio/kiln/internal/logging"
	"github.com/3-lines-studio/kiln/internal/plugin"
	"github.com/3-lines-studio/kiln/internal/usecase"
)

type Config = config.Config

// StylePreprocessor compiles one style sheet to CSS.
type StylePreprocessor = plugin.StylePreprocessor

type PreprocessorFunc = plugin.PreprocessorFunc

// Toolchain compiles a module directory and returns the binary.
type Toolchain = plugin.Toolchain

type Artifact = core.Artifact

// PlainCSS passes style sheets through unchanged.
var PlainCSS = plugin.PlainCSS

var (
	ErrUnresolvedReference  = core.ErrUnresolvedReference
	ErrAmbiguousPluginMatch = core.ErrAmbiguousPluginMatch
	ErrTransform            = core.ErrTransform
	ErrDestinationCollision = core.ErrDestinationCollision
	ErrToolchain            = core.ErrToolchain
	ErrSourceNotFound       = core.ErrSourceNotFound
	ErrImportCycle          = core.ErrImportCycle
)

func LoadConfig(dir string) (*Config, error) {
	return config.Load(dir)
}

type Option func(*Bundler)

// WithStylePreprocessor replaces the preprocessor selected by
// style.preprocessor.
func WithStylePreprocessor(p StylePreprocessor) Option {
	return func(b *Bundler) { b.preprocessor = p }
}

// WithToolchain replaces the external module toolchain.
func WithToolchain(t Toolchain) Option {
	return func(b *Bundler) { b.toolchain = t }
}

// WithLogWriter sends structured logs to w instead of stderr.
func WithLogWriter(w io.Writer) Option {
	return func(b *Bundler) { b.logWriter = w }
}

// WithOutput sends the build report to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(b *Bundler) { b.output = cli.NewOutputTo(w) }
}

type Bundler struct {
	cfg          *Config
	log          *logging.Logger
	logWriter    io.Writer
	output       *cli.Output
	preprocessor StylePreprocessor
	toolchain    Toolchain
	builder      *build.Builder
}

func New(cfg *Config, opts ...Option) (*Bundler, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	b := &Bundler{cfg: cfg, logWriter: os.Stderr}
	for _, opt := range opts {
		opt(b)
	}

	log, err := logging.New(b.logWriter, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	b.log = log

	if b.output == nil {
		b.output = cli.NewOutput()
	}
	if b.preprocessor == nil {
		switch cfg.Style.Preprocessor {
		case config.PreprocessorCSS:
			b.preprocessor = plugin.PlainCSS
		default:
			b.preprocessor = process.NewCommandPreprocessor(cfg.Style.Command)
		}
	}
	if b.toolchain == nil {
		b.toolchain = process.NewToolchain(cfg.Toolchain.Command, cfg.Toolchain.Output, log)
	}

	rules := make([]plugin.RuleSpec, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, plugin.RuleSpec{Plugin: r.Plugin, Pattern: r.Pattern, Kind: r.Kind})
	}
	matcher, err := plugin.NewMatcher(rules)
	if err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}

	modules := make([]string, 0, len(cfg.Modules))
	for _, m := range cfg.Modules {
		modules = append(modules, m.Dir)
	}

	b.builder = build.NewBuilder(build.BuilderConfig{
		FS: fs.NewOSFileSystem(),
		Options: build.Options{
			Root:        cfg.Root,
			Entry:       cfg.Entry,
			EntryOutput: cfg.Output,
			Base:        cfg.Base,
			Statics:     cfg.Static,
			Modules:     modules,
			Manifest:    cfg.Toolchain.Manifest,
			Minify:      cfg.Minify,
			Workers:     cfg.Workers,
		},
		Matcher:      matcher,
		Preprocessor: b.preprocessor,
		Toolchain:    b.toolchain,
		Logger:       log,
	})
	return b, nil
}

func (b *Bundler) Config() *Config {
	return b.cfg
}

// Build runs one production pass and replaces the destination directory
// with its artifacts. On error the destination is left as it was.
func (b *Bundler) Build(ctx context.Context) ([]Artifact, error) {
	svc := usecase.NewBuildService(b.builder, usecase.TreeWriterFunc(fs.ProtectedWriteTree(b.cfg.Root, b.cfg.Entry)), b.output, b.log)
	out := svc.BuildProject(ctx, usecase.BuildInput{Dest: b.cfg.Dest})
	if out.Error != nil {
		return nil, out.Error
	}
	return out.Result.Artifacts, nil
}

// DevServer serves the in-memory artifact set and recomputes it on change.
type DevServer struct {
	svc     *usecase.DevService
	broker  *kilnhttp.Broker
	handler http.Handler
	log     *logging.Logger
}

// Dev runs the initial build and returns a server for it. A failing initial
// build is reported to clients and does not prevent serving.
func (b *Bundler) Dev(ctx context.Context) (*DevServer, error) {
	broker := kilnhttp.NewBroker()
	svc, err := usecase.NewDevService(b.builder, broker, b.log)
	if err != nil {
		return nil, err
	}
	if err := svc.Start(ctx); err != nil && ctx.Err() != nil {
		return nil, err
	}
	return &DevServer{
		svc:     svc,
		broker:  broker,
		handler: kilnhttp.NewAssetHandler(b.cfg.Base, svc, broker, func() any { return svc.Status() }),
		log:     b.log,
	}, nil
}

func (d *DevServer) Handler() http.Handler {
	return d.handler
}

// Changed recomputes after paths were modified. A recomputation superseded
// by a newer change to the same source is not an error.
func (d *DevServer) Changed(ctx context.Context, paths []string) error {
	_, err := d.svc.Recompute(ctx, paths)
	if errors.Is(err, usecase.ErrSuperseded) {
		return nil
	}
	return err
}

func (d *DevServer) Snapshot() []Artifact {
	return d.svc.Snapshot().List()
}

// Serve runs the development server on the configured address until ctx is
// done, recomputing artifacts when files under the project root change.
func (b *Bundler) Serve(ctx context.Context) error {
	dev, err := b.Dev(ctx)
	if err != nil {
		return err
	}

	w, err := watch.New(watch.Options{
		Roots: []string{b.cfg.Root},
		Skip:  []string{b.cfg.Dest},
		Log:   b.log,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		err := w.Run(ctx, func(paths []string) {
			b.log.Debugf("Changed: %v", paths)
			go func() {
				if err := dev.Changed(ctx, paths); err != nil && ctx.Err() == nil {
					b.log.Debugf("Recomputation failed: %v", err)
				}
			}()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			b.log.Errorf("Watcher stopped: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:              b.cfg.Addr,
		Handler:           dev.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		b.log.Infof("Serving %s at http://%s%s", b.cfg.Root, b.cfg.Addr, b.cfg.Base)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	}
}
