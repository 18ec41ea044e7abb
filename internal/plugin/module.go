package plugin

import (
	"context"
	"errors"
	"time"

	"github.com/3-lines-studio/kiln/internal/core"
	"github.com/3-lines-studio/kiln/internal/metrics"
)

const (
	StageToolchain = "toolchain"
	StageLoader    = "loader"
)

type modulePlugin struct{}

func (modulePlugin) sealed() {}

func (modulePlugin) Name() string { return "module" }

func (modulePlugin) Stages() []string { return []string{StageToolchain, StageLoader} }

func (modulePlugin) Accepts(kind core.Kind) bool { return kind == core.KindModule }

// Apply runs the toolchain in the module directory, holding the directory
// lock for the duration of the run, and emits the binary plus its loader.
// Toolchain failures are returned as they are and fail the pass.
func (modulePlugin) Apply(ctx context.Context, env *Env, asset *core.Asset) (*Fragment, error) {
	if env.Toolchain == nil {
		return nil, &core.ToolchainError{Dir: asset.Path, ExitCode: -1, Cause: errors.New("no toolchain configured")}
	}

	locks := env.Locks
	if locks == nil {
		locks = NewKeyedMutex()
	}
	unlock, err := locks.Lock(ctx, asset.Path)
	if err != nil {
		return nil, err
	}
	defer unlock()

	name := core.ModuleName(asset.Path)
	log := env.logger().With("module", name)
	log.Infof("Compiling module %s", asset.Path)

	start := time.Now()
	binary, err := env.Toolchain.Build(ctx, asset.Path, core.ToolchainOutputName(name))
	if err != nil {
		metrics.ToolchainRuns.WithLabelValues("failure").Inc()
		var tcErr *core.ToolchainError
		if errors.As(err, &tcErr) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &core.ToolchainError{Dir: asset.Path, ExitCode: -1, Cause: err}
	}
	metrics.ToolchainRuns.WithLabelValues("success").Inc()
	log.Debugf("Module compiled in %s (%d bytes)", time.Since(start).Round(time.Millisecond), len(binary))

	binaryPath := core.BinaryPath(name, binary)
	loaderPath := core.LoaderPath(name)
	loader, err := Loader(name, core.PublicURL(env.Base, binaryPath))
	if err != nil {
		return nil, transformErr(asset, StageLoader, err)
	}

	sources := []string{asset.Path}
	return &Fragment{
		Source:   asset.Path,
		Kind:     core.KindModule,
		Strategy: Emit,
		Artifacts: []core.Artifact{
			{Path: binaryPath, Kind: core.KindModule, Content: binary, Sources: sources},
			{Path: loaderPath, Kind: core.KindModule, Content: loader, Sources: sources},
		},
		Module: &ModuleOutput{Name: name, Loader: loaderPath, Binary: binaryPath},
	}, nil
}
