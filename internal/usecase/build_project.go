package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3-lines-studio/kiln/internal/adapters/cli"
	"github.com/3-lines-studio/kiln/internal/build"
	"github.com/3-lines-studio/kiln/internal/core"
	"github.com/3-lines-studio/kiln/internal/logging"
	"github.com/3-lines-studio/kiln/internal/metrics"
)

type BuildInput struct {
	Dest string
}

type BuildOutput struct {
	Success bool
	Error   error
	Result  *build.Result
}

type BuildService struct {
	builder *build.Builder
	writer  TreeWriter
	cli     CLIOutput
	log     *logging.Logger
}

func NewBuildService(builder *build.Builder, writer TreeWriter, cli CLIOutput, log *logging.Logger) *BuildService {
	if log == nil {
		log = logging.NewNop()
	}
	return &BuildService{
		builder: builder,
		writer:  writer,
		cli:     cli,
		log:     log,
	}
}

// BuildProject runs one production pass and writes the result to
// input.Dest. The first fatal error aborts the pass and leaves the
// destination as it was.
func (s *BuildService) BuildProject(ctx context.Context, input BuildInput) BuildOutput {
	start := time.Now()
	s.cli.PrintHeader("Kiln Build")

	report := cli.NewBuildReport(s.cli, input.Dest)
	fail := func(step *cli.BuildStep, err error) BuildOutput {
		report.EndStep(step, false, err.Error())
		report.AddError(errorAsset(err), core.ErrorType(err), []string{err.Error()})
		report.Render()
		metrics.BuildFailedWith(core.ErrorType(err))
		s.log.Debugf("Build failed: %v", err)
		return BuildOutput{Success: false, Error: err}
	}

	pass := s.builder.NewPass()

	step := report.StartStep("Resolving assets")
	g, err := pass.Walk(ctx)
	if err != nil {
		return fail(step, err)
	}
	report.SetAssets(g.Kinds())
	report.EndStep(step, true, "")

	step = report.StartStep("Selecting plugins")
	plan, err := pass.Plan(g)
	if err != nil {
		return fail(step, err)
	}
	report.EndStep(step, true, "")

	step = report.StartStep("Transforming assets")
	tr, err := pass.Transform(ctx, g, plan, g.Paths(), true)
	if err != nil {
		return fail(step, err)
	}
	report.EndStep(step, true, "")

	step = report.StartStep("Merging artifacts")
	res, err := pass.Merge(g, tr.Fragments, false)
	if err != nil {
		return fail(step, err)
	}
	report.EndStep(step, true, "")

	step = report.StartStep("Writing output")
	if err := s.writer.WriteTree(ctx, input.Dest, res.Artifacts); err != nil {
		return fail(step, fmt.Errorf("failed to write %s: %w", input.Dest, err))
	}
	report.EndStep(step, true, "")

	report.SetArtifacts(res.Artifacts)
	report.Render()
	metrics.BuildSucceeded(start)
	s.log.Infof("Wrote %d artifacts to %s", len(res.Artifacts), input.Dest)

	return BuildOutput{Success: true, Result: res}
}

// errorAsset returns the source path an error is about, or "build".
func errorAsset(err error) string {
	var (
		unresolved *core.UnresolvedReferenceError
		ambiguous  *core.AmbiguousPluginMatchError
		transform  *core.TransformError
		collision  *core.DestinationCollisionError
		toolchain  *core.ToolchainError
		notFound   *core.SourceNotFoundError
		cycle      *core.ImportCycleError
	)
	switch {
	case errors.As(err, &unresolved):
		return unresolved.From
	case errors.As(err, &ambiguous):
		return ambiguous.Asset
	case errors.As(err, &transform):
		return transform.Asset
	case errors.As(err, &collision):
		return collision.Path
	case errors.As(err, &toolchain):
		return toolchain.Dir
	case errors.As(err, &notFound):
		return notFound.Path
	case errors.As(err, &cycle):
		return cycle.From
	}
	return "build"
}
