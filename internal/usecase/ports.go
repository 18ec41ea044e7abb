package usecase

import (
	"context"
	"io"

	kilnhttp "github.com/3-lines-studio/kiln/internal/adapters/http"
	"github.com/3-lines-studio/kiln/internal/core"
)

type CLIOutput interface {
	PrintHeader(msg string)
	PrintStep(msg string, args ...any)
	PrintSuccess(msg string, args ...any)
	PrintWarning(msg string, args ...any)
	PrintError(msg string, args ...any)
	PrintFile(path string)
	PrintDone(msg string)

	Green(text string) string
	Yellow(text string) string
	Red(text string) string
	Gray(text string) string
	Writer() io.Writer
}

// TreeWriter replaces a destination directory with a set of artifacts.
type TreeWriter interface {
	WriteTree(ctx context.Context, dest string, artifacts []core.Artifact) error
}

type TreeWriterFunc func(ctx context.Context, dest string, artifacts []core.Artifact) error

func (f TreeWriterFunc) WriteTree(ctx context.Context, dest string, artifacts []core.Artifact) error {
	return f(ctx, dest, artifacts)
}

// Notifier receives live-reload events.
type Notifier interface {
	Notify(evt kilnhttp.Event)
}
