package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnresolvedReference  = errors.New("unresolved reference")
	ErrAmbiguousPluginMatch = errors.New("ambiguous plugin match")
	ErrTransform            = errors.New("transform failed")
	ErrDestinationCollision = errors.New("destination collision")
	ErrToolchain            = errors.New("toolchain failed")
	ErrSourceNotFound       = errors.New("source not found")
	ErrImportCycle          = errors.New("import cycle")
)

type UnresolvedReferenceError struct {
	Ref  string
	From string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s: cannot resolve %q from %s", ErrUnresolvedReference, e.Ref, e.From)
}

func (e *UnresolvedReferenceError) Unwrap() error { return ErrUnresolvedReference }

type AmbiguousPluginMatchError struct {
	Asset   string
	Plugins []string
}

func (e *AmbiguousPluginMatchError) Error() string {
	return fmt.Sprintf("%s: %s is matched with equal specificity by %s", ErrAmbiguousPluginMatch, e.Asset, strings.Join(e.Plugins, ", "))
}

func (e *AmbiguousPluginMatchError) Unwrap() error { return ErrAmbiguousPluginMatch }

// TransformError is scoped to one asset: in dev mode it only withholds that
// asset's output.
type TransformError struct {
	Asset string
	Stage string
	Cause error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("%s: %s [%s]: %v", ErrTransform, e.Asset, e.Stage, e.Cause)
}

func (e *TransformError) Unwrap() []error { return []error{ErrTransform, e.Cause} }

type DestinationCollisionError struct {
	Path   string
	First  string
	Second string
}

func (e *DestinationCollisionError) Error() string {
	return fmt.Sprintf("%s: %s is produced by both %s and %s", ErrDestinationCollision, e.Path, e.First, e.Second)
}

func (e *DestinationCollisionError) Unwrap() error { return ErrDestinationCollision }

type ToolchainError struct {
	Dir      string
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ToolchainError) Error() string {
	msg := fmt.Sprintf("%s: %s exited with code %d", ErrToolchain, e.Dir, e.ExitCode)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += "\n" + stderr
	}
	return msg
}

func (e *ToolchainError) Unwrap() error { return ErrToolchain }

type SourceNotFoundError struct {
	Path string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSourceNotFound, e.Path)
}

func (e *SourceNotFoundError) Unwrap() error { return ErrSourceNotFound }

type ImportCycleError struct {
	From string
	To   string
}

func (e *ImportCycleError) Error() string {
	return fmt.Sprintf("%s: %s imports %s which already depends on it", ErrImportCycle, e.From, e.To)
}

func (e *ImportCycleError) Unwrap() error { return ErrImportCycle }

// ErrorType is the short label used in reports and metrics.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrToolchain):
		return "toolchain"
	case errors.Is(err, ErrUnresolvedReference):
		return "unresolved_reference"
	case errors.Is(err, ErrAmbiguousPluginMatch):
		return "ambiguous_plugin_match"
	case errors.Is(err, ErrDestinationCollision):
		return "destination_collision"
	case errors.Is(err, ErrSourceNotFound):
		return "source_not_found"
	case errors.Is(err, ErrImportCycle):
		return "import_cycle"
	case errors.Is(err, ErrTransform):
		return "transform"
	default:
		return "internal"
	}
}
