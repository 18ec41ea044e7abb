package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/3-lines-studio/kiln/internal/core"
	"github.com/3-lines-studio/kiln/internal/logging"
)

// WaitDelay bounds how long a cancelled command may hold its output pipes
// before it is killed outright.
const WaitDelay = 5 * time.Second

// Toolchain compiles a module directory with an external command. The
// {name} placeholder in Command and Output is replaced with the module's
// output name.
type Toolchain struct {
	Command []string
	Output  string
	Log     *logging.Logger
}

func NewToolchain(command []string, output string, log *logging.Logger) *Toolchain {
	if log == nil {
		log = logging.NewNop()
	}
	return &Toolchain{Command: command, Output: output, Log: log}
}

// Build runs the command in dir and returns the binary written to the
// output location. A non-zero exit, a failure to start or a missing output
// file is a *core.ToolchainError.
func (t *Toolchain) Build(ctx context.Context, dir, name string) ([]byte, error) {
	if len(t.Command) == 0 {
		return nil, &core.ToolchainError{Dir: dir, ExitCode: -1, Cause: errors.New("empty toolchain command")}
	}
	args := make([]string, len(t.Command))
	for i, arg := range t.Command {
		args[i] = strings.ReplaceAll(arg, "{name}", name)
	}
	output := filepath.Join(dir, filepath.FromSlash(strings.ReplaceAll(t.Output, "{name}", name)))

	// A stale binary from an earlier run must not count as success.
	if err := os.Remove(output); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &core.ToolchainError{Dir: dir, ExitCode: -1, Cause: fmt.Errorf("failed to remove previous output: %w", err)}
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.Stdout = &logWriter{log: t.Log}
	cmd.Stderr = &stderr
	cmd.WaitDelay = WaitDelay

	t.Log.Debugf("Running %s in %s", strings.Join(args, " "), dir)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			err = nil
		}
		return nil, &core.ToolchainError{Dir: dir, ExitCode: exitCode, Stderr: stderr.String(), Cause: err}
	}

	binary, err := os.ReadFile(output)
	if err != nil {
		return nil, &core.ToolchainError{
			Dir:      dir,
			ExitCode: 0,
			Stderr:   stderr.String(),
			Cause:    fmt.Errorf("expected output %s: %w", output, err),
		}
	}
	return binary, nil
}

type logWriter struct {
	log *logging.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.log.Debugf("%s", line)
		}
	}
	return len(p), nil
}
