package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
)

// CommandPreprocessor compiles style sources by piping them through an
// external command such as the sass CLI. Indented syntax sources get the
// --indented flag and the source directory is passed as load path.
type CommandPreprocessor struct {
	Command []string
}

func NewCommandPreprocessor(command []string) *CommandPreprocessor {
	return &CommandPreprocessor{Command: command}
}

func (p *CommandPreprocessor) Preprocess(ctx context.Context, path string, src []byte) ([]byte, error) {
	if len(p.Command) == 0 {
		return nil, errors.New("empty preprocessor command")
	}

	args := slices.Clone(p.Command[1:])
	if filepath.Base(p.Command[0]) == "sass" {
		args = append(args, "--load-path="+filepath.Dir(path))
		if strings.EqualFold(filepath.Ext(path), ".sass") {
			args = append(args, "--indented")
		}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Command[0], args...)
	cmd.Dir = filepath.Dir(path)
	cmd.Stdin = bytes.NewReader(src)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = WaitDelay

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", p.Command[0], err, msg)
		}
		return nil, fmt.Errorf("%s: %w", p.Command[0], err)
	}
	return stdout.Bytes(), nil
}
