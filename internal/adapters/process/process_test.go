package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/3-lines-studio/kiln/internal/core"
)

func TestToolchainBuild(t *testing.T) {
	dir := t.TempDir()
	tc := NewToolchain([]string{"sh", "-c", "mkdir -p pkg && printf 'wasm:%s' \"$0\" > pkg/{name}_bg.wasm", "{name}"}, "pkg/{name}_bg.wasm", nil)

	binary, err := tc.Build(context.Background(), dir, "my_crate")
	if err != nil {
		t.Fatal(err)
	}
	if string(binary) != "wasm:my_crate" {
		t.Errorf("binary = %q", binary)
	}
}

func TestToolchainFailure(t *testing.T) {
	tests := []struct {
		name     string
		command  []string
		exitCode int
		stderr   string
	}{
		{name: "non-zero exit", command: []string{"sh", "-c", "echo 'error[E0425]: cannot find value' >&2; exit 101"}, exitCode: 101, stderr: "error[E0425]"},
		{name: "missing output", command: []string{"sh", "-c", "exit 0"}, exitCode: 0},
		{name: "missing executable", command: []string{"kiln-no-such-toolchain"}, exitCode: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			_, err := NewToolchain(tt.command, "pkg/{name}_bg.wasm", nil).Build(context.Background(), dir, "core")

			var tcErr *core.ToolchainError
			if !errors.As(err, &tcErr) {
				t.Fatalf("expected ToolchainError, got %v", err)
			}
			if tcErr.ExitCode != tt.exitCode {
				t.Errorf("exit code = %d, want %d", tcErr.ExitCode, tt.exitCode)
			}
			if tcErr.Dir != dir {
				t.Errorf("dir = %q", tcErr.Dir)
			}
			if !strings.Contains(tcErr.Stderr, tt.stderr) {
				t.Errorf("stderr %q does not contain %q", tcErr.Stderr, tt.stderr)
			}
		})
	}
}

func TestToolchainIgnoresStaleOutput(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pkg", "core_bg.wasm"), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewToolchain([]string{"sh", "-c", "exit 0"}, "pkg/{name}_bg.wasm", nil).Build(context.Background(), dir, "core")
	if !errors.Is(err, core.ErrToolchain) {
		t.Fatalf("expected toolchain error, got %v", err)
	}
}

func TestToolchainCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewToolchain([]string{"sleep", "10"}, "out", nil).Build(ctx, t.TempDir(), "core")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancelled toolchain was not reaped promptly")
	}
}

func TestCommandPreprocessor(t *testing.T) {
	p := NewCommandPreprocessor([]string{"tr", "a-z", "A-Z"})
	out, err := p.Preprocess(context.Background(), filepath.Join(t.TempDir(), "app.scss"), []byte("body{}"))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "BODY{}" {
		t.Errorf("got %q", out)
	}

	p = NewCommandPreprocessor([]string{"sh", "-c", "echo 'Error: expected \"}\"' >&2; exit 65"})
	_, err = p.Preprocess(context.Background(), filepath.Join(t.TempDir(), "app.scss"), []byte("body{"))
	if err == nil || !strings.Contains(err.Error(), `expected "}"`) {
		t.Errorf("expected stderr in error, got %v", err)
	}
}
