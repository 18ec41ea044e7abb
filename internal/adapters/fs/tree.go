package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/3-lines-studio/kiln/internal/core"
)

// WriteTree replaces dest with a tree holding exactly artifacts. The tree is
// staged in a sibling directory and swapped in after every file is written;
// on error dest is left as it was.
func WriteTree(ctx context.Context, dest string, artifacts []core.Artifact) error {
	dest = filepath.Clean(dest)
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", parent, err)
	}

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dest)+".staging-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(staging)
		}
	}()

	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := artifactPath(staging, a.Path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", a.Path, err)
		}
		if err := os.WriteFile(path, a.Content, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", a.Path, err)
		}
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		return fmt.Errorf("failed to set permissions on staging directory: %w", err)
	}

	backup := ""
	if _, err := os.Stat(dest); err == nil {
		backup = staging + ".old"
		if err := os.Rename(dest, backup); err != nil {
			return fmt.Errorf("failed to move previous output aside: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", dest, err)
	}

	if err := os.Rename(staging, dest); err != nil {
		if backup != "" {
			if rerr := os.Rename(backup, dest); rerr != nil {
				return errors.Join(fmt.Errorf("failed to swap output into place: %w", err), rerr)
			}
		}
		return fmt.Errorf("failed to swap output into place: %w", err)
	}
	committed = true

	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			return fmt.Errorf("failed to remove previous output: %w", err)
		}
	}
	return nil
}

// ProtectedWriteTree returns a WriteTree that refuses to replace a
// destination holding any of the protected paths.
func ProtectedWriteTree(protected ...string) func(ctx context.Context, dest string, artifacts []core.Artifact) error {
	return func(ctx context.Context, dest string, artifacts []core.Artifact) error {
		for _, p := range protected {
			if p != "" && core.Within(dest, p) {
				return fmt.Errorf("refusing to replace %s: it contains %s", filepath.Clean(dest), p)
			}
		}
		return WriteTree(ctx, dest, artifacts)
	}
}

func artifactPath(root, rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if rel == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path %q escapes the output directory", rel)
	}
	return filepath.Join(root, clean), nil
}
