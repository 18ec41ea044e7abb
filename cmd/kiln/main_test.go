package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCommand(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"kiln.yaml": "style:\n  preprocessor: css\nstatic: []\n",
		"index.js":  "import \"./main.css\";\nconsole.log(1);\n",
		"main.css":  "body { margin: 0; }\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}

	cmd := newRootCommand()
	cmd.SetArgs([]string{"build", root})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	css, err := os.ReadFile(filepath.Join(root, "dist", "index.css"))
	require.NoError(t, err)
	assert.Equal(t, "body { margin: 0; }\n", string(css))
}

func TestBuildCommandFailure(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.js"), []byte("import \"./missing.js\";\n"), 0o644))

	cmd := newRootCommand()
	cmd.SetArgs([]string{"build", root})
	assert.Error(t, cmd.ExecuteContext(context.Background()))

	_, err := os.Stat(filepath.Join(root, "dist"))
	assert.True(t, os.IsNotExist(err))
}

func TestRootCommandRejectsExtraArgs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"build", "a", "b"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}
