package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"KILN_DEST", "KILN_BASE", "KILN_ADDR", "KILN_LOG_LEVEL", "KILN_WORKERS", "KILN_MINIFY"} {
		if v, ok := os.LookupEnv(key); ok {
			require.NoError(t, os.Unsetenv(key))
			t.Cleanup(func() { os.Setenv(key, v) })
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "index.js"), cfg.Entry)
	assert.Equal(t, filepath.Join(dir, "dist"), cfg.Dest)
	assert.Equal(t, "/", cfg.Base)
	assert.Equal(t, "index.js", cfg.Output)
	assert.Equal(t, []string{filepath.Join(dir, "public")}, cfg.Static)
	assert.Equal(t, PreprocessorSass, cfg.Style.Preprocessor)
	assert.Equal(t, "Cargo.toml", cfg.Toolchain.Manifest)
	assert.Equal(t, "127.0.0.1:8080", cfg.Addr)
	assert.Positive(t, cfg.Workers)
	assert.False(t, cfg.Minify)
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "kiln.yaml"), `
entry: src/main.js
output: app.js
dest: build
base: /app
static:
  - assets
style:
  preprocessor: css
modules:
  - dir: crate
rules:
  - plugin: copy
    pattern: "**/*.txt"
minify: true
workers: 3
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "src", "main.js"), cfg.Entry)
	assert.Equal(t, "app.js", cfg.Output)
	assert.Equal(t, filepath.Join(dir, "build"), cfg.Dest)
	assert.Equal(t, "/app/", cfg.Base)
	assert.Equal(t, []string{filepath.Join(dir, "assets")}, cfg.Static)
	assert.Equal(t, PreprocessorCSS, cfg.Style.Preprocessor)
	assert.Equal(t, []Module{{Dir: filepath.Join(dir, "crate")}}, cfg.Modules)
	assert.Equal(t, []Rule{{Plugin: "copy", Pattern: "**/*.txt"}}, cfg.Rules)
	assert.True(t, cfg.Minify)
	assert.Equal(t, 3, cfg.Workers)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "kiln.yml"), "dest: build\nbase: /yaml/\n")
	writeFile(t, filepath.Join(dir, ".env"), "KILN_DEST=from-dotenv\nKILN_MINIFY=true\n")
	t.Setenv("KILN_BASE", "/env/")
	t.Setenv("KILN_WORKERS", "2")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "from-dotenv"), cfg.Dest)
	assert.Equal(t, "/env/", cfg.Base)
	assert.Equal(t, 2, cfg.Workers)
	assert.True(t, cfg.Minify)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
	}{
		{name: "malformed yaml", yaml: "entry: [", wantErr: "failed to parse kiln.yaml"},
		{name: "bad base", yaml: "base: /a?b", wantErr: "query string"},
		{name: "bad glob", yaml: "rules:\n  - plugin: copy\n    pattern: \"[\"", wantErr: "invalid pattern"},
		{name: "unknown kind", yaml: "rules:\n  - plugin: copy\n    pattern: \"*.txt\"\n    kind: video", wantErr: "unknown asset kind"},
		{name: "unknown preprocessor", yaml: "style:\n  preprocessor: less", wantErr: "unknown style preprocessor"},
		{name: "dest is root", yaml: "dest: .", wantErr: "project root"},
		{name: "dest above root", yaml: "dest: ..", wantErr: "cannot contain the project root"},
		{name: "dest holds entry", yaml: "entry: src/index.js\ndest: src", wantErr: "cannot contain the entry"},
		{name: "dest is static", yaml: "dest: public", wantErr: "cannot contain static directory"},
		{name: "dest holds static", yaml: "static: [web/public]\ndest: web", wantErr: "cannot contain static directory"},
		{name: "dest inside static", yaml: "dest: public/dist", wantErr: "inside static directory"},
		{name: "dest holds module", yaml: "modules:\n  - dir: crates/core\ndest: crates", wantErr: "cannot contain module directory"},
		{name: "output escapes", yaml: "output: ../x.js", wantErr: "relative path inside dest"},
		{name: "bad workers", env: map[string]string{"KILN_WORKERS": "many"}, wantErr: "KILN_WORKERS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			dir := t.TempDir()
			if tt.yaml != "" {
				writeFile(t, filepath.Join(dir, "kiln.yaml"), tt.yaml)
			}

			_, err := Load(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolveIdempotent(t *testing.T) {
	cfg := Default()
	cfg.Root = t.TempDir()
	cfg.Resolve()
	first := *cfg
	cfg.Resolve()
	assert.Equal(t, first.Entry, cfg.Entry)
	assert.Equal(t, first.Dest, cfg.Dest)
	assert.Equal(t, first.Base, cfg.Base)
}
