package resolve

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3-lines-studio/kiln/internal/core"
)

type osFS struct{}

func (osFS) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }
func (osFS) ReadFile(path string) ([]byte, error)  { return os.ReadFile(path) }

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func newResolver(t *testing.T, files map[string]string) (*Resolver, string) {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, files)
	return New(osFS{}, Options{Root: root}, nil), root
}

func TestResolveOrder(t *testing.T) {
	r, root := newResolver(t, map[string]string{
		"index.js":               `import "./styles/app.sass"`,
		"app.js":                 "",
		"styles/app.sass":        "@import base",
		"styles/_base.sass":      "body\n  margin: 0",
		"styles/theme.scss":      "",
		"styles/theme/readme.md": "",
		"core/Cargo.toml":        "[package]",
		"core/src/lib.rs":        "",
		"plain/file.txt":         "",
	})

	entry, created, err := r.Resolve(context.Background(), "index.js", nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, core.KindScript, entry.Kind)
	assert.Equal(t, []string{"./styles/app.sass"}, entry.Refs)

	style, _, err := r.Resolve(context.Background(), "./styles/app.sass", entry)
	require.NoError(t, err)
	assert.Equal(t, core.KindStyle, style.Kind)

	tests := []struct {
		name string
		ref  string
		from *core.Asset
		path string
		kind core.Kind
	}{
		{name: "exact", ref: "./app.js", from: entry, path: "app.js", kind: core.KindScript},
		{name: "script extension", ref: "./app", from: entry, path: "app.js", kind: core.KindScript},
		{name: "bare from entry dir", ref: "app", from: entry, path: "app.js", kind: core.KindScript},
		{name: "sass partial", ref: "base", from: style, path: "styles/_base.sass", kind: core.KindStyle},
		{name: "style extension before directory", ref: "theme", from: style, path: "styles/theme.scss", kind: core.KindStyle},
		{name: "module directory", ref: "./core", from: entry, path: "core", kind: core.KindModule},
		{name: "static file", ref: "./plain/file.txt", from: entry, path: "plain/file.txt", kind: core.KindStatic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, kind, err := r.Locate(tt.ref, tt.from)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(root, filepath.FromSlash(tt.path)), path)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestResolveUnresolved(t *testing.T) {
	r, _ := newResolver(t, map[string]string{
		"index.js":          "",
		"nomanifest/lib.rs": "",
	})
	entry, _, err := r.Resolve(context.Background(), "index.js", nil)
	require.NoError(t, err)

	for _, ref := range []string{"./missing", "./nomanifest", "https://cdn.example.com/x.js", ""} {
		_, _, err := r.Resolve(context.Background(), ref, entry)
		var unresolved *core.UnresolvedReferenceError
		require.ErrorAs(t, err, &unresolved, ref)
		assert.Equal(t, entry.Path, unresolved.From)
		assert.True(t, errors.Is(err, core.ErrUnresolvedReference))
	}

	_, _, err = r.Resolve(context.Background(), "missing.js", nil)
	require.ErrorIs(t, err, core.ErrUnresolvedReference)
}

func TestResolveDeduplicates(t *testing.T) {
	r, root := newResolver(t, map[string]string{
		"index.js":    "",
		"a/shared.js": "",
	})
	entry, _, err := r.Resolve(context.Background(), "index.js", nil)
	require.NoError(t, err)

	refs := []string{"./a/shared.js", "./a/shared", "a/shared.js", "./a/../a/shared.js", filepath.Join(root, "a", "shared.js")}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		assets  []*core.Asset
		creates int
	)
	for i := 0; i < 20; i++ {
		for _, ref := range refs {
			wg.Add(1)
			go func(ref string) {
				defer wg.Done()
				a, created, err := r.Resolve(context.Background(), ref, entry)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				assets = append(assets, a)
				if created {
					creates++
				}
			}(ref)
		}
	}
	wg.Wait()

	assert.Equal(t, 1, creates)
	for _, a := range assets {
		assert.Same(t, assets[0], a)
	}
	assert.Equal(t, 2, r.Cache().Len())
}

func TestResolveCancelled(t *testing.T) {
	r, _ := newResolver(t, map[string]string{"index.js": ""})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := r.Resolve(ctx, "index.js", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStaticUsesDirectoryRoot(t *testing.T) {
	r, root := newResolver(t, map[string]string{"public/img/logo.png": "png"})
	dir := filepath.Join(root, "public")
	a, created, err := r.Static(context.Background(), dir, filepath.Join(dir, "img", "logo.png"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, core.KindStatic, a.Kind)
	assert.Equal(t, dir, a.Root)
	assert.Equal(t, []byte("png"), a.Content)

	_, _, err = r.Static(context.Background(), dir, filepath.Join(dir, "gone.png"))
	require.ErrorIs(t, err, core.ErrSourceNotFound)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, core.KindStyle, KindOf("a.SCSS"))
	assert.Equal(t, core.KindStyle, KindOf("a.css"))
	assert.Equal(t, core.KindScript, KindOf("a.mjs"))
	assert.Equal(t, core.KindStatic, KindOf("a.wasm"))
}
