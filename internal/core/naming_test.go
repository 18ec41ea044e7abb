package core

import (
	"strings"
	"testing"
)

func TestModuleName(t *testing.T) {
	tests := []struct {
		dir  string
		want string
	}{
		{"/project/crate", "crate"},
		{"/project/My Crate/", "my-crate"},
		{"/project/wasm_lib", "wasm_lib"},
		{"/", "module"},
		{".", "module"},
	}
	for _, tt := range tests {
		if got := ModuleName(tt.dir); got != tt.want {
			t.Errorf("ModuleName(%q) = %q, want %q", tt.dir, got, tt.want)
		}
	}
}

func TestBinaryPathIsContentAddressed(t *testing.T) {
	a := BinaryPath("crate", []byte("one"))
	b := BinaryPath("crate", []byte("two"))
	if a == b {
		t.Fatalf("different content produced the same name %q", a)
	}
	if a != BinaryPath("crate", []byte("one")) {
		t.Fatal("same content must produce the same name")
	}
	if !strings.HasPrefix(a, "modules/crate-") || !strings.HasSuffix(a, ".wasm") {
		t.Errorf("unexpected binary path %q", a)
	}
	if len(strings.TrimSuffix(strings.TrimPrefix(a, "modules/crate-"), ".wasm")) != 8 {
		t.Errorf("expected 8 character hash in %q", a)
	}
}

func TestLoaderPath(t *testing.T) {
	if got := LoaderPath("crate"); got != "modules/crate.js" {
		t.Errorf("got %q", got)
	}
}

func TestStylePathForEntry(t *testing.T) {
	tests := map[string]string{
		"index.js":   "index.css",
		"app.mjs":    "app.css",
		"js/main.js": "js/main.css",
		"bundle":     "bundle.css",
	}
	for in, want := range tests {
		if got := StylePathForEntry(in); got != want {
			t.Errorf("StylePathForEntry(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToolchainOutputName(t *testing.T) {
	if got := ToolchainOutputName("my-crate"); got != "my_crate" {
		t.Errorf("got %q", got)
	}
}
