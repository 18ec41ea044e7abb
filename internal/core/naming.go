package core

import (
	"path"
	"path/filepath"
	"strings"
)

const ModulesDir = "modules"

// ModuleName derives the stable import name of a compiled module from its
// source directory.
func ModuleName(dir string) string {
	base := strings.ToLower(filepath.Base(filepath.Clean(dir)))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" || name == "." {
		return "module"
	}
	return name
}

// ToolchainOutputName is the name wasm-pack style toolchains use for their
// output files.
func ToolchainOutputName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func LoaderPath(name string) string {
	return path.Join(ModulesDir, name+".js")
}

func BinaryPath(name string, content []byte) string {
	return path.Join(ModulesDir, name+"-"+ShortHash(content)+".wasm")
}

// StylePathForEntry names the merged style artifact after the entry script
// output, index.js -> index.css.
func StylePathForEntry(entryOutput string) string {
	ext := path.Ext(entryOutput)
	return strings.TrimSuffix(entryOutput, ext) + ".css"
}

const ManifestPath = "kiln-manifest.json"
