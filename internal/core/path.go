package core

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

func NormalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if p != "/" && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// NormalizeBase returns the public base path with a leading and trailing
// slash.
func NormalizeBase(base string) string {
	base = NormalizePath(strings.TrimSpace(base))
	if base != "/" {
		base += "/"
	}
	return base
}

func ValidateBasePath(base string) error {
	if base == "" {
		return fmt.Errorf("base path cannot be empty")
	}

	if !strings.HasPrefix(base, "/") {
		return fmt.Errorf("base path must start with /")
	}

	if strings.Contains(base, "?") {
		return fmt.Errorf("base path cannot contain query string")
	}

	if strings.Contains(base, "#") {
		return fmt.Errorf("base path cannot contain fragment")
	}

	if strings.Contains(base, "..") {
		return fmt.Errorf("base path cannot contain parent directory references")
	}

	if strings.Contains(base, "*") {
		return fmt.Errorf("base path cannot contain wildcards")
	}

	return nil
}

// PublicURL joins a destination-relative artifact path onto the base path.
func PublicURL(base, rel string) string {
	return NormalizeBase(base) + strings.TrimPrefix(path.Clean("/"+rel), "/")
}

// RelSlash returns target relative to root with forward slashes, or an error
// when target lies outside root.
func RelSlash(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", target, root)
	}
	return rel, nil
}

// Within reports whether path is dir or lies inside it. Both must be
// absolute.
func Within(dir, path string) bool {
	_, err := RelSlash(filepath.Clean(dir), filepath.Clean(path))
	return err == nil
}

// IsExternal reports whether a reference points outside the source tree
// (URLs, protocol-relative and data references).
func IsExternal(ref string) bool {
	if strings.HasPrefix(ref, "//") || strings.HasPrefix(ref, "#") {
		return true
	}
	i := strings.Index(ref, ":")
	if i <= 0 {
		return false
	}
	for _, r := range ref[:i] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return false
		}
	}
	return true
}
