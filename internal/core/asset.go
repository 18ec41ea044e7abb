package core

import (
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindStyle
	KindStatic
	KindScript
	KindModule
)

func (k Kind) String() string {
	switch k {
	case KindStyle:
		return "style"
	case KindStatic:
		return "static"
	case KindScript:
		return "script"
	case KindModule:
		return "module"
	default:
		return "unknown"
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return KindUnknown, nil
	case "style":
		return KindStyle, nil
	case "static":
		return KindStatic, nil
	case "script":
		return KindScript, nil
	case "module":
		return KindModule, nil
	}
	return KindUnknown, fmt.Errorf("unknown asset kind %q", s)
}

// Asset is a resolved source unit tracked through one build pass. Path is the
// canonical absolute path and doubles as the identity of the asset.
type Asset struct {
	Path    string
	Kind    Kind
	Content []byte

	// Root is the directory the asset's destination path is computed from:
	// the project root for scripts and styles, the static directory for
	// static files.
	Root string

	// Refs holds import specifiers in declaration order. Imports holds the
	// canonical paths they resolved to, deduplicated, in the same order, and
	// Resolved maps each specifier to its canonical path.
	Refs     []string
	Imports  []string
	Resolved map[string]string
}

func (a *Asset) String() string {
	return a.Kind.String() + ":" + a.Path
}

// Artifact is a destination-addressed unit of the deployable bundle.
type Artifact struct {
	Path    string
	Kind    Kind
	Content []byte

	// Sources lists the canonical asset paths the artifact was built from.
	Sources []string
}

// ArtifactSet is an immutable, ordered set of artifacts produced by one
// successful build or recomputation.
type ArtifactSet struct {
	Version   uint64
	Order     []string
	Artifacts map[string]Artifact
}

func NewArtifactSet(version uint64, artifacts []Artifact) *ArtifactSet {
	set := &ArtifactSet{
		Version:   version,
		Order:     make([]string, 0, len(artifacts)),
		Artifacts: make(map[string]Artifact, len(artifacts)),
	}
	for _, a := range artifacts {
		set.Order = append(set.Order, a.Path)
		set.Artifacts[a.Path] = a
	}
	return set
}

func (s *ArtifactSet) Get(path string) (Artifact, bool) {
	if s == nil {
		return Artifact{}, false
	}
	a, ok := s.Artifacts[path]
	return a, ok
}

func (s *ArtifactSet) List() []Artifact {
	if s == nil {
		return nil
	}
	out := make([]Artifact, 0, len(s.Order))
	for _, p := range s.Order {
		out = append(out, s.Artifacts[p])
	}
	return out
}
