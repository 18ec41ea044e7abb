package plugin

import (
	"context"

	"github.com/3-lines-studio/kiln/internal/core"
)

type copyPlugin struct{}

func (copyPlugin) sealed() {}

func (copyPlugin) Name() string { return "copy" }

func (copyPlugin) Stages() []string { return []string{"copy"} }

func (copyPlugin) Accepts(kind core.Kind) bool { return kind != core.KindModule && kind != core.KindUnknown }

// Apply copies the asset verbatim to its path relative to its root.
func (copyPlugin) Apply(_ context.Context, env *Env, asset *core.Asset) (*Fragment, error) {
	if asset.Content == nil {
		return nil, &core.SourceNotFoundError{Path: asset.Path}
	}

	root := asset.Root
	if root == "" {
		root = env.Root
	}
	dest, err := core.RelSlash(root, asset.Path)
	if err != nil {
		return nil, transformErr(asset, "copy", err)
	}

	return &Fragment{
		Source:   asset.Path,
		Kind:     core.KindStatic,
		Strategy: Emit,
		Artifacts: []core.Artifact{{
			Path:    dest,
			Kind:    core.KindStatic,
			Content: asset.Content,
			Sources: []string{asset.Path},
		}},
	}, nil
}
