package core

import (
	"encoding/json"
)

type ManifestModule struct {
	Loader string `json:"loader"`
	Binary string `json:"binary"`
}

// Manifest describes the emitted bundle. It is written next to the artifacts
// and is the only index of content-addressed names.
type Manifest struct {
	Entry   string                    `json:"entry"`
	Script  string                    `json:"script"`
	Style   string                    `json:"style,omitempty"`
	Scripts []string                  `json:"scripts,omitempty"`
	Modules map[string]ManifestModule `json:"modules,omitempty"`
	Static  []string                  `json:"static,omitempty"`
}

func EncodeManifest(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
