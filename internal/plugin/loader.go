package plugin

import (
	"bytes"
	"text/template"
)

var loaderTemplate = template.Must(template.New("loader").Parse(`// Loader for module "{{.Name}}". Generated by kiln; do not edit.
const url = {{printf "%q" .URL}};

let exports;

async function instantiate(imports) {
  const response = await fetch(url);
  if (typeof WebAssembly.instantiateStreaming === "function") {
    try {
      const { instance } = await WebAssembly.instantiateStreaming(response.clone(), imports);
      return instance;
    } catch (err) {
      if (response.headers.get("Content-Type") === "application/wasm") {
        throw err;
      }
    }
  }
  const bytes = await response.arrayBuffer();
  const { instance } = await WebAssembly.instantiate(bytes, imports);
  return instance;
}

export default async function init(imports = {}) {
  if (exports === undefined) {
    exports = (await instantiate(imports)).exports;
  }
  return exports;
}

export { exports };
`))

// Loader renders the script that fetches and instantiates a module binary
// served at url.
func Loader(name, url string) ([]byte, error) {
	var buf bytes.Buffer
	err := loaderTemplate.Execute(&buf, struct{ Name, URL string }{name, url})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
