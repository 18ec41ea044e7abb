package resolve

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/3-lines-studio/kiln/internal/core"
)

func TestScanScriptImports(t *testing.T) {
	src := `import init, { greet } from "./core";
import './styles/app.sass'
import * as util from "./util.js";
import {
  a,
  b as c,
} from '../shared/x.mjs';
export { helper } from "./helper";
export * from "./reexport";
export const notAnImport = "./nope";
const lazy = () => import("./lazy.js");
import "https://cdn.example.com/lib.js";
import "./util.js";
`
	want := []string{"./core", "./styles/app.sass", "./util.js", "../shared/x.mjs", "./helper", "./reexport", "./lazy.js"}
	if diff := cmp.Diff(want, ScanImports(core.KindScript, []byte(src))); diff != "" {
		t.Errorf("ScanImports() mismatch (-want +got):\n%s", diff)
	}
}

func TestScanStyleImports(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{name: "scss quoted", src: `@import "base";` + "\n" + `@use 'theme' as t;`, want: []string{"base", "theme"}},
		{name: "sass bare", src: "@import base, theme\nbody\n  margin: 0", want: []string{"base", "theme"}},
		{name: "forward", src: `@forward "src/list";`, want: []string{"src/list"}},
		{name: "multiple quoted", src: `@import "a", "b";`, want: []string{"a", "b"}},
		{name: "url and builtins skipped", src: "@import url(\"x.css\");\n@use \"sass:math\";\n@import \"https://fonts.example.com/a.css\";", want: nil},
		{name: "media query", src: `@import "print" print;`, want: []string{"print"}},
		{name: "no imports", src: "body { color: red }", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ScanImports(core.KindStyle, []byte(tt.src))); diff != "" {
				t.Errorf("ScanImports() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestScanOtherKinds(t *testing.T) {
	if got := ScanImports(core.KindStatic, []byte(`import "./x"`)); got != nil {
		t.Errorf("static assets have no imports, got %v", got)
	}
}

func TestScriptImportSpans(t *testing.T) {
	src := "import init from \"./core\";\nconst m = import('./lazy.js');\n"
	spans := ScriptImportSpans(src)
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if got := spans[0].Spec(src); got != "./core" {
		t.Errorf("first spec = %q", got)
	}
	if got := src[spans[0].Start:spans[0].End]; got != `import init from "./core"` {
		t.Errorf("first statement = %q", got)
	}
	if spans[0].Dynamic || !spans[1].Dynamic {
		t.Error("only the second import is dynamic")
	}
	if got := spans[1].Spec(src); got != "./lazy.js" {
		t.Errorf("second spec = %q", got)
	}
}
