// Package config loads the build configuration from kiln.yaml, an optional
// .env file and KILN_* environment overrides.
package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
	"github.com/goccy/go-yaml"

	"github.com/3-lines-studio/kiln/internal/adapters/env"
	"github.com/3-lines-studio/kiln/internal/core"
)

var FileNames = []string{"kiln.yaml", "kiln.yml"}

const (
	PreprocessorCSS  = "css"
	PreprocessorSass = "sass"
)

type Config struct {
	// Root is the project directory every relative path is resolved against.
	Root string `yaml:"-"`

	Entry     string    `yaml:"entry"`
	Output    string    `yaml:"output"`
	Dest      string    `yaml:"dest"`
	Base      string    `yaml:"base"`
	Static    []string  `yaml:"static"`
	Style     Style     `yaml:"style"`
	Toolchain Toolchain `yaml:"toolchain"`
	Modules   []Module  `yaml:"modules"`
	Rules     []Rule    `yaml:"rules"`
	Minify    bool      `yaml:"minify"`
	Workers   int       `yaml:"workers"`
	Addr      string    `yaml:"addr"`
	LogLevel  string    `yaml:"log_level"`
}

type Style struct {
	Preprocessor string   `yaml:"preprocessor"`
	Command      []string `yaml:"command"`
}

// Toolchain describes the external compiler for module directories. The
// {name} placeholder in Command and Output is replaced with the module's
// toolchain output name.
type Toolchain struct {
	Manifest string   `yaml:"manifest"`
	Command  []string `yaml:"command"`
	Output   string   `yaml:"output"`
}

// Module declares a module directory that is compiled even when nothing
// imports it.
type Module struct {
	Dir string `yaml:"dir"`
}

// Rule adds a match pattern to a plugin.
type Rule struct {
	Plugin  string `yaml:"plugin"`
	Pattern string `yaml:"pattern"`
	Kind    string `yaml:"kind"`
}

func Default() *Config {
	return &Config{
		Entry:  "index.js",
		Output: "index.js",
		Dest:   "dist",
		Base:   "/",
		Static: []string{"public"},
		Style: Style{
			Preprocessor: PreprocessorSass,
			Command:      []string{"sass", "--stdin", "--no-source-map"},
		},
		Toolchain: Toolchain{
			Manifest: "Cargo.toml",
			Command:  []string{"wasm-pack", "build", "--target", "web", "--out-dir", "pkg", "--out-name", "{name}"},
			Output:   "pkg/{name}_bg.wasm",
		},
		Workers:  runtime.NumCPU(),
		Addr:     "127.0.0.1:8080",
		LogLevel: "info",
	}
}

// Load reads the configuration for the project in dir. A missing config file
// is not an error: the defaults describe the conventional layout.
func Load(dir string) (*Config, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory %s: %w", dir, err)
	}

	cfg := Default()

	for _, name := range FileNames {
		data, err := os.ReadFile(filepath.Join(root, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		break
	}

	lookup, err := env.Lookup(root)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyOverrides(lookup); err != nil {
		return nil, err
	}

	cfg.Root = root
	cfg.Resolve()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyOverrides(lookup env.LookupFunc) error {
	if v, ok := lookup("KILN_DEST"); ok {
		c.Dest = v
	}
	if v, ok := lookup("KILN_BASE"); ok {
		c.Base = v
	}
	if v, ok := lookup("KILN_ADDR"); ok {
		c.Addr = v
	}
	if v, ok := lookup("KILN_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("KILN_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KILN_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v, ok := lookup("KILN_MINIFY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KILN_MINIFY: %w", err)
		}
		c.Minify = b
	}
	return nil
}

// Resolve makes every path absolute relative to Root and fills defaults for
// zero values. It is idempotent.
func (c *Config) Resolve() {
	def := Default()
	if c.Root == "" {
		c.Root, _ = os.Getwd()
	}
	c.Entry = c.abs(cmp.Or(c.Entry, def.Entry))
	c.Dest = c.abs(cmp.Or(c.Dest, def.Dest))
	c.Output = filepath.ToSlash(cmp.Or(c.Output, filepath.Base(c.Entry)))
	c.Base = core.NormalizeBase(cmp.Or(c.Base, def.Base))
	for i, dir := range c.Static {
		c.Static[i] = c.abs(dir)
	}
	for i, m := range c.Modules {
		c.Modules[i].Dir = c.abs(m.Dir)
	}
	c.Style.Preprocessor = strings.ToLower(cmp.Or(c.Style.Preprocessor, def.Style.Preprocessor))
	if len(c.Style.Command) == 0 {
		c.Style.Command = def.Style.Command
	}
	c.Toolchain.Manifest = cmp.Or(c.Toolchain.Manifest, def.Toolchain.Manifest)
	c.Toolchain.Output = cmp.Or(c.Toolchain.Output, def.Toolchain.Output)
	if len(c.Toolchain.Command) == 0 {
		c.Toolchain.Command = def.Toolchain.Command
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	c.Addr = cmp.Or(c.Addr, def.Addr)
	c.LogLevel = cmp.Or(c.LogLevel, def.LogLevel)
}

func (c *Config) abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Root, p)
}

func (c *Config) Validate() error {
	var errs []error

	if c.Entry == "" {
		errs = append(errs, errors.New("entry is required"))
	}
	if c.Dest == "" {
		errs = append(errs, errors.New("dest is required"))
	} else {
		errs = append(errs, c.validateDest()...)
	}
	if err := core.ValidateBasePath(c.Base); err != nil {
		errs = append(errs, fmt.Errorf("base: %w", err))
	}
	if strings.HasPrefix(c.Output, "/") || strings.Contains(c.Output, "..") {
		errs = append(errs, fmt.Errorf("output %q must be a relative path inside dest", c.Output))
	}
	switch c.Style.Preprocessor {
	case PreprocessorCSS, PreprocessorSass:
	default:
		errs = append(errs, fmt.Errorf("unknown style preprocessor %q", c.Style.Preprocessor))
	}
	if len(c.Toolchain.Command) == 0 {
		errs = append(errs, errors.New("toolchain command is required"))
	}
	for i, r := range c.Rules {
		if _, err := glob.Compile(r.Pattern, '/'); err != nil {
			errs = append(errs, fmt.Errorf("rules[%d]: invalid pattern %q: %w", i, r.Pattern, err))
		}
		if _, err := core.ParseKind(r.Kind); err != nil {
			errs = append(errs, fmt.Errorf("rules[%d]: %w", i, err))
		}
		if r.Plugin == "" {
			errs = append(errs, fmt.Errorf("rules[%d]: plugin is required", i))
		}
	}

	return errors.Join(errs...)
}

// validateDest rejects destinations whose replacement would delete sources
// or whose output would be read back as input by the next build.
func (c *Config) validateDest() []error {
	var errs []error
	switch {
	case c.Dest == c.Root:
		errs = append(errs, errors.New("dest cannot be the project root"))
	case core.Within(c.Dest, c.Root):
		errs = append(errs, fmt.Errorf("dest %s cannot contain the project root", c.Dest))
	case c.Entry != "" && core.Within(c.Dest, c.Entry):
		errs = append(errs, fmt.Errorf("dest %s cannot contain the entry %s", c.Dest, c.Entry))
	}
	for _, dir := range c.Static {
		switch {
		case core.Within(c.Dest, dir):
			errs = append(errs, fmt.Errorf("dest %s cannot contain static directory %s", c.Dest, dir))
		case core.Within(dir, c.Dest):
			errs = append(errs, fmt.Errorf("dest %s cannot be inside static directory %s", c.Dest, dir))
		}
	}
	for _, m := range c.Modules {
		if core.Within(c.Dest, m.Dir) {
			errs = append(errs, fmt.Errorf("dest %s cannot contain module directory %s", c.Dest, m.Dir))
		}
	}
	return errs
}
