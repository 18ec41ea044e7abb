package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	kilnhttp "github.com/3-lines-studio/kiln/internal/adapters/http"
	"github.com/3-lines-studio/kiln/internal/build"
	"github.com/3-lines-studio/kiln/internal/core"
	"github.com/3-lines-studio/kiln/internal/logging"
	"github.com/3-lines-studio/kiln/internal/metrics"
	"github.com/3-lines-studio/kiln/internal/plugin"
)

const fragmentCacheSize = 1024

// ErrSuperseded is returned by Recompute when a newer change to one of the
// same sources arrived before the result could be applied.
var ErrSuperseded = errors.New("recomputation superseded")

// RecomputeResult describes an applied recomputation.
type RecomputeResult struct {
	Version uint64

	// Transformed lists the assets whose plugin ran, Changed the artifact
	// paths whose content differs from the previous set.
	Transformed []string
	Changed     []string
	Failed      map[string]error
}

// DevStatus is served on the status endpoint.
type DevStatus struct {
	Version   uint64            `json:"version"`
	Artifacts int               `json:"artifacts"`
	Failed    map[string]string `json:"failed,omitempty"`
	Error     string            `json:"error,omitempty"`
	Updated   time.Time         `json:"updated"`
}

// DevService keeps the last good artifact set in memory and recomputes it
// when sources change. Readers always see a complete set.
type DevService struct {
	builder  *build.Builder
	notifier Notifier
	log      *logging.Logger

	current atomic.Pointer[core.ArtifactSet]
	version atomic.Uint64

	// run serializes recomputations. mu guards the fields below it.
	run      sync.Mutex
	mu       sync.Mutex
	gens     map[string]uint64
	inflight map[string]context.CancelFunc
	lastGood map[string]*plugin.Fragment
	failed   map[string]error
	lastErr  error
	updated  time.Time

	cache *lru.Cache[string, *plugin.Fragment]
}

func NewDevService(builder *build.Builder, notifier Notifier, log *logging.Logger) (*DevService, error) {
	cache, err := lru.New[string, *plugin.Fragment](fragmentCacheSize)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NewNop()
	}
	s := &DevService{
		builder:  builder,
		notifier: notifier,
		log:      log,
		gens:     make(map[string]uint64),
		inflight: make(map[string]context.CancelFunc),
		lastGood: make(map[string]*plugin.Fragment),
		failed:   make(map[string]error),
		cache:    cache,
	}
	s.current.Store(core.NewArtifactSet(0, nil))
	return s, nil
}

// Snapshot returns the artifact set currently being served.
func (s *DevService) Snapshot() *core.ArtifactSet {
	return s.current.Load()
}

// Start runs the initial build. A failure is logged and reported but the
// service keeps serving an empty set until a later change succeeds.
func (s *DevService) Start(ctx context.Context) error {
	_, err := s.Recompute(ctx, nil)
	if err != nil && !errors.Is(err, ErrSuperseded) {
		s.log.Warnf("Initial build failed: %v", err)
	}
	return err
}

// Recompute rebuilds the artifact set after changed sources were modified.
// Only the changed assets and their dependents are transformed; everything
// else reuses cached fragments. An empty changed list, or a service that
// has never produced a fragment, rebuilds everything.
func (s *DevService) Recompute(ctx context.Context, changed []string) (*RecomputeResult, error) {
	changed = cleanPaths(changed)
	runCtx, cancel, mine := s.claim(ctx, changed)
	defer cancel()
	defer s.release(changed, mine)

	s.run.Lock()
	defer s.run.Unlock()

	if s.superseded(mine) {
		metrics.DevRecompute.WithLabelValues("superseded").Inc()
		return nil, ErrSuperseded
	}

	pass := s.builder.NewPass()
	log := s.log.With("pass", pass.ID)

	g, err := pass.Walk(runCtx)
	if err != nil {
		return nil, s.fail(runCtx, mine, err)
	}
	plan, err := pass.Plan(g)
	if err != nil {
		return nil, s.fail(runCtx, mine, err)
	}

	env := pass.Env(g)
	keys := make(map[string]string, len(g.Assets))
	for path, asset := range g.Assets {
		var importers []string
		if asset.Kind == core.KindStyle {
			importers = g.Importers(path)
		}
		keys[path] = fragmentKey(plan[path], asset, importers, env.StyleOutput)
	}

	s.mu.Lock()
	full := len(changed) == 0 || len(s.lastGood) == 0
	s.mu.Unlock()

	forced := make(map[string]bool)
	if !full {
		for _, path := range affected(g, changed) {
			forced[path] = true
			for _, dep := range g.Dependents(path) {
				forced[dep] = true
			}
		}
	}

	fragments := make(map[string]*plugin.Fragment, len(g.Assets))
	var toRun []string
	for _, path := range g.Paths() {
		if !full && !forced[path] {
			if frag, ok := s.cache.Get(keys[path]); ok {
				fragments[path] = frag
				continue
			}
		}
		toRun = append(toRun, path)
	}
	log.Debugf("Recomputing %d of %d assets", len(toRun), len(g.Assets))

	tr, err := pass.Transform(runCtx, g, plan, toRun, false)
	if err != nil {
		return nil, s.fail(runCtx, mine, err)
	}
	if err := runCtx.Err(); err != nil {
		return nil, s.fail(runCtx, mine, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.supersededLocked(mine) {
		metrics.DevRecompute.WithLabelValues("superseded").Inc()
		return nil, ErrSuperseded
	}

	// Dependents of a failed asset keep their last good output.
	held := make(map[string]bool)
	for path := range tr.Errors {
		for _, dep := range g.Dependents(path) {
			held[dep] = true
		}
	}

	for path, frag := range tr.Fragments {
		if held[path] {
			if prev, ok := s.lastGood[path]; ok {
				fragments[path] = prev
				continue
			}
		}
		fragments[path] = frag
		s.cache.Add(keys[path], frag)
	}
	for path := range tr.Errors {
		if prev, ok := s.lastGood[path]; ok {
			fragments[path] = prev
		}
	}

	res, err := pass.Merge(g, fragments, true)
	if err != nil {
		return nil, s.failLocked(err)
	}

	for path, frag := range fragments {
		if _, failed := tr.Errors[path]; !failed && !held[path] {
			s.lastGood[path] = frag
		}
	}
	for path := range s.lastGood {
		if _, ok := g.Assets[path]; !ok {
			delete(s.lastGood, path)
		}
	}
	for path := range s.failed {
		if _, ok := g.Assets[path]; !ok || tr.Fragments[path] != nil {
			delete(s.failed, path)
		}
	}
	for path, err := range tr.Errors {
		s.failed[path] = err
	}

	prev := s.current.Load()
	set := core.NewArtifactSet(s.version.Add(1), res.Artifacts)
	s.current.Store(set)
	s.lastErr = nil
	s.updated = time.Now()

	out := &RecomputeResult{
		Version:     set.Version,
		Transformed: sortedKeys(tr.Fragments, tr.Errors),
		Changed:     diffSets(prev, set),
		Failed:      tr.Errors,
	}

	for _, path := range sortedErrKeys(tr.Errors) {
		err := tr.Errors[path]
		log.Warnf("Asset %s failed: %v", path, err)
		s.notify(kilnhttp.Event{Type: "error", Version: set.Version, Asset: path, Error: err.Error()})
	}
	if len(tr.Errors) > 0 {
		metrics.DevRecompute.WithLabelValues("failed").Inc()
	} else {
		metrics.DevRecompute.WithLabelValues("applied").Inc()
	}
	if len(out.Changed) > 0 {
		log.Infof("Updated %d artifacts (version %d)", len(out.Changed), set.Version)
		s.notify(kilnhttp.Event{Type: "reload", Version: set.Version})
	}
	return out, nil
}

// Status reports the served version and the assets currently failing.
func (s *DevService) Status() DevStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.current.Load()
	st := DevStatus{
		Version:   set.Version,
		Artifacts: len(set.Order),
		Updated:   s.updated,
	}
	if len(s.failed) > 0 {
		st.Failed = make(map[string]string, len(s.failed))
		for path, err := range s.failed {
			st.Failed[path] = err.Error()
		}
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

// claim bumps the generation of every changed path and cancels any
// in-flight recomputation of them.
func (s *DevService) claim(ctx context.Context, changed []string) (context.Context, context.CancelFunc, map[string]uint64) {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	mine := make(map[string]uint64, len(changed))
	for _, path := range changed {
		if prev, ok := s.inflight[path]; ok {
			prev()
		}
		s.gens[path]++
		mine[path] = s.gens[path]
		s.inflight[path] = cancel
	}
	return runCtx, cancel, mine
}

func (s *DevService) release(changed []string, mine map[string]uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, path := range changed {
		if s.gens[path] == mine[path] {
			delete(s.inflight, path)
		}
	}
}

func (s *DevService) superseded(mine map[string]uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supersededLocked(mine)
}

func (s *DevService) supersededLocked(mine map[string]uint64) bool {
	for path, gen := range mine {
		if s.gens[path] != gen {
			return true
		}
	}
	return false
}

func (s *DevService) fail(ctx context.Context, mine map[string]uint64, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if s.superseded(mine) {
			metrics.DevRecompute.WithLabelValues("superseded").Inc()
			return ErrSuperseded
		}
		return ctxErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failLocked(err)
}

// failLocked records a pass-level error. The served set is left untouched.
func (s *DevService) failLocked(err error) error {
	s.lastErr = err
	metrics.DevRecompute.WithLabelValues("failed").Inc()
	s.log.Warnf("Recomputation failed: %v", err)
	s.notify(kilnhttp.Event{Type: "error", Version: s.current.Load().Version, Asset: errorAsset(err), Error: err.Error()})
	return err
}

func (s *DevService) notify(evt kilnhttp.Event) {
	if s.notifier != nil {
		s.notifier.Notify(evt)
	}
}

// affected maps changed file paths to graph assets. A change anywhere under
// a module directory affects the module.
func affected(g *build.Graph, changed []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}
	for _, path := range changed {
		if _, ok := g.Asset(path); ok {
			add(path)
			continue
		}
		for _, dir := range g.Modules {
			if strings.HasPrefix(path, dir+string(filepath.Separator)) {
				add(dir)
			}
		}
	}
	return out
}

// fragmentKey identifies a transform input: the plugin, the source, what it
// resolved to, who imports a style sheet and the sheet injected into the
// entry.
func fragmentKey(pl plugin.Plugin, asset *core.Asset, importers []string, styleOutput string) string {
	name := ""
	if pl != nil {
		name = pl.Name()
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte(0)
	b.WriteString(asset.Path)
	b.WriteByte(0)
	b.WriteString(core.HashContent(asset.Content))
	b.WriteByte(0)
	b.WriteString(strings.Join(asset.Imports, "\x01"))
	b.WriteByte(0)
	b.WriteString(strings.Join(importers, "\x01"))
	b.WriteByte(0)
	b.WriteString(styleOutput)
	return b.String()
}

func diffSets(prev, next *core.ArtifactSet) []string {
	var out []string
	for _, path := range next.Order {
		old, ok := prev.Get(path)
		if !ok || core.HashContent(old.Content) != core.HashContent(next.Artifacts[path].Content) {
			out = append(out, path)
		}
	}
	for _, path := range prev.Order {
		if _, ok := next.Get(path); !ok {
			out = append(out, path)
		}
	}
	return out
}

func cleanPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			out = append(out, filepath.Clean(p))
		}
	}
	return out
}

func sortedKeys(frags map[string]*plugin.Fragment, errs map[string]error) []string {
	out := make([]string, 0, len(frags)+len(errs))
	for k := range frags {
		out = append(out, k)
	}
	for k := range errs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedErrKeys(errs map[string]error) []string {
	out := make([]string, 0, len(errs))
	for k := range errs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
