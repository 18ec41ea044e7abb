// Package watch reports batches of changed source files.
package watch

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/3-lines-studio/kiln/internal/logging"
)

// DefaultIgnore lists directory names that hold generated output.
var DefaultIgnore = []string{"node_modules", "target", "pkg", "dist"}

type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	ignore   []string
	skip     []string
	log      *logging.Logger
}

type Options struct {
	Roots    []string
	Debounce time.Duration

	// Ignore holds directory base names that are never watched. Skip holds
	// absolute directories that are never watched, such as the output
	// directory.
	Ignore []string
	Skip   []string
	Log    *logging.Logger
}

func New(opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 50 * time.Millisecond
	}
	if opts.Ignore == nil {
		opts.Ignore = DefaultIgnore
	}
	if opts.Log == nil {
		opts.Log = logging.NewNop()
	}

	w := &Watcher{fsw: fsw, debounce: opts.Debounce, ignore: opts.Ignore, log: opts.Log}
	for _, dir := range opts.Skip {
		w.skip = append(w.skip, filepath.Clean(dir))
	}
	for _, root := range opts.Roots {
		if err := w.addTree(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) skipped(dir string) bool {
	base := filepath.Base(dir)
	if strings.HasPrefix(base, ".") && base != "." || slices.Contains(w.ignore, base) {
		return true
	}
	return slices.Contains(w.skip, filepath.Clean(dir))
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skipped(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Run calls fn with the sorted, deduplicated paths changed within each
// debounce window until ctx is done.
func (w *Watcher) Run(ctx context.Context, fn func(paths []string)) error {
	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if evt.Has(fsnotify.Chmod) && !evt.Has(fsnotify.Write) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					if w.skipped(evt.Name) {
						continue
					}
					if err := w.addTree(evt.Name); err != nil {
						w.log.Warnf("Failed to watch new directory: %v", err)
					}
				}
			}
			pending[evt.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warnf("Watcher error: %v", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			fn(paths)
		}
	}
}
