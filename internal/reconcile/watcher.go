package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is how long the Watcher waits for a path to go quiet.
const DefaultDebounce = 300 * time.Millisecond

// Watcher reconciles cards whose anchored file changes on disk.
type Watcher struct {
	rec      *Reconciler
	root     string
	debounce time.Duration
	fsw      *fsnotify.Watcher
}

// NewWatcher watches every directory under root, skipping hidden
// directories and node_modules.
func NewWatcher(rec *Reconciler, root string, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("reconcile.NewWatcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reconcile.NewWatcher: %w", err)
	}

	w := &Watcher{rec: rec, root: abs, debounce: debounce, fsw: fsw}
	if err := w.addTree(abs); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("reconcile.NewWatcher: %w", err)
	}
	return w, nil
}

func skipDir(name string) bool {
	return name == "node_modules" || (len(name) > 1 && strings.HasPrefix(name, "."))
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are left unwatched.
			return nil //nolint:nilerr // keep walking
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			log.Warn().Err(err).Str("dir", path).Msg("reconcile: watch directory")
		}
		return nil
	})
}

// relative maps an absolute event path to the workspace-relative slash form
// cards are anchored by.
func (w *Watcher) relative(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Run processes file events until ctx is cancelled. Changes are coalesced
// per path and reconciled once the path has been quiet for the debounce.
// Removing or renaming a directory reconciles every card below it.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	// path -> true when the path may be a directory that went away
	pending := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !skipDir(info.Name()) {
					if err := w.addTree(ev.Name); err != nil {
						log.Warn().Err(err).Str("dir", ev.Name).Msg("reconcile: watch new directory")
					}
					continue
				}
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Create) {
				continue
			}
			rel, ok := w.relative(ev.Name)
			if !ok {
				continue
			}
			tree := ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
			switch {
			case len(w.rec.store.CardsByPath(rel)) > 0:
				if _, ok := pending[rel]; !ok {
					pending[rel] = false
				}
			case tree && len(w.rec.store.CardsUnder(rel)) > 0:
				pending[rel] = true
			default:
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				log.Warn().Msg("reconcile: watcher overflow, reconciling all cards")
				if _, err := w.rec.ReconcileAll(ctx); err != nil {
					log.Warn().Err(err).Msg("reconcile: reconcile all")
				}
				continue
			}
			log.Error().Err(err).Msg("reconcile: file watcher")

		case <-timer.C:
			for path, tree := range pending {
				n, err := w.rec.ReconcilePath(ctx, path)
				if tree {
					m, terr := w.rec.ReconcileTree(ctx, path)
					n += m
					err = errors.Join(err, terr)
				}
				if err != nil {
					log.Warn().Err(err).Str("path", path).Msg("reconcile: reconcile path")
					continue
				}
				log.Debug().Str("path", path).Int("changed", n).Msg("reconcile: path reconciled")
			}
			clear(pending)
		}
	}
}
