// Package watcher feeds file modification events from a project directory
// into the activity cache, so file-cluster detection has context even when
// captured chunks carry no fileContext of their own.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/recall/internal/cache"
)

// debounceWindow batches rapid editor saves into one cache write.
const debounceWindow = 500 * time.Millisecond

// skipDirs are directories never worth watching.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	"target":       true,
}

// ProjectWatcher watches a project root and records modified files against
// its folder in the activity cache.
type ProjectWatcher struct {
	folderID string
	root     string
	cache    cache.ActivityCache

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	pending map[string]struct{}
}

// New creates a watcher for root. Watches the root and every non-skipped
// subdirectory present at start; directories created later are added as
// their create events arrive.
func New(folderID, root string, activity cache.ActivityCache) (*ProjectWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ProjectWatcher{
		folderID: folderID,
		root:     root,
		cache:    activity,
		watcher:  fsw,
		pending:  make(map[string]struct{}),
	}, nil
}

// Start establishes the directory watches and launches the event loop.
func (w *ProjectWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		log.Warn().Err(err).Str("path", w.root).Msg("Failed to establish project watch")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.watchLoop(ctx)
	return nil
}

// Stop halts the event loop and closes the underlying watcher. The mutex
// guards only the running flag: the loop takes it per event, so waiting for
// the loop while holding it would deadlock.
func (w *ProjectWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// addTree watches dir and its subdirectories, skipping the usual noise.
func (w *ProjectWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != dir && (skipDirs[name] || strings.HasPrefix(name, ".")) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *ProjectWatcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()

	var flushTimer *time.Timer
	defer func() {
		if flushTimer != nil {
			flushTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if event.Op&fsnotify.Create != 0 && !skipDirs[filepath.Base(event.Name)] {
					_ = w.watcher.Add(event.Name)
				}
				continue
			}
			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil || ignoredFile(rel) {
				continue
			}

			w.mu.Lock()
			w.pending[rel] = struct{}{}
			w.mu.Unlock()
			if flushTimer != nil {
				flushTimer.Stop()
			}
			flushTimer = time.AfterFunc(debounceWindow, func() { w.flush(ctx) })

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("folder_id", w.folderID).Msg("Project watcher error")
		}
	}
}

// flush pushes the accumulated file set into the activity cache.
func (w *ProjectWatcher) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	files := make([]string, 0, len(w.pending))
	for f := range w.pending {
		files = append(files, f)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if err := w.cache.AddFiles(ctx, w.folderID, files); err != nil {
		log.Warn().Err(err).Str("folder_id", w.folderID).Msg("Failed to record watched files")
	}
}

// ignoredFile filters editor droppings and hidden files out of the stream.
func ignoredFile(rel string) bool {
	base := filepath.Base(rel)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") {
		return true
	}
	for _, part := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
		if skipDirs[part] || (part != "." && strings.HasPrefix(part, ".")) {
			return true
		}
	}
	return false
}
