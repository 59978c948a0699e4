package source

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"dbconduit/internal/log"
)

// debounce collapses bursts of writes (editors often write twice).
const debounce = 500 * time.Millisecond

// Watcher reloads file-backed sources when their file changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// Watch calls onChange with the source name whenever one of the files
// behind sources is written, created or renamed into place. Directories are
// watched rather than files so atomic replaces are seen.
func Watch(sources []Watchable, onChange func(name string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	pathToName := make(map[string]string)
	watchedDirs := make(map[string]bool)
	for _, s := range sources {
		absPath, err := filepath.Abs(s.Path())
		if err != nil {
			log.Logger.WithField("path", s.Path()).WithError(err).Warn("source watcher: bad path")
			continue
		}
		pathToName[absPath] = s.Name()

		dir := filepath.Dir(absPath)
		if watchedDirs[dir] {
			continue
		}
		if err := fw.Add(dir); err != nil {
			log.Logger.WithField("dir", dir).WithError(err).Warn("source watcher: cannot watch dir")
			continue
		}
		watchedDirs[dir] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{watcher: fw, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		var mu sync.Mutex
		timers := make(map[string]*time.Timer)
		defer func() {
			mu.Lock()
			for _, t := range timers {
				t.Stop()
			}
			mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				absPath, _ := filepath.Abs(ev.Name)
				name, ok := pathToName[absPath]
				if !ok {
					continue
				}
				mu.Lock()
				if t, exists := timers[name]; exists {
					t.Stop()
				}
				timers[name] = time.AfterFunc(debounce, func() {
					if ctx.Err() != nil {
						return
					}
					log.Logger.WithField("source", name).Info("source file changed, reloading")
					onChange(name)
				})
				mu.Unlock()
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Logger.WithError(err).Warn("source watcher error")
			}
		}
	}()

	log.Logger.WithField("files", len(pathToName)).Info("source watcher started")
	return w, nil
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}
