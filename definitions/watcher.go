package definitions

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
)

// ReloadFunc receives the freshly loaded bundle after a change. Returning an
// error keeps the previous definitions in force.
type ReloadFunc func(*Definitions) error

// Watcher reloads definitions when a *.strata.toml file under the watched
// paths changes. Bursts of events are debounced into one reload.
type Watcher struct {
	paths          []string
	watcher        *fsnotify.Watcher
	onReload       ReloadFunc
	debouncePeriod time.Duration
	logger         *zap.SugaredLogger

	mu            sync.Mutex
	debounceTimer *time.Timer
	done          chan struct{}
	wg            sync.WaitGroup
}

// NewWatcher watches every directory under paths.
func NewWatcher(paths []string, onReload ReloadFunc, log *zap.SugaredLogger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	dirs := Dirs(paths)
	for _, dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, errors.Wrapf(err, "failed to watch %s", dir)
		}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log.Debugw("Watching definitions", logger.FieldCount, len(dirs))

	return &Watcher{
		paths:          paths,
		watcher:        fw,
		onReload:       onReload,
		debouncePeriod: 250 * time.Millisecond,
		logger:         log,
		done:           make(chan struct{}),
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.watchLoop()
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, FileSuffix) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Infow("Definitions changed", logger.FieldFile, event.Name, "op", event.Op.String())
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("Definitions watcher error", logger.FieldError, err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, w.reload)
}

func (w *Watcher) reload() {
	d, err := LoadPaths(w.paths)
	if err != nil {
		w.logger.Errorw("Definitions reload failed, keeping previous definitions", logger.FieldError, err)
		return
	}
	if err := w.onReload(d); err != nil {
		w.logger.Errorw("Definitions rejected, keeping previous definitions", logger.FieldError, err)
		return
	}
	w.logger.Infow("Definitions reloaded", "files", len(d.Sources))
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	close(w.done)
	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
