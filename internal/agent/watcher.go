package agent

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"hivemind/internal/config"
	"hivemind/internal/logging"
)

// PersonaWatcher hot-reloads a persona yaml file. Rapid editor saves are
// debounced; a malformed file keeps the previous persona.
type PersonaWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	onChange func(config.PersonaConfig)

	lastEvent   time.Time
	debounceDur time.Duration

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewPersonaWatcher creates a watcher for the given persona file.
func NewPersonaWatcher(path string, onChange func(config.PersonaConfig)) (*PersonaWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &PersonaWatcher{
		watcher:     w,
		path:        path,
		onChange:    onChange,
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking.
func (w *PersonaWatcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory: editors replace files on save, which would drop a
	// file-level watch.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.loop()
	return nil
}

// Stop halts the watcher.
func (w *PersonaWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *PersonaWatcher) loop() {
	defer close(w.doneCh)

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.mu.Lock()
			recent := time.Since(w.lastEvent) < w.debounceDur
			if !recent {
				w.lastEvent = time.Now()
			}
			w.mu.Unlock()
			if recent {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryAgent).Warn("persona watcher: %v", err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *PersonaWatcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		logging.Get(logging.CategoryAgent).Warn("persona reload: %v", err)
		return
	}
	var p config.PersonaConfig
	if err := yaml.Unmarshal(data, &p); err != nil {
		logging.Get(logging.CategoryAgent).Warn("persona reload: bad yaml, keeping previous: %v", err)
		return
	}
	p.Clamp()
	w.onChange(p)
}
