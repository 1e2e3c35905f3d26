package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadCallback is called with the freshly loaded configuration
type ReloadCallback func(cfg *Config)

// Watcher monitors the config file and reloads it on change
type Watcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	debounce   time.Duration
	onReload   ReloadCallback
	done       chan struct{}
	timerMu    sync.Mutex
	timer      *time.Timer
	stopOnce   sync.Once
}

// NewWatcher creates a config file watcher
func NewWatcher(configPath string, onReload ReloadCallback) (*Watcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:    fw,
		configPath: configPath,
		debounce:   200 * time.Millisecond,
		onReload:   onReload,
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching the config file's directory. Watching the directory
// rather than the file keeps the watch alive across editors that rename on
// save.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.eventLoop()

	log.Info().Str("path", w.configPath).Msg("Config watcher started")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := NewLoader(w.configPath).Load()
	if err != nil {
		log.Warn().Err(err).Str("path", w.configPath).Msg("Config reload failed, keeping previous configuration")
		return
	}

	log.Info().Str("path", w.configPath).Msg("Configuration reloaded")
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
