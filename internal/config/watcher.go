package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads the config file when it is rewritten on disk. A reload
// only affects what readers see going forward - a live call keeps the
// negotiation inputs it started with.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu  sync.RWMutex
	cfg Config

	onChange func(Config)
	closed   chan struct{}
}

// Watch starts watching path, seeded with cur. onChange may be nil.
func Watch(path string, cur Config, onChange func(Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save and
	// the inode watch would die with the old file.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	w := &Watcher{
		path:     path,
		watcher:  fw,
		cfg:      cur,
		onChange: onChange,
		closed:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Current returns the latest valid config.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.closed)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				// Keep serving the last valid config.
				log.Printf("CFG: reload failed, keeping previous: %v", err)
				continue
			}
			w.mu.Lock()
			w.cfg = cfg
			w.mu.Unlock()
			log.Printf("CFG: reloaded %s", w.path)
			if w.onChange != nil {
				w.onChange(cfg)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("CFG: watcher error: %v", err)
		}
	}
}
