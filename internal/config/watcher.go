package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads the config file on change and hands the result to a
// callback. Used by the serve mode; one-shot commands just Load.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)
	log      *logrus.Entry
	done     chan struct{}
}

// NewWatcher watches the directory containing path. Watching the directory
// instead of the file survives editors that replace the file on save.
func NewWatcher(path string, onReload func(*Config), log *logrus.Entry) (*Watcher, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}
	w := &Watcher{
		path:     path,
		watcher:  fsw,
		onReload: onReload,
		log:      log.WithField("component", "config"),
		done:     make(chan struct{}),
	}
	return w, nil
}

// Start begins watching for config changes.
func (w *Watcher) Start() {
	go w.watch()
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				cfg, err := Load(w.path)
				if err != nil {
					w.log.WithError(err).Warn("Config reload failed, keeping previous config")
					continue
				}
				w.log.Info("Config reloaded")
				w.onReload(cfg)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("Config watcher error")

		case <-w.done:
			return
		}
	}
}
