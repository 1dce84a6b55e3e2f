package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/agentup/agentup/pkg/logger"
)

// Watcher reloads the config file on change and hands the result to a
// callback. The callback owns the atomic swap; readers keep their snapshot.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onLoad  func(*Config)
}

// NewWatcher starts watching path. onLoad runs on every successful reload.
func NewWatcher(path string, onLoad func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, watcher: fw, onLoad: onLoad}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	log := logger.WithComponent("config")
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				// Keep serving the last good config.
				log.Error("config reload failed", "path", w.path, "error", err)
				continue
			}
			log.Info("config reloaded", "path", w.path)
			w.onLoad(cfg)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error("config watch error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
