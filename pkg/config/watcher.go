package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/fsnotify/fsnotify"
)

// Watcher watches the configuration file and calls onChange with the freshly
// loaded configuration once edits settle. Unparseable edits are logged and
// ignored.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)
	logger   logging.Logger
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewWatcher(path string, debounce time.Duration, onChange func(*Config), logger logging.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 1500 * time.Millisecond
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start watches the containing directory, since editors often replace the
// file instead of writing it in place.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}
	w.watcher = watcher

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.logger.Infof("Config watcher started, path: %s, debounce: %v", w.path, w.debounce)
	go w.watch(ctx)
	return nil
}

func (w *Watcher) Stop() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debugf("Config file change detected, op: %s", event.Op)
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			config, err := LoadConfigFromFile(w.path)
			if err != nil {
				w.logger.Errorf("Changed config file is invalid, keeping current configuration: %v", err)
				continue
			}
			w.logger.Infof("Config file changed, path: %s", w.path)
			w.onChange(config)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("Config watcher error: %v", err)
		}
	}
}
