package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the write/rename bursts editors produce into a
// single reload.
const debounceWindow = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk and invokes a
// callback with the fresh config. Removing the file does not fire the
// callback; the last good config stays in effect.
type Watcher struct {
	path     string
	onChange func(Config)
	onError  func(error)
	fw       *fsnotify.Watcher
	done     chan struct{}
}

// Watch starts watching path. onChange receives each successfully reloaded
// config; onError (optional) receives reload and watch failures.
func Watch(path string, onChange func(Config), onError func(error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: most editors replace the file on
	// save, which drops a direct file watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		onError:  onError,
		fw:       fw,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				fire = timer.C
			} else {
				timer.Reset(debounceWindow)
			}
		case <-fire:
			timer = nil
			fire = nil
			w.reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.fail(err)
		}
	}
}

func (w *Watcher) reload() {
	if _, err := os.Stat(w.path); err != nil {
		// File renamed away or deleted; keep the last good config.
		return
	}
	cfg, err := Load(w.path)
	if err != nil {
		w.fail(err)
		return
	}
	w.onChange(cfg)
}

func (w *Watcher) fail(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}
