package tlsroots

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads Roots when its CA bundle changes.
type Watcher struct {
	roots    *Roots
	watcher  *fsnotify.Watcher
	debounce time.Duration
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

// Watch starts reloading r on changes to its bundle. The parent directory
// is watched so editors and secret mounts that replace the file by rename
// are picked up.
func (r *Roots) Watch(debounce time.Duration) (*Watcher, error) {
	if r.path == "" {
		return nil, fmt.Errorf("tlsroots: no CA file to watch")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(r.path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("tlsroots: watch %s: %w", filepath.Dir(r.path), err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	w := &Watcher{
		roots:    r,
		watcher:  fw,
		debounce: debounce,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	base := filepath.Base(w.roots.path)
	var timer *time.Timer
	reload := make(chan struct{}, 1)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			if err := w.roots.Reload(); err != nil {
				w.roots.logger.Error("trust roots reload failed", "ca_file", w.roots.path, "error", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.roots.logger.Warn("trust roots watcher error", "error", err)
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		<-w.stopped
		err = w.watcher.Close()
	})
	return err
}
