// Package watch tracks breakpointed source files on disk so the bridge can
// flag breakpoints whose source changed after they were set (line numbers
// may no longer line up with compiled code until a recompile).
package watch

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"replbridge/internal/logging"
)

var watchLog = logging.ForComponent(logging.CompWatch)

// Watcher observes a set of source files and reports modifications.
// Directories are watched rather than the files themselves because editors
// typically replace files on save.
type Watcher struct {
	fw       *fsnotify.Watcher
	onChange func(file string)

	mu    sync.Mutex
	files map[string]bool
	dirs  map[string]int

	closeOnce sync.Once
}

// New starts a watcher. onChange is called with the absolute path of each
// tracked file that is written, created, renamed, or removed.
func New(onChange func(file string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fw:       fw,
		onChange: onChange,
		files:    make(map[string]bool),
		dirs:     make(map[string]int),
	}
	go w.run()
	return w, nil
}

// Watch adds a file to the tracked set.
func (w *Watcher) Watch(file string) error {
	file = filepath.Clean(file)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[file] {
		return nil
	}

	dir := filepath.Dir(file)
	if w.dirs[dir] == 0 {
		if err := w.fw.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	w.files[file] = true
	return nil
}

// Unwatch removes a file from the tracked set.
func (w *Watcher) Unwatch(file string) {
	file = filepath.Clean(file)
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.files[file] {
		return
	}
	delete(w.files, file)

	dir := filepath.Dir(file)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		_ = w.fw.Remove(dir)
	}
}

// SetFiles replaces the tracked set, typically from the breakpoint table.
func (w *Watcher) SetFiles(files []string) {
	want := make(map[string]bool, len(files))
	for _, f := range files {
		want[filepath.Clean(f)] = true
	}

	w.mu.Lock()
	var drop []string
	for f := range w.files {
		if !want[f] {
			drop = append(drop, f)
		}
	}
	w.mu.Unlock()

	for _, f := range drop {
		w.Unwatch(f)
	}
	for f := range want {
		if err := w.Watch(f); err != nil {
			watchLog.Warn("watch_failed", slog.String("file", f), slog.String("error", err.Error()))
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fw.Close()
	})
	return err
}

func (w *Watcher) run() {
	const mask = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&mask == 0 {
				continue
			}
			name := filepath.Clean(ev.Name)
			w.mu.Lock()
			tracked := w.files[name]
			w.mu.Unlock()
			if tracked {
				watchLog.Debug("source_changed", slog.String("file", name),
					slog.String("op", ev.Op.String()))
				w.onChange(name)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			watchLog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}
