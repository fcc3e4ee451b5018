package workspace

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// TreeChange is an out-of-band workspace mutation seen on disk.
type TreeChange struct {
	SessionKey string
	Path       string
	Op         string
}

// Watcher observes every session workspace under the manager's base
// directory and reports create/remove/rename events so connected file
// explorers can refresh. New directories are added to the watch set as they
// appear.
type Watcher struct {
	manager *Manager
	fw      *fsnotify.Watcher
	onEvent func(TreeChange)
	done    chan struct{}
}

func NewWatcher(manager *Manager, onEvent func(TreeChange)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		manager: manager,
		fw:      fw,
		onEvent: onEvent,
		done:    make(chan struct{}),
	}
	if err := fw.Add(manager.Base); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// WatchSession registers an existing session workspace, directories
// included.
func (w *Watcher) WatchSession(sessionKey string) error {
	dir, err := w.manager.Dir(sessionKey)
	if err != nil {
		return err
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
			return w.fw.Add(path)
		}
		return nil
	})
}

// Run consumes fsnotify events until Close. It is meant to be started as a
// goroutine from main.
func (w *Watcher) Run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("❌ Workspace watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.manager.Base, event.Name)
	if err != nil || rel == "." {
		return
	}
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	sessionKey := parts[0]
	inWorkspace := ""
	if len(parts) == 2 {
		inWorkspace = parts[1]
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	// Keep newly created directories under watch.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.fw.Add(event.Name)
		}
	}

	var op string
	switch {
	case event.Op.Has(fsnotify.Create):
		op = "create"
	case event.Op.Has(fsnotify.Remove):
		op = "remove"
	case event.Op.Has(fsnotify.Rename):
		op = "rename"
	default:
		return
	}

	if w.onEvent != nil {
		w.onEvent(TreeChange{SessionKey: sessionKey, Path: inWorkspace, Op: op})
	}
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}
