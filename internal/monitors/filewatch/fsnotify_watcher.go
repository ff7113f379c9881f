package filewatch

import (
	"github.com/fsnotify/fsnotify"
)

// FSNotifyWatcher wraps fsnotify.Watcher, translating its Events/Errors
// channels into WatchEvents on a single dispatch goroutine.
type FSNotifyWatcher struct {
	w    *fsnotify.Watcher
	done chan struct{}
}

// NewFSNotifyWatcher opens a new inotify/kqueue/ReadDirectoryChanges
// handle; Add must be called for each path before Start.
func NewFSNotifyWatcher() (*FSNotifyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FSNotifyWatcher{w: w}, nil
}

func (f *FSNotifyWatcher) Add(path string) error {
	return f.w.Add(path)
}

func (f *FSNotifyWatcher) Start(onEvent func(WatchEvent)) error {
	f.done = make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-f.w.Events:
				if !ok {
					return
				}
				onEvent(WatchEvent{Op: opName(ev.Op), Path: ev.Name})
			case _, ok := <-f.w.Errors:
				if !ok {
					return
				}
			case <-f.done:
				return
			}
		}
	}()
	return nil
}

func (f *FSNotifyWatcher) Stop() error {
	if f.done != nil {
		close(f.done)
	}
	return f.w.Close()
}

func opName(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create == fsnotify.Create:
		return "create"
	case op&fsnotify.Write == fsnotify.Write:
		return "write"
	case op&fsnotify.Remove == fsnotify.Remove:
		return "remove"
	case op&fsnotify.Rename == fsnotify.Rename:
		return "rename"
	default:
		return ""
	}
}
