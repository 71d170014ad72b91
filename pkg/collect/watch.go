package collect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"
)

// Watcher reports supported images as they are created or rewritten under a set of directories.
type Watcher struct {
	// Settle is how long a file must go without further events before it is handed off.
	Settle time.Duration

	fw     *fsnotify.Watcher
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher watches roots and every directory below them.
func NewWatcher(roots ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	w := &Watcher{Settle: 500 * time.Millisecond, fw: fw, timers: map[string]*time.Timer{}}
	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && d.Name()[0] == '.' {
			return filepath.SkipDir
		}
		klog.V(1).Infof("watching %s", path)
		return w.fw.Add(path)
	})
}

// Run calls handle for each settled image until ctx is done. handle is never called
// concurrently.
func (w *Watcher) Run(ctx context.Context, handle func(path string)) error {
	defer w.fw.Close()

	ready := make(chan string)
	stop := make(chan struct{})
	var hwg sync.WaitGroup
	hwg.Add(1)
	go func() {
		defer hwg.Done()
		for {
			select {
			case p := <-ready:
				handle(p)
			case <-stop:
				return
			}
		}
	}()
	defer func() {
		close(stop)
		w.stopTimers()
		hwg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Base(ev.Name)[0] == '.' {
				continue
			}
			if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
				if err := w.addTree(ev.Name); err != nil {
					klog.Warningf("failed to watch new directory %s: %v", ev.Name, err)
				}
				continue
			}
			if !Supported(ev.Name) {
				continue
			}
			w.schedule(ev.Name, ready, stop)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("watcher error: %v", err)
		}
	}
}

// schedule (re)starts the settle timer for path.
func (w *Watcher) schedule(path string, ready chan<- string, stop <-chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.Settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.Settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case ready <- path:
		case <-stop:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}
