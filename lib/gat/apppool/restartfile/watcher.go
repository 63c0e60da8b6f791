package restartfile

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher pre-arms restart checks with fsnotify so hot checkout paths can
// skip the restart.txt mtime stat when nothing changed in the restart
// directory. It must never gate the always_restart.txt presence check: that
// marker triggers without producing further events. Events may arrive late;
// a stale read only delays detection by one checkout, so the polling Oracle
// stays the source of truth.
type Watcher struct {
	inner *fsnotify.Watcher
	dirty atomic.Bool
	done  chan struct{}
}

func NewWatcher(dir string, log *zap.Logger) (*Watcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err = inner.Add(dir); err != nil {
		_ = inner.Close()
		return nil, err
	}

	T := &Watcher{
		inner: inner,
		done:  make(chan struct{}),
	}
	// start dirty so the first check always stats
	T.dirty.Store(true)

	go func() {
		for {
			select {
			case <-T.done:
				return
			case _, ok := <-inner.Events:
				if !ok {
					return
				}
				T.dirty.Store(true)
			case err, ok := <-inner.Errors:
				if !ok {
					return
				}
				T.dirty.Store(true)
				log.Debug("restart dir watch error", zap.Error(err))
			}
		}
	}()

	return T, nil
}

// TakeDirty reports whether the directory may have changed since the last
// call, and resets the flag.
func (T *Watcher) TakeDirty() bool {
	return T.dirty.Swap(false)
}

func (T *Watcher) Close() error {
	close(T.done)
	return T.inner.Close()
}
