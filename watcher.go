package hoard

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
)

// DirWatcher delivers change notifications for directories.  Delivery
// is at-least-once and best-effort; events may be coalesced, and
// callbacks fire periodically even without OS events, so consumers
// must re-verify state on every wakeup.
type DirWatcher interface {
	WatchDir(path string, callback func()) (handle int, err error)
	UnwatchDir(handle int) (err error)
	Shutdown() (err error)
}

// DefaultPeriod is how often a watch fires its callback regardless of
// OS notifications.  Networked filesystems drop inotify events, so
// the ticker is the liveness floor.
const DefaultPeriod = 3 * time.Second

// FsWatcher is the fsnotify-backed DirWatcher.
type FsWatcher struct {
	Period  time.Duration
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	watches map[int]*watch
	nextID  int
	done    chan struct{}
}

type watch struct {
	path     string
	callback func()
	ticker   *time.Ticker
	stop     chan struct{}
}

func NewFsWatcher() (fw *FsWatcher, err error) {
	defer Return(&err)
	watcher, err := fsnotify.NewWatcher()
	Ck(err)
	fw = &FsWatcher{
		Period:  DefaultPeriod,
		watcher: watcher,
		watches: make(map[int]*watch),
		done:    make(chan struct{}),
	}
	go fw.run()
	return
}

// run dispatches fsnotify events to registered callbacks.  Event
// payloads carry no usable information for us; a hit on or under a
// watched path just pokes the callback.
func (fw *FsWatcher) run() {
	for {
		select {
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			log.Debugf("fsnotify event %v", event)
			fw.dispatch(event.Name)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Debugf("fsnotify error %v", err)
		}
	}
}

func (fw *FsWatcher) dispatch(name string) {
	name = filepath.Clean(name)
	fw.mu.Lock()
	var callbacks []func()
	for _, w := range fw.watches {
		if name == w.path || strings.HasPrefix(name, w.path+string(filepath.Separator)) {
			callbacks = append(callbacks, w.callback)
		}
	}
	fw.mu.Unlock()
	for _, callback := range callbacks {
		callback()
	}
}

// WatchDir registers callback to fire when anything changes under
// path.  The watched directory may disappear later; the periodic
// ticker keeps firing either way.
func (fw *FsWatcher) WatchDir(path string, callback func()) (handle int, err error) {
	path = filepath.Clean(path)
	w := &watch{
		path:     path,
		callback: callback,
		ticker:   time.NewTicker(fw.Period),
		stop:     make(chan struct{}),
	}

	fw.mu.Lock()
	fw.nextID++
	handle = fw.nextID
	fw.watches[handle] = w
	fw.mu.Unlock()

	go func() {
		for {
			select {
			case <-w.stop:
				return
			case <-w.ticker.C:
				callback()
			}
		}
	}()

	// the kernel watch can fail (e.g. path already removed); the
	// ticker still covers the watch, so don't unregister
	err = fw.watcher.Add(path)
	if err != nil {
		log.Debugf("watch add %s: %v", path, err)
		err = nil
	}
	return
}

func (fw *FsWatcher) UnwatchDir(handle int) (err error) {
	fw.mu.Lock()
	w, ok := fw.watches[handle]
	if ok {
		delete(fw.watches, handle)
	}
	fw.mu.Unlock()
	if !ok {
		return
	}
	w.ticker.Stop()
	close(w.stop)
	// the path may be gone or shared with another watch; failure to
	// remove the kernel watch is harmless
	fw.watcher.Remove(w.path)
	return
}

func (fw *FsWatcher) Shutdown() (err error) {
	fw.mu.Lock()
	watches := fw.watches
	fw.watches = make(map[int]*watch)
	fw.mu.Unlock()
	for _, w := range watches {
		w.ticker.Stop()
		close(w.stop)
	}
	select {
	case <-fw.done:
		// already shut down
		return
	default:
		close(fw.done)
	}
	return fw.watcher.Close()
}
