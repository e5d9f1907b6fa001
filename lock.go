package hoard

import (
	"os"
	"path/filepath"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
)

// lock serializes store mutations across goroutines and OS processes.
// The in-process mutex goes first, then a blocking flock(2) on the
// lock file; release runs in reverse.  Not reentrant.
type lock struct {
	mu sync.Mutex
	fh *os.File
}

func openLock(dir string) (lk *lock, err error) {
	defer Return(&err)
	fh, err := os.OpenFile(filepath.Join(dir, "lock"), os.O_RDWR|os.O_CREATE, 0644)
	Ck(err)
	return &lock{fh: fh}, nil
}

func (lk *lock) acquire() (err error) {
	lk.mu.Lock()
	log.Debugf("gid %d acquiring flock on %s", GetGID(), lk.fh.Name())
	err = syscall.Flock(int(lk.fh.Fd()), syscall.LOCK_EX)
	if err != nil {
		lk.mu.Unlock()
		return
	}
	return
}

func (lk *lock) release() (err error) {
	err = syscall.Flock(int(lk.fh.Fd()), syscall.LOCK_UN)
	lk.mu.Unlock()
	return
}

func (lk *lock) close() (err error) {
	return lk.fh.Close()
}
