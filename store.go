package hoard

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/renameio"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
)

// Store is a hash-addressed content store rooted at Dir.  The hook
// fields may be set before Open to replace the default hashers and
// watcher; Open fills in whatever is left nil.
type Store struct {
	Dir string

	DirHasher   func(dir string) (Hash, error)
	AliasHasher func(name string) (Hash, error)
	Watcher     DirWatcher
	Period      time.Duration

	lk         *lock
	sc         *sidecar
	ownWatcher bool

	closeMu sync.Mutex
	closed  bool

	waitersMu sync.Mutex
	waiters   map[*Waiter]bool
}

// Open opens the store at dir with default hooks, initializing the
// directory if it doesn't exist yet.
func Open(dir string) (st *Store, err error) {
	return Store{Dir: dir}.Open()
}

// Open opens the store described by the receiver.  Also forces the
// root back to read-only, repairing a root left writable by a process
// that crashed inside a mutation window.
func (st Store) Open() (out *Store, err error) {
	defer Return(&err)

	st.Dir = filepath.Clean(st.Dir)
	if !canstat(st.Dir) {
		err = os.MkdirAll(st.Dir, rootWritable)
		Ck(err)
	}

	// the lock file and sidecar live at the top level, so hold the
	// root writable until both exist
	err = os.Chmod(st.Dir, rootWritable)
	Ck(err)
	st.lk, err = openLock(st.Dir)
	Ck(err)
	st.sc, err = openSidecar(st.Dir)
	Ck(err)
	err = os.Chmod(st.Dir, rootLocked)
	Ck(err)

	if st.DirHasher == nil {
		st.DirHasher = HashDirectory
	}
	if st.AliasHasher == nil {
		st.AliasHasher = HashAlias
	}
	if st.Period == 0 {
		st.Period = DefaultPeriod
	}
	if st.Watcher == nil {
		fw, err := NewFsWatcher()
		Ck(err)
		fw.Period = st.Period
		st.Watcher = fw
		st.ownWatcher = true
	}
	st.waiters = make(map[*Waiter]bool)

	log.Debugf("opened store %s", st.Dir)
	return &st, nil
}

// Close cancels outstanding waiters and releases the watcher, the
// sidecar, and the lock file.  Safe to call more than once.
func (st *Store) Close() (err error) {
	defer Return(&err)

	st.closeMu.Lock()
	defer st.closeMu.Unlock()
	if st.closed {
		return
	}
	st.closed = true

	st.waitersMu.Lock()
	waiters := make([]*Waiter, 0, len(st.waiters))
	for w := range st.waiters {
		waiters = append(waiters, w)
	}
	st.waitersMu.Unlock()
	for _, w := range waiters {
		w.Cancel()
	}

	if st.ownWatcher {
		err = st.Watcher.Shutdown()
		Ck(err)
	}
	err = st.sc.close()
	Ck(err)
	err = st.lk.close()
	Ck(err)
	return
}

// WithStore opens the store at dir, runs fn, and closes the store on
// every exit path.
func WithStore(dir string, fn func(st *Store) error) (err error) {
	defer Return(&err)
	st, err := Open(dir)
	Ck(err)
	defer func() {
		cerr := st.Close()
		if err == nil {
			err = cerr
		}
	}()
	return fn(st)
}

// locked runs fn under the store lock, releasing on every exit path.
func (st *Store) locked(fn func() error) (err error) {
	err = st.lk.acquire()
	if err != nil {
		return
	}
	defer func() {
		rerr := st.lk.release()
		if err == nil {
			err = rerr
		}
	}()
	return fn()
}

// Query reports the state of key.
func (st *Store) Query(key Hash) (status Status, err error) {
	err = st.locked(func() (err error) {
		status, _, _, err = st.state(key)
		return
	})
	return
}

func (st *Store) IsMissing(key Hash) (ok bool, err error) {
	status, err := st.Query(key)
	return status == StatusMissing, err
}

func (st *Store) IsPending(key Hash) (ok bool, err error) {
	status, err := st.Query(key)
	return status == StatusPending, err
}

func (st *Store) IsComplete(key Hash) (ok bool, err error) {
	status, err := st.Query(key)
	return status == StatusComplete, err
}

// Lookup is Query plus the item when key is complete.
func (st *Store) Lookup(key Hash) (status Status, item *Item, err error) {
	err = st.locked(func() (err error) {
		status, item, _, err = st.state(key)
		return
	})
	return
}

// Outcome reports what one atomic look at a key produced.  Status is
// the state observed inside the critical section; at most one of
// BuildDir, Waiter, Item is set.  A non-empty BuildDir means the key
// was missing and this caller now owns the new build directory.
type Outcome struct {
	Status   Status
	BuildDir string
	Waiter   *Waiter
	Item     *Item
}

// ConstructOrAsync atomically claims the build if key is missing,
// subscribes a waiter if another party is already building, or
// returns the item if complete.  Callers mutate the returned build
// directory outside the lock.
func (st *Store) ConstructOrAsync(key Hash) (out Outcome, err error) {
	defer Return(&err)
	err = st.locked(func() (err error) {
		defer Return(&err)
		status, item, _, err := st.state(key)
		Ck(err)
		out = Outcome{Status: status}
		switch status {
		case StatusComplete:
			out.Item = item
		case StatusPending:
			out.Waiter, err = st.newWaiter(key)
			Ck(err)
		case StatusMissing:
			out.BuildDir, err = st.markPending(key)
			Ck(err)
		}
		return
	})
	return
}

// ConstructIfMissing is ConstructOrAsync without the subscription: a
// pending key is just reported pending.
func (st *Store) ConstructIfMissing(key Hash) (out Outcome, err error) {
	defer Return(&err)
	err = st.locked(func() (err error) {
		defer Return(&err)
		status, item, _, err := st.state(key)
		Ck(err)
		out = Outcome{Status: status, Item: item}
		if status == StatusMissing {
			out.BuildDir, err = st.markPending(key)
			Ck(err)
		}
		return
	})
	return
}

// ConstructOrWait is ConstructOrAsync, except that a pending key
// blocks until the build reaches a terminal state.  A build cleaned
// up by another party surfaces as FailedToConstructError.
func (st *Store) ConstructOrWait(key Hash) (buildDir string, item *Item, err error) {
	defer Return(&err)
	out, err := st.ConstructOrAsync(key)
	if err != nil {
		return
	}
	switch {
	case out.BuildDir != "":
		return out.BuildDir, nil, nil
	case out.Item != nil:
		return "", out.Item, nil
	}
	upd := out.Waiter.Wait()
	if upd.Failed {
		return "", nil, &FailedToConstructError{Key: key}
	}
	return "", upd.Item, nil
}

// LookupOrWait is Lookup, returning a subscribed waiter when key is
// pending.
func (st *Store) LookupOrWait(key Hash) (out Outcome, err error) {
	defer Return(&err)
	err = st.locked(func() (err error) {
		defer Return(&err)
		status, item, _, err := st.state(key)
		Ck(err)
		out = Outcome{Status: status, Item: item}
		if status == StatusPending {
			out.Waiter, err = st.newWaiter(key)
			Ck(err)
		}
		return
	})
	return
}

// WaitUntilComplete blocks until key's build finishes and returns the
// item.  A nil item means key was never pending or its build failed.
func (st *Store) WaitUntilComplete(key Hash) (item *Item, err error) {
	defer Return(&err)
	out, err := st.LookupOrWait(key)
	if err != nil {
		return
	}
	switch {
	case out.Item != nil:
		return out.Item, nil
	case out.Waiter != nil:
		upd := out.Waiter.Wait()
		if upd.Failed {
			return nil, nil
		}
		return upd.Item, nil
	}
	return nil, nil
}

// MarkPending claims a build directory for key, which must be
// missing.
func (st *Store) MarkPending(key Hash) (buildDir string, err error) {
	defer Return(&err)
	err = st.locked(func() (err error) {
		defer Return(&err)
		status, _, _, err := st.state(key)
		Ck(err)
		switch status {
		case StatusPending:
			return &AlreadyPendingError{Key: key}
		case StatusComplete:
			return &AlreadyCompleteError{Key: key}
		}
		buildDir, err = st.markPending(key)
		return
	})
	return
}

// markPending creates the build directory; lock held, key missing.
func (st *Store) markPending(key Hash) (buildDir string, err error) {
	defer Return(&err)
	path := Path{}.New(st.Dir, KindPending, key)
	err = st.writable(func() error {
		return os.Mkdir(path.Abs, buildMode)
	})
	Ck(err)
	log.Debugf("gid %d marked pending %s", GetGID(), path.Base)
	return path.Abs, nil
}

// MarkComplete finalizes key's build directory into an item and
// points the completion link at it.  The key must be pending.
func (st *Store) MarkComplete(key Hash) (item *Item, err error) {
	defer Return(&err)
	err = st.locked(func() (err error) {
		defer Return(&err)
		status, _, buildDir, err := st.state(key)
		Ck(err)
		if status != StatusPending {
			return &NotPendingError{Key: key}
		}
		item, err = st.complete(key, buildDir)
		return
	})
	return
}

// complete runs the pending-to-complete transition; lock held.  The
// rename is the linearization point: observers inside the lock see
// either the pending directory or the finished item, never an
// intermediate.
func (st *Store) complete(key Hash, buildDir string) (item *Item, err error) {
	defer Return(&err)

	// freeze the tree before hashing so the hash covers exactly what
	// the item will contain
	err = makeReadonlyTree(buildDir)
	Ck(err)
	hash, err := st.DirHasher(buildDir)
	Ck(err)

	itemPath := Path{}.New(st.Dir, KindItem, hash)
	completePath := Path{}.New(st.Dir, KindComplete, key)
	err = st.writable(func() (err error) {
		defer Return(&err)
		if exists(itemPath.Abs) {
			// identical content is already stored; drop the duplicate
			err = rmTree(buildDir)
			Ck(err)
		} else {
			err = os.Rename(buildDir, itemPath.Abs)
			Ck(err)
		}
		// items live next to completion links, so the relative link
		// target is just the item basename
		err = renameio.Symlink(itemPath.Base, completePath.Abs)
		Ck(err)
		return
	})
	Ck(err)
	log.Debugf("gid %d completed %s -> %s", GetGID(), completePath.Base, itemPath.Base)
	return Item{}.New(st.Dir, hash), nil
}

// RemoveFailed deletes key's pending build directory.  Waiters on key
// observe the cleanup as a failed construction.
func (st *Store) RemoveFailed(key Hash) (err error) {
	defer Return(&err)
	err = st.locked(func() (err error) {
		defer Return(&err)
		status, _, buildDir, err := st.state(key)
		Ck(err)
		if status != StatusPending {
			return &NotPendingError{Key: key}
		}
		return st.writable(func() error {
			return rmTree(buildDir)
		})
	})
	return
}

// RemoveForcibly deletes whichever of key's pending directory or
// completion link exists.  The item tree a link pointed at stays, and
// aliases are not consulted.
func (st *Store) RemoveForcibly(key Hash) (err error) {
	err = st.locked(func() (err error) {
		pending := Path{}.New(st.Dir, KindPending, key)
		complete := Path{}.New(st.Dir, KindComplete, key)
		return st.writable(func() error {
			if exists(pending.Abs) {
				return rmTree(pending.Abs)
			}
			if exists(complete.Abs) {
				return os.Remove(complete.Abs)
			}
			return nil
		})
	})
	return
}

// RemoveItemForcibly deletes an item tree.  Completion links pointing
// at it are left dangling; that's tolerated, as are aliases that
// still name the item.
func (st *Store) RemoveItemForcibly(item *Item) (err error) {
	err = st.locked(func() (err error) {
		return st.writable(func() error {
			if !exists(item.Abs) {
				return nil
			}
			return rmTree(item.Abs)
		})
	})
	return
}

// ListAll scans the root once and classifies every entry.
func (st *Store) ListAll() (pending, complete, items []Hash, err error) {
	defer Return(&err)
	err = st.locked(func() (err error) {
		defer Return(&err)
		infos, err := ioutil.ReadDir(st.Dir)
		Ck(err)
		for _, info := range infos {
			path, perr := parseEntry(st.Dir, info.Name())
			if perr != nil {
				// lock, metadata.db, strays
				continue
			}
			switch path.Kind {
			case KindPending:
				pending = append(pending, path.Hash)
			case KindComplete:
				complete = append(complete, path.Hash)
			case KindItem:
				items = append(items, path.Hash)
			}
		}
		return
	})
	return
}

func (st *Store) ListPending() (keys []Hash, err error) {
	keys, _, _, err = st.ListAll()
	return
}

func (st *Store) ListComplete() (keys []Hash, err error) {
	_, keys, _, err = st.ListAll()
	return
}

func (st *Store) ListItems() (hashes []Hash, err error) {
	_, _, hashes, err = st.ListAll()
	return
}

// AssignAlias points name at item.  The item tree must exist.
func (st *Store) AssignAlias(name string, item *Item) (err error) {
	defer Return(&err)
	err = st.locked(func() (err error) {
		defer Return(&err)
		if !canstat(item.Abs) {
			return fmt.Errorf("%w: no such item: %s", syscall.ENOENT, item.Hash)
		}
		hash, err := st.AliasHasher(name)
		Ck(err)
		return st.writable(func() error {
			return st.sc.put(hash, item.Hash, name)
		})
	})
	return
}

// LookupAlias resolves name.  A nil item means no such alias.  The
// returned item may dangle if it was removed forcibly after the
// alias was assigned.
func (st *Store) LookupAlias(name string) (item *Item, err error) {
	defer Return(&err)
	err = st.locked(func() (err error) {
		defer Return(&err)
		hash, err := st.AliasHasher(name)
		Ck(err)
		dest, found, err := st.sc.get(hash)
		Ck(err)
		if found {
			item = Item{}.New(st.Dir, dest)
		}
		return
	})
	return
}

// RemoveAlias deletes name.  Removing an absent alias is not an
// error.
func (st *Store) RemoveAlias(name string) (err error) {
	defer Return(&err)
	err = st.locked(func() (err error) {
		defer Return(&err)
		hash, err := st.AliasHasher(name)
		Ck(err)
		return st.writable(func() error {
			return st.sc.del(hash)
		})
	})
	return
}

// ListAliases returns the sidecar table, ordered by name.
func (st *Store) ListAliases() (aliases []Alias, err error) {
	err = st.locked(func() (err error) {
		aliases, err = st.sc.list()
		return
	})
	return
}
