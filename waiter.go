package hoard

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Update is the terminal state of a pending build, delivered to each
// waiter exactly once.  Failed means the build directory vanished
// without a completion link appearing.
type Update struct {
	Item   *Item
	Failed bool
}

// Waiter subscribes to one pending key and resolves when the build
// reaches a terminal state.  Filesystem events wake it early; the
// watcher's polling tick bounds how long a lost event can delay it.
type Waiter struct {
	store   *Store
	key     Hash
	signal  chan struct{}
	updates chan Update
	done    chan struct{}
	handle  int
	cancel  sync.Once
}

// newWaiter subscribes a waiter to key.  Caller holds the store lock
// and has observed key pending.
func (st *Store) newWaiter(key Hash) (w *Waiter, err error) {
	w = &Waiter{
		store:   st,
		key:     key,
		signal:  make(chan struct{}, 1),
		updates: make(chan Update, 1),
		done:    make(chan struct{}),
	}
	pending := Path{}.New(st.Dir, KindPending, key)
	w.handle, err = st.Watcher.WatchDir(pending.Abs, w.poke)
	if err != nil {
		return nil, err
	}
	st.waitersMu.Lock()
	st.waiters[w] = true
	st.waitersMu.Unlock()
	// query once right away in case the build finished between the
	// caller's observation and the watch registration
	w.poke()
	go w.listen()
	return w, nil
}

// poke coalesces wakeups: a signal already queued means the listener
// will re-query anyway.
func (w *Waiter) poke() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// listen re-queries the key's on-disk state on every wakeup and
// delivers the first terminal state it observes.  Wakeups are
// at-least-once, so a spurious one just costs a query.
func (w *Waiter) listen() {
	defer w.teardown()
	for {
		select {
		case <-w.done:
			return
		case <-w.signal:
		}
		var status Status
		var item *Item
		err := w.store.locked(func() (err error) {
			status, item, _, err = w.store.state(w.key)
			return
		})
		if err != nil {
			log.Debugf("waiter %s query: %v", w.key, err)
			w.deliver(Update{Failed: true})
			return
		}
		switch status {
		case StatusPending:
			continue
		case StatusComplete:
			w.deliver(Update{Item: item})
			return
		case StatusMissing:
			// the build directory was removed without completing
			w.deliver(Update{Failed: true})
			return
		}
	}
}

func (w *Waiter) deliver(upd Update) {
	w.updates <- upd
}

func (w *Waiter) teardown() {
	err := w.store.Watcher.UnwatchDir(w.handle)
	if err != nil {
		log.Debugf("waiter %s unwatch: %v", w.key, err)
	}
	w.store.waitersMu.Lock()
	delete(w.store.waiters, w)
	w.store.waitersMu.Unlock()
}

// Wait blocks until the build reaches a terminal state or the waiter
// is cancelled.  Cancellation surfaces as a failed update.
func (w *Waiter) Wait() Update {
	select {
	case upd := <-w.updates:
		return upd
	default:
	}
	select {
	case upd := <-w.updates:
		return upd
	case <-w.done:
		return Update{Failed: true}
	}
}

// Updates exposes the delivery channel so callers can select against
// their own timeouts.
func (w *Waiter) Updates() <-chan Update {
	return w.updates
}

// Cancel detaches the waiter without waiting for a terminal state.
// Safe to call more than once.
func (w *Waiter) Cancel() {
	w.cancel.Do(func() {
		close(w.done)
	})
}
