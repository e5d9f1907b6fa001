package hoard

import (
	"os"
	"path/filepath"
)

// Status is the per-key state, read from filesystem ground truth.
type Status int

const (
	StatusMissing Status = iota
	StatusPending
	StatusComplete
)

func (status Status) String() string {
	switch status {
	case StatusMissing:
		return "missing"
	case StatusPending:
		return "pending"
	case StatusComplete:
		return "complete"
	}
	return "unknown"
}

// state reads the on-disk state for key.  Caller holds the store
// lock.  A pending directory wins over a completion link; a
// completion link whose target doesn't parse as an item directory is
// a CorruptedLinkError.
func (st *Store) state(key Hash) (status Status, item *Item, buildDir string, err error) {
	pending := Path{}.New(st.Dir, KindPending, key)
	info, lerr := os.Lstat(pending.Abs)
	if lerr == nil && info.IsDir() {
		return StatusPending, nil, pending.Abs, nil
	}
	if lerr != nil && !os.IsNotExist(lerr) {
		return StatusMissing, nil, "", lerr
	}

	complete := Path{}.New(st.Dir, KindComplete, key)
	info, lerr = os.Lstat(complete.Abs)
	if lerr != nil {
		if os.IsNotExist(lerr) {
			return StatusMissing, nil, "", nil
		}
		return StatusMissing, nil, "", lerr
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return StatusMissing, nil, "", &CorruptedLinkError{Key: key, Target: complete.Abs}
	}
	target, lerr := os.Readlink(complete.Abs)
	if lerr != nil {
		return StatusMissing, nil, "", lerr
	}
	path, perr := parseEntry(st.Dir, filepath.Base(target))
	if perr != nil || path.Kind != KindItem {
		return StatusMissing, nil, "", &CorruptedLinkError{Key: key, Target: target}
	}
	return StatusComplete, Item{}.New(st.Dir, path.Hash), "", nil
}
