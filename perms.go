package hoard

import (
	"os"
	"path/filepath"

	. "github.com/stevegt/goadapt"
)

// root directory modes
const (
	rootLocked   = 0500
	rootWritable = 0700
	buildMode    = 0755
)

// writable opens a mutation window: the root gets its owner write bit
// for the duration of fn and loses it again on every exit path.
// Always called inside the store lock, so at most one window is open.
func (st *Store) writable(fn func() error) (err error) {
	err = os.Chmod(st.Dir, rootWritable)
	if err != nil {
		return
	}
	defer func() {
		cerr := os.Chmod(st.Dir, rootLocked)
		if err == nil {
			err = cerr
		}
	}()
	return fn()
}

// makeReadonlyTree strips the write bits from every file and
// directory under dir, children first so the walk itself keeps
// working.  Last step before a build tree becomes an item.
func makeReadonlyTree(dir string) (err error) {
	defer Return(&err)
	var paths []string
	err = filepath.Walk(dir, func(path string, info os.FileInfo, werr error) error {
		if werr != nil {
			return werr
		}
		if info.Mode()&os.ModeSymlink != 0 {
			// chmod would follow the link
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	Ck(err)
	for i := len(paths) - 1; i >= 0; i-- {
		info, err := os.Lstat(paths[i])
		Ck(err)
		err = os.Chmod(paths[i], info.Mode().Perm()&^0222)
		Ck(err)
	}
	return
}

// makeWritableTree restores owner write and search bits so a
// read-only tree can be deleted.
func makeWritableTree(dir string) (err error) {
	defer Return(&err)
	err = filepath.Walk(dir, func(path string, info os.FileInfo, werr error) error {
		if werr != nil {
			return werr
		}
		if !info.IsDir() {
			return nil
		}
		return os.Chmod(path, info.Mode().Perm()|0700)
	})
	Ck(err)
	return
}

// rmTree deletes a tree that may be read-only.
func rmTree(dir string) (err error) {
	defer Return(&err)
	err = makeWritableTree(dir)
	Ck(err)
	err = os.RemoveAll(dir)
	Ck(err)
	return
}
