package hoard

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

// test boolean condition
func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper() // cause file:line info to show caller
	if !cond {
		t.Fatalf(txt, args...)
	}
}

// setup opens a fresh store under a per-test temp dir.  Stores leave
// read-only trees behind, so we restore write bits before the test
// framework removes the temp dir.
func setup(t *testing.T) (st *Store) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "store")
	st, err := Open(dir)
	tassert(t, err == nil, "Open err %v", err)
	t.Cleanup(func() {
		st.Close()
		makeWritableTree(dir)
	})
	return
}

// key derives a valid fingerprint from a label so tests don't carry
// 64-char literals around.
func key(label string) Hash {
	sum := sha256.Sum256([]byte(label))
	return Hash(bin2hex(sum[:]))
}

func putFile(t *testing.T, dir, name, content string) {
	t.Helper()
	err := ioutil.WriteFile(filepath.Join(dir, name), []byte(content), 0644)
	tassert(t, err == nil, "WriteFile err %v", err)
}

func TestOpenClose(t *testing.T) {
	st := setup(t)
	info, err := os.Stat(st.Dir)
	tassert(t, err == nil, "Stat err %v", err)
	tassert(t, info.Mode().Perm() == rootLocked, "root mode %v", info.Mode().Perm())
	tassert(t, exists(filepath.Join(st.Dir, "lock")), "no lock file")
	tassert(t, exists(filepath.Join(st.Dir, "metadata.db")), "no sidecar")

	err = st.Close()
	tassert(t, err == nil, "Close err %v", err)
	err = st.Close()
	tassert(t, err == nil, "second Close err %v", err)
}

func TestConstructComplete(t *testing.T) {
	st := setup(t)
	k := key("one")

	ok, err := st.IsMissing(k)
	tassert(t, err == nil, "IsMissing err %v", err)
	tassert(t, ok, "fresh key not missing")

	out, err := st.ConstructOrAsync(k)
	tassert(t, err == nil, "ConstructOrAsync err %v", err)
	tassert(t, out.Status == StatusMissing, "status %v", out.Status)
	tassert(t, out.BuildDir != "", "no build dir")
	tassert(t, out.Waiter == nil && out.Item == nil, "unexpected waiter or item")

	putFile(t, out.BuildDir, "greeting", "hello\n")

	ok, err = st.IsPending(k)
	tassert(t, err == nil, "IsPending err %v", err)
	tassert(t, ok, "key not pending mid-build")

	item, err := st.MarkComplete(k)
	tassert(t, err == nil, "MarkComplete err %v", err)
	tassert(t, item != nil, "nil item")

	status, got, err := st.Lookup(k)
	tassert(t, err == nil, "Lookup err %v", err)
	tassert(t, status == StatusComplete, "status %v", status)
	tassert(t, got.Hash == item.Hash, "hash %s != %s", got.Hash, item.Hash)

	buf, err := ioutil.ReadFile(filepath.Join(item.Abs, "greeting"))
	tassert(t, err == nil, "ReadFile err %v", err)
	tassert(t, string(buf) == "hello\n", "content %q", buf)
}

func TestDedup(t *testing.T) {
	st := setup(t)

	for i, k := range []Hash{key("a"), key("b")} {
		bd, err := st.MarkPending(k)
		tassert(t, err == nil, "MarkPending %d err %v", i, err)
		putFile(t, bd, "payload", "same bytes\n")
		_, err = st.MarkComplete(k)
		tassert(t, err == nil, "MarkComplete %d err %v", i, err)
	}

	_, ia, err := st.Lookup(key("a"))
	tassert(t, err == nil, "Lookup a err %v", err)
	_, ib, err := st.Lookup(key("b"))
	tassert(t, err == nil, "Lookup b err %v", err)
	tassert(t, ia.Hash == ib.Hash, "items differ: %s %s", ia.Hash, ib.Hash)

	items, err := st.ListItems()
	tassert(t, err == nil, "ListItems err %v", err)
	tassert(t, len(items) == 1, "item count %d", len(items))
	complete, err := st.ListComplete()
	tassert(t, err == nil, "ListComplete err %v", err)
	tassert(t, len(complete) == 2, "complete count %d", len(complete))
}

func TestIllegalTransitions(t *testing.T) {
	st := setup(t)
	k := key("illegal")

	var notPending *NotPendingError
	var alreadyPending *AlreadyPendingError
	var alreadyComplete *AlreadyCompleteError

	_, err := st.MarkComplete(k)
	tassert(t, errors.As(err, &notPending), "MarkComplete on missing: %v", err)

	err = st.RemoveFailed(k)
	tassert(t, errors.As(err, &notPending), "RemoveFailed on missing: %v", err)

	bd, err := st.MarkPending(k)
	tassert(t, err == nil, "MarkPending err %v", err)
	_, err = st.MarkPending(k)
	tassert(t, errors.As(err, &alreadyPending), "MarkPending on pending: %v", err)

	putFile(t, bd, "f", "x")
	_, err = st.MarkComplete(k)
	tassert(t, err == nil, "MarkComplete err %v", err)

	_, err = st.MarkPending(k)
	tassert(t, errors.As(err, &alreadyComplete), "MarkPending on complete: %v", err)

	_, err = st.MarkComplete(k)
	tassert(t, errors.As(err, &notPending), "MarkComplete on complete: %v", err)

	err = st.RemoveFailed(k)
	tassert(t, errors.As(err, &notPending), "RemoveFailed on complete: %v", err)
}

func TestPermissions(t *testing.T) {
	st := setup(t)
	k := key("perms")

	bd, err := st.MarkPending(k)
	tassert(t, err == nil, "MarkPending err %v", err)

	// root is locked again once the mutation window closes
	info, err := os.Stat(st.Dir)
	tassert(t, err == nil, "Stat err %v", err)
	tassert(t, info.Mode().Perm() == rootLocked, "root mode %v", info.Mode().Perm())

	putFile(t, bd, "f", "frozen")
	err = os.Mkdir(filepath.Join(bd, "sub"), 0755)
	tassert(t, err == nil, "Mkdir err %v", err)
	putFile(t, filepath.Join(bd, "sub"), "g", "deeper")

	item, err := st.MarkComplete(k)
	tassert(t, err == nil, "MarkComplete err %v", err)

	err = filepath.Walk(item.Abs, func(path string, info os.FileInfo, werr error) error {
		if werr != nil {
			return werr
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if info.Mode().Perm()&0222 != 0 {
			return fmt.Errorf("%s is writable: %v", path, info.Mode().Perm())
		}
		return nil
	})
	tassert(t, err == nil, "item tree: %v", err)
}

func TestCrashRepair(t *testing.T) {
	st := setup(t)
	dir := st.Dir

	// simulate a crash inside a mutation window
	err := os.Chmod(dir, rootWritable)
	tassert(t, err == nil, "Chmod err %v", err)
	err = st.Close()
	tassert(t, err == nil, "Close err %v", err)

	st2, err := Open(dir)
	tassert(t, err == nil, "reopen err %v", err)
	defer st2.Close()

	info, err := os.Stat(dir)
	tassert(t, err == nil, "Stat err %v", err)
	tassert(t, info.Mode().Perm() == rootLocked, "root mode %v after reopen", info.Mode().Perm())
}

func TestRemoveFailed(t *testing.T) {
	st := setup(t)
	k := key("doomed")

	bd, err := st.MarkPending(k)
	tassert(t, err == nil, "MarkPending err %v", err)
	putFile(t, bd, "half", "finished")

	err = st.RemoveFailed(k)
	tassert(t, err == nil, "RemoveFailed err %v", err)
	tassert(t, !exists(bd), "build dir survived")

	ok, err := st.IsMissing(k)
	tassert(t, err == nil, "IsMissing err %v", err)
	tassert(t, ok, "key not missing after cleanup")
}

func TestRemoveForcibly(t *testing.T) {
	st := setup(t)
	k := key("force")

	// removing a missing key is a no-op
	err := st.RemoveForcibly(k)
	tassert(t, err == nil, "RemoveForcibly on missing err %v", err)

	bd, err := st.MarkPending(k)
	tassert(t, err == nil, "MarkPending err %v", err)
	putFile(t, bd, "f", "x")
	item, err := st.MarkComplete(k)
	tassert(t, err == nil, "MarkComplete err %v", err)

	err = st.RemoveForcibly(k)
	tassert(t, err == nil, "RemoveForcibly err %v", err)

	status, err := st.Query(k)
	tassert(t, err == nil, "Query err %v", err)
	tassert(t, status == StatusMissing, "status %v", status)

	// the item tree outlives the completion link
	tassert(t, exists(item.Abs), "item removed with link")

	err = st.RemoveItemForcibly(item)
	tassert(t, err == nil, "RemoveItemForcibly err %v", err)
	tassert(t, !exists(item.Abs), "item survived")

	// idempotent
	err = st.RemoveItemForcibly(item)
	tassert(t, err == nil, "second RemoveItemForcibly err %v", err)
}

func TestConstructIfMissing(t *testing.T) {
	st := setup(t)
	k := key("ifmissing")

	out, err := st.ConstructIfMissing(k)
	tassert(t, err == nil, "ConstructIfMissing err %v", err)
	tassert(t, out.Status == StatusMissing && out.BuildDir != "", "out %+v", out)

	// a second call reports pending without subscribing
	out, err = st.ConstructIfMissing(k)
	tassert(t, err == nil, "second ConstructIfMissing err %v", err)
	tassert(t, out.Status == StatusPending, "status %v", out.Status)
	tassert(t, out.BuildDir == "" && out.Waiter == nil, "out %+v", out)
}

func TestListAll(t *testing.T) {
	st := setup(t)

	bd, err := st.MarkPending(key("done"))
	tassert(t, err == nil, "MarkPending err %v", err)
	putFile(t, bd, "f", "x")
	_, err = st.MarkComplete(key("done"))
	tassert(t, err == nil, "MarkComplete err %v", err)

	_, err = st.MarkPending(key("building"))
	tassert(t, err == nil, "MarkPending err %v", err)

	pending, complete, items, err := st.ListAll()
	tassert(t, err == nil, "ListAll err %v", err)
	tassert(t, len(pending) == 1, "pending %v", pending)
	tassert(t, pending[0] == key("building"), "pending %v", pending)
	tassert(t, len(complete) == 1, "complete %v", complete)
	tassert(t, complete[0] == key("done"), "complete %v", complete)
	tassert(t, len(items) == 1, "items %v", items)
}

func TestCorruptedLink(t *testing.T) {
	st := setup(t)
	k := key("corrupt")

	// hand-plant a completion link pointing outside the item namespace
	complete := Path{}.New(st.Dir, KindComplete, k)
	err := st.locked(func() error {
		return st.writable(func() error {
			return os.Symlink("elsewhere", complete.Abs)
		})
	})
	tassert(t, err == nil, "plant err %v", err)

	_, err = st.Query(k)
	var corrupt *CorruptedLinkError
	tassert(t, errors.As(err, &corrupt), "Query on corrupt link: %v", err)
}

func TestWithStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	t.Cleanup(func() { makeWritableTree(dir) })

	var seen string
	err := WithStore(dir, func(st *Store) error {
		seen = st.Dir
		return nil
	})
	tassert(t, err == nil, "WithStore err %v", err)
	tassert(t, seen == dir, "dir %q", seen)

	// fn errors pass through
	err = WithStore(dir, func(st *Store) error {
		return fmt.Errorf("boom")
	})
	tassert(t, err != nil && err.Error() == "boom", "err %v", err)
}
