package hoard

import (
	"errors"
	"syscall"
	"testing"
)

func mkitem(t *testing.T, st *Store, label string) *Item {
	t.Helper()
	bd, err := st.MarkPending(key(label))
	tassert(t, err == nil, "MarkPending err %v", err)
	putFile(t, bd, "payload", label)
	item, err := st.MarkComplete(key(label))
	tassert(t, err == nil, "MarkComplete err %v", err)
	return item
}

func TestAliases(t *testing.T) {
	st := setup(t)
	item := mkitem(t, st, "aliased")

	// unknown names resolve to nil
	got, err := st.LookupAlias("release")
	tassert(t, err == nil, "LookupAlias err %v", err)
	tassert(t, got == nil, "resolved unknown alias to %v", got)

	err = st.AssignAlias("release", item)
	tassert(t, err == nil, "AssignAlias err %v", err)

	got, err = st.LookupAlias("release")
	tassert(t, err == nil, "LookupAlias err %v", err)
	tassert(t, got != nil && got.Hash == item.Hash, "resolved to %v", got)
	tassert(t, got.Abs == item.Abs, "abs %s", got.Abs)

	// reassignment repoints the name
	other := mkitem(t, st, "other")
	err = st.AssignAlias("release", other)
	tassert(t, err == nil, "AssignAlias err %v", err)
	got, err = st.LookupAlias("release")
	tassert(t, err == nil, "LookupAlias err %v", err)
	tassert(t, got.Hash == other.Hash, "resolved to %s", got.Hash)

	err = st.AssignAlias("nightly", item)
	tassert(t, err == nil, "AssignAlias err %v", err)

	aliases, err := st.ListAliases()
	tassert(t, err == nil, "ListAliases err %v", err)
	tassert(t, len(aliases) == 2, "aliases %v", aliases)
	tassert(t, aliases[0].Name == "nightly" && aliases[0].Dest == item.Hash,
		"aliases[0] %v", aliases[0])
	tassert(t, aliases[1].Name == "release" && aliases[1].Dest == other.Hash,
		"aliases[1] %v", aliases[1])

	err = st.RemoveAlias("release")
	tassert(t, err == nil, "RemoveAlias err %v", err)
	got, err = st.LookupAlias("release")
	tassert(t, err == nil, "LookupAlias err %v", err)
	tassert(t, got == nil, "removed alias resolved to %v", got)

	// removing an absent alias is not an error
	err = st.RemoveAlias("release")
	tassert(t, err == nil, "second RemoveAlias err %v", err)
}

func TestAssignAliasMissingItem(t *testing.T) {
	st := setup(t)
	ghost := Item{}.New(st.Dir, key("ghost"))
	err := st.AssignAlias("ghost", ghost)
	tassert(t, errors.Is(err, syscall.ENOENT), "AssignAlias err %v", err)
}

func TestDanglingAlias(t *testing.T) {
	st := setup(t)
	item := mkitem(t, st, "fleeting")

	err := st.AssignAlias("latest", item)
	tassert(t, err == nil, "AssignAlias err %v", err)

	err = st.RemoveItemForcibly(item)
	tassert(t, err == nil, "RemoveItemForcibly err %v", err)

	// the alias survives and dangles
	got, err := st.LookupAlias("latest")
	tassert(t, err == nil, "LookupAlias err %v", err)
	tassert(t, got != nil && got.Hash == item.Hash, "resolved to %v", got)
	tassert(t, !exists(got.Abs), "item tree still present")
}

func TestAliasesPersist(t *testing.T) {
	st := setup(t)
	item := mkitem(t, st, "durable")
	err := st.AssignAlias("keeper", item)
	tassert(t, err == nil, "AssignAlias err %v", err)
	err = st.Close()
	tassert(t, err == nil, "Close err %v", err)

	st2, err := Open(st.Dir)
	tassert(t, err == nil, "reopen err %v", err)
	defer st2.Close()

	got, err := st2.LookupAlias("keeper")
	tassert(t, err == nil, "LookupAlias err %v", err)
	tassert(t, got != nil && got.Hash == item.Hash, "resolved to %v", got)
}
