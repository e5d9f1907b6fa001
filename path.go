package hoard

import (
	"fmt"
	"path/filepath"
	"strings"
	"syscall"
)

// Kind classifies a top-level store entry by its name prefix.
type Kind int

const (
	KindPending Kind = iota
	KindComplete
	KindItem
)

func (kind Kind) prefix() string {
	switch kind {
	case KindPending:
		return "pending-"
	case KindComplete:
		return "complete-"
	case KindItem:
		return "item-"
	}
	panic(fmt.Sprintf("unhandled kind %d", int(kind)))
}

func (kind Kind) String() string {
	return strings.TrimSuffix(kind.prefix(), "-")
}

// Path locates one top-level store entry.  Base is the entry's
// basename, Abs the full path on disk.
type Path struct {
	Dir  string
	Kind Kind
	Hash Hash
	Base string
	Abs  string
}

func (path Path) New(dir string, kind Kind, hash Hash) *Path {
	path.Dir = dir
	path.Kind = kind
	path.Hash = hash
	path.Base = kind.prefix() + string(hash)
	path.Abs = filepath.Join(dir, path.Base)
	return &path
}

// parseEntry inverts Path.New for a directory basename.  Names that
// don't round-trip -- wrong prefix, malformed hash -- are rejected.
func parseEntry(dir, base string) (path *Path, err error) {
	for _, kind := range []Kind{KindPending, KindComplete, KindItem} {
		prefix := kind.prefix()
		if !strings.HasPrefix(base, prefix) {
			continue
		}
		hash, err := ParseHash(strings.TrimPrefix(base, prefix))
		if err != nil {
			return nil, err
		}
		return Path{}.New(dir, kind, hash), nil
	}
	return nil, fmt.Errorf("%w: not a store entry: %s", syscall.EINVAL, base)
}
