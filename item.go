package hoard

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
)

// Item is a completed artifact, addressed by the hash of its own
// tree.  The tree under Abs is read-only and never mutated.
type Item struct {
	Hash Hash
	Abs  string
}

func (item Item) New(dir string, hash Hash) *Item {
	item.Hash = hash
	item.Abs = Path{}.New(dir, KindItem, hash).Abs
	return &item
}

// Ref returns a content reference to the whole item tree.
func (item *Item) Ref() Ref {
	return Ref{Item: item}
}

// Ref is a content reference: an item, optionally narrowed to a file
// or subdirectory by a relative path.
type Ref struct {
	Item *Item
	Rel  string
}

// Join narrows the reference by a further relative path.
func (ref Ref) Join(rel string) Ref {
	ref.Rel = filepath.Join(ref.Rel, rel)
	return ref
}

// Abs is the on-disk location the reference points at.
func (ref Ref) Abs() string {
	return filepath.Join(ref.Item.Abs, ref.Rel)
}

// Fingerprint composes the item hash with the relative path, so two
// references are equal iff they address the same content.
func (ref Ref) Fingerprint() (hash Hash, err error) {
	h := sha256.New()
	fmt.Fprintf(h, "ref\n%s\n%s\n", ref.Item.Hash, ref.Rel)
	return Hash(bin2hex(h.Sum(nil))), nil
}
