/*

Hoard is a hash-addressed store of immutable directory trees, safe for
concurrent use by multiple goroutines and multiple OS processes sharing
the same store directory.

Vocabulary:

- hash: printable fingerprint of some content; fixed-width hex string
- key: hash supplied by a caller, usually computed from the recipe that
	would produce an artifact; addresses at most one item
- item: finished artifact, addressed by the hash of its own tree; the
	item tree on disk is read-only and never mutated
- pending dir: writable build directory for a key whose artifact is
	under construction; named pending-<key>
- completion link: symlink named complete-<key> whose relative target
	is the item-<hash> directory of the finished artifact
- alias: human-readable name resolving to an item hash; stored in the
	metadata.db sidecar, keyed by the hash of the alias text
- store lock: flock on <dir>/lock plus an in-process mutex; serializes
	all state changes across threads and processes
- mutation window: interval during which the store root is writable;
	outside a window the root is read-only so nothing can create or
	remove top-level entries by accident
- waiter: one-shot handle delivering the terminal state of a pending
	key to a party that did not start the build

*/

package hoard
