package hoard

import "fmt"

// NotPendingError means the operation needed a pending build that
// does not exist.
type NotPendingError struct {
	Key Hash
}

func (e *NotPendingError) Error() string {
	return fmt.Sprintf("not pending: %s", e.Key)
}

// AlreadyPendingError means the key already has a build in progress.
type AlreadyPendingError struct {
	Key Hash
}

func (e *AlreadyPendingError) Error() string {
	return fmt.Sprintf("already pending: %s", e.Key)
}

// AlreadyCompleteError means the key already resolves to an item.
type AlreadyCompleteError struct {
	Key Hash
}

func (e *AlreadyCompleteError) Error() string {
	return fmt.Sprintf("already complete: %s", e.Key)
}

// CorruptedLinkError means a completion symlink exists but its target
// does not parse as an item directory.  Not recoverable by the store.
type CorruptedLinkError struct {
	Key    Hash
	Target string
}

func (e *CorruptedLinkError) Error() string {
	return fmt.Sprintf("corrupted link for %s: %s", e.Key, e.Target)
}

// FailedToConstructError means a wait ended because the pending build
// was cleaned up instead of completing.
type FailedToConstructError struct {
	Key Hash
}

func (e *FailedToConstructError) Error() string {
	return fmt.Sprintf("failed to construct: %s", e.Key)
}
