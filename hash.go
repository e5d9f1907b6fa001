package hoard

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	. "github.com/stevegt/goadapt"
)

// Hash is a printable content fingerprint.  The store treats it as an
// opaque filename-safe string; the default hashers below produce
// lowercase hex sha256.
type Hash string

// HashLen is the width of a hex sha256 fingerprint.
const HashLen = sha256.Size * 2

// ParseHash validates the printable form of a fingerprint.
func ParseHash(s string) (hash Hash, err error) {
	defer Return(&err)
	ErrnoIf(len(s) != HashLen, syscall.EINVAL, "malformed hash: %q", s)
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return "", fmt.Errorf("%w: malformed hash: %q", syscall.EINVAL, s)
		}
	}
	return Hash(s), nil
}

// HashDirectory fingerprints a finished build tree.  We hash the
// relative name and kind of every entry plus file contents and symlink
// targets, walking in lexical order so the result is independent of
// readdir ordering.  File modes stay out of the hash -- the store
// strips write bits before hashing anyway.
func HashDirectory(dir string) (hash Hash, err error) {
	defer Return(&err)
	h := sha256.New()
	// a leading class header, so a directory hash can never collide
	// with an alias hash over the same bytes
	_, err = fmt.Fprintf(h, "tree\n")
	Ck(err)
	err = filepath.Walk(dir, func(path string, info os.FileInfo, werr error) error {
		if werr != nil {
			return werr
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(h, "link %s\n%s\n", rel, target)
		case info.IsDir():
			fmt.Fprintf(h, "dir %s\n", rel)
		default:
			fmt.Fprintf(h, "file %s %d\n", rel, info.Size())
			fh, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(h, fh)
			fh.Close()
			if err != nil {
				return err
			}
		}
		return nil
	})
	Ck(err)
	return Hash(bin2hex(h.Sum(nil))), nil
}

// HashAlias fingerprints an alias name for use as the sidecar primary
// key.
func HashAlias(name string) (hash Hash, err error) {
	h := sha256.New()
	fmt.Fprintf(h, "alias\n%s", name)
	return Hash(bin2hex(h.Sum(nil))), nil
}
