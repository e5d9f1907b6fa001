package hoard

import (
	"bytes"
	"encoding/hex"
	"os"
	"runtime"
	"strconv"
)

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func canstat(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func bin2hex(buf []byte) string {
	return hex.EncodeToString(buf)
}

// GetGID returns the current goroutine ID; we only use this in log
// output, never for control flow.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	b = b[:bytes.IndexByte(b, ' ')]
	n, _ := strconv.ParseUint(string(b), 10, 64)
	return n
}
