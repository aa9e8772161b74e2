//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package blob

import "os"

func sysGranularity() int {
	return os.Getpagesize()
}

func sysAlloc(n int) ([]byte, error) {
	return make([]byte, n), nil
}

func sysFree([]byte) error {
	return nil
}
