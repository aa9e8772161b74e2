//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package blob

import "golang.org/x/sys/unix"

func sysGranularity() int {
	return unix.Getpagesize()
}

func sysAlloc(n int) ([]byte, error) {
	return unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func sysFree(mem []byte) error {
	return unix.Munmap(mem)
}
