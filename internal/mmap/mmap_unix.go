//go:build !windows

package mmap

import "golang.org/x/sys/unix"

// mapFd maps size bytes of fd read-only. The mapping stays valid after
// fd is closed, but File keeps the descriptor open so the mapping and
// the file share a lifetime.
func mapFd(fd uintptr, size int) ([]byte, error) {
	return unix.Mmap(int(fd), 0, size, unix.PROT_READ, unix.MAP_SHARED)
}

func unmap(data []byte) error {
	return unix.Munmap(data)
}
