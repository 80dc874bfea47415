//go:build unix

package pool

import "golang.org/x/sys/unix"

// mmapMemory keeps payloads outside the Go heap so the GC neither scans nor
// accounts for them.
type mmapMemory struct{}

func (mmapMemory) Map(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func (mmapMemory) Unmap(b []byte) error { return unix.Munmap(b) }

func defaultMemory() memory { return mmapMemory{} }
