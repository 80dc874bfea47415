//go:build !unix

package pool

func defaultMemory() memory { return heapMemory{} }
