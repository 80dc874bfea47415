package pool

// memory is where segment payloads come from.
type memory interface {
	Map(size int) ([]byte, error)
	Unmap(b []byte) error
}

type heapMemory struct{}

func (heapMemory) Map(size int) ([]byte, error) { return make([]byte, size), nil }
func (heapMemory) Unmap([]byte) error           { return nil }
