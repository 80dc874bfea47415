package hkv

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()              {}
func (NoopMetrics) Miss()             {}
func (NoopMetrics) Create()           {}
func (NoopMetrics) Delete()           {}
func (NoopMetrics) Evict(EvictReason) {}
func (NoopMetrics) Size(int, int)     {}

var _ Metrics = NoopMetrics{}
