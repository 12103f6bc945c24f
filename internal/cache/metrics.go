package cache

// Metrics exposes item-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	// Hit counts any IsHit call that reported true.
	Hit()
	// Miss counts any IsHit call that granted the regenerate role.
	Miss()
	// StaleServed counts hits served from an expired value because another
	// party holds the regeneration lock.
	StaleServed()
	// LockWait records how many existence checks a waiter performed.
	LockWait(attempts int)
	// LockTimeout counts waits that exhausted lock_retries.
	LockTimeout()
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()         {}
func (NoopMetrics) Miss()        {}
func (NoopMetrics) StaleServed() {}
func (NoopMetrics) LockWait(int) {}
func (NoopMetrics) LockTimeout() {}

// Ensure NoopMetrics implements the Metrics interface at compile time.
var _ Metrics = NoopMetrics{}
