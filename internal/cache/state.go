package cache

// State is the outcome of the most recent IsHit decision.
type State int

const (
	// StateUnprobed means IsHit has not run yet.
	StateUnprobed State = iota
	// StateFreshHit: value exists and has not expired.
	StateFreshHit
	// StateStaleRegenerate: value expired and this item won the lock.
	StateStaleRegenerate
	// StateStaleServe: value expired, another party holds the lock; the
	// stale value is served.
	StateStaleServe
	// StateMissRegenerate: no value and this item won the lock.
	StateMissRegenerate
	// StateLateHit: no value, lock held elsewhere, and the value appeared
	// while polling.
	StateLateHit
	// StateWaitTimeout: no value appeared within lock_retries attempts.
	StateWaitTimeout
)

var stateNames = [...]string{
	StateUnprobed:        "unprobed",
	StateFreshHit:        "fresh_hit",
	StateStaleRegenerate: "stale_regenerate",
	StateStaleServe:      "stale_serve_expired",
	StateMissRegenerate:  "miss_regenerate",
	StateLateHit:         "late_hit",
	StateWaitTimeout:     "miss_wait_timeout",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Hit reports whether the state is one where IsHit returned true.
func (s State) Hit() bool {
	return s == StateFreshHit || s == StateStaleServe || s == StateLateHit
}
