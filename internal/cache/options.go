package cache

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cast"
)

// Option names accepted by Options.Get/Set and by the [Item] config section.
const (
	// OptionTTL is the time to live in seconds.
	OptionTTL = "ttl"
	// OptionWiggle adds seconds to the storage ttl so other processes can
	// keep serving the expired value while one regenerates it.
	OptionWiggle = "wiggle"
	// OptionLockRetries is how many times a waiter re-checks for a value.
	OptionLockRetries = "lock_retries"
	// OptionLockSleepTimeout is the pause between retries, in milliseconds.
	OptionLockSleepTimeout = "lock_sleep_timeout"
	// OptionLockTimeout is a ceiling for a single lock attempt, in
	// milliseconds. Locks are non-blocking so it is currently not consulted.
	OptionLockTimeout = "lock_timeout"
)

// Options holds the per-item knobs.
type Options struct {
	TTL         time.Duration
	Wiggle      time.Duration
	LockRetries int
	LockSleep   time.Duration
	LockTimeout time.Duration
}

// DefaultOptions 返回默认选项：ttl 2h、wiggle 5m、重试 20 次、间隔 100ms。
func DefaultOptions() Options {
	return Options{
		TTL:         7200 * time.Second,
		Wiggle:      300 * time.Second,
		LockRetries: 20,
		LockSleep:   100 * time.Millisecond,
		LockTimeout: 60000 * time.Millisecond,
	}
}

// OptionNames lists every valid option name, sorted.
func OptionNames() []string {
	names := []string{OptionTTL, OptionWiggle, OptionLockRetries, OptionLockSleepTimeout, OptionLockTimeout}
	sort.Strings(names)
	return names
}

// Get returns the option value in its configured unit (seconds, count or
// milliseconds).
func (o Options) Get(name string) (int64, error) {
	switch name {
	case OptionTTL:
		return int64(o.TTL / time.Second), nil
	case OptionWiggle:
		return int64(o.Wiggle / time.Second), nil
	case OptionLockRetries:
		return int64(o.LockRetries), nil
	case OptionLockSleepTimeout:
		return o.LockSleep.Milliseconds(), nil
	case OptionLockTimeout:
		return o.LockTimeout.Milliseconds(), nil
	default:
		return 0, fmt.Errorf("%w: %s is not a valid option", ErrInvalidOption, name)
	}
}

// Set assigns an option from a loosely typed value: integers, floats and
// numeric strings are interpreted in the option's unit, a time.Duration is
// taken as-is.
func (o *Options) Set(name string, value any) error {
	switch name {
	case OptionTTL, OptionWiggle, OptionLockRetries, OptionLockSleepTimeout, OptionLockTimeout:
	default:
		return fmt.Errorf("%w: %s is not a valid option", ErrInvalidOption, name)
	}

	if d, ok := value.(time.Duration); ok {
		return o.setDuration(name, d)
	}
	if _, ok := value.(bool); ok {
		return fmt.Errorf("%w: %s must be numeric, got bool", ErrInvalidArgument, name)
	}
	n, err := cast.ToInt64E(value)
	if err != nil {
		return fmt.Errorf("%w: %s must be numeric: %v", ErrInvalidArgument, name, err)
	}

	switch name {
	case OptionTTL:
		return o.setDuration(name, time.Duration(n)*time.Second)
	case OptionWiggle:
		return o.setDuration(name, time.Duration(n)*time.Second)
	case OptionLockRetries:
		if n < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidArgument, name)
		}
		o.LockRetries = int(n)
		return nil
	default:
		return o.setDuration(name, time.Duration(n)*time.Millisecond)
	}
}

func (o *Options) setDuration(name string, d time.Duration) error {
	// ttl 允许为负：已过期的条目同样可以写入。
	if d < 0 && name != OptionTTL {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidArgument, name)
	}
	switch name {
	case OptionTTL:
		o.TTL = d
	case OptionWiggle:
		o.Wiggle = d
	case OptionLockRetries:
		return fmt.Errorf("%w: %s is a count, not a duration", ErrInvalidArgument, name)
	case OptionLockSleepTimeout:
		o.LockSleep = d
	case OptionLockTimeout:
		o.LockTimeout = d
	}
	return nil
}

// Map returns the options keyed by name, in their configured units.
func (o Options) Map() map[string]int64 {
	out := make(map[string]int64, 5)
	for _, name := range OptionNames() {
		out[name], _ = o.Get(name)
	}
	return out
}

// ParseOptions overlays raw onto base. Unknown keys fail with
// ErrInvalidOption, non-numeric values with ErrInvalidArgument.
func ParseOptions(base Options, raw map[string]any) (Options, error) {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := base
	for _, key := range keys {
		if err := out.Set(key, raw[key]); err != nil {
			return Options{}, err
		}
	}
	return out, nil
}
