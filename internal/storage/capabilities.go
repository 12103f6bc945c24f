package storage

import (
	"context"
	"fmt"
	"time"
)

// Capability names reported by Capabilities.Names.
const (
	CapabilityLock           = "lock"
	CapabilityExpiration     = "expiration"
	CapabilityAge            = "age"
	CapabilityClearNamespace = "clear_namespace"
)

// Capabilities is the resolved view of the optional interfaces a Storage
// implements. A nil field means the backend lacks that capability.
type Capabilities struct {
	Locker           Locker
	ExpirationReader ExpirationReader
	AgeReader        AgeReader
	NamespaceClearer NamespaceClearer
}

// CapabilitiesOf inspects s once. Callers keep the result instead of
// re-asserting on every operation.
func CapabilitiesOf(s Storage) Capabilities {
	var caps Capabilities
	if s == nil {
		return caps
	}
	if l, ok := s.(Locker); ok {
		caps.Locker = l
	}
	if e, ok := s.(ExpirationReader); ok {
		caps.ExpirationReader = e
	}
	if a, ok := s.(AgeReader); ok {
		caps.AgeReader = a
	}
	if n, ok := s.(NamespaceClearer); ok {
		caps.NamespaceClearer = n
	}
	return caps
}

// Lock acquires key through the Locker capability. Backends without locking
// always succeed: no stampede protection, but no deadlock either.
func (c Capabilities) Lock(ctx context.Context, key string) (bool, error) {
	if c.Locker == nil {
		return true, nil
	}
	return c.Locker.Lock(ctx, key)
}

// Unlock mirrors Lock.
func (c Capabilities) Unlock(ctx context.Context, key string) (bool, error) {
	if c.Locker == nil {
		return true, nil
	}
	return c.Locker.Unlock(ctx, key)
}

// Expiration returns the backend expiration, or ErrUnsupported.
func (c Capabilities) Expiration(ctx context.Context, key string) (time.Time, error) {
	if c.ExpirationReader == nil {
		return time.Time{}, ErrUnsupported
	}
	return c.ExpirationReader.Expiration(ctx, key)
}

// Age returns the record age, or ErrUnsupported.
func (c Capabilities) Age(ctx context.Context, key string) (time.Duration, error) {
	if c.AgeReader == nil {
		return 0, ErrUnsupported
	}
	return c.AgeReader.Age(ctx, key)
}

// ClearNamespace clears namespace, or returns ErrUnsupported.
func (c Capabilities) ClearNamespace(ctx context.Context, namespace string) error {
	if c.NamespaceClearer == nil {
		return fmt.Errorf("clear namespace %q: %w", namespace, ErrUnsupported)
	}
	return c.NamespaceClearer.ClearNamespace(ctx, namespace)
}

// Names lists the supported capabilities in a stable order.
func (c Capabilities) Names() []string {
	names := make([]string, 0, 4)
	if c.Locker != nil {
		names = append(names, CapabilityLock)
	}
	if c.ExpirationReader != nil {
		names = append(names, CapabilityExpiration)
	}
	if c.AgeReader != nil {
		names = append(names, CapabilityAge)
	}
	if c.NamespaceClearer != nil {
		names = append(names, CapabilityClearNamespace)
	}
	return names
}
