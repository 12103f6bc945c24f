package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	writtenAt time.Time
}

// Memory is an in-process backend. It implements expiration, age and
// namespace introspection but not Locker, so items bound to it regenerate
// without stampede protection.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var (
	_ Storage          = (*Memory)(nil)
	_ ExpirationReader = (*Memory)(nil)
	_ AgeReader        = (*Memory)(nil)
	_ NamespaceClearer = (*Memory)(nil)
)

// NewMemory creates an empty Memory backend. A nil now defaults to time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

func (m *Memory) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return ok && m.now().Before(e.expiresAt), nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.expiresAt) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *Memory) Save(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if key == "" {
		return false, ErrInvalidKey
	}
	now := m.now()
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{
		value:     stored,
		expiresAt: now.Add(ttl).Truncate(time.Second),
		writtenAt: now,
	}
	return true, nil
}

func (m *Memory) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *Memory) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

func (m *Memory) Expiration(ctx context.Context, key string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return e.expiresAt, nil
}

func (m *Memory) Age(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return 0, ErrNotFound
	}
	return e.expiresAt.Sub(e.writtenAt).Truncate(time.Second), nil
}

// ClearNamespace removes keys directly under namespace, matching the file
// engine's <namespace>/* semantics.
func (m *Memory) ClearNamespace(ctx context.Context, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := strings.Trim(namespace, `/\`)
	if prefix == "" {
		return ErrInvalidKey
	}
	prefix += "/"

	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		rest, ok := strings.CutPrefix(key, prefix)
		if ok && rest != "" && !strings.Contains(rest, "/") {
			delete(m.entries, key)
		}
	}
	return nil
}
