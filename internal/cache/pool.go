package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/stampede-cache/stampede/internal/storage"
)

// Pool 是绑定到同一存储的 Item 工厂，并维护一个需显式 Commit 的延迟保存队列。
// 与 Item 一样，Pool 不是并发安全的。
type Pool[V any] struct {
	storage  storage.Storage
	caps     storage.Capabilities
	opts     []ItemOption
	deferred []*Item[V]
}

// NewPool returns a pool whose items share store and opts.
func NewPool[V any](store storage.Storage, opts ...ItemOption) (*Pool[V], error) {
	if store == nil {
		return nil, ErrNoAttachedStorage
	}
	return &Pool[V]{
		storage: store,
		caps:    storage.CapabilitiesOf(store),
		opts:    opts,
	}, nil
}

func (p *Pool[V]) Storage() storage.Storage {
	return p.storage
}

// Capabilities returns the optional features of the pool's storage.
func (p *Pool[V]) Capabilities() storage.Capabilities {
	return p.caps
}

// GetItem returns a bound item for key, with the stored value decoded when
// one exists.
func (p *Pool[V]) GetItem(ctx context.Context, key string) (*Item[V], error) {
	item := NewItem[V](key, p.storage, p.opts...)
	exists, err := item.Exists(ctx, false)
	if err != nil {
		return nil, err
	}
	if exists {
		if err := item.Load(ctx); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// GetItems returns one item per key, in order.
func (p *Pool[V]) GetItems(ctx context.Context, keys []string) ([]*Item[V], error) {
	items := make([]*Item[V], 0, len(keys))
	for _, key := range keys {
		item, err := p.GetItem(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get item %q: %w", key, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Save attaches item to the pool's storage when needed and persists it.
func (p *Pool[V]) Save(ctx context.Context, item *Item[V]) (bool, error) {
	if item == nil {
		return false, fmt.Errorf("%w: nil item", ErrInvalidArgument)
	}
	if item.binding == nil || item.binding.storage != p.storage {
		item.Attach(p.storage)
	}
	return item.Save(ctx)
}

// SaveDeferred queues item until Commit. Queuing the same item twice keeps
// a single entry.
func (p *Pool[V]) SaveDeferred(item *Item[V]) {
	if item == nil {
		return
	}
	for _, queued := range p.deferred {
		if queued == item {
			return
		}
	}
	p.deferred = append(p.deferred, item)
}

// Deferred reports how many items wait for Commit.
func (p *Pool[V]) Deferred() int {
	return len(p.deferred)
}

// Commit saves every deferred item and empties the queue. A rejected save is
// reported as ErrNotSaved; all failures are joined.
func (p *Pool[V]) Commit(ctx context.Context) error {
	queued := p.deferred
	p.deferred = nil

	var errs []error
	for _, item := range queued {
		ok, err := p.Save(ctx, item)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("commit %q: %w", item.Key(), err))
		case !ok:
			errs = append(errs, fmt.Errorf("commit %q: %w", item.Key(), ErrNotSaved))
		}
	}
	return errors.Join(errs...)
}

// DeleteItems removes keys; it reports whether every key was removed.
func (p *Pool[V]) DeleteItems(ctx context.Context, keys []string) (bool, error) {
	all := true
	for _, key := range keys {
		ok, err := p.storage.Delete(ctx, key)
		if err != nil {
			return false, err
		}
		all = all && ok
	}
	return all, nil
}

// Clear drops the deferred queue and wipes the storage.
func (p *Pool[V]) Clear(ctx context.Context) error {
	p.deferred = nil
	return p.storage.Clear(ctx)
}

// ClearNamespace clears a namespace, or returns storage.ErrUnsupported when
// the backend cannot.
func (p *Pool[V]) ClearNamespace(ctx context.Context, namespace string) error {
	return p.caps.ClearNamespace(ctx, namespace)
}
