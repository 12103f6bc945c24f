package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stampede-cache/stampede/internal/storage"
)

// ItemOption configures an Item or, through NewPool, every item of a Pool.
type ItemOption func(*itemConfig)

type itemConfig struct {
	options Options
	codec   Codec
	metrics Metrics
	logger  logrus.FieldLogger
	now     func() time.Time
	sleep   func(time.Duration)
}

func defaultItemConfig() itemConfig {
	return itemConfig{
		options: DefaultOptions(),
		codec:   JSONCodec{},
		metrics: NoopMetrics{},
		logger:  logrus.StandardLogger(),
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// WithOptions replaces all item options.
func WithOptions(opts Options) ItemOption {
	return func(c *itemConfig) {
		c.options = opts
	}
}

// WithTTL overrides only the ttl option.
func WithTTL(ttl time.Duration) ItemOption {
	return func(c *itemConfig) {
		c.options.TTL = ttl
	}
}

// WithCodec sets the value codec; nil keeps JSON.
func WithCodec(codec Codec) ItemOption {
	return func(c *itemConfig) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithMetrics wires an observability backend.
func WithMetrics(m Metrics) ItemOption {
	return func(c *itemConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger sets the logger used for lock and regeneration decisions.
func WithLogger(logger logrus.FieldLogger) ItemOption {
	return func(c *itemConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) ItemOption {
	return func(c *itemConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// existence 是对 storage.Has 结果的三态缓存。
type existence int8

const (
	existenceUnknown existence = iota
	existenceTrue
	existenceFalse
)

// binding 是 Item 与存储的绑定，能力在 Attach 时一次性解析。
type binding struct {
	storage storage.Storage
	caps    storage.Capabilities
}

// Item 是带踩踏保护的缓存条目。
//
// IsHit 决定调用方是直接使用缓存值、重新生成并 Save，还是等待锁持有者写入。
// Item 不是并发安全的，每个 goroutine 应持有自己的 Item。
type Item[V any] struct {
	key   string
	value V
	// loaded 表示 value 已来自存储或 Set。
	loaded bool

	options    Options
	expiration time.Time
	// explicit 表示 expiration 由 SetExpiration/ExpiresAfter 显式设置。
	explicit bool

	exists existence
	locked bool
	state  State

	binding *binding
	cfg     itemConfig
}

// NewItem creates an item for key. store may be nil; the item is then
// unbound until Attach and every storage operation fails with
// ErrNoAttachedStorage.
func NewItem[V any](key string, store storage.Storage, opts ...ItemOption) *Item[V] {
	cfg := defaultItemConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	it := &Item[V]{
		key:     key,
		options: cfg.options,
		cfg:     cfg,
	}
	it.Attach(store)
	return it
}

// Attach binds the item to store (nil unbinds it) and forgets any cached
// existence check. A lock held through the previous storage is not carried
// over.
func (it *Item[V]) Attach(store storage.Storage) *Item[V] {
	it.exists = existenceUnknown
	it.locked = false
	if store == nil {
		it.binding = nil
		return it
	}
	it.binding = &binding{
		storage: store,
		caps:    storage.CapabilitiesOf(store),
	}
	return it
}

func (it *Item[V]) bound() (*binding, error) {
	if it.binding == nil {
		return nil, fmt.Errorf("item %q: %w", it.key, ErrNoAttachedStorage)
	}
	return it.binding, nil
}

// Storage returns the attached storage.
func (it *Item[V]) Storage() (storage.Storage, error) {
	b, err := it.bound()
	if err != nil {
		return nil, err
	}
	return b.storage, nil
}

func (it *Item[V]) Key() string {
	return it.key
}

// Value returns the cached (or Set) value.
func (it *Item[V]) Value() V {
	return it.value
}

// Set replaces the value held by the item. It is persisted by Save.
func (it *Item[V]) Set(value V) *Item[V] {
	it.value = value
	it.loaded = true
	return it
}

// State returns the outcome of the last IsHit call.
func (it *Item[V]) State() State {
	return it.state
}

// Locked reports whether this item currently holds the storage lock.
func (it *Item[V]) Locked() bool {
	return it.locked
}

func (it *Item[V]) Options() Options {
	return it.options
}

// Option reads a single option by name in its configured unit.
func (it *Item[V]) Option(name string) (int64, error) {
	return it.options.Get(name)
}

// SetOption writes a single option by name. Changing ttl resets a lazily
// computed expiration.
func (it *Item[V]) SetOption(name string, value any) error {
	if err := it.options.Set(name, value); err != nil {
		return err
	}
	if name == OptionTTL {
		it.ResetExpiration()
	}
	return nil
}

// SetTTL sets the ttl and drops the cached expiration.
func (it *Item[V]) SetTTL(ttl time.Duration) *Item[V] {
	it.options.TTL = ttl
	it.ResetExpiration()
	return it
}

// SetExpiration pins the absolute expiration and derives ttl from it.
func (it *Item[V]) SetExpiration(t time.Time) *Item[V] {
	it.expiration = t
	it.explicit = true
	it.options.TTL = t.Sub(it.cfg.now()).Truncate(time.Second)
	return it
}

// ExpiresAt is an alias of SetExpiration.
func (it *Item[V]) ExpiresAt(t time.Time) *Item[V] {
	return it.SetExpiration(t)
}

// ExpiresAfter sets the expiration to now + d.
func (it *Item[V]) ExpiresAfter(d time.Duration) *Item[V] {
	return it.SetExpiration(it.cfg.now().Add(d))
}

// ResetExpiration forgets the cached expiration so the next read recomputes it.
func (it *Item[V]) ResetExpiration() {
	it.expiration = time.Time{}
	it.explicit = false
}

// Expiration returns the logical expiration, computing it on first use: the
// backend expiration minus wiggle when the key exists and the backend can
// report it, now + ttl otherwise.
func (it *Item[V]) Expiration(ctx context.Context) (time.Time, error) {
	if !it.expiration.IsZero() {
		return it.expiration, nil
	}

	if it.binding != nil && it.binding.caps.ExpirationReader != nil {
		exists, err := it.Exists(ctx, false)
		if err != nil {
			return time.Time{}, err
		}
		if exists {
			stored, err := it.binding.caps.Expiration(ctx, it.key)
			switch {
			case err == nil:
				it.expiration = stored.Add(-it.options.Wiggle)
				return it.expiration, nil
			case !errors.Is(err, storage.ErrNotFound):
				return time.Time{}, err
			}
		}
	}

	it.expiration = it.cfg.now().Add(it.options.TTL)
	return it.expiration, nil
}

// Exists reports whether storage has a live record for the key. The answer is
// memoized until reset is true or the item saves.
func (it *Item[V]) Exists(ctx context.Context, reset bool) (bool, error) {
	b, err := it.bound()
	if err != nil {
		return false, err
	}
	if it.exists == existenceUnknown || reset {
		ok, err := b.storage.Has(ctx, it.key)
		if err != nil {
			return false, err
		}
		it.exists = existenceFalse
		if ok {
			it.exists = existenceTrue
		}
	}
	return it.exists == existenceTrue, nil
}

// Expired is true when the key does not exist or its expiration has passed.
// It never looks at the lock.
func (it *Item[V]) Expired(ctx context.Context) (bool, error) {
	exists, err := it.Exists(ctx, false)
	if err != nil {
		return false, err
	}
	if !exists {
		return true, nil
	}
	expiration, err := it.Expiration(ctx)
	if err != nil {
		return false, err
	}
	return expiration.Before(it.cfg.now()), nil
}

// IsHit decides whether the caller may use the cached value.
//
// A value that exists and is fresh is a hit. An expired value is a miss for
// the one caller that wins the lock (it must regenerate and Save) and a hit
// for everyone else, who serve the stale bytes. When no value exists, the lock
// winner gets a miss and the others poll lock_retries times; if the value
// still has not appeared, IsHit fails with ErrLockWaitExceeded.
//
// On every hit the stored value is loaded into the item unless one was
// already loaded or Set.
func (it *Item[V]) IsHit(ctx context.Context) (bool, error) {
	if _, err := it.bound(); err != nil {
		return false, err
	}

	exists, err := it.Exists(ctx, false)
	if err != nil {
		return false, err
	}

	if exists {
		expired, err := it.Expired(ctx)
		if err != nil {
			return false, err
		}
		if !expired {
			return it.hit(ctx, StateFreshHit)
		}

		acquired, err := it.lock(ctx)
		if err != nil {
			return false, err
		}
		if !acquired {
			it.cfg.metrics.StaleServed()
			return it.hit(ctx, StateStaleServe)
		}
		return it.miss(StateStaleRegenerate), nil
	}

	acquired, err := it.lock(ctx)
	if err != nil {
		return false, err
	}
	if acquired {
		return it.miss(StateMissRegenerate), nil
	}
	return it.waitForValue(ctx)
}

// waitForValue 轮询直到锁持有者写入值。睡眠不可中断，已取消的 ctx 会在下一次存储探测时返回错误。
func (it *Item[V]) waitForValue(ctx context.Context) (bool, error) {
	retries := it.options.LockRetries
	for attempt := 1; attempt <= retries; attempt++ {
		exists, err := it.Exists(ctx, true)
		if err != nil {
			return false, err
		}
		if exists {
			it.cfg.metrics.LockWait(attempt)
			return it.hit(ctx, StateLateHit)
		}
		if attempt < retries {
			it.cfg.sleep(it.options.LockSleep)
		}
	}

	it.state = StateWaitTimeout
	it.cfg.metrics.LockWait(retries)
	it.cfg.metrics.LockTimeout()
	it.cfg.logger.WithFields(logrus.Fields{
		"action":   "lock_wait",
		"key":      it.key,
		"attempts": retries,
		"state":    it.state.String(),
	}).Warn("cache item lock wait exceeded")
	return false, fmt.Errorf("%w: key %q after %d attempts", ErrLockWaitExceeded, it.key, retries)
}

func (it *Item[V]) hit(ctx context.Context, state State) (bool, error) {
	it.state = state
	it.cfg.metrics.Hit()
	it.cfg.logger.WithFields(logrus.Fields{"key": it.key, "state": state.String()}).Debug("cache item hit")
	if it.loaded {
		return true, nil
	}
	if err := it.Load(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (it *Item[V]) miss(state State) bool {
	it.state = state
	it.cfg.metrics.Miss()
	it.cfg.logger.WithFields(logrus.Fields{"key": it.key, "state": state.String()}).Debug("cache item regenerate")
	return false
}

// lock 只在真正拿到锁时才记录 locked；失败的尝试不会被当成已持有。
func (it *Item[V]) lock(ctx context.Context) (bool, error) {
	b, err := it.bound()
	if err != nil {
		return false, err
	}
	if it.locked {
		return true, nil
	}
	acquired, err := b.caps.Lock(ctx, it.key)
	if err != nil {
		return false, err
	}
	it.locked = acquired && b.caps.Locker != nil
	return acquired, nil
}

// Release gives the lock back without saving, e.g. when regeneration failed.
// It reports false when the item does not hold the lock.
func (it *Item[V]) Release(ctx context.Context) (bool, error) {
	b, err := it.bound()
	if err != nil {
		return false, err
	}
	if !it.locked {
		return false, nil
	}
	released, err := b.caps.Unlock(ctx, it.key)
	if err != nil {
		return false, err
	}
	it.locked = false
	return released, nil
}

// Load reads the stored value into the item.
func (it *Item[V]) Load(ctx context.Context) error {
	b, err := it.bound()
	if err != nil {
		return err
	}
	data, err := b.storage.Get(ctx, it.key)
	if err != nil {
		return err
	}
	var value V
	if err := it.cfg.codec.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("decode item %q: %w", it.key, err)
	}
	it.value = value
	it.loaded = true
	return nil
}

// Save persists the value using the item's ttl.
func (it *Item[V]) Save(ctx context.Context) (bool, error) {
	return it.save(ctx, nil)
}

// SaveWithTTL stores ttl as the item's ttl and persists the value.
func (it *Item[V]) SaveWithTTL(ctx context.Context, ttl time.Duration) (bool, error) {
	return it.save(ctx, &ttl)
}

// save 写入的存储 ttl 为 (expiration - now) + wiggle；wiggle 从不计入内存中的 expiration。
func (it *Item[V]) save(ctx context.Context, ttl *time.Duration) (bool, error) {
	b, err := it.bound()
	if err != nil {
		return false, err
	}

	now := it.cfg.now()
	switch {
	case ttl != nil:
		it.options.TTL = *ttl
		it.expiration = now.Add(*ttl)
		it.explicit = false
	case !it.explicit:
		it.expiration = now.Add(it.options.TTL)
	}

	data, err := it.cfg.codec.Marshal(it.value)
	if err != nil {
		return false, fmt.Errorf("encode item %q: %w", it.key, err)
	}

	effective := it.expiration.Sub(now) + it.options.Wiggle
	ok, err := b.storage.Save(ctx, it.key, data, effective)
	if err != nil {
		return false, err
	}

	// 存储的 Save 会释放调用方持有的锁。
	it.locked = false
	it.exists = existenceUnknown
	if !ok {
		it.cfg.logger.WithFields(logrus.Fields{"action": "save", "key": it.key}).Debug("storage rejected save")
	}
	return ok, nil
}
