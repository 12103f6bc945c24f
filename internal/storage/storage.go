package storage

import (
	"context"
	"errors"
	"time"
)

// Storage 是所有缓存后端都必须实现的最小 KV 契约。
//
// Save/Delete 的失败以 false 返回，只有目录或句柄层面的故障才以 error 返回。
type Storage interface {
	// Has 仅当记录存在且未过期时返回 true。
	Has(ctx context.Context, key string) (bool, error)

	// Get 返回记录负载；不存在或已过期时返回 ErrNotFound。
	Get(ctx context.Context, key string) ([]byte, error)

	// Save 以 ttl 为存活时长写入记录。
	Save(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete 删除记录；记录不存在时返回 false 而非 error。
	Delete(ctx context.Context, key string) (bool, error)

	// Clear 清空整个存储。
	Clear(ctx context.Context) error
}

// Locker 由支持建议锁的后端实现。Lock 不阻塞，锁已被持有（包括被同一实例持有）时返回 false。
// 对已持有锁的 key 调用 Save 会在发布记录后释放该锁。
type Locker interface {
	Lock(ctx context.Context, key string) (bool, error)
	Unlock(ctx context.Context, key string) (bool, error)
}

// ExpirationReader 暴露后端记录的绝对过期时间。
type ExpirationReader interface {
	Expiration(ctx context.Context, key string) (time.Time, error)
}

// AgeReader 暴露记录写入后的存活时长。
type AgeReader interface {
	Age(ctx context.Context, key string) (time.Duration, error)
}

// NamespaceClearer 删除共享同一路径前缀的全部记录，"a/b" 属于命名空间 "a"。
type NamespaceClearer interface {
	ClearNamespace(ctx context.Context, namespace string) error
}

var (
	// ErrNotFound 表示记录不存在或已过期。
	ErrNotFound = errors.New("storage: entry not found")
	// ErrInvalidKey 表示 key 为空或会逃逸出存储根目录。
	ErrInvalidKey = errors.New("storage: invalid key")
	// ErrNotWritable 表示存储根目录不可写，构造阶段即失败。
	ErrNotWritable = errors.New("storage: directory not writable")
	// ErrUnsupported 表示后端不具备所请求的能力。
	ErrUnsupported = errors.New("storage: capability not supported")
)
