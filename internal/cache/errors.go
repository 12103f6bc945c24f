package cache

import "errors"

var (
	// ErrNoAttachedStorage 表示操作需要存储，但 Item 尚未 Attach。
	ErrNoAttachedStorage = errors.New("cache: no attached storage")
	// ErrInvalidOption 表示读写了未定义的选项名。
	ErrInvalidOption = errors.New("cache: invalid option")
	// ErrInvalidArgument 表示选项值或 ttl 无法解释为数字，或取值越界。
	ErrInvalidArgument = errors.New("cache: invalid argument")
	// ErrLockWaitExceeded 表示 key 从未有过值、锁被他人持有，且轮询次数耗尽。
	ErrLockWaitExceeded = errors.New("cache: item locked and maximum wait exceeded")
	// ErrNotSaved 表示存储拒绝了写入（例如锁被其他进程持有）。
	ErrNotSaved = errors.New("cache: storage rejected save")
)
