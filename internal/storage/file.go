package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultSuffix is appended to every key to build the record filename.
	DefaultSuffix = ".cache"
	// DefaultTempSuffix is appended to the record filename for the
	// write-in-progress file that doubles as the lock target.
	DefaultTempSuffix = ".tmp"

	dirPerm  = 0o700
	filePerm = 0o600

	// maxLockAttempts bounds how often Lock reopens a temp handle that turned
	// out to name an already published inode.
	maxLockAttempts = 3
)

// FileOption customises a File engine.
type FileOption func(*File)

// WithSuffix overrides the record suffix.
func WithSuffix(suffix string) FileOption {
	return func(f *File) {
		f.suffix = suffix
	}
}

// WithTempSuffix overrides the temp/lock file suffix.
func WithTempSuffix(tmp string) FileOption {
	return func(f *File) {
		if tmp != "" {
			f.tmp = tmp
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) FileOption {
	return func(f *File) {
		if now != nil {
			f.now = now
		}
	}
}

// WithLogger routes the engine's debug output (swallowed save/delete/lock
// failures) to logger.
func WithLogger(logger logrus.FieldLogger) FileOption {
	return func(f *File) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// File 将每个 key 映射为 <directory>/<key><suffix> 文件，实现 Storage 及全部能力接口。
//
// 记录格式为 "<unix 秒>\n<payload>"。写入先落到 <file><tmp>，持锁 rename 后发布，
// 读者只会打开最终文件名，因此永远看不到半写入的记录。
type File struct {
	directory string
	suffix    string
	tmp       string
	now       func() time.Time
	logger    logrus.FieldLogger

	mu      sync.Mutex
	handles map[string]*os.File // temp path -> 承载 flock 的写句柄
	held    map[string]struct{} // temp paths this engine holds a flock on
}

var (
	_ Storage          = (*File)(nil)
	_ Locker           = (*File)(nil)
	_ ExpirationReader = (*File)(nil)
	_ AgeReader        = (*File)(nil)
	_ NamespaceClearer = (*File)(nil)
)

// NewFile 以 directory 为根目录构建文件存储；目录不可写时立即返回 ErrNotWritable。
func NewFile(directory string, opts ...FileOption) (*File, error) {
	if strings.TrimSpace(directory) == "" {
		return nil, errors.New("storage directory required")
	}

	abs, err := filepath.Abs(directory)
	if err != nil {
		return nil, fmt.Errorf("resolve storage directory: %w", err)
	}

	if err := probeWritable(abs); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotWritable, abs, err)
	}

	f := &File{
		directory: abs,
		suffix:    DefaultSuffix,
		tmp:       DefaultTempSuffix,
		now:       time.Now,
		logger:    discardLogger(),
		handles:   make(map[string]*os.File),
		held:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Directory returns the absolute root directory.
func (f *File) Directory() string {
	return f.directory
}

func (f *File) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	name, err := f.filename(key)
	if err != nil {
		return false, err
	}

	expires, _, err := readRecordHeader(name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return expires.Unix() > f.now().Unix(), nil
}

func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := f.filename(key)
	if err != nil {
		return nil, err
	}

	h, err := openRecord(name)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	// 头部与 payload 来自同一个句柄，期间发生的 rename 不会混淆两个版本。
	reader := bufio.NewReader(h)
	expires, err := readHeader(reader, name)
	if err != nil {
		return nil, err
	}
	if expires.Unix() <= f.now().Unix() {
		return nil, ErrNotFound
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Save 写入临时文件后 rename 发布。本引擎已持锁时直接写入，否则先尝试加锁，
// 锁被其他引擎或进程持有时返回 false。
func (f *File) Save(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	name, err := f.filename(key)
	if err != nil {
		return false, err
	}
	tmp := name + f.tmp

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, held := f.held[tmp]; !held {
		ok, err := f.lockLocked(tmp)
		if err != nil {
			return false, err
		}
		if !ok {
			f.logger.WithFields(logrus.Fields{"action": "save", "key": key}).Debug("lock held elsewhere")
			return false, nil
		}
	}

	h := f.handles[tmp]
	expires := f.now().Add(ttl).Unix()
	if err := writeRecord(h, expires, value); err != nil {
		f.logger.WithError(err).WithFields(logrus.Fields{"action": "save", "key": key}).Debug("write temp record failed")
		f.unlockLocked(tmp)
		return false, nil
	}

	// rename 在释放锁之前完成：其他进程只能锁到新的临时文件，拿不到已发布的 inode。
	renameErr := os.Rename(tmp, name)
	f.unlockLocked(tmp)
	if renameErr != nil {
		f.logger.WithError(renameErr).WithFields(logrus.Fields{"action": "save", "key": key}).Debug("publish record failed")
		return false, nil
	}
	return true, nil
}

func (f *File) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	name, err := f.filename(key)
	if err != nil {
		return false, err
	}

	if err := os.Remove(name); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.WithError(err).WithFields(logrus.Fields{"action": "delete", "key": key}).Debug("remove record failed")
		}
		return false, nil
	}
	return true, nil
}

// Clear 删除根目录下的全部内容（目录在其内容之后删除），根目录本身保留。
func (f *File) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.closeAllLocked()
	return removeTree(f.directory, true)
}

func (f *File) ClearNamespace(ctx context.Context, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := cleanRelative(namespace)
	if err != nil {
		return err
	}

	// 逐项比较后缀而不是拼 glob 模式：根目录可能含有 [ * ? 等元字符。
	dir := filepath.Join(f.directory, filepath.FromSlash(rel))
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat namespace %q: %w", namespace, err)
		}
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read namespace %q: %w", namespace, err)
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), f.suffix) {
			continue
		}
		if err := removeTree(filepath.Join(dir, entry.Name()), false); err != nil {
			return err
		}
	}
	return nil
}

// Lock takes the per-key lock without blocking. It returns false while any
// party holds it, including an earlier Lock on this same engine.
func (f *File) Lock(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	name, err := f.filename(key)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lockLocked(name + f.tmp)
}

// Unlock releases a lock this engine holds; it returns false when the engine
// does not hold one for key.
func (f *File) Unlock(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	name, err := f.filename(key)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlockLocked(name + f.tmp), nil
}

func (f *File) Expiration(ctx context.Context, key string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	name, err := f.filename(key)
	if err != nil {
		return time.Time{}, err
	}

	expires, _, err := readRecordHeader(name)
	return expires, err
}

// Age 返回 expiration 与文件 mtime 之差。
func (f *File) Age(ctx context.Context, key string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	name, err := f.filename(key)
	if err != nil {
		return 0, err
	}

	expires, info, err := readRecordHeader(name)
	if err != nil {
		return 0, err
	}
	return time.Duration(expires.Unix()-info.ModTime().Unix()) * time.Second, nil
}

// Close releases every held lock and closes the temp file handles behind them.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeAllLocked()
}

// readRecordHeader 打开记录读取过期时间头后立即关闭，不缓存读句柄。
func readRecordHeader(name string) (time.Time, os.FileInfo, error) {
	h, err := openRecord(name)
	if err != nil {
		return time.Time{}, nil, err
	}
	defer h.Close()

	info, err := h.Stat()
	if err != nil {
		return time.Time{}, nil, err
	}
	expires, err := readHeader(bufio.NewReader(h), name)
	if err != nil {
		return time.Time{}, nil, err
	}
	return expires, info, nil
}

func readHeader(reader *bufio.Reader, name string) (time.Time, error) {
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return time.Time{}, fmt.Errorf("read record header %s: %w", name, err)
	}
	seconds, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expiration %s: %w", name, err)
	}
	return time.Unix(seconds, 0), nil
}

// filename 将 key 转换为 <directory>/<key><suffix>，拒绝空 key 与逃逸根目录的路径。
func (f *File) filename(key string) (string, error) {
	rel, err := cleanRelative(key)
	if err != nil {
		return "", err
	}
	full := filepath.Join(f.directory, filepath.FromSlash(rel)) + f.suffix
	if !strings.HasPrefix(full, f.directory+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return full, nil
}

func cleanRelative(key string) (string, error) {
	trimmed := strings.Trim(filepath.ToSlash(strings.TrimSpace(key)), "/")
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	rel := strings.TrimPrefix(path.Clean("/"+trimmed), "/")
	if rel == "" || rel == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return rel, nil
}

// openRecord opens a published record; a missing path or a directory is
// ErrNotFound.
func openRecord(name string) (*os.File, error) {
	h, err := os.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	info, err := h.Stat()
	if err != nil {
		h.Close()
		return nil, err
	}
	if info.IsDir() {
		h.Close()
		return nil, ErrNotFound
	}
	return h, nil
}

func writeRecord(h *os.File, expires int64, value []byte) error {
	if err := h.Truncate(0); err != nil {
		return err
	}
	if _, err := h.Seek(0, io.SeekStart); err != nil {
		return err
	}
	record := make([]byte, 0, len(value)+24)
	record = strconv.AppendInt(record, expires, 10)
	record = append(record, '\n')
	record = append(record, value...)
	if _, err := h.Write(record); err != nil {
		return err
	}
	return h.Sync()
}

// removeTree 递归删除 target；keepTop 为 true 时保留 target 目录本身。
// 符号链接只删除链接，不跟随。
func removeTree(target string, keepTop bool) error {
	info, err := os.Lstat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := removeTree(filepath.Join(target, entry.Name()), false); err != nil {
			return err
		}
	}
	if keepTop {
		return nil
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
