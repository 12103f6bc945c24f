package storage

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// 不截断：其他进程可能正持有该临时文件的锁并在写入。
const tempFileFlags = os.O_WRONLY | os.O_CREATE

// lockHandleLocked returns the cached write handle for the temp file tmp,
// opening it (and its parent directories) on first use. Caller holds f.mu.
//
// 只缓存临时文件句柄，它们承载 flock；记录文件每次读取都重新打开并立即关闭。
func (f *File) lockHandleLocked(tmp string) (*os.File, error) {
	if h, ok := f.handles[tmp]; ok {
		return h, nil
	}
	if err := os.MkdirAll(filepath.Dir(tmp), dirPerm); err != nil {
		return nil, err
	}
	h, err := os.OpenFile(tmp, tempFileFlags, filePerm)
	if err != nil {
		return nil, err
	}
	f.handles[tmp] = h
	return h, nil
}

func (f *File) closeLockHandleLocked(tmp string) {
	h, ok := f.handles[tmp]
	if !ok {
		return
	}
	delete(f.handles, tmp)
	if err := h.Close(); err != nil {
		f.logger.WithError(err).WithFields(logrus.Fields{
			"action": "close_handle",
			"path":   tmp,
		}).Debug("close handle failed")
	}
}

func (f *File) closeAllLocked() error {
	var errs []error
	for tmp := range f.held {
		if h, ok := f.handles[tmp]; ok {
			if err := unlockHandle(h); err != nil {
				errs = append(errs, err)
			}
		}
		delete(f.held, tmp)
	}
	for tmp, h := range f.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(f.handles, tmp)
	}
	return errors.Join(errs...)
}

// lockLocked 对临时文件加非阻塞排他锁。加锁成功后核对句柄仍指向 tmp 路径，
// 否则说明该 inode 已被 rename 发布，需要丢弃后重新打开。
// 本引擎已持有的锁同样返回 false：flock 对同一个 open file description 可重入，
// 必须由 held 自己拒绝。
func (f *File) lockLocked(tmp string) (bool, error) {
	if _, ok := f.held[tmp]; ok {
		return false, nil
	}

	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		h, err := f.lockHandleLocked(tmp)
		if err != nil {
			return false, err
		}

		acquired, err := tryLockHandle(h)
		if err != nil {
			f.logger.WithError(err).WithFields(logrus.Fields{"action": "lock", "path": tmp}).Debug("flock failed")
			f.closeLockHandleLocked(tmp)
			return false, nil
		}
		if !acquired {
			return false, nil
		}

		if namesPath(h, tmp) {
			f.held[tmp] = struct{}{}
			return true, nil
		}
		_ = unlockHandle(h)
		f.closeLockHandleLocked(tmp)
	}
	return false, nil
}

// unlockLocked releases the flock on tmp and closes its handle.
func (f *File) unlockLocked(tmp string) bool {
	if _, ok := f.held[tmp]; !ok {
		return false
	}
	delete(f.held, tmp)

	if h, ok := f.handles[tmp]; ok {
		if err := unlockHandle(h); err != nil {
			f.logger.WithError(err).WithFields(logrus.Fields{"action": "unlock", "path": tmp}).Debug("flock release failed")
		}
	}
	f.closeLockHandleLocked(tmp)
	return true
}

func namesPath(h *os.File, path string) bool {
	opened, err := h.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(opened, current)
}
