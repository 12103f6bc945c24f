//go:build unix

package storage

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

func tryLockHandle(h *os.File) (bool, error) {
	err := unix.Flock(int(h.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return true, nil
	}
	// EWOULDBLOCK 表示锁被其他进程持有。
	if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
		return false, nil
	}
	return false, err
}

func unlockHandle(h *os.File) error {
	return unix.Flock(int(h.Fd()), unix.LOCK_UN)
}
