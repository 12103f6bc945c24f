//go:build !unix

package storage

import (
	"fmt"
	"os"
	"runtime"
)

func tryLockHandle(*os.File) (bool, error) {
	return false, fmt.Errorf("flock on %s: %w", runtime.GOOS, ErrUnsupported)
}

func unlockHandle(*os.File) error {
	return nil
}
