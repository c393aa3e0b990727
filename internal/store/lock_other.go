//go:build !unix

package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// TryLock takes the lock without blocking by creating the lock file
// exclusively. A holder that dies leaves the file behind; remove it by hand.
func (l *FileLock) TryLock() (func() error, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("open lock: %w", err)
	}
	return func() error {
		err := f.Close()
		if rerr := os.Remove(l.path); err == nil {
			err = rerr
		}
		return err
	}, nil
}
