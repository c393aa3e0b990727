package store

import "errors"

// ErrLocked is returned by TryLock while another holder owns the lock
var ErrLocked = errors.New("store locked by another run")

// LockPath is the run lock file that sits next to the store at storePath
func LockPath(storePath string) string { return storePath + ".lock" }

// FileLock excludes runs across every process sharing one store. Each
// TryLock opens its own descriptor, so two FileLocks on one path also
// exclude each other inside a process.
type FileLock struct {
	path string
}

// NewFileLock creates a lock on the file at path. The file is created on
// first use.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}
