// Package instance guarantees a single bridge daemon per user.
package instance

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/kabili207/ocbridge/core"
)

// LockFile is the lock file name inside the config directory.
const LockFile = "ocbridge.lock"

// Lock is a held instance lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the instance lock in dir without blocking. It fails with
// core.ErrAlreadyRunning when another process holds it.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", core.ErrIO, dir, err)
	}
	fl := flock.New(filepath.Join(dir, LockFile))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: locking %s: %v", core.ErrIO, fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is held", core.ErrAlreadyRunning, fl.Path())
	}
	return &Lock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.fl.Path() }

// Release drops the lock.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("%w: unlocking %s: %v", core.ErrIO, l.fl.Path(), err)
	}
	return nil
}
