package util

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
)

// ErrLocked is returned while another process holds the lock.
var ErrLocked = errors.New("locked by another process")

// DirLock is an exclusive advisory lock on a lock file.
type DirLock struct {
	lock *flock.Flock
}

// AcquireLock takes an exclusive lock on path, creating its directory if
// needed. A busy lock is retried with backoff until ctx is done or the
// attempts run out.
func AcquireLock(ctx context.Context, path string) (*DirLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(path)
	err := Retry(ctx, func() error {
		locked, err := fl.TryLock()
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if !locked {
			log.WithField("lock", path).Debug("lock busy, retrying")
			return ErrLocked
		}
		return nil
	}, LockRetryOptions(ctx)...)
	if err != nil {
		return nil, err
	}
	return &DirLock{lock: fl}, nil
}

// Path returns the lock file path
func (l *DirLock) Path() string {
	return l.lock.Path()
}

// Release drops the lock
func (l *DirLock) Release() error {
	return l.lock.Unlock()
}
