package fixlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrLocked is returned when another writer holds the log lock past the
// wait timeout.
var ErrLocked = errors.New("fix log is locked by another writer")

const (
	lockPollInterval = 50 * time.Millisecond
	// staleLockAge is how old a lock file must be before it is assumed to
	// belong to a crashed writer.
	staleLockAge = 10 * time.Minute
)

// lockPath returns the sidecar lock file for a log path.
func lockPath(path string) string {
	return path + ".lock"
}

// acquireLock creates the lock file exclusively, waiting up to timeout.
// The returned func removes it.
func acquireLock(path string, timeout time.Duration) (func(), error) {
	lp := lockPath(path)
	if err := os.MkdirAll(filepath.Dir(lp), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(lp), err)
	}
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(lp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintln(f, strconv.Itoa(os.Getpid()))
			f.Close()
			return func() { os.Remove(lp) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w", lp, err)
		}
		if info, statErr := os.Stat(lp); statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			os.Remove(lp)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, lp)
		}
		time.Sleep(lockPollInterval)
	}
}
