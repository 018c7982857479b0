package paperrunner

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// fileLock guards paper/.lock for the duration of one Run invocation, per
// spec §5's "paper-mode persistence serializes exclusive-owner state at
// tick boundaries under a file lock to serialize concurrent processes."
// An advisory flock rather than a sentinel file: it releases automatically
// if the holding process dies, so a crashed run never leaves the account
// wedged for the next invocation.
type fileLock struct {
	f *os.File
}

// acquireLock takes an exclusive, blocking flock on base/.lock.
func acquireLock(base string) (*fileLock, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("paperrunner: mkdir %s: %w", base, err)
	}
	path := filepath.Join(base, ".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("paperrunner: open lock %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("paperrunner: flock %s: %w", path, err)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
