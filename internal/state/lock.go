package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const staleLockAge = 10 * time.Minute

// Lock acquires the exclusive per-stack lease. Exactly one up/down/train
// invocation may hold it at a time; locks older than ten minutes are treated
// as stale leftovers from a crashed process.
func (s *Store) Lock(name string) error {
	lockPath := s.lockPath(name)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	// O_EXCL makes acquisition atomic across processes; a stale lock from a
	// crashed process is removed and acquisition retried once.
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			if _, werr := f.WriteString(content); werr != nil {
				f.Close()
				os.Remove(lockPath)
				return fmt.Errorf("write lock file: %w", werr)
			}
			return f.Close()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock file: %w", err)
		}
		if info, serr := os.Stat(lockPath); serr == nil && time.Since(info.ModTime()) > staleLockAge && attempt == 0 {
			os.Remove(lockPath)
			continue
		}
		return fmt.Errorf("stack %q is locked by another process (lock file: %s); "+
			"remove the lock file manually if this is an error", name, lockPath)
	}
}

// Unlock releases the per-stack lease.
func (s *Store) Unlock(name string) error {
	if err := os.Remove(s.lockPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

func (s *Store) lockPath(name string) string {
	return filepath.Join(s.dir, name+".lock")
}
