package snap

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// lockFileName lives in the instance state directory. Only one backup or
// restore operation may run at a time per instance: concurrent archiver runs
// would race on the change-state tokens, and a concurrent pruner could
// delete a snapshot another operation is chaining through.
const lockFileName = "docsnap.lock"

// Lock acquires the exclusive per-instance lock. It returns a release
// function, or an error if another operation holds the lock.
func Lock(stateDir string) (func() error, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	path := filepath.Join(stateDir, lockFileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			holder := "unknown"
			if data, readErr := os.ReadFile(path); readErr == nil && len(data) > 0 {
				holder = string(data)
			}
			return nil, NewError(InvalidInput, "acquire instance lock", "",
				fmt.Errorf("another operation is running (pid %s); remove %s if it is stale", holder, path))
		}
		return nil, fmt.Errorf("creating lock file: %w", err)
	}

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("closing lock file: %w", err)
	}

	return func() error { return os.Remove(path) }, nil
}
