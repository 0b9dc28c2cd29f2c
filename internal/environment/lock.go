package environment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// ErrLocked is returned when another process holds the environment lock.
var ErrLocked = errors.New("environment is locked by another process")

// Lock takes an exclusive lock on the environment for commands that write
// to it. The returned function releases the lock.
func (e *Environment) Lock() (func(), error) {
	path := filepath.Join(e.Home, ".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%w (remove %s if no other mcubench is running)", ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("creating lock file: %w", err)
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
	_ = f.Close()
	return func() { _ = os.Remove(path) }, nil
}
