// Package lockfile implements the LOCKFILE discipline of spec.md §4.7 step
// 3b: "a per-connection LOCKFILE that guards the whole directory", using an
// advisory file lock so only one worker process at a time writes into a
// given outgoing directory. The same primitive backs the WMO counter file
// lock of spec.md §4.8 (internal/wmocounter).
package lockfile

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Guard holds an advisory write lock on <dir>/LOCKFILE for the duration of
// a connection, released by Unlock on every exit path.
type Guard struct {
	fl *flock.Flock
}

// Acquire blocks (F_SETLKW-equivalent) until it holds an exclusive lock on
// path/LOCKFILE.
func Acquire(dir string) (*Guard, error) {
	path := dir + "/LOCKFILE"
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("lockfile: acquire %s: %w", path, err)
	}
	return &Guard{fl: fl}, nil
}

// Unlock releases the lock. Safe to call multiple times.
func (g *Guard) Unlock() error {
	if g == nil || g.fl == nil {
		return nil
	}
	return g.fl.Unlock()
}
