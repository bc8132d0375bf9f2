// Package wmocounter implements the WMO bulletin counter of spec.md §4.8: a
// per-host, per-port persistent file holding a single 32-bit counter,
// serialised by an advisory write lock on the file.
package wmocounter

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// MaxCounter is the wrap boundary (spec.md §4.8: "wrap at
// MAX_WMO_COUNTER (=999)").
const MaxCounter = 999

// Next implements "Read → increment → wrap ... → write back → unlock" for
// the counter file at path: it returns the counter's current value (the
// one to stamp on the bulletin about to be sent) and persists the
// incremented, wrap-checked value for the following call. The lock is
// released on every return path, including I/O failures after acquisition
// (spec.md §4.8: "Any I/O failure after acquiring the lock mandates an
// explicit unlock before returning").
func Next(path string) (int, error) {
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return 0, fmt.Errorf("wmocounter: acquire lock on %s: %w", path, err)
	}
	defer fl.Unlock()

	current, err := read(path)
	if err != nil {
		return 0, fmt.Errorf("wmocounter: read %s: %w", path, err)
	}

	next := current + 1
	if next > MaxCounter || next < 0 {
		next = 0
	}

	if err := write(path, next); err != nil {
		return 0, fmt.Errorf("wmocounter: write %s: %w", path, err)
	}
	return current, nil
}

func read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil // a never-created counter file starts at 0
	}
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("malformed counter value %q: %w", s, err)
	}
	return n, nil
}

func write(path string, value int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(value)), 0o644)
}

// PathFor computes the counter file path for a host/port pair, one file
// per (host, port) as spec.md §4.8 requires ("per-host, per-port
// persistent file").
func PathFor(dir, hostAlias string, port int) string {
	return fmt.Sprintf("%s/wmo_counter_%s_%d", dir, hostAlias, port)
}
