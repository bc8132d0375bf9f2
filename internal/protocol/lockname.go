package protocol

import (
	"path/filepath"
	"strings"
)

// LockName computes the in-flight name a file is written under before its
// publish rename, per the four disciplines of spec.md §4.7 step 3b. For
// LockFile (a directory-wide guard, not a per-file rename) it returns name
// unchanged; no sender acquires a lockfile.Guard around the transfer.
func LockName(discipline LockDiscipline, name string) string {
	switch discipline {
	case LockDot:
		dir, base := filepath.Split(name)
		return filepath.Join(dir, "."+base)
	case LockPostfix:
		return name + ".NOT_READY"
	case LockVMS:
		dir, base := filepath.Split(name)
		return filepath.Join(dir, "."+base+".")
	default:
		return name
	}
}

// PublishName reverses LockName, computing the final published name from
// the in-flight lock name. VMS discipline strips the leading and trailing
// dot that LockName added (spec.md §4.7 step 3e: "if DOT_VMS, append then
// strip the trailing dot").
func PublishName(discipline LockDiscipline, lockedName string) string {
	switch discipline {
	case LockDot:
		dir, base := filepath.Split(lockedName)
		return filepath.Join(dir, strings.TrimPrefix(base, "."))
	case LockPostfix:
		return strings.TrimSuffix(lockedName, ".NOT_READY")
	case LockVMS:
		dir, base := filepath.Split(lockedName)
		base = strings.TrimPrefix(base, ".")
		base = strings.TrimSuffix(base, ".")
		return filepath.Join(dir, base)
	default:
		return lockedName
	}
}
