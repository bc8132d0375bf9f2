// Package loc implements protocol.Sender for local copy ("LOC" in
// spec.md's protocol list §1): the destination is a directory on the same
// filesystem, so "Connect"/"Authenticate" are no-ops and the per-file loop
// reduces to write-then-rename-then-chmod (jc.Chown is not applied), with
// archive-or-delete left to the worker,
// grounded on backend/local's Object rename/chmod/Chtimes handling.
package loc

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/afd-project/afd-core/internal/protocol"
)

// Sender writes files directly into jc.RemotePath (interpreted as a local
// directory) using the usual lock-name/publish-rename discipline so a
// directory being watched by another process never observes a partial
// file (spec.md §4.7 step 3b/3e applies to LOC exactly as to remote
// protocols — only the transport is `os` instead of a network dial).
type Sender struct{}

// New returns a Sender. LOC needs no connection state.
func New() *Sender { return &Sender{} }

// Connect ensures the destination directory exists.
func (s *Sender) Connect(ctx context.Context, jc protocol.JobContext) error {
	if jc.RemotePath == "" {
		return fmt.Errorf("loc: empty destination directory")
	}
	if _, err := os.Stat(jc.RemotePath); err != nil {
		if !jc.CreateTargetDir {
			return fmt.Errorf("loc: destination dir %q: %w", jc.RemotePath, err)
		}
		if err := os.MkdirAll(jc.RemotePath, 0o755); err != nil {
			return fmt.Errorf("loc: mkdir %q: %w", jc.RemotePath, err)
		}
	}
	return nil
}

// Authenticate is a no-op for local copy.
func (s *Sender) Authenticate(ctx context.Context, jc protocol.JobContext) error {
	return nil
}

// SendFile writes name under the lock name, renames to the publish name,
// applies chmod (jc.Chown is not applied), and leaves archive-or-delete to the worker's outer
// loop (spec.md §4.7 step 3g is filesystem-local regardless of protocol).
func (s *Sender) SendFile(ctx context.Context, jc protocol.JobContext, name string, r io.Reader, info fs.FileInfo, slot protocol.SlotUpdater) protocol.FileResult {
	lockName := protocol.LockName(jc.LockDiscipline, filepath.Base(name))
	lockPath := filepath.Join(jc.RemotePath, lockName)

	out, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return protocol.FileResult{Name: name, Err: fmt.Errorf("loc: create %q: %w", lockPath, err), ExitCode: 31}
	}
	n, copyErr := copyRateLimited(ctx, out, r, jc.RateLimiter)
	closeErr := out.Close()
	if copyErr != nil {
		return protocol.FileResult{Name: name, BytesSent: n, Err: fmt.Errorf("loc: write %q: %w", lockPath, copyErr), ExitCode: 24}
	}
	if closeErr != nil {
		return protocol.FileResult{Name: name, BytesSent: n, Err: fmt.Errorf("loc: close %q: %w", lockPath, closeErr), ExitCode: 24}
	}

	publishPath := lockPath
	if lockName != filepath.Base(name) {
		publishPath = filepath.Join(jc.RemotePath, protocol.PublishName(jc.LockDiscipline, lockName))
		if err := os.Rename(lockPath, publishPath); err != nil {
			return protocol.FileResult{Name: name, BytesSent: n, Err: fmt.Errorf("loc: rename %q -> %q: %w", lockPath, publishPath, err), ExitCode: 24}
		}
	}

	if jc.Chmod != "" {
		if mode, err := strconv.ParseUint(jc.Chmod, 8, 32); err == nil {
			_ = os.Chmod(publishPath, os.FileMode(mode))
		}
	}

	slot.AddBytesDone(n)
	return protocol.FileResult{Name: name, BytesSent: n}
}

// Disconnect is a no-op for local copy.
func (s *Sender) Disconnect(ctx context.Context) error { return nil }

func copyRateLimited(ctx context.Context, w io.Writer, r io.Reader, limiter protocol.RateLimiter) (int64, error) {
	if limiter == nil {
		return io.Copy(w, r)
	}
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, rErr := r.Read(buf)
		if n > 0 {
			if wErr := limiter.WaitN(ctx, n); wErr != nil {
				return total, wErr
			}
			wn, wErr := w.Write(buf[:n])
			total += int64(wn)
			if wErr != nil {
				return total, wErr
			}
		}
		if rErr == io.EOF {
			return total, nil
		}
		if rErr != nil {
			return total, rErr
		}
	}
}
