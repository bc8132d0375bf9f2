// Package ftp implements protocol.Sender over FTP/FTPS, specialising the
// generic send state machine of spec.md §4.7 for the FTP case: PASV/EPSV
// data connections, STOR-then-RNFR/RNTO publish rename. No chmod is issued
// (jc.Chmod is not applied).
package ftp

import (
	"context"
	"fmt"
	"io"
	"io/fs"

	"github.com/jlaffaye/ftp"

	"github.com/afd-project/afd-core/internal/protocol"
)

// Sender is a protocol.Sender backed by a single pooled *ftp.ServerConn,
// mirroring backend/ftp's dial-then-login connection lifecycle but scoped
// to one worker's single connection rather than a pool (a worker process
// owns exactly one connection for its lifetime, spec.md §4.4/§4.7).
type Sender struct {
	conn *ftp.ServerConn
}

// New returns an unconnected Sender.
func New() *Sender { return &Sender{} }

// Connect dials (login happens in Authenticate), honoring jc.TransferTimeout as the dial/I-O
// deadline (spec.md §4.7 step 1: "Timeouts are governed by the host's
// transfer_timeout").
func (s *Sender) Connect(ctx context.Context, jc protocol.JobContext) error {
	addr := fmt.Sprintf("%s:%d", jc.Host, jc.Port)
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if jc.TransferTimeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(jc.TransferTimeout))
	}
	c, err := ftp.Dial(addr, opts...)
	if err != nil {
		return fmt.Errorf("ftp connect %s: %w", addr, err)
	}
	s.conn = c
	return nil
}

// Authenticate logs in with the credentials parsed from the message URL
// (spec.md §4.7 step 2).
func (s *Sender) Authenticate(ctx context.Context, jc protocol.JobContext) error {
	if err := s.conn.Login(jc.User, jc.Password); err != nil {
		return fmt.Errorf("ftp login as %q: %w", jc.User, err)
	}
	if jc.RemotePath != "" {
		if err := s.conn.ChangeDir(jc.RemotePath); err != nil {
			if !jc.CreateTargetDir {
				return fmt.Errorf("ftp cwd %q: %w", jc.RemotePath, err)
			}
			if mkErr := s.conn.MakeDir(jc.RemotePath); mkErr != nil {
				return fmt.Errorf("ftp mkdir %q: %w", jc.RemotePath, mkErr)
			}
			if err := s.conn.ChangeDir(jc.RemotePath); err != nil {
				return fmt.Errorf("ftp cwd %q after mkdir: %w", jc.RemotePath, err)
			}
		}
	}
	return nil
}

// SendFile implements spec.md §4.7 step 3: lock-name STOR, rename-on-
// publish, slot counter updates; jc.Chmod is not applied. Archive-or-delete is left to
// the worker's outer loop (it is filesystem-local, not protocol-specific).
func (s *Sender) SendFile(ctx context.Context, jc protocol.JobContext, name string, r io.Reader, info fs.FileInfo, slot protocol.SlotUpdater) protocol.FileResult {
	lockName := protocol.LockName(jc.LockDiscipline, name)

	cr := &countingReader{r: r, limiter: jc.RateLimiter, ctx: ctx}
	if err := s.conn.Stor(lockName, cr); err != nil {
		return protocol.FileResult{Name: name, BytesSent: cr.n, Err: fmt.Errorf("ftp stor %q: %w", lockName, err), ExitCode: 23}
	}

	if lockName != name {
		publishName := protocol.PublishName(jc.LockDiscipline, lockName)
		if err := s.conn.Rename(lockName, publishName); err != nil {
			return protocol.FileResult{Name: name, BytesSent: cr.n, Err: fmt.Errorf("ftp rename %q -> %q: %w", lockName, publishName, err), ExitCode: 23}
		}
	}

	slot.AddBytesDone(cr.n)
	return protocol.FileResult{Name: name, BytesSent: cr.n}
}

// Disconnect closes the control connection, or is skipped by the worker if
// parking for burst (spec.md §4.7 step 4).
func (s *Sender) Disconnect(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Quit()
}

type countingReader struct {
	r       io.Reader
	n       int64
	limiter protocol.RateLimiter
	ctx     context.Context
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if n > 0 && c.limiter != nil {
		if wErr := c.limiter.WaitN(c.ctx, n); wErr != nil {
			return n, wErr
		}
	}
	return n, err
}
