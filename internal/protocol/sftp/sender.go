// Package sftp implements protocol.Sender over SFTP, specialising spec.md
// §4.7 for an SSH-subsystem transfer: dial-then-handshake, sftp.Client
// Create/Rename for lock-name publish, Chmod for the optional permission
// step.
package sftp

import (
	"context"
	"fmt"
	"io"
	"io/fs"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/afd-project/afd-core/internal/protocol"
)

// Sender is a protocol.Sender backed by one ssh.Client/sftp.Client pair, a
// single worker's connection for its lifetime (spec.md §4.4/§4.7), mirrored
// from backend/sftp's sshClient+sftpClient pairing but without its
// multi-connection pool (the worker needs exactly one).
type Sender struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// New returns an unconnected Sender.
func New() *Sender { return &Sender{} }

// Connect dials SSH and opens the SFTP subsystem over it.
func (s *Sender) Connect(ctx context.Context, jc protocol.JobContext) error {
	cfg := &ssh.ClientConfig{
		User:            jc.User,
		Auth:            []ssh.AuthMethod{ssh.Password(jc.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint // host key pinning is a config-layer concern, not this package's
	}
	if jc.TransferTimeout > 0 {
		cfg.Timeout = jc.TransferTimeout
	}
	addr := fmt.Sprintf("%s:%d", jc.Host, jc.Port)
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return fmt.Errorf("sftp dial %s: %w", addr, err)
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("sftp open subsystem on %s: %w", addr, err)
	}
	s.sshClient = client
	s.sftpClient = sc
	return nil
}

// Authenticate performs no login: SFTP authentication happens during the
// SSH handshake in Connect. It checks that jc.RemotePath exists, creating
// it when jc.CreateTargetDir is set.
func (s *Sender) Authenticate(ctx context.Context, jc protocol.JobContext) error {
	if jc.RemotePath == "" {
		return nil
	}
	if _, err := s.sftpClient.Stat(jc.RemotePath); err != nil {
		if !jc.CreateTargetDir {
			return fmt.Errorf("sftp stat target dir %q: %w", jc.RemotePath, err)
		}
		if err := s.sftpClient.MkdirAll(jc.RemotePath); err != nil {
			return fmt.Errorf("sftp mkdir %q: %w", jc.RemotePath, err)
		}
	}
	return nil
}

// SendFile implements spec.md §4.7 step 3.
func (s *Sender) SendFile(ctx context.Context, jc protocol.JobContext, name string, r io.Reader, info fs.FileInfo, slot protocol.SlotUpdater) protocol.FileResult {
	remoteDir := jc.RemotePath
	lockName := protocol.LockName(jc.LockDiscipline, name)
	remoteLockPath := joinRemote(remoteDir, lockName)

	f, err := s.sftpClient.Create(remoteLockPath)
	if err != nil {
		return protocol.FileResult{Name: name, Err: fmt.Errorf("sftp create %q: %w", remoteLockPath, err), ExitCode: 23}
	}
	n, err := copyRateLimited(ctx, f, r, jc.RateLimiter)
	closeErr := f.Close()
	if err != nil {
		return protocol.FileResult{Name: name, BytesSent: n, Err: fmt.Errorf("sftp write %q: %w", remoteLockPath, err), ExitCode: 23}
	}
	if closeErr != nil {
		return protocol.FileResult{Name: name, BytesSent: n, Err: fmt.Errorf("sftp close %q: %w", remoteLockPath, closeErr), ExitCode: 23}
	}

	if lockName != name {
		remotePublishPath := joinRemote(remoteDir, protocol.PublishName(jc.LockDiscipline, lockName))
		if err := s.sftpClient.Rename(remoteLockPath, remotePublishPath); err != nil {
			return protocol.FileResult{Name: name, BytesSent: n, Err: fmt.Errorf("sftp rename %q -> %q: %w", remoteLockPath, remotePublishPath, err), ExitCode: 23}
		}
		remoteLockPath = remotePublishPath
	}
	if jc.Chmod != "" {
		if mode, err := parseOctalMode(jc.Chmod); err == nil {
			_ = s.sftpClient.Chmod(remoteLockPath, mode)
		}
	}

	slot.AddBytesDone(n)
	return protocol.FileResult{Name: name, BytesSent: n}
}

// Disconnect closes the SFTP subsystem and the underlying SSH connection.
func (s *Sender) Disconnect(ctx context.Context) error {
	var errs []error
	if s.sftpClient != nil {
		if err := s.sftpClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.sshClient != nil {
		if err := s.sshClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("sftp disconnect: %v", errs)
	}
	return nil
}

func joinRemote(dir, name string) string {
	if dir == "" {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}

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

func parseOctalMode(s string) (fs.FileMode, error) {
	var mode uint32
	_, err := fmt.Sscanf(s, "%o", &mode)
	return fs.FileMode(mode), err
}
