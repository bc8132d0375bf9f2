package sftp

import (
	"context"
	"fmt"
	"io"

	"github.com/afd-project/afd-core/internal/protocol"
)

// ListRemote lists jc.RemotePath and reports regular files.
func (s *Sender) ListRemote(ctx context.Context, jc protocol.JobContext) ([]protocol.RemoteFile, error) {
	entries, err := s.sftpClient.ReadDir(jc.RemotePath)
	if err != nil {
		return nil, fmt.Errorf("sftp readdir %q: %w", jc.RemotePath, err)
	}
	out := make([]protocol.RemoteFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, protocol.RemoteFile{Name: e.Name(), Size: e.Size(), ModTime: e.ModTime()})
	}
	return out, nil
}

// FetchFile streams rf into w, rate-limited the same way SendFile is.
func (s *Sender) FetchFile(ctx context.Context, jc protocol.JobContext, rf protocol.RemoteFile, w io.Writer) (int64, error) {
	remotePath := joinRemote(jc.RemotePath, rf.Name)
	f, err := s.sftpClient.Open(remotePath)
	if err != nil {
		return 0, fmt.Errorf("sftp open %q: %w", remotePath, err)
	}
	defer f.Close()
	return copyRateLimited(ctx, w, f, jc.RateLimiter)
}

// DeleteRemote removes rf after a successful retrieve.
func (s *Sender) DeleteRemote(ctx context.Context, jc protocol.JobContext, rf protocol.RemoteFile) error {
	remotePath := joinRemote(jc.RemotePath, rf.Name)
	if err := s.sftpClient.Remove(remotePath); err != nil {
		return fmt.Errorf("sftp remove %q: %w", remotePath, err)
	}
	return nil
}
