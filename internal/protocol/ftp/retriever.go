package ftp

import (
	"context"
	"fmt"
	"io"

	"github.com/jlaffaye/ftp"

	"github.com/afd-project/afd-core/internal/protocol"
)

// ListRemote implements protocol.Retriever by listing jc.RemotePath and
// reporting regular files only, matching the gf_ftp directory-scan phase
// of spec.md §4.7's retrieve mirror.
func (s *Sender) ListRemote(ctx context.Context, jc protocol.JobContext) ([]protocol.RemoteFile, error) {
	entries, err := s.conn.List(jc.RemotePath)
	if err != nil {
		return nil, fmt.Errorf("ftp list %q: %w", jc.RemotePath, err)
	}
	out := make([]protocol.RemoteFile, 0, len(entries))
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		out = append(out, protocol.RemoteFile{Name: e.Name, Size: int64(e.Size), ModTime: e.Time})
	}
	return out, nil
}

// FetchFile streams rf into w, rate-limited the same way SendFile is.
func (s *Sender) FetchFile(ctx context.Context, jc protocol.JobContext, rf protocol.RemoteFile, w io.Writer) (int64, error) {
	resp, err := s.conn.Retr(rf.Name)
	if err != nil {
		return 0, fmt.Errorf("ftp retr %q: %w", rf.Name, err)
	}
	defer resp.Close()
	cr := &countingReader{r: resp, limiter: jc.RateLimiter, ctx: ctx}
	n, err := io.Copy(w, cr)
	if err != nil {
		return n, fmt.Errorf("ftp fetch %q: %w", rf.Name, err)
	}
	return n, nil
}

// DeleteRemote removes rf after a successful retrieve, when the directory
// record requests delete-after-fetch.
func (s *Sender) DeleteRemote(ctx context.Context, jc protocol.JobContext, rf protocol.RemoteFile) error {
	if err := s.conn.Delete(rf.Name); err != nil {
		return fmt.Errorf("ftp delete %q: %w", rf.Name, err)
	}
	return nil
}
