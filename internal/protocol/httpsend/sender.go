// Package httpsend implements protocol.Sender over HTTP PUT, the push
// counterpart to backend/http's pull-only Fs (that backend only supports
// List/NewObject/Open against a directory listing; spec.md §4.7 requires a
// push direction this package provides instead).
package httpsend

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"

	"github.com/afd-project/afd-core/internal/protocol"
)

// Sender streams each file as the body of one HTTP PUT request to
// <base-url>/<lock-name>, then a second request to rename-on-publish via a
// server-specific MOVE (WebDAV-style) when lock discipline requires one.
type Sender struct {
	client  *http.Client
	baseURL string
}

// New returns an unconnected Sender. proxyURL may be empty.
func New(proxyURL string) (*Sender, error) {
	transport := &http.Transport{}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("httpsend: parse proxy url %q: %w", proxyURL, err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &Sender{client: &http.Client{Transport: transport}}, nil
}

// Connect records the destination base URL; HTTP has no persistent
// connection setup beyond what the transport's connection pool handles
// (spec.md §4.7 step 1's timeout still applies per-request via ctx).
func (s *Sender) Connect(ctx context.Context, jc protocol.JobContext) error {
	scheme := "http"
	s.baseURL = fmt.Sprintf("%s://%s:%d%s", scheme, jc.Host, jc.Port, jc.RemotePath)
	if jc.TransferTimeout > 0 {
		s.client.Timeout = jc.TransferTimeout
	}
	return nil
}

// Authenticate is a no-op: HTTP Basic auth, when used, is attached per
// request in SendFile from jc.User/jc.Password.
func (s *Sender) Authenticate(ctx context.Context, jc protocol.JobContext) error {
	return nil
}

// SendFile PUTs the file body to <base>/<lock-name>, then MOVEs it to the
// publish name if lock discipline requires a rename (spec.md §4.7 step
// 3b/3e).
func (s *Sender) SendFile(ctx context.Context, jc protocol.JobContext, name string, r io.Reader, info fs.FileInfo, slot protocol.SlotUpdater) protocol.FileResult {
	lockName := protocol.LockName(jc.LockDiscipline, name)
	dest := s.baseURL + "/" + lockName

	cr := &countingReader{r: r, limiter: jc.RateLimiter, ctx: ctx}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, dest, cr)
	if err != nil {
		return protocol.FileResult{Name: name, Err: fmt.Errorf("httpsend: build request: %w", err), ExitCode: 23}
	}
	req.ContentLength = info.Size()
	if jc.User != "" {
		req.SetBasicAuth(jc.User, jc.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return protocol.FileResult{Name: name, BytesSent: cr.n, Err: fmt.Errorf("httpsend: PUT %s: %w", dest, err), ExitCode: 21}
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return protocol.FileResult{Name: name, BytesSent: cr.n, Err: fmt.Errorf("httpsend: PUT %s: status %d", dest, resp.StatusCode), ExitCode: 30}
	}

	if lockName != name {
		publishName := protocol.PublishName(jc.LockDiscipline, lockName)
		if err := s.move(ctx, dest, s.baseURL+"/"+publishName, jc); err != nil {
			return protocol.FileResult{Name: name, BytesSent: cr.n, Err: err, ExitCode: 23}
		}
	}

	slot.AddBytesDone(cr.n)
	return protocol.FileResult{Name: name, BytesSent: cr.n}
}

func (s *Sender) move(ctx context.Context, from, to string, jc protocol.JobContext) error {
	req, err := http.NewRequestWithContext(ctx, "MOVE", from, nil)
	if err != nil {
		return fmt.Errorf("httpsend: build move request: %w", err)
	}
	req.Header.Set("Destination", to)
	if jc.User != "" {
		req.SetBasicAuth(jc.User, jc.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpsend: MOVE %s -> %s: %w", from, to, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("httpsend: MOVE %s -> %s: status %d", from, to, resp.StatusCode)
	}
	return nil
}

// Disconnect closes idle connections.
func (s *Sender) Disconnect(ctx context.Context) error {
	s.client.CloseIdleConnections()
	return nil
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
