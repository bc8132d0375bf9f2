package httpsend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/afd-project/afd-core/internal/protocol"
)

// ListRemote fetches jc.RemotePath as a directory index and extracts file
// links the same way backend/http's Fs.List does: parse the response body
// as HTML and collect every <a href> that resolves under the base URL.
// Unlike that backend, this only needs names (not recursive Fs entries),
// so it skips HEAD-ing every link for size/mtime; FetchFile picks those up
// from the GET response headers instead.
func (s *Sender) ListRemote(ctx context.Context, jc protocol.JobContext) ([]protocol.RemoteFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("httpsend: build list request: %w", err)
	}
	if jc.User != "" {
		req.SetBasicAuth(jc.User, jc.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpsend: GET %s: %w", s.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("httpsend: GET %s: status %d", s.baseURL, resp.StatusCode)
	}

	base, err := url.Parse(s.baseURL + "/")
	if err != nil {
		return nil, fmt.Errorf("httpsend: parse base url: %w", err)
	}
	names, err := parseDirectoryListing(base, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpsend: parse directory listing: %w", err)
	}

	out := make([]protocol.RemoteFile, 0, len(names))
	for _, name := range names {
		out = append(out, protocol.RemoteFile{Name: name})
	}
	return out, nil
}

// FetchFile GETs rf.Name relative to the base URL, rate-limited the same
// way SendFile's upload is.
func (s *Sender) FetchFile(ctx context.Context, jc protocol.JobContext, rf protocol.RemoteFile, w io.Writer) (int64, error) {
	src := s.baseURL + "/" + rf.Name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return 0, fmt.Errorf("httpsend: build fetch request: %w", err)
	}
	if jc.User != "" {
		req.SetBasicAuth(jc.User, jc.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("httpsend: GET %s: %w", src, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("httpsend: GET %s: status %d", src, resp.StatusCode)
	}
	return copyRateLimited(ctx, w, resp.Body, jc.RateLimiter)
}

// DeleteRemote issues an HTTP DELETE, supported only by servers exposing a
// WebDAV-like surface (the same assumption SendFile's MOVE-based publish
// rename makes).
func (s *Sender) DeleteRemote(ctx context.Context, jc protocol.JobContext, rf protocol.RemoteFile) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+"/"+rf.Name, nil)
	if err != nil {
		return fmt.Errorf("httpsend: build delete request: %w", err)
	}
	if jc.User != "" {
		req.SetBasicAuth(jc.User, jc.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpsend: DELETE %s: %w", req.URL, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("httpsend: DELETE %s: status %d", req.URL, resp.StatusCode)
	}
	return nil
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

// parseDirectoryListing extracts file names from an HTML index page,
// following backend/http/http.go's parse(): walk every <a href>, resolve
// it against base, and keep names that stay inside the directory (skip
// parent-directory links and subdirectories, which end in "/").
func parseDirectoryListing(base *url.URL, in io.Reader) ([]string, error) {
	doc, err := html.Parse(in)
	if err != nil {
		return nil, err
	}
	var names []string
	seen := make(map[string]struct{})
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				name, ok := resolveFileName(base, a.Val)
				if ok {
					if _, dup := seen[name]; !dup {
						names = append(names, name)
						seen[name] = struct{}{}
					}
				}
				break
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return names, nil
}

func resolveFileName(base *url.URL, href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(u)
	if resolved.Host != base.Host {
		return "", false
	}
	rel := strings.TrimPrefix(resolved.Path, base.Path)
	if rel == "" || strings.Contains(rel, "/") || strings.HasPrefix(rel, ".") {
		return "", false
	}
	return rel, true
}
