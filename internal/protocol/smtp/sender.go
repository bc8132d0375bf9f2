// Package smtp implements protocol.Sender over SMTP, treating each queued
// file as the body of one outbound message (spec.md groups SMTP among the
// generic send protocols at §1/§4.7, unlike the other protocols it has no
// filesystem-style rename-on-publish — MAIL FROM/RCPT TO/DATA stands in for
// connect/authenticate/per-file transfer).
package smtp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/textproto"
	"path/filepath"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/afd-project/afd-core/internal/protocol"
)

// Sender drives one outbound SMTP session per connection, reusing it
// across files in the batch as DATA/"." resets between messages.
type Sender struct {
	client *gosmtp.Client
	from   string
}

// New returns an unconnected Sender. from is the envelope sender address;
// it comes from the message's smtp_server/from options (spec.md §4.3
// "smtp settings").
func New(from string) *Sender { return &Sender{from: from} }

// Connect dials the SMTP server and issues EHLO.
func (s *Sender) Connect(ctx context.Context, jc protocol.JobContext) error {
	addr := fmt.Sprintf("%s:%d", jc.Host, jc.Port)
	c, err := gosmtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if err := c.Hello("afd"); err != nil {
		_ = c.Close()
		return fmt.Errorf("smtp hello: %w", err)
	}
	s.client = c
	return nil
}

// Authenticate performs PLAIN auth if credentials were given, a no-op
// otherwise (many internal relays accept unauthenticated local delivery).
func (s *Sender) Authenticate(ctx context.Context, jc protocol.JobContext) error {
	if jc.User == "" {
		return nil
	}
	auth := sasl.NewPlainClient("", jc.User, jc.Password)
	if err := s.client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth as %q: %w", jc.User, err)
	}
	return nil
}

// SendFile sends one file as the body (as a MIME attachment) of a single
// message addressed to jc.RemotePath (the recipient, taken from the
// message URL's path component), standing in for the generic per-file
// loop's lock/stream/publish-rename sequence (spec.md §4.7 step 3): SMTP
// has no lock discipline or rename, the message being atomically either
// fully queued by DATA/"." or rejected.
func (s *Sender) SendFile(ctx context.Context, jc protocol.JobContext, name string, r io.Reader, info fs.FileInfo, slot protocol.SlotUpdater) protocol.FileResult {
	to := jc.RemotePath
	if err := s.client.Mail(s.from, nil); err != nil {
		return protocol.FileResult{Name: name, Err: fmt.Errorf("smtp mail from %q: %w", s.from, err), ExitCode: 30}
	}
	if err := s.client.Rcpt(to, nil); err != nil {
		return protocol.FileResult{Name: name, Err: fmt.Errorf("smtp rcpt to %q: %w", to, err), ExitCode: 30}
	}
	w, err := s.client.Data()
	if err != nil {
		return protocol.FileResult{Name: name, Err: fmt.Errorf("smtp data: %w", err), ExitCode: 30}
	}

	n, writeErr := writeMIMEAttachment(w, name, r, jc.RateLimiter, ctx)
	closeErr := w.Close()
	if writeErr != nil {
		return protocol.FileResult{Name: name, BytesSent: n, Err: fmt.Errorf("smtp write body %q: %w", name, writeErr), ExitCode: 23}
	}
	if closeErr != nil {
		return protocol.FileResult{Name: name, BytesSent: n, Err: fmt.Errorf("smtp close data %q: %w", name, closeErr), ExitCode: 23}
	}

	slot.AddBytesDone(n)
	return protocol.FileResult{Name: name, BytesSent: n}
}

// Disconnect issues QUIT.
func (s *Sender) Disconnect(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Quit()
}

func writeMIMEAttachment(w io.Writer, name string, r io.Reader, limiter protocol.RateLimiter, ctx context.Context) (int64, error) {
	bw := bufio.NewWriter(w)
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", mime.TypeByExtension(filepath.Ext(name)))
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(name)))
	fmt.Fprintf(bw, "Subject: %s\r\n", name)
	for k, vs := range header {
		for _, v := range vs {
			fmt.Fprintf(bw, "%s: %s\r\n", k, v)
		}
	}
	fmt.Fprint(bw, "\r\n")

	var total int64
	buf := make([]byte, 32*1024)
	for {
		n, rErr := r.Read(buf)
		if n > 0 {
			if limiter != nil {
				if wErr := limiter.WaitN(ctx, n); wErr != nil {
					return total, wErr
				}
			}
			wn, wErr := bw.Write(buf[:n])
			total += int64(wn)
			if wErr != nil {
				return total, wErr
			}
		}
		if rErr == io.EOF {
			break
		}
		if rErr != nil {
			return total, rErr
		}
	}
	return total, bw.Flush()
}
