// Package wmo implements protocol.Sender for WMO bulletin delivery over a
// raw TCP socket, the framing spec.md §4.7 step 3c describes: a 10-byte
// length+type indicator, an optional synthesised bulletin header, the
// payload, and a CR-CR-LF-ETX trailer.
package wmo

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"path/filepath"
	"strings"

	"github.com/afd-project/afd-core/internal/protocol"
	"github.com/afd-project/afd-core/internal/wmocounter"
)

// headerTerminator is the CR-CR-LF the optional bulletin header ends with
// (spec.md §4.7 step 3c).
const headerTerminator = "\r\r\n"

// trailer is the CR-CR-LF-ETX every WMO message ends with.
const trailer = "\r\r\n\x03"

// Sender streams files as WMO bulletins over one TCP connection.
type Sender struct {
	conn       net.Conn
	counterDir string
}

// New returns an unconnected Sender. counterDir is where per-host/per-port
// counter files live (internal/wmocounter.PathFor), used only when
// jc.WMOWithCounter is set.
func New(counterDir string) *Sender { return &Sender{counterDir: counterDir} }

// Connect opens a raw TCP socket to the WMO destination.
func (s *Sender) Connect(ctx context.Context, jc protocol.JobContext) error {
	addr := fmt.Sprintf("%s:%d", jc.Host, jc.Port)
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("wmo dial %s: %w", addr, err)
	}
	s.conn = c
	return nil
}

// Authenticate is a no-op: WMO over TCP has no login handshake.
func (s *Sender) Authenticate(ctx context.Context, jc protocol.JobContext) error {
	return nil
}

// SendFile frames and streams one bulletin (spec.md §4.7 step 3c).
func (s *Sender) SendFile(ctx context.Context, jc protocol.JobContext, name string, r io.Reader, info fs.FileInfo, slot protocol.SlotUpdater) protocol.FileResult {
	var header []byte
	if jc.WMOWithCounter {
		count, err := wmocounter.Next(wmocounter.PathFor(s.counterDir, jc.Host, jc.Port))
		if err != nil {
			return protocol.FileResult{Name: name, Err: fmt.Errorf("wmo counter: %w", err), ExitCode: 23}
		}
		header = BulletinHeader(name, count)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return protocol.FileResult{Name: name, Err: fmt.Errorf("wmo read file %q: %w", name, err), ExitCode: 24}
	}

	payloadLen := len(header) + len(body)
	frame := Frame(jc.WMOType, payloadLen, header, body)

	n, err := writeRateLimited(ctx, s.conn, frame, jc.RateLimiter)
	if err != nil {
		return protocol.FileResult{Name: name, BytesSent: n, Err: fmt.Errorf("wmo write %q: %w", name, err), ExitCode: 23}
	}

	slot.AddBytesDone(int64(len(body)))
	return protocol.FileResult{Name: name, BytesSent: int64(len(body))}
}

// Disconnect closes the TCP socket.
func (s *Sender) Disconnect(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Frame builds the full on-wire WMO message: the 10-byte length+type
// indicator ("%08lu"+2-byte type), the optional header, the body, and the
// CR-CR-LF-ETX trailer (spec.md §4.7 step 3c).
func Frame(bt protocol.BulletinType, payloadLen int, header, body []byte) []byte {
	indicator := fmt.Sprintf("%08d%s", payloadLen+len(trailer), string(bt))
	buf := make([]byte, 0, len(indicator)+len(header)+len(body)+len(trailer))
	buf = append(buf, indicator...)
	buf = append(buf, header...)
	buf = append(buf, body...)
	buf = append(buf, trailer...)
	return buf
}

// BulletinHeader synthesises a bulletin header from a filename plus an
// optional 3-digit counter value, terminated by CR-CR-LF (spec.md §4.7
// step 3c: "a bulletin header synthesised from the filename plus an
// optional 3-digit counter fetched from a file-locked counter file").
func BulletinHeader(name string, counter int) []byte {
	base := strings.ToUpper(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
	return []byte(fmt.Sprintf("%s %03d%s", base, counter%1000, headerTerminator))
}

func writeRateLimited(ctx context.Context, w io.Writer, data []byte, limiter protocol.RateLimiter) (int64, error) {
	if limiter == nil {
		n, err := w.Write(data)
		return int64(n), err
	}
	const chunk = 32 * 1024
	var total int64
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		if err := limiter.WaitN(ctx, end-off); err != nil {
			return total, err
		}
		n, err := w.Write(data[off:end])
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
