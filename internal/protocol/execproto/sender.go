// Package execproto implements protocol.Sender for the EXEC distribution
// method (spec.md §1's protocol list includes "exec"): instead of
// transporting bytes to a remote host, each file is handed to a local
// command as an argument, the command's exit status standing in for a
// transfer's success/failure.
package execproto

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"

	"github.com/afd-project/afd-core/internal/protocol"
)

// Sender runs jc.RemotePath as a command template; "%s" in the command
// line is replaced with the file's path, mirroring the exec worker's
// command-line-substitution convention named in original_source/'s exec
// send code.
type Sender struct {
	CommandTemplate string
}

// New returns a Sender that will run commandTemplate, substituting "%s"
// with each file's path.
func New(commandTemplate string) *Sender {
	return &Sender{CommandTemplate: commandTemplate}
}

// Connect is a no-op: EXEC has no destination connection.
func (s *Sender) Connect(ctx context.Context, jc protocol.JobContext) error {
	return nil
}

// Authenticate is a no-op for EXEC.
func (s *Sender) Authenticate(ctx context.Context, jc protocol.JobContext) error {
	return nil
}

// SendFile writes r to a temporary file (since the command expects a real
// path, not a stream) and runs the command template against it.
func (s *Sender) SendFile(ctx context.Context, jc protocol.JobContext, name string, r io.Reader, info fs.FileInfo, slot protocol.SlotUpdater) protocol.FileResult {
	tmp, err := os.CreateTemp("", "afd-exec-*")
	if err != nil {
		return protocol.FileResult{Name: name, Err: fmt.Errorf("execproto: create temp file: %w", err), ExitCode: 31}
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if err != nil {
		return protocol.FileResult{Name: name, BytesSent: n, Err: fmt.Errorf("execproto: stage %q: %w", name, err), ExitCode: 24}
	}
	if closeErr != nil {
		return protocol.FileResult{Name: name, BytesSent: n, Err: fmt.Errorf("execproto: close staged file: %w", closeErr), ExitCode: 24}
	}

	cmdLine := substitute(s.CommandTemplate, tmp.Name())
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", cmdLine)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return protocol.FileResult{Name: name, BytesSent: n, Err: fmt.Errorf("execproto: command %q: %w: %s", cmdLine, err, stderr.String()), ExitCode: 30}
	}

	slot.AddBytesDone(n)
	return protocol.FileResult{Name: name, BytesSent: n}
}

// Disconnect is a no-op for EXEC.
func (s *Sender) Disconnect(ctx context.Context) error { return nil }

func substitute(template, path string) string {
	out := make([]byte, 0, len(template))
	for i := 0; i < len(template); i++ {
		if template[i] == '%' && i+1 < len(template) && template[i+1] == 's' {
			out = append(out, path...)
			i++
			continue
		}
		out = append(out, template[i])
	}
	if !bytes.Contains(out, []byte(path)) {
		out = append(out, ' ')
		out = append(out, path...)
	}
	return string(out)
}
