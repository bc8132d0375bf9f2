// Package protocol defines the generic per-protocol send state machine of
// spec.md §4.7 and the concrete handlers that specialise it for FTP, SFTP,
// SCP, SMTP, HTTP, WMO, LOC and EXEC.
package protocol

import (
	"context"
	"io"
	"io/fs"
	"time"
)

// LockDiscipline names the filename-locking convention a handler applies
// while a file is being written to its destination (spec.md §4.7 step 3b).
type LockDiscipline string

const (
	LockNone   LockDiscipline = ""
	LockDot    LockDiscipline = "dot"    // .filename
	LockPostfix LockDiscipline = "postfix" // filename.NOT_READY
	LockVMS    LockDiscipline = "vms"    // .filename. (trailing dot)
	LockFile   LockDiscipline = "lockfile" // per-connection LOCKFILE guarding the whole dir
)

// BulletinType is the WMO 2-byte bulletin-type indicator.
type BulletinType string

const (
	BulletinBI BulletinType = "BI"
	BulletinAN BulletinType = "AN"
	BulletinFX BulletinType = "FX"
)

// JobContext is the full set of parameters a worker needs to run one send
// job, assembled from LaunchArgs (internal/worker) and the message cache's
// ParsedMessage (internal/msgcache).
type JobContext struct {
	WorkDir          string
	OutgoingDir      string // ${work}/outgoing/<msg_name>
	ArchiveDir       string // ${work}/archive/...
	Host             string
	Port             int
	User             string
	Password         string
	RemotePath       string
	LockDiscipline   LockDiscipline
	ArchiveTime      time.Duration
	RenameRule       string
	Chmod            string
	Chown            string
	CreateTargetDir  bool
	HardwareCRC      bool
	KeepAlive        bool
	TransferTimeout  time.Duration
	RateLimiter      RateLimiter
	WMOWithCounter   bool
	WMOType          BulletinType

	// SMTPFrom, ExecCommandTemplate and HTTPProxyURL are protocol-specific
	// extras threaded through from the parsed message (internal/msgcache)
	// for the handlers that need them; zero value means "use the
	// handler's own default".
	SMTPFrom           string
	ExecCommandTemplate string
	HTTPProxyURL       string
}

// RateLimiter caps the byte rate a Sender may stream at; implemented by
// internal/ratelimit.
type RateLimiter interface {
	// WaitN blocks until n bytes' worth of budget is available.
	WaitN(ctx context.Context, n int) error
}

// FileResult reports the outcome of transferring a single file, the
// granularity at which slot counters (internal/hsa.JobSlot) are updated.
type FileResult struct {
	Name         string
	BytesSent    int64
	Err          error
	ExitCode     int // set on error, from internal/worker's ExitCode vocabulary
}

// SlotUpdater receives per-file progress, letting a Sender update the
// worker's HSA slot without importing internal/hsa directly (avoids an
// import cycle and keeps Sender implementations protocol-pure).
type SlotUpdater interface {
	SetCurrentFile(name string, size int64)
	AddBytesDone(n int64)
	IncFilesDone()
}

// Sender is the generic per-protocol send state machine of spec.md §4.7.
// Each protocol package (ftp, sftp, scp, smtp, http, wmo, loc, exec)
// provides a Sender; the worker binary drives it through the four phases.
type Sender interface {
	// Connect dials the destination, honoring ctx cancellation and
	// jc.TransferTimeout (spec.md §4.7 step 1).
	Connect(ctx context.Context, jc JobContext) error
	// Authenticate presents credentials parsed from the message URL, a
	// no-op for protocols that fold auth into Connect (spec.md §4.7 step
	// 2).
	Authenticate(ctx context.Context, jc JobContext) error
	// SendFile transfers one file's contents, applying lock discipline,
	// streaming, publish-rename, chmod where the implementation supports
	// it, and slot counter updates (spec.md §4.7 step 3). No implementation
	// applies chown; archive-or-delete is done by the worker, not here.
	SendFile(ctx context.Context, jc JobContext, name string, r io.Reader, info fs.FileInfo, slot SlotUpdater) FileResult
	// Disconnect closes the connection, or does nothing if the handler is
	// about to park for burst (spec.md §4.7 step 4).
	Disconnect(ctx context.Context) error
}

// Retriever is the gf_* mirror of Sender (spec.md §4.7 closing paragraph):
// list, filter, fetch, optionally delete remote, update directory counters.
type Retriever interface {
	Connect(ctx context.Context, jc JobContext) error
	Authenticate(ctx context.Context, jc JobContext) error
	ListRemote(ctx context.Context, jc JobContext) ([]RemoteFile, error)
	FetchFile(ctx context.Context, jc JobContext, rf RemoteFile, w io.Writer) (int64, error)
	DeleteRemote(ctx context.Context, jc JobContext, rf RemoteFile) error
	Disconnect(ctx context.Context) error
}

// RemoteFile describes one file seen during a directory listing.
type RemoteFile struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// RunSend drives a Sender through the full per-file-loop phase for one
// batch of files, the loop spec.md §4.7 step 3 describes. It does not open
// or close the connection; callers wrap it with Connect/Authenticate and
// Disconnect/park.
func RunSend(ctx context.Context, s Sender, jc JobContext, files []PendingFile, slot SlotUpdater) []FileResult {
	results := make([]FileResult, 0, len(files))
	for _, f := range files {
		select {
		case <-ctx.Done():
			results = append(results, FileResult{Name: f.Name, Err: ctx.Err()})
			return results
		default:
		}
		slot.SetCurrentFile(f.Name, f.Info.Size())
		res := s.SendFile(ctx, jc, f.Name, f.Reader, f.Info, slot)
		results = append(results, res)
		if res.Err != nil {
			return results
		}
		slot.IncFilesDone()
	}
	return results
}

// PendingFile pairs a file's metadata with an open reader, the unit
// RunSend iterates over.
type PendingFile struct {
	Name   string
	Info   fs.FileInfo
	Reader io.Reader
}
