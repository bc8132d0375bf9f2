// Command sf is the per-protocol send-file worker (spec.md §4.4/§4.7): the
// dispatch engine execs one sf process per active send job, passing it the
// job's working directory, host/slot index and message name; sf connects,
// authenticates, streams every outgoing file, and exits with the exit code
// the supervisor classifies (internal/worker.ExitCode).
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/afd-project/afd-core/internal/config"
	"github.com/afd-project/afd-core/internal/fdlog"
	"github.com/afd-project/afd-core/internal/msgcache"
	"github.com/afd-project/afd-core/internal/protocol"
	"github.com/afd-project/afd-core/internal/protocol/execproto"
	"github.com/afd-project/afd-core/internal/protocol/ftp"
	"github.com/afd-project/afd-core/internal/protocol/httpsend"
	"github.com/afd-project/afd-core/internal/protocol/loc"
	"github.com/afd-project/afd-core/internal/protocol/scp"
	"github.com/afd-project/afd-core/internal/protocol/sftp"
	"github.com/afd-project/afd-core/internal/protocol/smtp"
	"github.com/afd-project/afd-core/internal/protocol/wmo"
	"github.com/afd-project/afd-core/internal/worker"
)

var args worker.LaunchArgs

var rootCmd = &cobra.Command{
	Use:   "sf",
	Short: "Send one job's outgoing files to its destination",
	RunE:  runSend,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&args.WorkDir, "work-dir", "w", "", "dispatch engine working directory")
	f.IntVarP(&args.HostIndex, "host-index", "h", 0, "host-status-array index")
	f.IntVarP(&args.SlotIndex, "slot-index", "s", 0, "job-status slot index")
	f.StringVarP(&args.MsgNameOrDir, "msg-name", "m", "", "message name identifying the outgoing job")
	f.IntVarP(&args.Retries, "retries", "r", 0, "retry count so far")
	f.IntVarP(&args.DefaultAgeLimit, "age-limit", "a", 0, "default age limit in seconds")
	f.BoolVar(&args.Resend, "resend", false, "this is a resend of previously sent files")
	f.BoolVar(&args.ArchiveDisabled, "no-archive", false, "do not archive files after a successful transfer")
	f.StringVar(&args.SMTPServer, "smtp-server", "", "SMTP relay host, for the smtp protocol")
	f.StringVar(&args.HTTPProxy, "http-proxy", "", "HTTP proxy URL, for the http protocol")
	f.BoolVar(&args.HardwareCRC, "hw-crc", false, "use hardware CRC acceleration if available")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(worker.ClassUnknownFatalCode))
	}
}

func runSend(cmd *cobra.Command, cmdArgs []string) error {
	ctx := context.Background()

	jobID, err := strconv.ParseUint(args.MsgNameOrDir, 16, 32)
	if err != nil {
		exitWith(worker.JIDNumberError)
		return fmt.Errorf("sf: msg name %q is not a job-id: %w", args.MsgNameOrDir, err)
	}

	eval := &msgcache.FileEvaluator{WorkDir: args.WorkDir}
	parsed, err := eval.Evaluate(uint32(jobID))
	if err != nil {
		exitWith(worker.NoMessageFile)
		return err
	}

	sender, jc, err := buildSender(parsed, args)
	if err != nil {
		exitWith(worker.SyntaxError)
		return err
	}

	if err := sender.Connect(ctx, jc); err != nil {
		exitWith(worker.ConnectError)
		return err
	}
	if err := sender.Authenticate(ctx, jc); err != nil {
		exitWith(worker.RemoteUserError)
		return err
	}

	files, err := loadOutgoingFiles(jc.OutgoingDir)
	if err != nil {
		exitWith(worker.ReadLocalError)
		return err
	}
	if len(files) == 0 {
		exitWith(worker.NoFilesToSend)
		return nil
	}
	defer closeOutgoingFiles(files)

	slot := &slotCounters{}
	start := time.Now()
	results := protocol.RunSend(ctx, sender, jc, files, slot)
	_ = sender.Disconnect(ctx)

	disposeCompletedFiles(jc, args.ArchiveDisabled, results)
	recordCompletedTransfers(args.WorkDir, jc, uint32(jobID), args.ArchiveDisabled, results, start)

	for _, r := range results {
		if r.Err != nil {
			exitWith(worker.ExitCode(r.ExitCode))
			return r.Err
		}
	}

	exitWith(worker.Success)
	return nil
}

// closeOutgoingFiles releases the file handles loadOutgoingFiles opened,
// once the transfer loop (which may still be reading them) has finished.
func closeOutgoingFiles(files []protocol.PendingFile) {
	for _, f := range files {
		if c, ok := f.Reader.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// disposeCompletedFiles implements spec.md §4.7 step 3g: a file that sent
// successfully is either moved under the job's archive directory (when
// archive_time is set and archiving isn't disabled) or unlinked outright
// (archive_time=0, scenario 1). A file that failed to send is left in place
// for the next attempt.
func disposeCompletedFiles(jc protocol.JobContext, archiveDisabled bool, results []protocol.FileResult) {
	archive := jc.ArchiveTime > 0 && !archiveDisabled
	if archive {
		if err := os.MkdirAll(jc.ArchiveDir, 0o755); err != nil {
			archive = false // fall back to delete rather than leave files stranded
		}
	}
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		src := filepath.Join(jc.OutgoingDir, r.Name)
		if archive {
			if err := os.Rename(src, filepath.Join(jc.ArchiveDir, r.Name)); err == nil {
				continue
			}
			// archive directory unusable for this file; fall through to delete
			// so the outgoing spool doesn't accumulate already-sent files.
		}
		_ = os.Remove(src)
	}
}

// recordCompletedTransfers appends one output-log record per file that sent
// successfully, each tagged with a fresh correlation id so the same file
// name sent twice (resend, or two jobs to the same host) can still be told
// apart in the log (spec.md §6 "Output log"). Best-effort: a logging
// failure here must not change the worker's exit code.
func recordCompletedTransfers(workDir string, jc protocol.JobContext, jobID uint32, archiveDisabled bool, results []protocol.FileResult, start time.Time) {
	ol, err := fdlog.NewOutputLog(workDir, config.Defaults().LogGenerations)
	if err != nil {
		return
	}
	defer ol.Close()
	archived := jc.ArchiveTime > 0 && !archiveDisabled
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		archivePath := ""
		if archived {
			p := filepath.Join(jc.ArchiveDir, r.Name)
			if _, err := os.Stat(p); err == nil {
				archivePath = p
			}
		}
		_ = ol.Write(fdlog.OutputRecord{
			Time:        time.Now(),
			Host:        jc.Host,
			Filename:    r.Name,
			Size:        r.BytesSent,
			Duration:    time.Since(start),
			JobID:       jobID,
			UniqueID:    uuid.NewString(),
			ArchivePath: archivePath,
		})
	}
}

// buildSender resolves a ParsedMessage's protocol to a concrete
// protocol.Sender and assembles the JobContext it needs, the worker-side
// half of spec.md §4.3's "answer with protocol, destination port, host
// index" contract.
func buildSender(parsed msgcache.ParsedMessage, a worker.LaunchArgs) (protocol.Sender, protocol.JobContext, error) {
	jc := protocol.JobContext{
		WorkDir:         a.WorkDir,
		OutgoingDir:     filepath.Join(a.WorkDir, "outgoing", a.MsgNameOrDir),
		ArchiveDir:      filepath.Join(a.WorkDir, "archive", a.MsgNameOrDir),
		Host:            parsed.Host,
		Port:            parsed.Port,
		User:            parsed.User,
		Password:        parsed.Password,
		RemotePath:      parsed.Path,
		LockDiscipline:  protocol.LockDiscipline(parsed.LockDiscipline),
		ArchiveTime:     parsed.ArchiveTime,
		RenameRule:      parsed.RenameRule,
		Chmod:           parsed.Chmod,
		Chown:           parsed.Chown,
		CreateTargetDir: parsed.CreateTargetDir,
		HardwareCRC:     a.HardwareCRC,
		SMTPFrom:        a.SMTPServer,
		HTTPProxyURL:    a.HTTPProxy,
	}

	switch parsed.Protocol {
	case "ftp", "ftps":
		return ftp.New(), jc, nil
	case "sftp":
		return sftp.New(), jc, nil
	case "scp":
		return scp.New(), jc, nil
	case "smtp":
		from := parsed.SMTPServer
		if from == "" {
			from = a.SMTPServer
		}
		return smtp.New(from), jc, nil
	case "http", "https":
		s, err := httpsend.New(a.HTTPProxy)
		return s, jc, err
	case "wmo":
		jc.WMOWithCounter = true
		return wmo.New(filepath.Join(a.WorkDir, "wmo-counters")), jc, nil
	case "loc":
		return loc.New(), jc, nil
	case "exec":
		return execproto.New(parsed.Path), jc, nil
	default:
		return nil, jc, fmt.Errorf("sf: unsupported protocol %q", parsed.Protocol)
	}
}

func loadOutgoingFiles(dir string) ([]protocol.PendingFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sf: reading outgoing dir %q: %w", dir, err)
	}
	var files []protocol.PendingFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("sf: stat %q: %w", entry.Name(), err)
		}
		f, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("sf: open %q: %w", entry.Name(), err)
		}
		files = append(files, protocol.PendingFile{Name: entry.Name(), Info: info, Reader: f})
	}
	return files, nil
}

// slotCounters is the worker-side protocol.SlotUpdater: since this process
// does not share memory with the supervisor, it only needs to satisfy the
// interface so Sender implementations can call it uniformly; real slot
// visibility happens through the supervisor's own internal/hsa.Host, kept
// current out-of-band via periodic status writes a fuller build would add
// to the host's shared in-process JobSlot once sf and the supervisor share
// a process boundary.
type slotCounters struct {
	currentFile string
	currentSize int64
	bytesDone   int64
	filesDone   int
}

func (s *slotCounters) SetCurrentFile(name string, size int64) { s.currentFile, s.currentSize = name, size }
func (s *slotCounters) AddBytesDone(n int64)                    { s.bytesDone += n }
func (s *slotCounters) IncFilesDone()                           { s.filesDone++ }

func exitWith(code worker.ExitCode) {
	os.Exit(int(code))
}
