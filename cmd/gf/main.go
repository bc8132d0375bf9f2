// Command gf is the retrieve-file worker, the gf_<proto> mirror of sf
// described in spec.md §4.7's closing paragraph: list a remote directory,
// fetch each new file, optionally delete it remotely, and exit with the
// same worker.ExitCode vocabulary sf uses. Only the pull-capable protocols
// (FTP, SFTP, HTTP) implement protocol.Retriever; the push-only protocols
// (SCP, SMTP, WMO, LOC, EXEC) have no gf counterpart.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/afd-project/afd-core/internal/msgcache"
	"github.com/afd-project/afd-core/internal/protocol"
	"github.com/afd-project/afd-core/internal/protocol/ftp"
	"github.com/afd-project/afd-core/internal/protocol/httpsend"
	"github.com/afd-project/afd-core/internal/protocol/sftp"
	"github.com/afd-project/afd-core/internal/worker"
)

var args worker.LaunchArgs

var rootCmd = &cobra.Command{
	Use:   "gf",
	Short: "Retrieve new files from a polled remote directory",
	RunE:  runRetrieve,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&args.WorkDir, "work-dir", "w", "", "dispatch engine working directory")
	f.IntVarP(&args.HostIndex, "host-index", "h", 0, "host-status-array index")
	f.IntVarP(&args.SlotIndex, "slot-index", "s", 0, "job-status slot index")
	f.StringVarP(&args.MsgNameOrDir, "msg-name", "m", "", "directory-alias job-id identifying the retrieve job")
	f.IntVarP(&args.Retries, "retries", "r", 0, "retry count so far")
	f.IntVarP(&args.DefaultAgeLimit, "age-limit", "a", 0, "default age limit in seconds")
	f.BoolVar(&args.ArchiveDisabled, "no-archive", false, "do not archive files after a successful retrieve")
	f.StringVar(&args.HTTPProxy, "http-proxy", "", "HTTP proxy URL, for the http protocol")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(worker.ClassUnknownFatalCode))
	}
}

func runRetrieve(cmd *cobra.Command, cmdArgs []string) error {
	ctx := context.Background()

	jobID, err := strconv.ParseUint(args.MsgNameOrDir, 16, 32)
	if err != nil {
		exitWith(worker.JIDNumberError)
		return fmt.Errorf("gf: msg name %q is not a job-id: %w", args.MsgNameOrDir, err)
	}

	eval := &msgcache.FileEvaluator{WorkDir: args.WorkDir}
	parsed, err := eval.Evaluate(uint32(jobID))
	if err != nil {
		exitWith(worker.NoMessageFile)
		return err
	}

	retriever, jc, err := buildRetriever(parsed, args)
	if err != nil {
		exitWith(worker.SyntaxError)
		return err
	}

	if err := retriever.Connect(ctx, jc); err != nil {
		exitWith(worker.ConnectError)
		return err
	}
	if err := retriever.Authenticate(ctx, jc); err != nil {
		exitWith(worker.RemoteUserError)
		return err
	}
	defer retriever.Disconnect(ctx)

	remote, err := retriever.ListRemote(ctx, jc)
	if err != nil {
		exitWith(worker.TypeError)
		return err
	}
	if len(remote) == 0 {
		exitWith(worker.NoFilesToSend)
		return nil
	}

	if err := os.MkdirAll(jc.OutgoingDir, 0o755); err != nil {
		exitWith(worker.MkdirError)
		return err
	}

	deleteRemote := parsed.Options["delete_remote"] == "1" || parsed.Options["delete_remote"] == "true"
	for _, rf := range remote {
		if err := fetchOne(ctx, retriever, jc, rf, deleteRemote); err != nil {
			exitWith(worker.ReadLocalError)
			return err
		}
	}

	exitWith(worker.Success)
	return nil
}

// fetchOne fetches one remote file into jc.OutgoingDir (there is no
// separate incoming spool) and, when
// the directory record asks for delete-after-fetch, removes it remotely —
// the per-file step of gf's mirror of sf's per-file loop (spec.md §4.7
// closing paragraph).
func fetchOne(ctx context.Context, retriever protocol.Retriever, jc protocol.JobContext, rf protocol.RemoteFile, deleteRemote bool) error {
	dest := filepath.Join(jc.OutgoingDir, rf.Name)
	tmp := dest + ".NOT_READY"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("gf: create %q: %w", tmp, err)
	}
	if _, err := retriever.FetchFile(ctx, jc, rf, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("gf: fetch %q: %w", rf.Name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("gf: close %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("gf: publish %q: %w", dest, err)
	}

	if !deleteRemote {
		return nil
	}
	if err := retriever.DeleteRemote(ctx, jc, rf); err != nil {
		return fmt.Errorf("gf: delete remote %q: %w", rf.Name, err)
	}
	return nil
}

// buildRetriever resolves a ParsedMessage's protocol to a concrete
// protocol.Retriever, restricted to the pull-capable protocols.
func buildRetriever(parsed msgcache.ParsedMessage, a worker.LaunchArgs) (protocol.Retriever, protocol.JobContext, error) {
	jc := protocol.JobContext{
		WorkDir:         a.WorkDir,
		OutgoingDir:     filepath.Join(a.WorkDir, "outgoing", a.MsgNameOrDir),
		ArchiveDir:      filepath.Join(a.WorkDir, "archive", a.MsgNameOrDir),
		Host:            parsed.Host,
		Port:            parsed.Port,
		User:            parsed.User,
		Password:        parsed.Password,
		RemotePath:      parsed.Path,
		CreateTargetDir: parsed.CreateTargetDir,
		HTTPProxyURL:    a.HTTPProxy,
	}

	switch parsed.Protocol {
	case "ftp", "ftps":
		return ftp.New(), jc, nil
	case "sftp":
		return sftp.New(), jc, nil
	case "http", "https":
		s, err := httpsend.New(a.HTTPProxy)
		return s, jc, err
	default:
		return nil, jc, fmt.Errorf("gf: protocol %q has no retrieve direction", parsed.Protocol)
	}
}

func exitWith(code worker.ExitCode) {
	os.Exit(int(code))
}
