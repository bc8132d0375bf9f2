// Command afd is the dispatch engine daemon: it owns the job queue, host
// status array, message cache and worker launcher, and drives them from
// internal/fdsupervisor's event loop (spec.md §4.2).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/afd-project/afd-core/internal/channel"
	"github.com/afd-project/afd-core/internal/config"
	"github.com/afd-project/afd-core/internal/fdlog"
	"github.com/afd-project/afd-core/internal/fdqueue"
	"github.com/afd-project/afd-core/internal/fdsupervisor"
	"github.com/afd-project/afd-core/internal/hsa"
	"github.com/afd-project/afd-core/internal/msgcache"
	"github.com/afd-project/afd-core/internal/worker"
)

var workDirFlag string

var rootCmd = &cobra.Command{
	Use:   "afd",
	Short: "Automatic file distribution dispatch engine",
	Long: `afd starts the dispatch engine daemon: it watches for new transfer
jobs, maintains per-host connection limits, and launches one sf_<proto> or
gf_<proto> worker process per active transfer.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDirFlag, "work-dir", "w", "/var/spool/afd", "dispatch engine working directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("afd: loading config: %w", err)
	}
	if workDirFlag != "" {
		cfg.WorkDir = workDirFlag
	}

	logger := fdlog.For("afd", fdlog.New(os.Stderr, slog.LevelInfo))

	fifoDir := filepath.Join(cfg.WorkDir, "fifos")
	if err := os.MkdirAll(fifoDir, 0o755); err != nil {
		return fmt.Errorf("afd: creating fifo directory: %w", err)
	}

	chans, err := openChannels(fifoDir)
	if err != nil {
		return fmt.Errorf("afd: opening control channels: %w", err)
	}

	hosts := hsa.NewRegistry()
	queue := fdqueue.New()
	errQueue := fdqueue.NewErrorQueue()
	cache := msgcache.New(&msgcache.FileEvaluator{WorkDir: cfg.WorkDir})

	launcher := &worker.Launcher{
		BinaryPath: func(protocol string, retrieve bool) (string, error) {
			name := "sf_" + protocol
			if retrieve {
				name = "gf_" + protocol
			}
			path, err := exec.LookPath(name)
			if err != nil {
				return "", fmt.Errorf("resolve worker binary %q: %w", name, err)
			}
			return path, nil
		},
		RaisePriority: os.Geteuid() == 0,
	}

	transferLog, err := fdlog.NewTransferLog(cfg.WorkDir, cfg.LogGenerations)
	if err != nil {
		return fmt.Errorf("afd: opening transfer log: %w", err)
	}
	defer transferLog.Close()

	deleteLog, err := fdlog.NewDeleteLog(cfg.WorkDir, cfg.LogGenerations)
	if err != nil {
		return fmt.Errorf("afd: opening delete log: %w", err)
	}
	defer deleteLog.Close()

	sup := fdsupervisor.New(cfg, queue, errQueue, hosts, cache, launcher, chans, logger, transferLog, deleteLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return sup.Run(ctx)
}

func openChannels(fifoDir string) (fdsupervisor.Channels, error) {
	open := func(name string, flag int) (*os.File, error) {
		return channel.Open(filepath.Join(fifoDir, name), flag, 0o600)
	}

	cmdF, err := open("cmd", os.O_RDONLY)
	if err != nil {
		return fdsupervisor.Channels{}, err
	}
	msgF, err := open("msg", os.O_RDONLY)
	if err != nil {
		return fdsupervisor.Channels{}, err
	}
	finF, err := open("fin", os.O_RDONLY)
	if err != nil {
		return fdsupervisor.Channels{}, err
	}
	retryF, err := open("retry", os.O_RDONLY)
	if err != nil {
		return fdsupervisor.Channels{}, err
	}
	trlCalcF, err := open("trl-calc", os.O_RDONLY)
	if err != nil {
		return fdsupervisor.Channels{}, err
	}
	wakeF, err := open("wake-up", os.O_RDONLY)
	if err != nil {
		return fdsupervisor.Channels{}, err
	}
	deleteF, err := open("delete-jobs", os.O_RDONLY)
	if err != nil {
		return fdsupervisor.Channels{}, err
	}

	return fdsupervisor.Channels{
		Cmd:        channel.NewCmdReader(cmdF),
		Msg:        channel.NewMsgReader(msgF),
		Fin:        channel.NewFinReader(finF),
		Retry:      channel.NewHostIndexReader(retryF),
		TrlCalc:    channel.NewHostIndexReader(trlCalcF),
		WakeUp:     channel.NewWakeUpReader(wakeF),
		DeleteJobs: channel.NewDeleteJobsReader(deleteF),
	}, nil
}
