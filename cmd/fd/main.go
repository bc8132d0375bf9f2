// Command fd is the administrative CLI for a running afd daemon: it writes
// single-byte opcodes onto the daemon's cmd control channel (spec.md §6).
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/afd-project/afd-core/internal/channel"
)

var workDirFlag string

var rootCmd = &cobra.Command{
	Use:   "fd",
	Short: "Control a running afd dispatch engine",
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&workDirFlag, "work-dir", "w", "/var/spool/afd", "dispatch engine working directory")
	rootCmd.AddCommand(
		opcodeCommand("stop", "Stop the dispatch engine, sending active workers a termination signal", channel.CmdStop),
		opcodeCommand("save-stop", "Stop the dispatch engine after letting active transfers finish", channel.CmdSaveStop),
		opcodeCommand("quick-stop", "Stop the dispatch engine immediately, killing active transfers", channel.CmdQuickStop),
		opcodeCommand("reread-loc-interface", "Reread the local-interface file", channel.CmdRereadLocInterfaceFile),
		opcodeCommand("check-fsa", "Force a check of all host status entries", channel.CmdCheckFSAEntries),
		opcodeCommand("force-dir-check", "Force an immediate check of all retrieve directories", channel.CmdForceRemoteDirCheck),
		opcodeCommand("flush-msg-queue", "Flush the message FIFO dump queue", channel.CmdFlushMsgFIFODumpQueue),
		retryCommand(),
		wakeUpCommand(),
	)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func opcodeCommand(use, short string, opcode channel.Command) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeCmdByte(byte(opcode))
		},
	}
}

func retryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <host-index>",
		Short: "Force an immediate retry of a host's back-off jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := parseHostIndex(args[0])
			if err != nil {
				return err
			}
			return writeToChannel("retry", channel.EncodeHostIndex(idx))
		},
	}
}

func wakeUpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "wake-up",
		Short: "Force an early scheduler tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeToChannel("wake-up", []byte{1})
		},
	}
}

func parseHostIndex(s string) (int, error) {
	var idx int
	if _, err := fmt.Sscanf(s, "%d", &idx); err != nil {
		return 0, fmt.Errorf("fd: invalid host index %q: %w", s, err)
	}
	return idx, nil
}

func writeCmdByte(b byte) error {
	return writeToChannel("cmd", []byte{b})
}

func writeToChannel(name string, payload []byte) error {
	path := filepath.Join(workDirFlag, "fifos", name)
	f, err := os.OpenFile(path, os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("fd: opening %s channel: %w", name, err)
	}
	defer f.Close()
	_, err = f.Write(payload)
	return err
}
