// Package channel implements the named byte streams of spec.md §6 (cmd,
// msg, fin, retry, delete-jobs, trl-calc, wake-up) as Unix FIFOs, each
// wrapped in a typed reader/writer matching its payload format and exposed
// as a Go channel so the supervisor's event loop (internal/fdsupervisor)
// can select over all of them uniformly.
package channel

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"syscall"
)

// Open creates (if needed) and opens the FIFO at path with flag.
// os.OpenFile on a FIFO blocks until the other end is also open, matching the original named-pipe
// protocol's semantics exactly (no translation needed here, unlike shared
// memory or signals).
func Open(path string, flag int, perm os.FileMode) (*os.File, error) {
	if err := syscall.Mkfifo(path, uint32(perm)); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("channel: mkfifo %s: %w", path, err)
	}
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("channel: open %s: %w", path, err)
	}
	return f, nil
}

// Command is one of the 1-byte opcodes on the cmd channel (spec.md §6).
type Command byte

const (
	CmdRereadLocInterfaceFile Command = iota + 1
	CmdFSAAboutToChange
	CmdFlushMsgFIFODumpQueue
	CmdForceRemoteDirCheck
	CmdCheckFSAEntries
	CmdSaveStop
	CmdStop
	CmdQuickStop
)

// CmdReader reads 1-byte commands from the cmd channel and delivers them
// on a Go channel, so the supervisor's select loop treats it like any
// other event source.
type CmdReader struct {
	f *os.File
	C chan Command
}

// NewCmdReader starts a goroutine reading 1-byte commands from f until EOF
// or error, then closes C.
func NewCmdReader(f *os.File) *CmdReader {
	r := &CmdReader{f: f, C: make(chan Command, 16)}
	go func() {
		defer close(r.C)
		buf := make([]byte, 1)
		for {
			n, err := f.Read(buf)
			if n == 1 {
				r.C <- Command(buf[0])
			}
			if err != nil {
				return
			}
		}
	}()
	return r
}

// MsgRecord is one fixed-size binary message record read off the msg
// channel (spec.md §2: "AMG writes a fixed-size binary message record into
// the msg channel").
type MsgRecord struct {
	JobID    uint32
	Priority byte
	FilesToSend int64
	FileSizeToSend int64
}

// recordSize is the on-wire size of one MsgRecord: 4 + 1 (+3 pad) + 8 + 8.
const recordSize = 4 + 4 + 8 + 8

// MsgReader reads fixed-size MsgRecords off the msg channel.
type MsgReader struct {
	f *os.File
	C chan MsgRecord
}

// NewMsgReader starts a goroutine decoding fixed-size records from f.
func NewMsgReader(f *os.File) *MsgReader {
	r := &MsgReader{f: f, C: make(chan MsgRecord, 64)}
	go func() {
		defer close(r.C)
		br := bufio.NewReader(f)
		buf := make([]byte, recordSize)
		for {
			if _, err := readFull(br, buf); err != nil {
				return
			}
			r.C <- decodeMsgRecord(buf)
		}
	}()
	return r
}

func decodeMsgRecord(buf []byte) MsgRecord {
	return MsgRecord{
		JobID:          binary.LittleEndian.Uint32(buf[0:4]),
		Priority:       buf[4],
		FilesToSend:    int64(binary.LittleEndian.Uint64(buf[8:16])),
		FileSizeToSend: int64(binary.LittleEndian.Uint64(buf[16:24])),
	}
}

// EncodeMsgRecord renders m in the same layout decodeMsgRecord expects,
// for AMG-side (or test) producers writing onto the msg channel.
func EncodeMsgRecord(m MsgRecord) []byte {
	buf := make([]byte, recordSize)
	binary.LittleEndian.PutUint32(buf[0:4], m.JobID)
	buf[4] = m.Priority
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.FilesToSend))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(m.FileSizeToSend))
	return buf
}

// FinReader reads pid_t values off the fin channel, with a negative pid
// signalling a burst-requeue request rather than a plain worker exit
// (spec.md §6: "fin (pid_t, negative value signals burst requeue)").
type FinReader struct {
	f *os.File
	C chan int32
}

// NewFinReader starts a goroutine decoding 4-byte little-endian pid_t
// values from f.
func NewFinReader(f *os.File) *FinReader {
	r := &FinReader{f: f, C: make(chan int32, 64)}
	go func() {
		defer close(r.C)
		br := bufio.NewReader(f)
		buf := make([]byte, 4)
		for {
			if _, err := readFull(br, buf); err != nil {
				return
			}
			r.C <- int32(binary.LittleEndian.Uint32(buf))
		}
	}()
	return r
}

// EncodePid renders a pid_t (negative for burst-requeue) in FinReader's
// wire format.
func EncodePid(pid int32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(pid))
	return buf
}

// HostIndexReader reads plain int host-index values, used for both the
// retry and the trl-calc channels (spec.md §6).
type HostIndexReader struct {
	f *os.File
	C chan int
}

// NewHostIndexReader starts a goroutine decoding 4-byte little-endian ints.
func NewHostIndexReader(f *os.File) *HostIndexReader {
	r := &HostIndexReader{f: f, C: make(chan int, 64)}
	go func() {
		defer close(r.C)
		br := bufio.NewReader(f)
		buf := make([]byte, 4)
		for {
			if _, err := readFull(br, buf); err != nil {
				return
			}
			r.C <- int(int32(binary.LittleEndian.Uint32(buf)))
		}
	}()
	return r
}

// EncodeHostIndex renders a host index in HostIndexReader's wire format.
func EncodeHostIndex(idx int) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(int32(idx)))
	return buf
}

// WakeUpReader reads the 1-byte wake-up channel: any byte forces an early
// scheduler tick (spec.md §6: "wake-up (1 byte, any value: forces an early
// scheduler tick)").
type WakeUpReader struct {
	f *os.File
	C chan struct{}
}

// NewWakeUpReader starts a goroutine that signals C on every byte read.
func NewWakeUpReader(f *os.File) *WakeUpReader {
	r := &WakeUpReader{f: f, C: make(chan struct{}, 1)}
	go func() {
		defer close(r.C)
		buf := make([]byte, 1)
		for {
			n, err := f.Read(buf)
			if n == 1 {
				select {
				case r.C <- struct{}{}:
				default: // already pending, coalesce
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return r
}

// DeleteJobsReader reads opaque payloads off the delete-jobs channel,
// length-prefixed so a reader doesn't need to know the delete helper's
// internal format (spec.md §6: "delete-jobs (opaque payload handled by
// delete helper)").
type DeleteJobsReader struct {
	f *os.File
	C chan []byte
}

// NewDeleteJobsReader starts a goroutine decoding uint32-length-prefixed
// payloads from f.
func NewDeleteJobsReader(f *os.File) *DeleteJobsReader {
	r := &DeleteJobsReader{f: f, C: make(chan []byte, 16)}
	go func() {
		defer close(r.C)
		br := bufio.NewReader(f)
		lenBuf := make([]byte, 4)
		for {
			if _, err := readFull(br, lenBuf); err != nil {
				return
			}
			n := binary.LittleEndian.Uint32(lenBuf)
			payload := make([]byte, n)
			if _, err := readFull(br, payload); err != nil {
				return
			}
			r.C <- payload
		}
	}()
	return r
}

// EncodeDeleteJobsPayload length-prefixes payload for the delete-jobs wire
// format.
func EncodeDeleteJobsPayload(payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	return buf
}

func readFull(br *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := br.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
