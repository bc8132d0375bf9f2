package loc

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afd-project/afd-core/internal/protocol"
)

type fakeSlot struct {
	bytesDone int64
}

func (f *fakeSlot) SetCurrentFile(name string, size int64) {}
func (f *fakeSlot) AddBytesDone(n int64)                    { f.bytesDone += n }
func (f *fakeSlot) IncFilesDone()                           {}

func TestSendFileWritesAndPublishesUnderDotLock(t *testing.T) {
	dir := t.TempDir()
	s := New()
	jc := protocol.JobContext{RemotePath: dir, LockDiscipline: protocol.LockDot}
	require.NoError(t, s.Connect(context.Background(), jc))

	fi, _ := fstest.MapFS{"f.txt": {Data: []byte("hello")}}.Stat("f.txt")
	slot := &fakeSlot{}
	res := s.SendFile(context.Background(), jc, "f.txt", strings.NewReader("hello"), fi, slot)
	require.NoError(t, res.Err)

	data, err := os.ReadFile(filepath.Join(dir, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.EqualValues(t, 5, slot.bytesDone)

	_, err = os.Stat(filepath.Join(dir, ".f.txt"))
	assert.True(t, os.IsNotExist(err), "lock file must be renamed away")
}

func TestConnectCreatesTargetDirWhenRequested(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dest")
	s := New()
	jc := protocol.JobContext{RemotePath: dir, CreateTargetDir: true}
	require.NoError(t, s.Connect(context.Background(), jc))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestConnectFailsWithoutCreateTargetDirFlag(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	s := New()
	jc := protocol.JobContext{RemotePath: dir, CreateTargetDir: false}
	assert.Error(t, s.Connect(context.Background(), jc))
}

func TestSendFileAppliesChmod(t *testing.T) {
	dir := t.TempDir()
	s := New()
	jc := protocol.JobContext{RemotePath: dir, Chmod: "0600"}
	require.NoError(t, s.Connect(context.Background(), jc))

	fi, _ := fstest.MapFS{"f.txt": {Data: []byte("x")}}.Stat("f.txt")
	res := s.SendFile(context.Background(), jc, "f.txt", strings.NewReader("x"), fi, &fakeSlot{})
	require.NoError(t, res.Err)

	info, err := os.Stat(filepath.Join(dir, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
