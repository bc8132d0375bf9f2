package httpsend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afd-project/afd-core/internal/protocol"
)

type fakeSlot struct {
	bytesDone int64
	current   string
}

func (f *fakeSlot) SetCurrentFile(name string, size int64) { f.current = name }
func (f *fakeSlot) AddBytesDone(n int64)                    { f.bytesDone += n }
func (f *fakeSlot) IncFilesDone()                           {}

func TestSendFilePUTsBodyToLockedName(t *testing.T) {
	var gotPath string
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	s, err := New("")
	require.NoError(t, err)
	jc := protocol.JobContext{Host: u.Hostname(), Port: port, RemotePath: ""}
	require.NoError(t, s.Connect(context.Background(), jc))

	content := "hello world"
	fi, err := fstest.MapFS{"f.txt": {Data: []byte(content)}}.Stat("f.txt")
	require.NoError(t, err)

	slot := &fakeSlot{}
	res := s.SendFile(context.Background(), jc, "f.txt", strings.NewReader(content), fi, slot)
	require.NoError(t, res.Err)
	assert.Equal(t, "/f.txt", gotPath)
	assert.Equal(t, content, gotBody)
	assert.EqualValues(t, len(content), res.BytesSent)
	assert.EqualValues(t, len(content), slot.bytesDone)
}

func TestSendFilePropagatesHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	s, err := New("")
	require.NoError(t, err)
	jc := protocol.JobContext{Host: u.Hostname(), Port: port}
	require.NoError(t, s.Connect(context.Background(), jc))

	fi, _ := fstest.MapFS{"f.txt": {Data: []byte("x")}}.Stat("f.txt")
	res := s.SendFile(context.Background(), jc, "f.txt", strings.NewReader("x"), fi, &fakeSlot{})
	assert.Error(t, res.Err)
}
