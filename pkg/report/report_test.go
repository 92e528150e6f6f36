package report

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeMovie(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movie.avi")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type fakeService struct {
	userReply   string
	reportReply string

	lastReport map[string]string
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(checkUserPath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(f.userReply))
	})
	mux.HandleFunc(reportPath, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		f.lastReport = map[string]string{}
		for k := range r.PostForm {
			f.lastReport[k] = r.PostForm.Get(k)
		}
		w.Write([]byte(f.reportReply))
	})
	return mux
}

func newTestClient(t *testing.T, svc *fakeService) *Client {
	t.Helper()
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:  srv.URL,
		Username: "user",
		Password: "pass",
	})
	require.NoError(t, err)
	return c
}

func TestDigest_FirstTenMiB(t *testing.T) {
	path := writeMovie(t, "some movie bytes")

	want := md5.Sum([]byte("some movie bytes"))
	got, err := Digest(path)
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(want[:]), got)

	_, err = Digest(filepath.Join(t.TempDir(), "absent.avi"))
	require.ErrorIs(t, err, ErrMissingMovie)
}

func TestSubmit_Reported(t *testing.T) {
	svc := &fakeService{userReply: "OK", reportReply: "NPc0: report accepted"}
	c := newTestClient(t, svc)
	path := writeMovie(t, "bytes")

	res, err := c.Submit(context.Background(), Request{
		FilePath: path,
		Language: "PL",
		Comment:  "out of sync",
	})
	require.NoError(t, err)
	require.Equal(t, StatusReported, res.Status)
	require.Equal(t, "NPc0: report accepted", res.ServerText)

	digest, err := Digest(path)
	require.NoError(t, err)
	require.Equal(t, digest, svc.lastReport["hash"])
	require.Equal(t, "movie.avi", svc.lastReport["filename"])
	require.Equal(t, "PL", svc.lastReport["language"])
	require.Equal(t, "out of sync", svc.lastReport["comment"])
}

func TestSubmit_NoSubtitles(t *testing.T) {
	svc := &fakeService{userReply: "OK", reportReply: "NPc404 nothing on file"}
	c := newTestClient(t, svc)

	res, err := c.Submit(context.Background(), Request{FilePath: writeMovie(t, "x")})
	require.NoError(t, err)
	require.Equal(t, StatusNoSubtitles, res.Status)
	require.Empty(t, res.ServerText)
}

func TestSubmit_Refused(t *testing.T) {
	svc := &fakeService{userReply: "OK", reportReply: "ERR no such movie"}
	c := newTestClient(t, svc)

	res, err := c.Submit(context.Background(), Request{FilePath: writeMovie(t, "x")})
	require.NoError(t, err)
	require.Equal(t, StatusNotReported, res.Status)
}

func TestCheckUser(t *testing.T) {
	svc := &fakeService{userReply: "OK"}
	c := newTestClient(t, svc)
	require.NoError(t, c.CheckUser(context.Background()))

	svc.userReply = "NPc1"
	require.ErrorIs(t, c.CheckUser(context.Background()), ErrInvalidCredentials)
}

func collectEvents(t *testing.T, j *Job) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-j.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("job did not finish")
		}
	}
}

func TestSubmitAsync_ReportedSequence(t *testing.T) {
	svc := &fakeService{userReply: "OK", reportReply: "NPc0: thanks"}
	c := newTestClient(t, svc)

	j := c.SubmitAsync(context.Background(), Request{FilePath: writeMovie(t, "x"), Language: "ENG"})
	events := collectEvents(t, j)

	require.Len(t, events, 2)
	require.Equal(t, EventServerMessage, events[0].Type)
	require.Equal(t, "NPc0: thanks", events[0].Text)
	require.Equal(t, EventFinished, events[1].Type)
	require.Equal(t, StatusReported, events[1].Result.Status)
}

func TestSubmitAsync_InvalidCredentials(t *testing.T) {
	svc := &fakeService{userReply: "NPc1", reportReply: "NPc0: never reached"}
	c := newTestClient(t, svc)

	j := c.SubmitAsync(context.Background(), Request{FilePath: writeMovie(t, "x")})
	events := collectEvents(t, j)

	require.Len(t, events, 2)
	require.Equal(t, EventInvalidCredentials, events[0].Type)
	require.Equal(t, EventFinished, events[1].Type)
	require.Equal(t, StatusNotReported, events[1].Result.Status)
	require.Nil(t, svc.lastReport, "submission is skipped on bad credentials")
}
