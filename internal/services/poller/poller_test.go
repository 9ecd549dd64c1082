package poller

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshotServer struct {
	mu       sync.Mutex
	fails    bool
	requests []string
	srv      *httptest.Server
}

func newSnapshotServer(t *testing.T) *snapshotServer {
	t.Helper()
	s := &snapshotServer{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.URL.Query().Get("t"))
		fails := s.fails
		s.mu.Unlock()
		if fails {
			http.Error(w, "camera offline", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *snapshotServer) url(ts time.Time) string {
	return fmt.Sprintf("%s/snapshot?token=secret&t=%d", s.srv.URL, ts.UnixMilli())
}

func (s *snapshotServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *snapshotServer) setFails(v bool) {
	s.mu.Lock()
	s.fails = v
	s.mu.Unlock()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSnapshotPollsOnCadenceWithFreshCacheBuster(t *testing.T) {
	srv := newSnapshotServer(t)
	frames := make(chan []byte, 16)

	p := NewSnapshot(srv.url, 20*time.Millisecond, Callbacks{
		OnFrame: func(data []byte) { frames <- data },
	}, zerolog.Nop())
	p.Start()
	defer p.Stop()

	// First fetch is immediate, then one per tick
	waitFor(t, func() bool { return srv.count() >= 3 }, "poller never reached three fetches")
	assert.Equal(t, []byte("jpeg-bytes"), <-frames)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	seen := make(map[string]bool)
	for _, ts := range srv.requests[:3] {
		require.NotEmpty(t, ts)
		seen[ts] = true
	}
	assert.Len(t, seen, 3, "every fetch must carry a distinct cache buster")
}

func TestManualRefreshFetchesImmediately(t *testing.T) {
	srv := newSnapshotServer(t)

	p := NewSnapshot(srv.url, time.Hour, Callbacks{}, zerolog.Nop())
	p.Start()
	defer p.Stop()

	waitFor(t, func() bool { return srv.count() == 1 }, "initial fetch missing")

	p.Refresh()
	waitFor(t, func() bool { return srv.count() == 2 }, "manual refresh did not fetch")
}

func TestStopLeavesNoOrphanedTimer(t *testing.T) {
	srv := newSnapshotServer(t)

	p := NewSnapshot(srv.url, 15*time.Millisecond, Callbacks{}, zerolog.Nop())
	p.Start()
	waitFor(t, func() bool { return srv.count() >= 2 }, "poller never ticked")

	p.Stop()
	after := srv.count()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, after, srv.count(), "no fetch may run after stop")

	// Redundant stop is safe
	p.Stop()
}

func TestSnapshotErrorThenRetryRecovers(t *testing.T) {
	srv := newSnapshotServer(t)
	srv.setFails(true)

	var errs int32
	loaded := make(chan struct{}, 1)
	p := NewSnapshot(srv.url, time.Hour, Callbacks{
		OnError: func(error) { atomic.AddInt32(&errs, 1) },
		OnLoad:  func() { loaded <- struct{}{} },
	}, zerolog.Nop())
	p.Start()
	defer p.Stop()

	waitFor(t, func() bool { return atomic.LoadInt32(&errs) == 1 }, "error never surfaced")
	assert.True(t, p.HasError())

	srv.setFails(false)
	p.Retry()
	select {
	case <-loaded:
	case <-time.After(2 * time.Second):
		t.Fatal("retry never recovered")
	}
	assert.False(t, p.HasError())
	assert.False(t, p.IsLoading())
}

func mjpegHandler(frames [][]byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type": {"image/jpeg"},
			})
			if err != nil {
				return
			}
			part.Write(frame)
			flusher.Flush()
		}
		mw.Close()
	}
}

func TestMJPEGConsumesMultipartFrames(t *testing.T) {
	srv := httptest.NewServer(mjpegHandler([][]byte{
		[]byte("frame-1"),
		[]byte("frame-2"),
		[]byte("frame-3"),
	}))
	t.Cleanup(srv.Close)

	frames := make(chan []byte, 8)
	loads := make(chan struct{}, 1)
	p := NewMJPEG(srv.URL, Callbacks{
		OnFrame: func(data []byte) { frames <- data },
		OnLoad:  func() { loads <- struct{}{} },
	}, zerolog.Nop())
	p.Start()
	defer p.Stop()

	assert.Equal(t, []byte("frame-1"), <-frames)
	assert.Equal(t, []byte("frame-2"), <-frames)
	assert.Equal(t, []byte("frame-3"), <-frames)
	select {
	case <-loads:
	case <-time.After(2 * time.Second):
		t.Fatal("onLoad never fired")
	}
}

func TestMJPEGStreamEndIsErrorWithoutAutoRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		mjpegHandler([][]byte{[]byte("frame-1")})(w, r)
	}))
	t.Cleanup(srv.Close)

	var errs int32
	p := NewMJPEG(srv.URL, Callbacks{
		OnError: func(error) { atomic.AddInt32(&errs, 1) },
	}, zerolog.Nop())
	p.Start()
	defer p.Stop()

	waitFor(t, func() bool { return atomic.LoadInt32(&errs) == 1 }, "stream end never reported")
	assert.True(t, p.HasError())

	// The consumer must not reconnect on its own
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// A manual retry reopens the stream
	p.Retry()
	waitFor(t, func() bool { return atomic.LoadInt32(&hits) == 2 }, "retry never reconnected")
}

func TestMJPEGRejectsNonMultipartResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not a stream</html>"))
	}))
	t.Cleanup(srv.Close)

	errored := make(chan error, 1)
	p := NewMJPEG(srv.URL, Callbacks{
		OnError: func(err error) { errored <- err },
	}, zerolog.Nop())
	p.Start()
	defer p.Stop()

	select {
	case err := <-errored:
		assert.Contains(t, err.Error(), "content type")
	case <-time.After(2 * time.Second):
		t.Fatal("content type mismatch never reported")
	}
}
