package hls

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectSink struct {
	mu       sync.Mutex
	segments [][]byte
	ch       chan []byte
}

func newCollectSink() *collectSink {
	return &collectSink{ch: make(chan []byte, 16)}
}

func (s *collectSink) WriteSegment(data []byte, duration float64) error {
	s.mu.Lock()
	s.segments = append(s.segments, data)
	s.mu.Unlock()
	s.ch <- data
	return nil
}

type nativeSink struct {
	collectSink
	playlistURL chan string
}

func (s *nativeSink) PlayPlaylist(url string) error {
	s.playlistURL <- url
	return nil
}

const mediaPlaylist = "#EXTM3U\n" +
	"#EXT-X-VERSION:3\n" +
	"#EXT-X-TARGETDURATION:1\n" +
	"#EXT-X-MEDIA-SEQUENCE:0\n" +
	"#EXTINF:0.500,\n" +
	"seg0.ts\n" +
	"#EXTINF:0.500,\n" +
	"seg1.ts\n"

func serveHLS(t *testing.T, master string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	if master != "" {
		mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, master)
		})
	}
	mux.HandleFunc("/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, mediaPlaylist)
	})
	mux.HandleFunc("/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("segment-zero"))
	})
	mux.HandleFunc("/seg1.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("segment-one"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPlaysMediaPlaylistSegmentsInOrder(t *testing.T) {
	srv := serveHLS(t, "")
	sink := newCollectSink()
	loaded := make(chan struct{}, 1)

	player := New(Config{
		URL:    srv.URL + "/media.m3u8",
		OnLoad: func() { loaded <- struct{}{} },
		OnError: func(err error) {
			t.Errorf("unexpected playback error: %v", err)
		},
	}, sink, zerolog.Nop())
	defer player.Close()

	player.Start()

	select {
	case <-loaded:
	case <-time.After(time.Second):
		t.Fatal("onLoad never fired")
	}

	require.Equal(t, []byte("segment-zero"), <-sink.ch)
	require.Equal(t, []byte("segment-one"), <-sink.ch)

	// Zero back-buffer: already-played sequence numbers are not refetched
	select {
	case seg := <-sink.ch:
		t.Fatalf("unexpected repeat segment %q", seg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSelectsSupportedVariantFromMaster(t *testing.T) {
	master := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=1280000,CODECS=\"avc1.64001f,mp4a.40.2\"\n" +
		"media.m3u8\n"
	srv := serveHLS(t, master)
	sink := newCollectSink()
	loaded := make(chan struct{}, 1)

	player := New(Config{
		URL:    srv.URL + "/master.m3u8",
		OnLoad: func() { loaded <- struct{}{} },
	}, sink, zerolog.Nop())
	defer player.Close()

	player.Start()

	select {
	case <-loaded:
	case <-time.After(time.Second):
		t.Fatal("onLoad never fired")
	}
	assert.Equal(t, []byte("segment-zero"), <-sink.ch)
}

func TestUnsupportedCodecIsTerminal(t *testing.T) {
	master := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=1280000,CODECS=\"dvh1.05.06\"\n" +
		"media.m3u8\n"
	srv := serveHLS(t, master)
	failed := make(chan error, 1)

	player := New(Config{
		URL:     srv.URL + "/master.m3u8",
		OnError: func(err error) { failed <- err },
	}, newCollectSink(), zerolog.Nop())
	defer player.Close()

	player.Start()

	select {
	case err := <-failed:
		assert.True(t, errors.Is(err, ErrUnsupportedCodec))
	case <-time.After(time.Second):
		t.Fatal("terminal codec error never reported")
	}
}

func TestNativeSinkGetsPlaylistURLDirectly(t *testing.T) {
	sink := &nativeSink{playlistURL: make(chan string, 1)}
	loaded := make(chan struct{}, 1)

	player := New(Config{
		URL:    "http://relay/live/cam1/index.m3u8",
		OnLoad: func() { loaded <- struct{}{} },
	}, sink, zerolog.Nop())
	defer player.Close()

	player.Start()

	assert.Equal(t, "http://relay/live/cam1/index.m3u8", <-sink.playlistURL)
	select {
	case <-loaded:
	case <-time.After(time.Second):
		t.Fatal("onLoad never fired for native playback")
	}
}

func TestPlaylistFetchFailureReportsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	failed := make(chan error, 1)

	player := New(Config{
		URL:     srv.URL + "/media.m3u8",
		OnError: func(err error) { failed <- err },
	}, newCollectSink(), zerolog.Nop())
	defer player.Close()

	player.Start()

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("fetch error never reported")
	}
}

func TestCodecSupport(t *testing.T) {
	assert.True(t, codecSupported(""))
	assert.True(t, codecSupported("avc1.64001f,mp4a.40.2"))
	assert.True(t, codecSupported("vp09.00.10.08,opus"))
	assert.False(t, codecSupported("dvh1.05.06"))
	assert.False(t, codecSupported("avc1.64001f,ec-3"))
}
