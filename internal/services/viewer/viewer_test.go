package viewer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openframe-viewer-go/internal/config"
	"openframe-viewer-go/internal/models"
)

type fakeBackend struct {
	urls         *models.StreamUrls
	startErr     error
	streamURL    string
	snapshotBase string
	startCalls   int32
}

func (f *fakeBackend) StartStream(ctx context.Context, cameraID string) (*models.StreamUrls, error) {
	atomic.AddInt32(&f.startCalls, 1)
	return f.urls, f.startErr
}

func (f *fakeBackend) StreamURL(ref models.CameraRef) string {
	return f.streamURL
}

func (f *fakeBackend) SnapshotURL(ref models.CameraRef, t time.Time) string {
	return fmt.Sprintf("%s/snapshot?t=%d", f.snapshotBase, t.UnixMilli())
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.ViewerEvent
}

func (e *eventRecorder) PublishViewerEvent(ev models.ViewerEvent) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *eventRecorder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

type frameSink struct {
	NullSink
	frames chan []byte
}

func (s *frameSink) WriteFrame(data []byte) {
	select {
	case s.frames <- data:
	default:
	}
}

func testConfig() *config.Config {
	return &config.Config{
		BackendTimeout:         time.Second,
		ReconnectInterval:      5 * time.Millisecond,
		MaxReconnectAttempts:   3,
		AutoReconnect:          true,
		WHEPTimeout:            time.Second,
		DefaultRefreshInterval: 1,
	}
}

func standaloneSource(camera models.Camera) models.CameraSource {
	return models.CameraSource{
		Ref:    models.CameraRef{Type: models.SourceStandalone, ID: camera.ID},
		Name:   camera.Name,
		Camera: &camera,
	}
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

func TestDefaultModeFollowsRelayAvailability(t *testing.T) {
	src := standaloneSource(models.Camera{
		ID:       "cam1",
		RTSPUrl:  "rtsp://cam1",
		MJPEGUrl: "http://cam1/mjpeg",
	})

	withRelay := New(src, true, testConfig(), &fakeBackend{}, nil, nil, zerolog.Nop())
	assert.Equal(t, models.ModeWebRTC, withRelay.State().Mode)
	assert.Equal(t, []models.StreamMode{
		models.ModeWebRTC, models.ModeHLS, models.ModeMJPEG, models.ModeSnapshot,
	}, withRelay.State().Available)

	// Relay down: stream modes vanish, the camera still renders via MJPEG
	withoutRelay := New(src, false, testConfig(), &fakeBackend{}, nil, nil, zerolog.Nop())
	assert.Equal(t, models.ModeMJPEG, withoutRelay.State().Mode)
	assert.Equal(t, []models.StreamMode{
		models.ModeMJPEG, models.ModeSnapshot,
	}, withoutRelay.State().Available)
}

func TestStartWithoutAnyModeIsPlaceholderNotError(t *testing.T) {
	src := standaloneSource(models.Camera{ID: "cam1"})
	v := New(src, false, testConfig(), &fakeBackend{}, nil, nil, zerolog.Nop())
	defer v.Close()

	v.Start()

	state := v.State()
	assert.Equal(t, models.StreamMode(""), state.Mode)
	assert.Empty(t, state.Available)
	assert.False(t, state.HasError)
}

func TestStreamNegotiationFailureSurfacesAsError(t *testing.T) {
	src := standaloneSource(models.Camera{ID: "cam1", RTSPUrl: "rtsp://cam1"})
	backend := &fakeBackend{startErr: errors.New("relay refused")}
	events := &eventRecorder{}

	v := New(src, true, testConfig(), backend, nil, events, zerolog.Nop())
	defer v.Close()

	v.Start()

	state := v.State()
	assert.True(t, state.HasError)
	assert.Equal(t, "relay refused", state.LastError)
	assert.Equal(t, models.ModeWebRTC, state.Mode)
	assert.Equal(t, 1, events.count())
}

func TestSnapshotModeDeliversFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg-bytes"))
	}))
	t.Cleanup(srv.Close)

	src := standaloneSource(models.Camera{ID: "cam1", SnapshotUrl: "http://cam1/snap"})
	backend := &fakeBackend{snapshotBase: srv.URL}
	sink := &frameSink{frames: make(chan []byte, 4)}

	v := New(src, false, testConfig(), backend, sink, nil, zerolog.Nop())
	defer v.Close()

	require.Equal(t, models.ModeSnapshot, v.State().Mode)
	v.Start()

	assert.Equal(t, []byte("jpeg-bytes"), <-sink.frames)
	waitFor(t, func() bool { return !v.State().IsLoading }, "viewer never left loading")
	assert.False(t, v.State().HasError)
}

func TestCycleModeTearsDownPreviousPipeline(t *testing.T) {
	var snapshotHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&snapshotHits, 1)
		w.Write([]byte("jpeg-bytes"))
	}))
	t.Cleanup(srv.Close)

	mjpegSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stream offline", http.StatusBadGateway)
	}))
	t.Cleanup(mjpegSrv.Close)

	src := standaloneSource(models.Camera{
		ID:          "cam1",
		MJPEGUrl:    mjpegSrv.URL,
		SnapshotUrl: "http://cam1/snap",
	})
	backend := &fakeBackend{snapshotBase: srv.URL}

	v := New(src, false, testConfig(), backend, nil, nil, zerolog.Nop())
	defer v.Close()

	require.Equal(t, models.ModeMJPEG, v.State().Mode)
	v.Start()
	waitFor(t, func() bool { return v.State().HasError }, "mjpeg failure never surfaced")

	// Cycling resets the error state and mounts the snapshot pipeline
	next := v.CycleMode()
	assert.Equal(t, models.ModeSnapshot, next)
	waitFor(t, func() bool { return atomic.LoadInt32(&snapshotHits) >= 1 }, "snapshot never fetched")
	waitFor(t, func() bool { return !v.State().IsLoading }, "viewer never left loading")
	assert.False(t, v.State().HasError, "stale mjpeg error must not leak into the new mode")

	// Wraps back around
	assert.Equal(t, models.ModeMJPEG, v.CycleMode())
}

func TestCycleModeIsNoopWithSingleMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg-bytes"))
	}))
	t.Cleanup(srv.Close)

	src := standaloneSource(models.Camera{ID: "cam1", SnapshotUrl: "http://cam1/snap"})
	v := New(src, false, testConfig(), &fakeBackend{snapshotBase: srv.URL}, nil, nil, zerolog.Nop())
	defer v.Close()

	v.Start()
	assert.Equal(t, models.ModeSnapshot, v.CycleMode())
}

func TestCloseStopsSnapshotCadence(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("jpeg-bytes"))
	}))
	t.Cleanup(srv.Close)

	src := standaloneSource(models.Camera{ID: "cam1", SnapshotUrl: "http://cam1/snap"})
	v := New(src, false, testConfig(), &fakeBackend{snapshotBase: srv.URL}, nil, nil, zerolog.Nop())

	v.Start()
	waitFor(t, func() bool { return atomic.LoadInt32(&hits) >= 1 }, "snapshot never fetched")

	v.Close()
	after := atomic.LoadInt32(&hits)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&hits), "no fetch may run after close")

	// Redundant close is safe
	v.Close()
}

func TestHomeAssistantCameraCyclesStreamAndSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg-bytes"))
	}))
	t.Cleanup(srv.Close)

	src := models.CameraSource{
		Ref:      models.CameraRef{Type: models.SourceHomeAssistant, ID: "camera.porch"},
		Name:     "Porch",
		HACamera: &models.HACamera{EntityID: "camera.porch", Name: "Porch"},
	}
	backend := &fakeBackend{streamURL: srv.URL, snapshotBase: srv.URL}

	v := New(src, true, testConfig(), backend, nil, nil, zerolog.Nop())
	defer v.Close()

	state := v.State()
	assert.Equal(t, models.ModeHAStream, state.Mode)
	assert.Equal(t, []models.StreamMode{models.ModeHAStream, models.ModeSnapshot}, state.Available)

	v.Start()
	assert.Equal(t, models.ModeSnapshot, v.CycleMode())
	assert.Equal(t, models.ModeHAStream, v.CycleMode())
}
