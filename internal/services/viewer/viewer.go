package viewer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"openframe-viewer-go/internal/config"
	"openframe-viewer-go/internal/models"
	"openframe-viewer-go/internal/services/hls"
	"openframe-viewer-go/internal/services/modes"
	"openframe-viewer-go/internal/services/negotiator"
	"openframe-viewer-go/internal/services/poller"
)

var errNoHLSUrl = errors.New("no hls url available for camera")

// Sink is the tile's media surface: the Go rendering of the video/image
// element one viewer drives. Sinks that additionally implement
// hls.PlaylistPlayer get HLS URLs handed over natively.
type Sink interface {
	AttachTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	WriteFrame(data []byte)
	WriteSegment(data []byte, duration float64) error
}

// NullSink discards all media. Used when only state/telemetry matters.
type NullSink struct{}

func (NullSink) AttachTrack(*webrtc.TrackRemote, *webrtc.RTPReceiver) {}
func (NullSink) WriteFrame([]byte)                                    {}
func (NullSink) WriteSegment([]byte, float64) error                   { return nil }

// Backend is the slice of the REST client one viewer needs
type Backend interface {
	StartStream(ctx context.Context, cameraID string) (*models.StreamUrls, error)
	StreamURL(ref models.CameraRef) string
	SnapshotURL(ref models.CameraRef, t time.Time) string
}

// EventPublisher receives viewer state transitions (NATS-backed in
// production, nil to disable).
type EventPublisher interface {
	PublishViewerEvent(ev models.ViewerEvent)
}

// Viewer drives one grid tile: it owns the mode state for a single camera
// and at most one live media pipeline (negotiator, HLS player or poller) at
// a time. A mode switch always fully tears down the previous pipeline
// before the next one starts, and a generation counter discards async
// results that land after the pipeline they belong to is gone.
type Viewer struct {
	src     models.CameraSource
	cfg     *config.Config
	backend Backend
	sink    Sink
	events  EventPublisher
	logger  zerolog.Logger

	mu         sync.Mutex
	mode       models.StreamMode
	available  []models.StreamMode
	connection models.ConnectionState
	isLoading  bool
	hasError   bool
	lastError  string
	generation int
	closed     bool

	neg  *negotiator.Negotiator
	hlsP *hls.Player
	poll *poller.Poller
}

func New(src models.CameraSource, relayAvailable bool, cfg *config.Config, backend Backend, sink Sink, events EventPublisher, logger zerolog.Logger) *Viewer {
	if sink == nil {
		sink = NullSink{}
	}
	available := modes.Available(&src, relayAvailable)
	return &Viewer{
		src:       src,
		cfg:       cfg,
		backend:   backend,
		sink:      sink,
		events:    events,
		logger:    logger,
		mode:      modes.Default(&src, relayAvailable),
		available: available,
		isLoading: true,
	}
}

// Ref returns the viewer's camera identity
func (v *Viewer) Ref() models.CameraRef {
	return v.src.Ref
}

// State returns the externally visible viewer state
func (v *Viewer) State() models.ViewerState {
	v.mu.Lock()
	defer v.mu.Unlock()
	available := make([]models.StreamMode, len(v.available))
	copy(available, v.available)
	return models.ViewerState{
		Ref:        v.src.Ref,
		Mode:       v.mode,
		Available:  available,
		Connection: v.connection,
		IsLoading:  v.isLoading,
		HasError:   v.hasError,
		LastError:  v.lastError,
	}
}

// Start mounts the viewer in its default mode
func (v *Viewer) Start() {
	v.mu.Lock()
	mode := v.mode
	v.mu.Unlock()
	if mode == "" {
		// No URL configured for any mode: permanent "no stream"
		// placeholder, not an error state.
		v.logger.Info().Msg("Camera has no viewable mode configured")
		return
	}
	v.setupMode(mode, nil)
}

// CycleMode advances to the next available mode, wrapping circularly. No-op
// when at most one mode is available.
func (v *Viewer) CycleMode() models.StreamMode {
	v.mu.Lock()
	if v.closed || !modes.CanCycle(v.available) {
		mode := v.mode
		v.mu.Unlock()
		return mode
	}
	next := modes.Next(v.mode, v.available)
	v.mu.Unlock()

	v.setupMode(next, nil)
	return next
}

// Retry is the single user-facing recovery action of an error state
func (v *Viewer) Retry() {
	v.mu.Lock()
	neg, poll := v.neg, v.poll
	v.hasError = false
	v.lastError = ""
	mode := v.mode
	v.mu.Unlock()

	switch {
	case neg != nil:
		neg.Retry()
	case poll != nil:
		poll.Retry()
	default:
		v.setupMode(mode, nil)
	}
}

// RefreshNow forces an immediate snapshot fetch without disturbing the
// refresh cadence.
func (v *Viewer) RefreshNow() {
	v.mu.Lock()
	poll := v.poll
	v.mu.Unlock()
	if poll != nil {
		poll.Refresh()
	}
}

// Close unmounts the viewer, synchronously cancelling timers and closing
// any open peer connection or decoder.
func (v *Viewer) Close() {
	v.mu.Lock()
	v.closed = true
	v.generation++
	neg, hlsP, poll := v.detachLocked()
	v.mu.Unlock()
	stopPipeline(neg, hlsP, poll)
}

// setupMode switches the viewer to mode. Teardown of the previous pipeline
// completes before the new one starts so two pipelines never fight over the
// sink. streamUrls carries an already negotiated session (HLS fallback);
// nil means negotiate as needed.
func (v *Viewer) setupMode(mode models.StreamMode, streamUrls *models.StreamUrls) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.generation++
	gen := v.generation
	v.mode = mode
	v.isLoading = true
	v.hasError = false
	v.lastError = ""
	v.connection = ""
	neg, hlsP, poll := v.detachLocked()
	v.mu.Unlock()

	stopPipeline(neg, hlsP, poll)

	v.logger.Info().Str("mode", mode.String()).Msg("Viewer mode starting")

	switch mode {
	case models.ModeWebRTC:
		v.startWebRTC(gen, streamUrls)
	case models.ModeHLS:
		v.startHLS(gen, streamUrls)
	case models.ModeMJPEG:
		v.startMJPEG(gen)
	case models.ModeHAStream:
		v.startHAStream(gen)
	case models.ModeSnapshot:
		v.startSnapshot(gen)
	}
}

func (v *Viewer) detachLocked() (*negotiator.Negotiator, *hls.Player, *poller.Poller) {
	neg, hlsP, poll := v.neg, v.hlsP, v.poll
	v.neg, v.hlsP, v.poll = nil, nil, nil
	return neg, hlsP, poll
}

func stopPipeline(neg *negotiator.Negotiator, hlsP *hls.Player, poll *poller.Poller) {
	if neg != nil {
		neg.Close()
	}
	if hlsP != nil {
		hlsP.Close()
	}
	if poll != nil {
		poll.Stop()
	}
}

func (v *Viewer) startWebRTC(gen int, streamUrls *models.StreamUrls) {
	urls := streamUrls
	if urls == nil {
		ctx, cancel := context.WithTimeout(context.Background(), v.cfg.BackendTimeout)
		defer cancel()
		negotiated, err := v.backend.StartStream(ctx, v.src.Ref.ID)
		if err != nil {
			v.markError(gen, err)
			return
		}
		urls = negotiated
	}

	neg := negotiator.New(negotiator.Config{
		WebRTCUrl:         urls.WebRTCUrl,
		HLSUrl:            urls.HLSUrl,
		AutoReconnect:     v.cfg.AutoReconnect,
		ReconnectInterval: v.cfg.ReconnectInterval,
		MaxAttempts:       v.cfg.MaxReconnectAttempts,
		WHEPTimeout:       v.cfg.WHEPTimeout,
		ICEServers:        v.cfg.WebRTCICEServers,
		OnTrack:           v.sink.AttachTrack,
		OnLoad: func() {
			v.markLoaded(gen)
		},
		OnError: func(err error) {
			v.markError(gen, err)
		},
		OnStateChange: func(state models.ConnectionState) {
			v.markConnection(gen, state)
		},
		OnFallback: func(hlsURL string) {
			if v.stale(gen) {
				return
			}
			// Permanent switch: the negotiator will make no further
			// WebRTC attempts for this session.
			v.setupMode(models.ModeHLS, &models.StreamUrls{HLSUrl: hlsURL})
		},
	}, v.logger)

	v.mu.Lock()
	if v.closed || gen != v.generation {
		v.mu.Unlock()
		neg.Close()
		return
	}
	v.neg = neg
	v.mu.Unlock()

	neg.Start()
}

func (v *Viewer) startHLS(gen int, streamUrls *models.StreamUrls) {
	urls := streamUrls
	if urls == nil {
		ctx, cancel := context.WithTimeout(context.Background(), v.cfg.BackendTimeout)
		defer cancel()
		negotiated, err := v.backend.StartStream(ctx, v.src.Ref.ID)
		if err != nil {
			v.markError(gen, err)
			return
		}
		urls = negotiated
	}
	if urls.HLSUrl == "" {
		v.markError(gen, errNoHLSUrl)
		return
	}

	player := hls.New(hls.Config{
		URL:     urls.HLSUrl,
		Timeout: v.cfg.BackendTimeout,
		OnLoad: func() {
			v.markLoaded(gen)
		},
		OnError: func(err error) {
			v.markError(gen, err)
		},
	}, v.sink, v.logger)

	v.mu.Lock()
	if v.closed || gen != v.generation {
		v.mu.Unlock()
		player.Close()
		return
	}
	v.hlsP = player
	v.mu.Unlock()

	player.Start()
}

func (v *Viewer) startMJPEG(gen int) {
	v.startPoller(gen, poller.NewMJPEG(v.src.Camera.MJPEGUrl, v.pollerCallbacks(gen), v.logger))
}

func (v *Viewer) startHAStream(gen int) {
	v.startPoller(gen, poller.NewMJPEG(v.backend.StreamURL(v.src.Ref), v.pollerCallbacks(gen), v.logger))
}

func (v *Viewer) startSnapshot(gen int) {
	ref := v.src.Ref
	interval := time.Duration(v.src.RefreshInterval(v.cfg.DefaultRefreshInterval)) * time.Second
	snapshotURL := func(t time.Time) string {
		return v.backend.SnapshotURL(ref, t)
	}
	v.startPoller(gen, poller.NewSnapshot(snapshotURL, interval, v.pollerCallbacks(gen), v.logger))
}

func (v *Viewer) startPoller(gen int, poll *poller.Poller) {
	v.mu.Lock()
	if v.closed || gen != v.generation {
		v.mu.Unlock()
		return
	}
	v.poll = poll
	v.mu.Unlock()

	poll.Start()
}

func (v *Viewer) pollerCallbacks(gen int) poller.Callbacks {
	return poller.Callbacks{
		OnFrame: func(data []byte) {
			if !v.stale(gen) {
				v.sink.WriteFrame(data)
			}
		},
		OnLoad: func() {
			v.markLoaded(gen)
		},
		OnError: func(err error) {
			v.markError(gen, err)
		},
	}
}

func (v *Viewer) stale(gen int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed || gen != v.generation
}

func (v *Viewer) markLoaded(gen int) {
	v.mu.Lock()
	if v.closed || gen != v.generation {
		v.mu.Unlock()
		return
	}
	v.isLoading = false
	v.hasError = false
	v.lastError = ""
	mode := v.mode
	state := v.connection
	v.mu.Unlock()
	v.publish(mode, state, "")
}

func (v *Viewer) markError(gen int, err error) {
	v.mu.Lock()
	if v.closed || gen != v.generation {
		v.mu.Unlock()
		return
	}
	v.isLoading = false
	v.hasError = true
	v.lastError = err.Error()
	mode := v.mode
	state := v.connection
	v.mu.Unlock()
	v.publish(mode, state, err.Error())
}

func (v *Viewer) markConnection(gen int, state models.ConnectionState) {
	v.mu.Lock()
	if v.closed || gen != v.generation {
		v.mu.Unlock()
		return
	}
	v.connection = state
	mode := v.mode
	v.mu.Unlock()
	v.publish(mode, state, "")
}

func (v *Viewer) publish(mode models.StreamMode, state models.ConnectionState, errMsg string) {
	if v.events == nil {
		return
	}
	v.events.PublishViewerEvent(models.ViewerEvent{
		Ref:       v.src.Ref,
		Mode:      mode,
		State:     state,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}
