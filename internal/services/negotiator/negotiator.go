package negotiator

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"openframe-viewer-go/internal/models"
)

// Config describes one negotiated viewing session against the relay.
type Config struct {
	WebRTCUrl string // relay base URL; the WHEP endpoint is derived from it
	HLSUrl    string // optional permanent fallback after retry exhaustion

	AutoReconnect     bool
	ReconnectInterval time.Duration
	MaxAttempts       int
	WHEPTimeout       time.Duration
	ICEServers        []string

	// OnTrack receives incoming media as it arrives
	OnTrack func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	// OnLoad fires once per session when the peer connection reaches connected
	OnLoad func()
	// OnError reports terminal errors (never thrown past the negotiator)
	OnError func(err error)
	// OnStateChange reports every connection-state transition
	OnStateChange func(state models.ConnectionState)
	// OnFallback fires at most once, when retries are exhausted and an HLS
	// URL is available; no further WebRTC attempts occur afterwards.
	OnFallback func(hlsURL string)
}

// Negotiator establishes a receive-only WebRTC session via a WHEP
// offer/answer exchange. At most one peer connection is live per instance:
// every attempt funnels through the same teardown-then-rebuild sequence.
type Negotiator struct {
	cfg    Config
	logger zerolog.Logger
	http   *http.Client

	mu             sync.Mutex
	pc             *webrtc.PeerConnection
	state          models.ConnectionState
	failures       int
	generation     int
	reconnectTimer *time.Timer
	closed         bool
	fellBack       bool
	iceRestarted   bool

	// connect is the per-attempt dial; replaced in tests
	connect func(gen int) error
}

func New(cfg Config, logger zerolog.Logger) *Negotiator {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WHEPTimeout <= 0 {
		cfg.WHEPTimeout = 10 * time.Second
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}
	n := &Negotiator{
		cfg:    cfg,
		logger: logger,
		http:   &http.Client{Timeout: cfg.WHEPTimeout},
	}
	n.connect = n.dialWHEP
	return n
}

// Endpoint derives the WHEP endpoint from the relay base URL
func Endpoint(webrtcURL string) string {
	return strings.TrimSuffix(webrtcURL, "/") + "/whep"
}

// State returns the current connection state
func (n *Negotiator) State() models.ConnectionState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Start begins the first connection attempt
func (n *Negotiator) Start() {
	n.mu.Lock()
	if n.closed || n.fellBack {
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()
	n.attempt()
}

// Retry re-invokes the full offer/answer flow manually after a terminal
// failure. Resets the failure counter.
func (n *Negotiator) Retry() {
	n.mu.Lock()
	if n.closed || n.fellBack {
		n.mu.Unlock()
		return
	}
	n.failures = 0
	n.mu.Unlock()
	n.attempt()
}

// Close tears the session down and cancels any scheduled reconnect. Safe to
// call redundantly.
func (n *Negotiator) Close() {
	n.mu.Lock()
	n.closed = true
	n.teardownLocked()
	n.mu.Unlock()
}

func (n *Negotiator) attempt() {
	n.mu.Lock()
	if n.closed || n.fellBack {
		n.mu.Unlock()
		return
	}
	n.teardownLocked()
	n.generation++
	gen := n.generation
	n.iceRestarted = false
	n.setStateLocked(models.StateConnecting)
	connect := n.connect
	n.mu.Unlock()

	if err := connect(gen); err != nil {
		n.logger.Warn().Err(err).Msg("WHEP negotiation attempt failed")
		n.handleFailure(gen, err)
	}
}

// teardownLocked closes the live peer connection and clears pending timers.
// Idempotent.
func (n *Negotiator) teardownLocked() {
	if n.reconnectTimer != nil {
		n.reconnectTimer.Stop()
		n.reconnectTimer = nil
	}
	if n.pc != nil {
		_ = n.pc.Close()
		n.pc = nil
	}
}

func (n *Negotiator) setStateLocked(state models.ConnectionState) {
	if n.state == state {
		return
	}
	n.state = state
	if n.cfg.OnStateChange != nil {
		go n.cfg.OnStateChange(state)
	}
}

// dialWHEP performs one full offer/answer exchange: build a receive-only
// peer connection, wait for ICE gathering to complete (no trickle to the
// relay), POST the offer SDP and apply the answer.
func (n *Negotiator) dialWHEP(gen int) error {
	var iceServers []webrtc.ICEServer
	for _, u := range n.cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	cleanupPC := func() {
		_ = pc.Close()
	}

	// Receive-only: no local media is ever sent to the relay
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		cleanupPC()
		return fmt.Errorf("failed to add video transceiver: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		cleanupPC()
		return fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if n.stale(gen) {
			return
		}
		n.logger.Debug().Str("kind", track.Kind().String()).Msg("Remote track attached")
		if n.cfg.OnTrack != nil {
			n.cfg.OnTrack(track, receiver)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if n.stale(gen) {
			return
		}
		switch state {
		case webrtc.PeerConnectionStateConnected:
			n.mu.Lock()
			n.failures = 0
			n.setStateLocked(models.StateConnected)
			n.mu.Unlock()
			if n.cfg.OnLoad != nil {
				go n.cfg.OnLoad()
			}
		case webrtc.PeerConnectionStateDisconnected:
			n.mu.Lock()
			n.setStateLocked(models.StateDisconnected)
			if n.cfg.AutoReconnect {
				n.scheduleReconnectLocked()
			}
			n.mu.Unlock()
		case webrtc.PeerConnectionStateFailed:
			n.handleFailure(gen, fmt.Errorf("peer connection failed"))
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if n.stale(gen) || state != webrtc.ICEConnectionStateFailed {
			return
		}
		// ICE can report failed while the peer state lags; try a restart
		// before giving the session up.
		n.mu.Lock()
		restarted := n.iceRestarted
		n.iceRestarted = true
		n.mu.Unlock()
		if restarted {
			return
		}
		n.logger.Info().Msg("ICE failed, attempting ICE restart")
		if err := n.exchange(pc, &webrtc.OfferOptions{ICERestart: true}); err != nil {
			n.logger.Warn().Err(err).Msg("ICE restart failed")
			n.handleFailure(gen, err)
		}
	})

	if err := n.exchange(pc, nil); err != nil {
		cleanupPC()
		return err
	}

	n.mu.Lock()
	if n.closed || gen != n.generation {
		// Identity moved on while we were dialing; this session is stale.
		n.mu.Unlock()
		cleanupPC()
		return nil
	}
	n.pc = pc
	n.mu.Unlock()
	return nil
}

// exchange runs one SDP offer/answer round against the WHEP endpoint
func (n *Negotiator) exchange(pc *webrtc.PeerConnection, opts *webrtc.OfferOptions) error {
	offer, err := pc.CreateOffer(opts)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	endpoint := Endpoint(n.cfg.WebRTCUrl)
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(pc.LocalDescription().SDP))
	if err != nil {
		return fmt.Errorf("failed to create WHEP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Accept", "application/sdp")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("WHEP POST failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("WHEP POST failed: %d - %s", resp.StatusCode, string(body))
	}

	answer, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed reading WHEP answer: %w", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  string(answer),
	}); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// handleFailure drives the failed branch of the state machine: retry while
// under the attempt cap, then fall back to HLS if available, otherwise stay
// failed awaiting a manual retry.
func (n *Negotiator) handleFailure(gen int, cause error) {
	n.mu.Lock()
	if n.closed || n.fellBack || gen != n.generation {
		n.mu.Unlock()
		return
	}
	n.teardownLocked()
	n.failures++
	n.setStateLocked(models.StateFailed)

	if n.cfg.AutoReconnect && n.failures < n.cfg.MaxAttempts {
		n.logger.Info().
			Int("failures", n.failures).
			Dur("retry_in", n.cfg.ReconnectInterval).
			Msg("WebRTC session failed, reconnect scheduled")
		n.scheduleReconnectLocked()
		n.mu.Unlock()
		return
	}

	if n.cfg.HLSUrl != "" {
		n.fellBack = true
		fallback := n.cfg.OnFallback
		hlsURL := n.cfg.HLSUrl
		n.mu.Unlock()
		n.logger.Info().Str("hls_url", hlsURL).Msg("WebRTC retries exhausted, switching to HLS fallback")
		if fallback != nil {
			fallback(hlsURL)
		}
		return
	}

	onError := n.cfg.OnError
	n.mu.Unlock()
	n.logger.Warn().Err(cause).Msg("WebRTC retries exhausted, awaiting manual retry")
	if onError != nil {
		onError(cause)
	}
}

func (n *Negotiator) scheduleReconnectLocked() {
	if n.reconnectTimer != nil {
		n.reconnectTimer.Stop()
	}
	n.reconnectTimer = time.AfterFunc(n.cfg.ReconnectInterval, n.attempt)
}

func (n *Negotiator) stale(gen int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed || gen != n.generation
}
