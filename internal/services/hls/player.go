package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/grafov/m3u8"
	"github.com/rs/zerolog"
)

// ErrUnsupportedCodec marks environments that cannot decode any variant of
// the stream. Terminal: reported once, never retried.
var ErrUnsupportedCodec = errors.New("no supported codec in HLS playlist")

// SegmentSink consumes decoded-transport segments in playlist order
type SegmentSink interface {
	WriteSegment(data []byte, duration float64) error
}

// PlaylistPlayer is implemented by sinks that can play an HLS playlist URL
// directly. When the sink supports it, the player hands the URL over and
// skips the segment-pump path entirely.
type PlaylistPlayer interface {
	PlayPlaylist(url string) error
}

type Config struct {
	URL     string
	Timeout time.Duration

	OnLoad  func()
	OnError func(err error)
}

// Player plays an HLS stream when WebRTC is unavailable. Configured for low
// latency: no back-buffer is retained, segments are handed to the sink and
// dropped.
type Player struct {
	cfg    Config
	sink   SegmentSink
	logger zerolog.Logger
	http   *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

func New(cfg Config, sink SegmentSink, logger zerolog.Logger) *Player {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Player{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		http:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Start begins playback. The native path is synchronous; the library path
// runs until Close or a fatal error.
func (p *Player) Start() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	// Sinks with native HLS support take the URL directly
	if native, ok := p.sink.(PlaylistPlayer); ok {
		if err := native.PlayPlaylist(p.cfg.URL); err != nil {
			p.fail(fmt.Errorf("native HLS playback failed: %w", err))
			return
		}
		p.logger.Debug().Str("url", p.cfg.URL).Msg("Native HLS playback started")
		if p.cfg.OnLoad != nil {
			p.cfg.OnLoad()
		}
		return
	}

	p.wg.Add(1)
	go p.run(ctx)
}

// Close releases all player resources. Safe to call redundantly.
func (p *Player) Close() {
	p.mu.Lock()
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Player) run(ctx context.Context) {
	defer p.wg.Done()

	mediaURL, targetDuration, err := p.resolveMediaPlaylist(ctx)
	if err != nil {
		p.fail(err)
		return
	}

	// First successful media playlist parse is the load signal
	if p.cfg.OnLoad != nil {
		p.cfg.OnLoad()
	}

	var lastSeq uint64
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		media, err := p.fetchMediaPlaylist(ctx, mediaURL)
		if err != nil {
			p.fail(fmt.Errorf("media playlist reload failed: %w", err))
			return
		}

		for i, seg := range media.Segments {
			if seg == nil {
				continue
			}
			seq := media.SeqNo + uint64(i)
			if !first && seq <= lastSeq {
				continue
			}
			data, err := p.fetchSegment(ctx, mediaURL, seg.URI)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.fail(fmt.Errorf("segment fetch failed: %w", err))
				return
			}
			if err := p.sink.WriteSegment(data, seg.Duration); err != nil {
				p.fail(fmt.Errorf("sink rejected segment: %w", err))
				return
			}
			lastSeq = seq
			first = false
		}

		reload := time.Duration(targetDuration * float64(time.Second) / 2)
		if reload <= 0 {
			reload = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reload):
		}
	}
}

// resolveMediaPlaylist fetches the configured URL and, for master
// playlists, selects the first variant with a decodable codec set.
func (p *Player) resolveMediaPlaylist(ctx context.Context) (*url.URL, float64, error) {
	base, err := url.Parse(p.cfg.URL)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid HLS url: %w", err)
	}

	playlist, kind, err := p.fetchPlaylist(ctx, base)
	if err != nil {
		return nil, 0, err
	}

	switch kind {
	case m3u8.MEDIA:
		media := playlist.(*m3u8.MediaPlaylist)
		return base, media.TargetDuration, nil
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		for _, variant := range master.Variants {
			if variant == nil || !codecSupported(variant.Codecs) {
				continue
			}
			ref, err := url.Parse(variant.URI)
			if err != nil {
				continue
			}
			mediaURL := base.ResolveReference(ref)
			media, err := p.fetchMediaPlaylist(ctx, mediaURL)
			if err != nil {
				return nil, 0, err
			}
			return mediaURL, media.TargetDuration, nil
		}
		return nil, 0, ErrUnsupportedCodec
	default:
		return nil, 0, fmt.Errorf("unrecognized playlist type %d", kind)
	}
}

func (p *Player) fetchPlaylist(ctx context.Context, u *url.URL) (m3u8.Playlist, m3u8.ListType, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("playlist fetch failed: %d", resp.StatusCode)
	}
	playlist, kind, err := m3u8.DecodeFrom(resp.Body, true)
	if err != nil {
		return nil, 0, fmt.Errorf("playlist decode failed: %w", err)
	}
	return playlist, kind, nil
}

func (p *Player) fetchMediaPlaylist(ctx context.Context, u *url.URL) (*m3u8.MediaPlaylist, error) {
	playlist, kind, err := p.fetchPlaylist(ctx, u)
	if err != nil {
		return nil, err
	}
	if kind != m3u8.MEDIA {
		return nil, fmt.Errorf("expected media playlist at %s", u)
	}
	return playlist.(*m3u8.MediaPlaylist), nil
}

func (p *Player) fetchSegment(ctx context.Context, base *url.URL, uri string) ([]byte, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.ResolveReference(ref).String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("segment fetch failed: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (p *Player) fail(err error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	p.logger.Warn().Err(err).Str("url", p.cfg.URL).Msg("HLS playback failed")
	if p.cfg.OnError != nil {
		p.cfg.OnError(err)
	}
}

var supportedCodecPrefixes = []string{"avc1", "avc3", "vp8", "vp09", "hvc1", "hev1", "mp4a", "opus"}

// codecSupported accepts an empty CODECS attribute (unknown, assume
// playable) and otherwise requires every listed codec to be decodable.
func codecSupported(codecs string) bool {
	if codecs == "" {
		return true
	}
	for _, c := range strings.Split(codecs, ",") {
		c = strings.TrimSpace(strings.ToLower(c))
		ok := false
		for _, prefix := range supportedCodecPrefixes {
			if strings.HasPrefix(c, prefix) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
