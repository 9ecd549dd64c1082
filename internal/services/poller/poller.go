package poller

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Callbacks surface the poller's media-element-shaped events
type Callbacks struct {
	// OnFrame receives each JPEG frame (every snapshot fetch, every MJPEG part)
	OnFrame func(data []byte)
	// OnLoad fires when a frame loads successfully
	OnLoad func()
	// OnError fires when a fetch or the MJPEG stream fails
	OnError func(err error)
}

// Poller keeps a recent still frame for cameras without a negotiated
// stream. Snapshot sub-mode re-fetches a JPEG on a fixed cadence with a
// cache-busting URL; MJPEG sub-mode consumes one long-lived multipart
// stream.
type Poller struct {
	logger zerolog.Logger
	http   *http.Client
	cb     Callbacks

	// snapshot sub-mode
	snapshotURL func(t time.Time) string
	interval    time.Duration

	// mjpeg sub-mode
	mjpegURL string

	mu        sync.Mutex
	isLoading bool
	hasError  bool
	cancel    context.CancelFunc
	refreshCh chan struct{}
	closed    bool
	wg        sync.WaitGroup
}

// NewSnapshot builds a periodic-refresh poller. snapshotURL must embed the
// session token and a fresh cache-busting timestamp on every call.
func NewSnapshot(snapshotURL func(t time.Time) string, interval time.Duration, cb Callbacks, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		logger:      logger,
		http:        &http.Client{Timeout: 10 * time.Second},
		cb:          cb,
		snapshotURL: snapshotURL,
		interval:    interval,
		isLoading:   true,
		refreshCh:   make(chan struct{}, 1),
	}
}

// NewMJPEG builds a live multipart-stream poller
func NewMJPEG(url string, cb Callbacks, logger zerolog.Logger) *Poller {
	return &Poller{
		logger:    logger,
		http:      &http.Client{}, // no timeout: the stream is long-lived
		cb:        cb,
		mjpegURL:  url,
		isLoading: true,
		refreshCh: make(chan struct{}, 1),
	}
}

func (p *Poller) IsLoading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isLoading
}

func (p *Poller) HasError() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasError
}

// Start launches the poll loop or the MJPEG stream consumer
func (p *Poller) Start() {
	p.mu.Lock()
	if p.closed || p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	if p.mjpegURL != "" {
		go p.runMJPEG(ctx)
	} else {
		go p.runSnapshot(ctx)
	}
}

// Refresh triggers an immediate snapshot fetch without resetting the
// interval timer. For MJPEG it restarts the stream after an error.
func (p *Poller) Refresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

// Retry is the manual recovery action of an error state: it re-issues the
// same request.
func (p *Poller) Retry() {
	p.Refresh()
}

// Stop cancels the interval timer and any in-flight request synchronously.
// Safe to call redundantly; no orphaned timers survive it.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.closed = true
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) runSnapshot(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.fetchSnapshot(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fetchSnapshot(ctx)
		case <-p.refreshCh:
			// Manual refresh: fetch now, leave the ticker untouched
			p.fetchSnapshot(ctx)
		}
	}
}

func (p *Poller) fetchSnapshot(ctx context.Context) {
	url := p.snapshotURL(time.Now())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.setError(err)
		return
	}
	resp, err := p.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.setError(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.setError(fmt.Errorf("snapshot fetch failed: %d", resp.StatusCode))
		return
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		p.setError(err)
		return
	}
	p.setLoaded()
	if p.cb.OnFrame != nil {
		p.cb.OnFrame(data)
	}
}

func (p *Poller) runMJPEG(ctx context.Context) {
	defer p.wg.Done()

	for {
		if err := p.consumeMJPEG(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.setError(err)
		}
		// No automatic retry: wait for a manual action
		select {
		case <-ctx.Done():
			return
		case <-p.refreshCh:
			p.mu.Lock()
			p.isLoading = true
			p.hasError = false
			p.mu.Unlock()
		}
	}
}

func (p *Poller) consumeMJPEG(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.mjpegURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mjpeg stream failed: %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] == "" {
		return fmt.Errorf("unexpected mjpeg content type %q", resp.Header.Get("Content-Type"))
	}

	reader := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := reader.NextPart()
		if err != nil {
			return fmt.Errorf("mjpeg stream ended: %w", err)
		}
		frame, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return fmt.Errorf("mjpeg frame read failed: %w", err)
		}
		p.setLoaded()
		if p.cb.OnFrame != nil {
			p.cb.OnFrame(frame)
		}
	}
}

func (p *Poller) setLoaded() {
	p.mu.Lock()
	wasLoading := p.isLoading || p.hasError
	p.isLoading = false
	p.hasError = false
	p.mu.Unlock()
	if wasLoading && p.cb.OnLoad != nil {
		p.cb.OnLoad()
	}
}

func (p *Poller) setError(err error) {
	p.mu.Lock()
	p.isLoading = false
	p.hasError = true
	p.mu.Unlock()
	p.logger.Debug().Err(err).Msg("Frame fetch failed")
	if p.cb.OnError != nil {
		p.cb.OnError(err)
	}
}
