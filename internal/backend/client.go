package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"openframe-viewer-go/internal/models"
)

// Client talks to the OpenFrame backend: camera collections, the Home
// Assistant proxy, relay status and the start-stream call. Media URLs carry
// the session token as a query parameter because the consumers are plain
// image/video fetches that cannot set headers.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// ListCameras fetches the locally registered cameras
func (c *Client) ListCameras(ctx context.Context) ([]models.Camera, error) {
	var cameras []models.Camera
	if err := c.getJSON(ctx, "/api/cameras", &cameras); err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	return cameras, nil
}

// ListHACameras fetches Home Assistant camera entities. Callers treat a
// failure as "HA unavailable" and must not retry; HA may simply be
// unconfigured.
func (c *Client) ListHACameras(ctx context.Context) ([]models.HACamera, error) {
	var cameras []models.HACamera
	if err := c.getJSON(ctx, "/api/ha/cameras", &cameras); err != nil {
		return nil, fmt.Errorf("failed to list HA cameras: %w", err)
	}
	return cameras, nil
}

// HAConfigured reports whether a Home Assistant connection is set up
func (c *Client) HAConfigured(ctx context.Context) (bool, error) {
	var status struct {
		Configured bool `json:"configured"`
	}
	if err := c.getJSON(ctx, "/api/ha/config", &status); err != nil {
		return false, err
	}
	return status.Configured, nil
}

// RelayAvailable reports whether the media relay is reachable. An
// unreachable relay is expected operation, not an error: callers degrade to
// MJPEG/snapshot modes.
func (c *Client) RelayAvailable(ctx context.Context) bool {
	var status struct {
		Available bool `json:"available"`
	}
	if err := c.getJSON(ctx, "/api/relay/status", &status); err != nil {
		c.logger.Debug().Err(err).Msg("Relay status check failed, treating relay as unavailable")
		return false
	}
	return status.Available
}

// StartStream asks the backend to provision a relay session for an
// RTSP-backed camera and returns the session-scoped stream URLs.
func (c *Client) StartStream(ctx context.Context, cameraID string) (*models.StreamUrls, error) {
	endpoint := fmt.Sprintf("%s/api/cameras/%s/stream", c.baseURL, url.PathEscape(cameraID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create start-stream request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start-stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("start-stream failed: %d - %s", resp.StatusCode, string(body))
	}

	var urls models.StreamUrls
	if err := json.NewDecoder(resp.Body).Decode(&urls); err != nil {
		return nil, fmt.Errorf("failed to decode stream urls: %w", err)
	}
	return &urls, nil
}

// StreamURL builds the token-bearing live stream URL (MJPEG for standalone
// cameras, HA camera proxy stream for entities).
func (c *Client) StreamURL(ref models.CameraRef) string {
	var path string
	if ref.Type == models.SourceHomeAssistant {
		path = fmt.Sprintf("/api/ha/cameras/%s/stream", url.PathEscape(ref.ID))
	} else {
		path = fmt.Sprintf("/api/cameras/%s/mjpeg", url.PathEscape(ref.ID))
	}
	q := url.Values{}
	if c.token != "" {
		q.Set("token", c.token)
	}
	return c.withQuery(path, q)
}

// SnapshotURL builds the token-bearing snapshot URL. The t parameter is a
// cache-buster and must differ on every refresh.
func (c *Client) SnapshotURL(ref models.CameraRef, t time.Time) string {
	var path string
	if ref.Type == models.SourceHomeAssistant {
		path = fmt.Sprintf("/api/ha/cameras/%s/snapshot", url.PathEscape(ref.ID))
	} else {
		path = fmt.Sprintf("/api/cameras/%s/snapshot", url.PathEscape(ref.ID))
	}
	q := url.Values{}
	if c.token != "" {
		q.Set("token", c.token)
	}
	q.Set("t", strconv.FormatInt(t.UnixMilli(), 10))
	return c.withQuery(path, q)
}

func (c *Client) withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return c.baseURL + path
	}
	return c.baseURL + path + "?" + q.Encode()
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
