package models

import "time"

// SourceType identifies which collection a camera came from
type SourceType string

const (
	SourceStandalone    SourceType = "standalone"
	SourceHomeAssistant SourceType = "ha"
)

// String returns the string representation of SourceType
func (st SourceType) String() string {
	return string(st)
}

// IsValid checks if the source type is valid
func (st SourceType) IsValid() bool {
	switch st {
	case SourceStandalone, SourceHomeAssistant:
		return true
	default:
		return false
	}
}

// CameraRef is the stable identity of a camera within the merged
// collection: (sourceType, id). For Home Assistant sources the id is the
// HA entity id.
type CameraRef struct {
	Type SourceType `json:"type"`
	ID   string     `json:"id"`
}

// CameraSettings holds per-camera viewing preferences
type CameraSettings struct {
	RefreshInterval int    `json:"refresh_interval"` // seconds between snapshot fetches
	AspectRatio     string `json:"aspect_ratio"`
}

// Camera is a locally registered (standalone) camera
type Camera struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	RTSPUrl     string         `json:"rtsp_url,omitempty"`
	MJPEGUrl    string         `json:"mjpeg_url,omitempty"`
	SnapshotUrl string         `json:"snapshot_url,omitempty"`
	IsEnabled   bool           `json:"is_enabled"`
	SortOrder   int            `json:"sort_order"`
	Settings    CameraSettings `json:"settings"`
}

// HACamera is a Home Assistant camera entity
type HACamera struct {
	EntityID        string `json:"entity_id"`
	Name            string `json:"name"`
	RefreshInterval int    `json:"refresh_interval"`
	AspectRatio     string `json:"aspect_ratio"`
}

// CameraSource is one entry of the merged collection. Exactly one of
// Camera/HACamera is set, discriminated by Ref.Type.
type CameraSource struct {
	Ref      CameraRef `json:"ref"`
	Name     string    `json:"name"`
	Camera   *Camera   `json:"camera,omitempty"`
	HACamera *HACamera `json:"ha_camera,omitempty"`
}

// HasRTSP reports whether the source is eligible for relay negotiation
func (cs *CameraSource) HasRTSP() bool {
	return cs.Camera != nil && cs.Camera.RTSPUrl != ""
}

// HasMJPEG reports whether an MJPEG URL is configured
func (cs *CameraSource) HasMJPEG() bool {
	return cs.Camera != nil && cs.Camera.MJPEGUrl != ""
}

// HasSnapshot reports whether a still frame can be served. RTSP implies
// the backend can derive one.
func (cs *CameraSource) HasSnapshot() bool {
	if cs.HACamera != nil {
		return true
	}
	return cs.Camera != nil && (cs.Camera.SnapshotUrl != "" || cs.Camera.RTSPUrl != "")
}

// RefreshInterval returns the per-camera snapshot cadence in seconds,
// falling back to def when unset.
func (cs *CameraSource) RefreshInterval(def int) int {
	switch {
	case cs.HACamera != nil && cs.HACamera.RefreshInterval > 0:
		return cs.HACamera.RefreshInterval
	case cs.Camera != nil && cs.Camera.Settings.RefreshInterval > 0:
		return cs.Camera.Settings.RefreshInterval
	default:
		return def
	}
}

// StreamUrls is a session-scoped negotiation result for one viewer mount.
// Never persisted; re-fetched per viewing session.
type StreamUrls struct {
	WebRTCUrl string `json:"webrtc_url,omitempty"`
	HLSUrl    string `json:"hls_url,omitempty"`
}

// StreamMode is a viewing mode for one viewer instance
type StreamMode string

const (
	ModeWebRTC   StreamMode = "webrtc"
	ModeHLS      StreamMode = "hls"
	ModeMJPEG    StreamMode = "mjpeg"
	ModeSnapshot StreamMode = "snapshot"
	// HA entities expose a live proxy stream instead of negotiated WebRTC
	ModeHAStream StreamMode = "stream"
)

// String returns the string representation of StreamMode
func (m StreamMode) String() string {
	return string(m)
}

// ConnectionState tracks one negotiated WebRTC session
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
)

// String returns the string representation of ConnectionState
func (s ConnectionState) String() string {
	return string(s)
}

// SelectedCamera is one entry of the persisted "in view" set
type SelectedCamera struct {
	ID   string     `json:"id"`
	Type SourceType `json:"type"`
}

// Ref converts the persisted entry back to a registry key
func (sc SelectedCamera) Ref() CameraRef {
	return CameraRef{Type: sc.Type, ID: sc.ID}
}

// GridLayout describes how selected tiles are arranged
type GridLayout struct {
	Rows    int `json:"rows"`
	Columns int `json:"columns"`
}

// ViewerState is the externally visible state of one viewer instance
type ViewerState struct {
	Ref        CameraRef       `json:"ref"`
	Mode       StreamMode      `json:"mode"`
	Available  []StreamMode    `json:"available_modes"`
	Connection ConnectionState `json:"connection_state,omitempty"`
	IsLoading  bool            `json:"is_loading"`
	HasError   bool            `json:"has_error"`
	LastError  string          `json:"last_error,omitempty"`
}

// ViewerEvent is published to NATS on every viewer state transition
type ViewerEvent struct {
	Ref       CameraRef       `json:"ref"`
	Mode      StreamMode      `json:"mode"`
	State     ConnectionState `json:"state,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
