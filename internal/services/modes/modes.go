package modes

import "openframe-viewer-go/internal/models"

// Available computes the ordered list of viable viewing modes for a camera
// source. Order is fixed: webrtc, hls, mjpeg, snapshot for standalone
// cameras; stream, snapshot for Home Assistant entities (HA always supports
// both). webrtc/hls require an RTSP URL and an available relay; mjpeg
// requires a configured MJPEG URL; snapshot requires a snapshot URL or an
// RTSP URL the backend can derive a still from.
func Available(src *models.CameraSource, relayAvailable bool) []models.StreamMode {
	if src.HACamera != nil {
		return []models.StreamMode{models.ModeHAStream, models.ModeSnapshot}
	}

	var available []models.StreamMode
	if src.HasRTSP() && relayAvailable {
		available = append(available, models.ModeWebRTC, models.ModeHLS)
	}
	if src.HasMJPEG() {
		available = append(available, models.ModeMJPEG)
	}
	if src.HasSnapshot() {
		available = append(available, models.ModeSnapshot)
	}
	return available
}

// Default picks the highest-fidelity initial mode: webrtc when RTSP is
// present and the relay is up, else mjpeg, else snapshot.
func Default(src *models.CameraSource, relayAvailable bool) models.StreamMode {
	available := Available(src, relayAvailable)
	if len(available) == 0 {
		return ""
	}
	return available[0]
}

// Next returns the mode after current, wrapping circularly through the
// availability list. With at most one mode available, cycling is a no-op
// and current is returned unchanged.
func Next(current models.StreamMode, available []models.StreamMode) models.StreamMode {
	if len(available) < 2 {
		return current
	}
	for i, m := range available {
		if m == current {
			return available[(i+1)%len(available)]
		}
	}
	// Current mode no longer available (e.g. relay went away); restart at
	// the head of the list.
	return available[0]
}

// CanCycle reports whether the cycle affordance should be enabled
func CanCycle(available []models.StreamMode) bool {
	return len(available) > 1
}
