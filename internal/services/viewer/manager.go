package viewer

import (
	"sync"

	"github.com/rs/zerolog"

	"openframe-viewer-go/internal/config"
	"openframe-viewer-go/internal/logging"
	"openframe-viewer-go/internal/models"
)

// Registry is the slice of the camera registry the manager needs
type Registry interface {
	Lookup(ref models.CameraRef) (*models.CameraSource, bool)
	RelayAvailable() bool
}

// SinkFactory builds the media surface for a newly mounted tile. Nil means
// every tile gets a NullSink.
type SinkFactory func(ref models.CameraRef) Sink

// Manager reconciles the selected camera set into running viewer
// instances: one viewer per selected (sourceType, id), created on
// selection, closed on deselection. Tiles are fully independent; two tiles
// of the same camera would negotiate separate sessions, but the selection
// set is keyed by ref so that does not arise here.
type Manager struct {
	cfg     *config.Config
	backend Backend
	reg     Registry
	events  EventPublisher
	sinks   SinkFactory
	logger  zerolog.Logger

	mu      sync.Mutex
	viewers map[models.CameraRef]*Viewer
	order   []models.CameraRef
}

func NewManager(cfg *config.Config, backend Backend, reg Registry, events EventPublisher, sinks SinkFactory, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		backend: backend,
		reg:     reg,
		events:  events,
		sinks:   sinks,
		logger:  logger,
		viewers: make(map[models.CameraRef]*Viewer),
	}
}

// Reconcile brings the running viewers in line with the selection. Removed
// tiles are closed before new ones start; selection order is preserved for
// state listings.
func (m *Manager) Reconcile(selected []models.SelectedCamera) {
	wanted := make(map[models.CameraRef]bool, len(selected))
	order := make([]models.CameraRef, 0, len(selected))
	for _, sc := range selected {
		wanted[sc.Ref()] = true
		order = append(order, sc.Ref())
	}

	m.mu.Lock()
	var toClose []*Viewer
	for ref, vw := range m.viewers {
		if !wanted[ref] {
			toClose = append(toClose, vw)
			delete(m.viewers, ref)
		}
	}

	var toStart []*Viewer
	for _, ref := range order {
		if _, running := m.viewers[ref]; running {
			continue
		}
		src, ok := m.reg.Lookup(ref)
		if !ok {
			// Selection not yet pruned against the current collection
			m.logger.Debug().
				Str("camera_id", ref.ID).
				Str("source_type", ref.Type.String()).
				Msg("Selected camera not in registry, skipping")
			continue
		}
		var sink Sink
		if m.sinks != nil {
			sink = m.sinks(ref)
		}
		vw := New(*src, m.reg.RelayAvailable(), m.cfg, m.backend, sink, m.events,
			logging.WithCamera(m.logger, ref.Type.String(), ref.ID))
		m.viewers[ref] = vw
		toStart = append(toStart, vw)
	}
	m.order = order
	m.mu.Unlock()

	for _, vw := range toClose {
		vw.Close()
	}
	for _, vw := range toStart {
		vw.Start()
	}

	if len(toClose) > 0 || len(toStart) > 0 {
		m.logger.Info().
			Int("started", len(toStart)).
			Int("closed", len(toClose)).
			Int("active", len(selected)).
			Msg("Viewer grid reconciled")
	}
}

// Get returns the viewer for a ref, if mounted
func (m *Manager) Get(ref models.CameraRef) (*Viewer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vw, ok := m.viewers[ref]
	return vw, ok
}

// States lists viewer states in selection order
func (m *Manager) States() []models.ViewerState {
	m.mu.Lock()
	order := make([]models.CameraRef, len(m.order))
	copy(order, m.order)
	viewers := make(map[models.CameraRef]*Viewer, len(m.viewers))
	for ref, vw := range m.viewers {
		viewers[ref] = vw
	}
	m.mu.Unlock()

	states := make([]models.ViewerState, 0, len(order))
	for _, ref := range order {
		if vw, ok := viewers[ref]; ok {
			states = append(states, vw.State())
		}
	}
	return states
}

// Shutdown closes every running viewer
func (m *Manager) Shutdown() {
	m.mu.Lock()
	viewers := make([]*Viewer, 0, len(m.viewers))
	for _, vw := range m.viewers {
		viewers = append(viewers, vw)
	}
	m.viewers = make(map[models.CameraRef]*Viewer)
	m.order = nil
	m.mu.Unlock()

	for _, vw := range viewers {
		vw.Close()
	}
}
