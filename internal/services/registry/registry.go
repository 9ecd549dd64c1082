package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"openframe-viewer-go/internal/backend"
	"openframe-viewer-go/internal/config"
	"openframe-viewer-go/internal/models"
)

// Registry merges locally registered cameras and Home Assistant camera
// entities into one addressable collection keyed by (sourceType, id). The
// two collections are fetched independently: a HA failure never degrades
// the standalone list, and HA fetches are never retried within a cycle
// since HA may simply be unconfigured.
type Registry struct {
	cfg    *config.Config
	client *backend.Client
	logger zerolog.Logger

	mu             sync.RWMutex
	standalone     []models.Camera
	ha             []models.HACamera
	merged         []models.CameraSource
	byRef          map[models.CameraRef]*models.CameraSource
	relayAvailable bool

	subMu       sync.Mutex
	subscribers []func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRegistry(cfg *config.Config, client *backend.Client, logger zerolog.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		client: client,
		logger: logger,
		byRef:  make(map[models.CameraRef]*models.CameraSource),
	}
}

// Start performs an initial fetch of both collections and launches the
// periodic refresh loops.
func (r *Registry) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.RefreshCameras(ctx)
	r.RefreshHA(ctx)

	r.wg.Add(2)
	go r.refreshLoop(ctx, r.cfg.CameraRefreshInterval, r.RefreshCameras)
	go r.refreshLoop(ctx, r.cfg.HARefreshInterval, r.RefreshHA)
}

func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Registry) refreshLoop(ctx context.Context, interval time.Duration, refresh func(context.Context)) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh(ctx)
		}
	}
}

// RefreshCameras re-fetches the standalone camera list and the relay
// availability flag. On fetch failure the last known good list is kept.
func (r *Registry) RefreshCameras(ctx context.Context) {
	relayAvailable := r.client.RelayAvailable(ctx)

	cameras, err := r.client.ListCameras(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Camera list fetch failed, keeping last known collection")
		r.mu.Lock()
		r.relayAvailable = relayAvailable
		r.mu.Unlock()
		return
	}

	enabled := cameras[:0]
	for _, cam := range cameras {
		if cam.IsEnabled {
			enabled = append(enabled, cam)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].SortOrder < enabled[j].SortOrder
	})

	r.mu.Lock()
	r.standalone = enabled
	r.relayAvailable = relayAvailable
	changed := r.rebuildLocked()
	r.mu.Unlock()

	r.logger.Debug().
		Int("cameras", len(enabled)).
		Bool("relay_available", relayAvailable).
		Msg("Standalone camera collection refreshed")

	if changed {
		r.notify()
	}
}

// RefreshHA re-fetches the Home Assistant entity list. Failures are
// expected (HA unconfigured or down) and clear the HA slice silently.
func (r *Registry) RefreshHA(ctx context.Context) {
	entities, err := r.client.ListHACameras(ctx)
	if err != nil {
		r.logger.Debug().Err(err).Msg("HA camera fetch failed, treating HA as unavailable")
		entities = nil
	}

	r.mu.Lock()
	r.ha = entities
	changed := r.rebuildLocked()
	r.mu.Unlock()

	if changed {
		r.notify()
	}
}

// rebuildLocked recomputes the merged collection and keyed index. Returns
// true when the set of refs actually changed, so subscribers are not
// thrashed by no-op refreshes.
func (r *Registry) rebuildLocked() bool {
	merged := make([]models.CameraSource, 0, len(r.standalone)+len(r.ha))
	for i := range r.standalone {
		cam := r.standalone[i]
		merged = append(merged, models.CameraSource{
			Ref:    models.CameraRef{Type: models.SourceStandalone, ID: cam.ID},
			Name:   cam.Name,
			Camera: &r.standalone[i],
		})
	}
	for i := range r.ha {
		ent := r.ha[i]
		merged = append(merged, models.CameraSource{
			Ref:      models.CameraRef{Type: models.SourceHomeAssistant, ID: ent.EntityID},
			Name:     ent.Name,
			HACamera: &r.ha[i],
		})
	}

	byRef := make(map[models.CameraRef]*models.CameraSource, len(merged))
	for i := range merged {
		byRef[merged[i].Ref] = &merged[i]
	}

	changed := len(byRef) != len(r.byRef)
	if !changed {
		for ref := range byRef {
			if _, ok := r.byRef[ref]; !ok {
				changed = true
				break
			}
		}
	}

	r.merged = merged
	r.byRef = byRef
	return changed
}

// Sources returns a copy of the merged, ordered collection
func (r *Registry) Sources() []models.CameraSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.CameraSource, len(r.merged))
	copy(out, r.merged)
	return out
}

// Lookup resolves a (sourceType, id) pair in O(1)
func (r *Registry) Lookup(ref models.CameraRef) (*models.CameraSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.byRef[ref]
	return src, ok
}

// RelayAvailable reports the relay reachability observed on the last
// refresh cycle.
func (r *Registry) RelayAvailable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.relayAvailable
}

// Subscribe registers a callback invoked whenever the merged collection
// gains or loses cameras. Used by the selection layer to prune stale refs.
func (r *Registry) Subscribe(fn func()) {
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, fn)
	r.subMu.Unlock()
}

func (r *Registry) notify() {
	r.subMu.Lock()
	subs := make([]func(), len(r.subscribers))
	copy(subs, r.subscribers)
	r.subMu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
