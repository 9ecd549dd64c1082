package selection

import (
	"sync"

	"github.com/rs/zerolog"

	"openframe-viewer-go/internal/models"
)

// StorageKey is the fixed key the selected camera set is persisted under.
// Versionless on purpose: the persisted value is a plain ordered array of
// {id, type} pairs.
const StorageKey = "openframe.selectedCameras"

// Resolver answers whether a selected ref still maps to a real camera.
// Satisfied by the registry.
type Resolver interface {
	Lookup(ref models.CameraRef) (*models.CameraSource, bool)
}

// Service owns the ordered set of cameras currently tiled in the grid. Every
// mutation is written through to the store; a store read failure on startup
// degrades to an empty selection.
type Service struct {
	store  *Store
	logger zerolog.Logger

	mu       sync.Mutex
	selected []models.SelectedCamera

	onChange func([]models.SelectedCamera)
}

func NewService(store *Store, logger zerolog.Logger) *Service {
	s := &Service{store: store, logger: logger}
	s.selected = store.Load()
	return s
}

// OnChange registers a single callback fired after every effective mutation
// (toggle, remove, prune). The viewer manager uses it to reconcile tiles.
func (s *Service) OnChange(fn func([]models.SelectedCamera)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Selected returns the current ordered selection
func (s *Service) Selected() []models.SelectedCamera {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SelectedCamera, len(s.selected))
	copy(out, s.selected)
	return out
}

// Toggle adds the pair if absent and removes it if present
func (s *Service) Toggle(id string, sourceType models.SourceType) {
	s.mu.Lock()
	found := -1
	for i, sc := range s.selected {
		if sc.ID == id && sc.Type == sourceType {
			found = i
			break
		}
	}
	if found >= 0 {
		s.selected = append(s.selected[:found], s.selected[found+1:]...)
	} else {
		s.selected = append(s.selected, models.SelectedCamera{ID: id, Type: sourceType})
	}
	s.persistLocked()
	snapshot, fn := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug().
		Str("camera_id", id).
		Str("source_type", sourceType.String()).
		Bool("selected", found < 0).
		Int("count", len(snapshot)).
		Msg("Selection toggled")

	if fn != nil {
		fn(snapshot)
	}
}

// Remove unconditionally drops the pair
func (s *Service) Remove(id string, sourceType models.SourceType) {
	s.mu.Lock()
	kept := s.selected[:0]
	removed := false
	for _, sc := range s.selected {
		if sc.ID == id && sc.Type == sourceType {
			removed = true
			continue
		}
		kept = append(kept, sc)
	}
	if !removed {
		s.mu.Unlock()
		return
	}
	s.selected = kept
	s.persistLocked()
	snapshot, fn := s.snapshotLocked()
	s.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// Prune drops selected pairs whose backing camera no longer resolves. A
// no-op prune neither rewrites the store nor fires the change callback, so
// registry refreshes that change nothing don't thrash downstream state.
func (s *Service) Prune(resolver Resolver) {
	s.mu.Lock()
	kept := make([]models.SelectedCamera, 0, len(s.selected))
	for _, sc := range s.selected {
		if _, ok := resolver.Lookup(sc.Ref()); ok {
			kept = append(kept, sc)
		}
	}
	if len(kept) == len(s.selected) {
		s.mu.Unlock()
		return
	}
	pruned := len(s.selected) - len(kept)
	s.selected = kept
	s.persistLocked()
	snapshot, fn := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info().Int("pruned", pruned).Msg("Stale camera selections pruned")

	if fn != nil {
		fn(snapshot)
	}
}

func (s *Service) persistLocked() {
	if err := s.store.Save(s.selected); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist camera selection")
	}
}

func (s *Service) snapshotLocked() ([]models.SelectedCamera, func([]models.SelectedCamera)) {
	out := make([]models.SelectedCamera, len(s.selected))
	copy(out, s.selected)
	return out, s.onChange
}

// Layout computes the grid arrangement for a tile count:
// 1 single, 2 two-up, 3-4 2x2, 5-6 2x3, 7+ 3xN.
func Layout(count int) models.GridLayout {
	switch {
	case count <= 1:
		return models.GridLayout{Rows: 1, Columns: 1}
	case count == 2:
		return models.GridLayout{Rows: 1, Columns: 2}
	case count <= 4:
		return models.GridLayout{Rows: 2, Columns: 2}
	case count <= 6:
		return models.GridLayout{Rows: 2, Columns: 3}
	default:
		return models.GridLayout{Rows: (count + 2) / 3, Columns: 3}
	}
}
