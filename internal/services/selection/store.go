package selection

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"openframe-viewer-go/internal/models"
)

// Store persists the selected camera set as a JSON array in a single file
// derived from the fixed storage key. Writes are whole-value replacements,
// last-write-wins.
type Store struct {
	path   string
	logger zerolog.Logger
}

func NewStore(dir string, logger zerolog.Logger) *Store {
	return &Store{
		path:   filepath.Join(dir, StorageKey+".json"),
		logger: logger,
	}
}

// Load reads the persisted selection. Missing or unparsable state degrades
// to an empty selection rather than failing startup.
func (st *Store) Load() []models.SelectedCamera {
	data, err := os.ReadFile(st.path)
	if err != nil {
		if !os.IsNotExist(err) {
			st.logger.Warn().Err(err).Str("path", st.path).Msg("Failed to read selection state")
		}
		return nil
	}

	var selected []models.SelectedCamera
	if err := json.Unmarshal(data, &selected); err != nil {
		st.logger.Warn().Err(err).Str("path", st.path).Msg("Corrupt selection state, starting empty")
		return nil
	}
	return selected
}

// Save rewrites the whole persisted value atomically
func (st *Store) Save(selected []models.SelectedCamera) error {
	if selected == nil {
		selected = []models.SelectedCamera{}
	}
	data, err := json.Marshal(selected)
	if err != nil {
		return err
	}

	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, st.path)
}
