package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"openframe-viewer-go/internal/config"
)

func NewServiceLogger(cfg *config.Config, service string) zerolog.Logger {
	return log.With().Str("instance_id", cfg.InstanceID).Str("service", service).Logger()
}

func WithCamera(base zerolog.Logger, sourceType, cameraID string) zerolog.Logger {
	return base.With().Str("source_type", sourceType).Str("camera_id", cameraID).Logger()
}
