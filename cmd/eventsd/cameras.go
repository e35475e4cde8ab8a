package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-events/internal/config"
	"github.com/technosupport/ts-events/internal/data"
)

// cameraDirectory is the in-memory registry backed by camera_sources. Status
// changes apply in memory first and are persisted in the background.
type cameraDirectory struct {
	*data.CameraRegistry
	store data.CameraModel
}

// loadCameras merges configured cameras with camera_sources. Rows in the
// database win over the file for the same id.
func loadCameras(ctx context.Context, cfg *config.Config, store data.CameraModel) (*cameraDirectory, error) {
	byID := make(map[string]data.CameraSource, len(cfg.Cameras))
	for _, c := range cfg.Cameras {
		byID[c.ID] = c
	}

	rows, err := store.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("camera_sources unavailable, using configured cameras only")
	}
	for _, c := range rows {
		byID[c.ID] = c
	}
	if len(byID) == 0 {
		return nil, errors.New("no cameras configured")
	}

	cams := make([]data.CameraSource, 0, len(byID))
	for _, c := range byID {
		cams = append(cams, c)
	}
	log.Info().Int("cameras", len(cams)).Int("from_db", len(rows)).Msg("cameras loaded")
	return &cameraDirectory{CameraRegistry: data.NewCameraRegistry(cfg.Pipeline.DefaultCooldown, cams...), store: store}, nil
}

func (d *cameraDirectory) SetEnabled(id string, enabled bool) bool {
	if !d.CameraRegistry.SetEnabled(id, enabled) {
		return false
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.store.SetStatus(ctx, id, enabled); err != nil && !errors.Is(err, data.ErrRecordNotFound) {
			log.Warn().Err(err).Str("camera_id", id).Msg("failed to persist camera status")
		}
	}()
	return true
}
