package di

import (
	"fmt"

	"github.com/aristath/harvester/internal/config"
	"github.com/aristath/harvester/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the harvest database and applies its schema
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{Config: cfg}

	// Payloads are written once and never re-fetched: keep them durable
	db, err := database.New(database.Config{
		Path:    cfg.DBPath,
		Profile: database.ProfileDurable,
		Name:    "harvest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize harvest database: %w", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate harvest database: %w", err)
	}
	container.DB = db

	log.Debug().Str("path", db.Path()).Msg("Harvest database ready")
	return container, nil
}
