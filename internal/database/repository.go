package database

import (
	"github.com/robalyx/jointracker/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	config *models.ConfigModel
	events *models.EventModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		config: models.NewConfig(db, logger),
		events: models.NewEvent(db, logger),
	}
}

// Config returns the guild config model.
func (r *Repository) Config() *models.ConfigModel {
	return r.config
}

// Events returns the member event model.
func (r *Repository) Events() *models.EventModel {
	return r.events
}
