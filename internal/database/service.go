package database

import (
	"github.com/jonboulle/clockwork"
	"github.com/robalyx/jointracker/internal/database/service"
	"go.uber.org/zap"
)

// Service provides access to all business logic services.
type Service struct {
	stats *service.StatsService
}

// NewService creates a new service instance on top of a storage client.
func NewService(client Client, clock clockwork.Clock, logger *zap.Logger) *Service {
	return &Service{
		stats: service.NewStats(client.Config(), client.Events(), clock, logger),
	}
}

// Stats returns the stats service.
func (s *Service) Stats() *service.StatsService {
	return s.stats
}
