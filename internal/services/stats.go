package services

import (
	"context"

	"github.com/bookloan/apiserver/internal/apperr"
	"github.com/bookloan/apiserver/internal/authz"
	"github.com/bookloan/apiserver/types"
)

type StatsRepository interface {
	Get(ctx context.Context) (types.Stats, error)
}

// StatsService serves the admin dashboard counters.
type StatsService struct {
	repo StatsRepository
	gate authz.Gate
}

func NewStatsService(repo StatsRepository) *StatsService {
	return &StatsService{repo: repo}
}

func (s *StatsService) Get(ctx context.Context) (types.Stats, error) {
	if err := s.gate.Require(authz.IdentityFrom(ctx), authz.Admin, 0); err != nil {
		return types.Stats{}, err
	}
	stats, err := s.repo.Get(ctx)
	if err != nil {
		return types.Stats{}, apperr.Internal("failed to compute stats", err)
	}
	return stats, nil
}
