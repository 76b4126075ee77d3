package concept

import (
	"context"
	"fmt"
)

// Service provides concept search and lookup.
type Service struct {
	repo Repository
}

// NewService creates a new concept service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Search finds concepts matching the given parameters.
func (s *Service) Search(ctx context.Context, params SearchParams) ([]*Concept, error) {
	if params.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if params.Limit <= 0 {
		params.Limit = 20
	}
	return s.repo.Search(ctx, params)
}

// Get looks up a single concept by id.
func (s *Service) Get(ctx context.Context, conceptID int64) (*Concept, error) {
	if conceptID <= 0 {
		return nil, fmt.Errorf("concept id must be positive")
	}
	return s.repo.GetByID(ctx, conceptID)
}
