package concept

import "context"

// Repository provides read access to the OMOP concept table.
type Repository interface {
	Search(ctx context.Context, params SearchParams) ([]*Concept, error)
	GetByID(ctx context.Context, conceptID int64) (*Concept, error)
}
