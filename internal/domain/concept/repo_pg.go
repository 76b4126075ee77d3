package concept

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool   *pgxpool.Pool
	schema string
}

// NewRepoPG builds a Repository over the OMOP vocabulary tables in the given
// schema (e.g. "hive_metastore.omop_cdm").
func NewRepoPG(pool *pgxpool.Pool, schema string) Repository {
	return &repoPG{pool: pool, schema: schema}
}

func (r *repoPG) Search(ctx context.Context, params SearchParams) ([]*Concept, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	sql := fmt.Sprintf(
		`SELECT concept_id, concept_name, domain_id, vocabulary_id,
		        concept_class_id, COALESCE(standard_concept,''), concept_code
		 FROM %s.concept
		 WHERE concept_name ILIKE $1
		   AND invalid_reason IS NULL`, r.schema)
	args := []interface{}{"%" + params.Query + "%"}

	if params.DomainID != "" {
		args = append(args, params.DomainID)
		sql += fmt.Sprintf(" AND domain_id = $%d", len(args))
	}
	if params.VocabularyID != "" {
		args = append(args, params.VocabularyID)
		sql += fmt.Sprintf(" AND vocabulary_id = $%d", len(args))
	}

	// Standard concepts first, then shorter (more general) names.
	args = append(args, limit)
	sql += fmt.Sprintf(
		" ORDER BY standard_concept = 'S' DESC, LENGTH(concept_name), concept_name LIMIT $%d",
		len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("concept search: %w", err)
	}
	defer rows.Close()

	var results []*Concept
	for rows.Next() {
		var c Concept
		if err := rows.Scan(&c.ConceptID, &c.ConceptName, &c.DomainID, &c.VocabularyID,
			&c.ConceptClass, &c.StandardFlag, &c.ConceptCode); err != nil {
			return nil, err
		}
		results = append(results, &c)
	}
	return results, rows.Err()
}

func (r *repoPG) GetByID(ctx context.Context, conceptID int64) (*Concept, error) {
	sql := fmt.Sprintf(
		`SELECT concept_id, concept_name, domain_id, vocabulary_id,
		        concept_class_id, COALESCE(standard_concept,''), concept_code
		 FROM %s.concept WHERE concept_id = $1`, r.schema)

	var c Concept
	err := r.pool.QueryRow(ctx, sql, conceptID).
		Scan(&c.ConceptID, &c.ConceptName, &c.DomainID, &c.VocabularyID,
			&c.ConceptClass, &c.StandardFlag, &c.ConceptCode)
	if err != nil {
		return nil, fmt.Errorf("concept get: %w", err)
	}
	return &c, nil
}
