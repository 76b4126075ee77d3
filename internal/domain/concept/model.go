// Package concept resolves clinical terms against the OMOP vocabulary tables.
package concept

// Concept is one row of the OMOP concept table, restricted to the fields the
// API exposes.
type Concept struct {
	ConceptID    int64  `json:"concept_id"`
	ConceptName  string `json:"concept_name"`
	DomainID     string `json:"domain_id"`
	VocabularyID string `json:"vocabulary_id"`
	ConceptClass string `json:"concept_class_id"`
	StandardFlag string `json:"standard_concept"`
	ConceptCode  string `json:"concept_code"`
}

// IsStandard reports whether the concept is a standard concept.
func (c *Concept) IsStandard() bool {
	return c.StandardFlag == "S"
}

// SearchParams narrows a concept search.
type SearchParams struct {
	Query        string `json:"query"`
	DomainID     string `json:"domain_id,omitempty"`
	VocabularyID string `json:"vocabulary_id,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}
