// Package cohort defines patient cohorts over an OMOP CDM warehouse and
// compiles them to SQL.
package cohort

import (
	"fmt"
	"time"
)

// CriteriaKind identifies which clinical event a criterion matches.
type CriteriaKind string

const (
	KindCondition   CriteriaKind = "condition"
	KindDrug        CriteriaKind = "drug"
	KindProcedure   CriteriaKind = "procedure"
	KindVisit       CriteriaKind = "visit"
	KindObservation CriteriaKind = "observation"
	KindAge         CriteriaKind = "age"
	KindGender      CriteriaKind = "gender"
)

// conceptKinds require a non-empty concept set.
var conceptKinds = map[CriteriaKind]bool{
	KindCondition:   true,
	KindDrug:        true,
	KindProcedure:   true,
	KindVisit:       true,
	KindObservation: true,
	KindGender:      true,
}

// Criteria is one inclusion or exclusion rule of a cohort definition.
type Criteria struct {
	ID   string       `json:"id"`
	Kind CriteriaKind `json:"criteria_type"`

	ConceptIDs   []int64  `json:"concept_ids,omitempty"`
	ConceptNames []string `json:"concept_names,omitempty"`

	// ValueMin/ValueMax bound the patient age for age criteria and
	// value_as_number for observation criteria.
	ValueMin *float64 `json:"value_min,omitempty"`
	ValueMax *float64 `json:"value_max,omitempty"`

	// ISO dates (YYYY-MM-DD) bounding the event start date.
	StartDate *string `json:"start_date,omitempty"`
	EndDate   *string `json:"end_date,omitempty"`

	MinOccurrences int  `json:"min_occurrences,omitempty"`
	IsExclusion    bool `json:"is_exclusion,omitempty"`
}

// Definition is a complete cohort definition.
type Definition struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	InclusionCriteria []Criteria `json:"inclusion_criteria"`
	ExclusionCriteria []Criteria `json:"exclusion_criteria,omitempty"`
}

// GenderCount is one bucket of the gender distribution.
type GenderCount struct {
	Gender string `json:"gender"`
	Count  int64  `json:"count"`
}

// AgeCount is one bucket of the age distribution.
type AgeCount struct {
	Age   int64 `json:"age"`
	Count int64 `json:"count"`
}

// AgeStats summarizes the cohort's age distribution.
type AgeStats struct {
	Mean float64 `json:"mean"`
	Min  int64   `json:"min"`
	Max  int64   `json:"max"`
}

// Demographics summarizes who is in the cohort.
type Demographics struct {
	GenderDistribution []GenderCount `json:"gender_distribution"`
	AgeDistribution    []AgeCount    `json:"age_distribution"`
	AgeStats           AgeStats      `json:"age_stats"`
}

// Result is the outcome of executing a cohort definition.
type Result struct {
	Definition           Definition    `json:"cohort_definition"`
	PatientCount         int           `json:"patient_count"`
	ExecutionTimeSeconds float64       `json:"execution_time_seconds"`
	Demographics         *Demographics `json:"demographics,omitempty"`
	SamplePatientIDs     []int64       `json:"sample_patient_ids"`
	SQLQuery             string        `json:"sql_query"`
}

// SummaryStats are warehouse-wide counts, independent of any cohort.
type SummaryStats struct {
	TotalPatients    int64 `json:"total_patients"`
	UniqueConditions int64 `json:"unique_conditions"`
	UniqueDrugs      int64 `json:"unique_drugs"`
	UniqueProcedures int64 `json:"unique_procedures"`
	TotalVisits      int64 `json:"total_visits"`
}

// ValidationError reports an invalid cohort definition. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a definition before compilation.
func (d *Definition) Validate() error {
	if len(d.InclusionCriteria) == 0 {
		return &ValidationError{Field: "inclusion_criteria", Message: "at least one inclusion criterion is required"}
	}
	for i := range d.InclusionCriteria {
		if err := d.InclusionCriteria[i].validate(); err != nil {
			return err
		}
	}
	for i := range d.ExclusionCriteria {
		if err := d.ExclusionCriteria[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Criteria) validate() error {
	field := c.ID
	if field == "" {
		field = string(c.Kind)
	}

	switch c.Kind {
	case KindCondition, KindDrug, KindProcedure, KindVisit, KindObservation, KindAge, KindGender:
	default:
		return &ValidationError{Field: field, Message: fmt.Sprintf("unknown criteria type %q", c.Kind)}
	}

	if conceptKinds[c.Kind] && len(c.ConceptIDs) == 0 {
		return &ValidationError{Field: field, Message: "concept_ids must not be empty"}
	}
	if c.Kind == KindAge && c.ValueMin == nil && c.ValueMax == nil {
		return &ValidationError{Field: field, Message: "age criteria require value_min or value_max"}
	}
	if c.MinOccurrences < 0 {
		return &ValidationError{Field: field, Message: "min_occurrences must be at least 1"}
	}
	if c.ValueMin != nil && c.ValueMax != nil && *c.ValueMin > *c.ValueMax {
		return &ValidationError{Field: field, Message: "value_min must not exceed value_max"}
	}
	if err := validDate(field, "start_date", c.StartDate); err != nil {
		return err
	}
	if err := validDate(field, "end_date", c.EndDate); err != nil {
		return err
	}
	return nil
}

func validDate(field, name string, date *string) error {
	if date == nil {
		return nil
	}
	if _, err := time.Parse("2006-01-02", *date); err != nil {
		return &ValidationError{Field: field, Message: fmt.Sprintf("%s must be an ISO date (YYYY-MM-DD)", name)}
	}
	return nil
}
