package cohort

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vantage/rwe/internal/platform/warehouse"
)

// demographicsLimit caps how many patient ids are sent back to the warehouse
// for the demographics summary.
const demographicsLimit = 1000

// sampleLimit caps the patient ids echoed in a result.
const sampleLimit = 10

// Service compiles and executes cohort definitions against the warehouse.
type Service struct {
	compiler *Compiler
	exec     warehouse.Executor
	schema   string
}

// NewService creates a new cohort service.
func NewService(compiler *Compiler, exec warehouse.Executor, schema string) *Service {
	return &Service{compiler: compiler, exec: exec, schema: schema}
}

// Compile returns the SQL for a definition without executing it.
func (s *Service) Compile(def *Definition) (string, error) {
	return s.compiler.Compile(def)
}

// Build compiles and executes a definition, returning the matched patient
// count, a sample of ids, and a demographics summary.
func (s *Service) Build(ctx context.Context, def *Definition) (*Result, error) {
	start := time.Now()

	sql, err := s.compiler.Compile(def)
	if err != nil {
		return nil, err
	}

	rows, err := s.exec.Query(ctx, sql)
	if err != nil {
		return nil, err
	}

	personIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		if id, ok := warehouse.AsInt64(row["person_id"]); ok {
			personIDs = append(personIDs, id)
		}
	}

	result := &Result{
		Definition:       *def,
		PatientCount:     len(personIDs),
		SamplePatientIDs: []int64{},
		SQLQuery:         sql,
	}
	if len(personIDs) > 0 {
		sample := personIDs
		if len(sample) > sampleLimit {
			sample = sample[:sampleLimit]
		}
		result.SamplePatientIDs = sample

		demoIDs := personIDs
		if len(demoIDs) > demographicsLimit {
			demoIDs = demoIDs[:demographicsLimit]
		}
		demographics, err := s.demographics(ctx, demoIDs)
		if err != nil {
			return nil, err
		}
		result.Demographics = demographics
	}

	result.ExecutionTimeSeconds = time.Since(start).Seconds()
	return result, nil
}

// PreviewCount compiles and executes a definition, returning only the patient
// count. Cheaper than Build for interactive editing.
func (s *Service) PreviewCount(ctx context.Context, def *Definition) (int64, error) {
	sql, err := s.compiler.Compile(def)
	if err != nil {
		return 0, err
	}

	v, err := s.exec.QueryScalar(ctx, fmt.Sprintf("SELECT COUNT(*) FROM (\n%s\n) t", sql))
	if err != nil {
		return 0, err
	}
	count, _ := warehouse.AsInt64(v)
	return count, nil
}

func (s *Service) demographics(ctx context.Context, personIDs []int64) (*Demographics, error) {
	idList := joinIDs(personIDs)

	genderSQL := fmt.Sprintf(
		`SELECT c.concept_name AS gender, COUNT(*) AS count
		 FROM %s.person p
		 JOIN %s.concept c ON p.gender_concept_id = c.concept_id
		 WHERE p.person_id IN (%s)
		 GROUP BY c.concept_name`, s.schema, s.schema, idList)

	ageSQL := fmt.Sprintf(
		`SELECT FLOOR((CURRENT_DATE - MAKE_DATE(year_of_birth, COALESCE(month_of_birth, 1), COALESCE(day_of_birth, 1))) / 365.25) AS age,
		        COUNT(*) AS count
		 FROM %s.person
		 WHERE person_id IN (%s)
		 GROUP BY age
		 ORDER BY age`, s.schema, idList)

	var genderRows, ageRows []warehouse.Row
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		genderRows, err = s.exec.Query(gctx, genderSQL)
		return err
	})
	g.Go(func() error {
		var err error
		ageRows, err = s.exec.Query(gctx, ageSQL)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := &Demographics{
		GenderDistribution: make([]GenderCount, 0, len(genderRows)),
		AgeDistribution:    make([]AgeCount, 0, len(ageRows)),
	}
	for _, row := range genderRows {
		gender, _ := row["gender"].(string)
		count, _ := warehouse.AsInt64(row["count"])
		d.GenderDistribution = append(d.GenderDistribution, GenderCount{Gender: gender, Count: count})
	}

	var ageSum int64
	for _, row := range ageRows {
		age, ok := warehouse.AsInt64(row["age"])
		if !ok {
			continue
		}
		count, _ := warehouse.AsInt64(row["count"])
		d.AgeDistribution = append(d.AgeDistribution, AgeCount{Age: age, Count: count})

		ageSum += age * count
		if len(d.AgeDistribution) == 1 || age < d.AgeStats.Min {
			d.AgeStats.Min = age
		}
		if age > d.AgeStats.Max {
			d.AgeStats.Max = age
		}
	}
	var total int64
	for _, bucket := range d.AgeDistribution {
		total += bucket.Count
	}
	if total > 0 {
		d.AgeStats.Mean = float64(ageSum) / float64(total)
	}
	return d, nil
}

// Summary returns warehouse-wide counts.
func (s *Service) Summary(ctx context.Context) (*SummaryStats, error) {
	stats := &SummaryStats{}

	queries := []struct {
		dest *int64
		sql  string
	}{
		{&stats.TotalPatients, fmt.Sprintf("SELECT COUNT(*) FROM %s.person", s.schema)},
		{&stats.UniqueConditions, fmt.Sprintf("SELECT COUNT(DISTINCT condition_concept_id) FROM %s.condition_occurrence", s.schema)},
		{&stats.UniqueDrugs, fmt.Sprintf("SELECT COUNT(DISTINCT drug_concept_id) FROM %s.drug_exposure", s.schema)},
		{&stats.UniqueProcedures, fmt.Sprintf("SELECT COUNT(DISTINCT procedure_concept_id) FROM %s.procedure_occurrence", s.schema)},
		{&stats.TotalVisits, fmt.Sprintf("SELECT COUNT(*) FROM %s.visit_occurrence", s.schema)},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		q := q
		g.Go(func() error {
			v, err := s.exec.QueryScalar(gctx, q.sql)
			if err != nil {
				return err
			}
			*q.dest, _ = warehouse.AsInt64(v)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}
