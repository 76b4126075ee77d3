package cohort

import (
	"errors"
	"sort"
	"strings"
	"testing"
)

const testSchema = "hive_metastore.omop_cdm"

func fptr(v float64) *float64 { return &v }
func sptr(s string) *string   { return &s }

func diabetesCriteria() Criteria {
	return Criteria{ID: "c1", Kind: KindCondition, ConceptIDs: []int64{201826}}
}

func TestCompile_RequiresInclusion(t *testing.T) {
	c := NewCompiler(testSchema)

	_, err := c.Compile(&Definition{Name: "empty"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCompile_ConceptKindRequiresConcepts(t *testing.T) {
	c := NewCompiler(testSchema)

	for _, kind := range []CriteriaKind{KindCondition, KindDrug, KindProcedure, KindVisit, KindObservation, KindGender} {
		_, err := c.Compile(&Definition{
			Name:              "no concepts",
			InclusionCriteria: []Criteria{{ID: "c1", Kind: kind}},
		})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Errorf("kind %s: expected ValidationError, got %v", kind, err)
		}
	}
}

func TestCompile_UnknownKind(t *testing.T) {
	c := NewCompiler(testSchema)

	_, err := c.Compile(&Definition{
		Name:              "bad kind",
		InclusionCriteria: []Criteria{{ID: "c1", Kind: "lab"}},
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCompile_SingleCondition(t *testing.T) {
	c := NewCompiler(testSchema)

	sql, err := c.Compile(&Definition{
		Name:              "diabetics",
		InclusionCriteria: []Criteria{diabetesCriteria()},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"WITH base_population AS",
		testSchema + ".person",
		testSchema + ".condition_occurrence",
		"condition_concept_id IN",
		testSchema + ".concept_ancestor",
		"ancestor_concept_id IN (201826)",
		"INTERSECT",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("SQL missing %q:\n%s", want, sql)
		}
	}
	if strings.Contains(sql, "EXCEPT") {
		t.Error("no exclusions were given, SQL must not contain EXCEPT")
	}
	if strings.Contains(sql, "HAVING") {
		t.Error("min_occurrences defaulted, SQL must not contain HAVING")
	}
}

func TestCompile_ExclusionsSubtractedIndependently(t *testing.T) {
	c := NewCompiler(testSchema)

	sql, err := c.Compile(&Definition{
		Name:              "drug minus stroke minus bleed",
		InclusionCriteria: []Criteria{{ID: "i1", Kind: KindDrug, ConceptIDs: []int64{1503297}}},
		ExclusionCriteria: []Criteria{
			{ID: "e1", Kind: KindCondition, ConceptIDs: []int64{381316}, IsExclusion: true},
			{ID: "e2", Kind: KindCondition, ConceptIDs: []int64{192671}, IsExclusion: true},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.Count(sql, "EXCEPT"); got != 2 {
		t.Errorf("expected one EXCEPT per exclusion, got %d:\n%s", got, sql)
	}
	if !strings.Contains(sql, "SELECT person_id FROM exclusion_2") ||
		!strings.Contains(sql, "SELECT person_id FROM exclusion_3") {
		t.Errorf("exclusion CTEs must be subtracted separately:\n%s", sql)
	}
	// Exclusions must never be intersected with each other.
	if strings.Count(sql, "INTERSECT") != 1 {
		t.Errorf("expected exactly one INTERSECT:\n%s", sql)
	}
}

func TestCompile_MinOccurrences(t *testing.T) {
	c := NewCompiler(testSchema)

	cr := diabetesCriteria()
	cr.MinOccurrences = 3
	sql, err := c.Compile(&Definition{Name: "recurrent", InclusionCriteria: []Criteria{cr}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sql, "HAVING COUNT(*) >= 3") {
		t.Errorf("expected HAVING COUNT(*) >= 3:\n%s", sql)
	}
	if !strings.Contains(sql, "GROUP BY person_id") {
		t.Errorf("expected GROUP BY person_id:\n%s", sql)
	}

	// Threshold of exactly 1 must not emit the wrapper.
	cr.MinOccurrences = 1
	sql, err = c.Compile(&Definition{Name: "single", InclusionCriteria: []Criteria{cr}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(sql, "HAVING") {
		t.Errorf("min_occurrences=1 must not emit HAVING:\n%s", sql)
	}
}

func TestCompile_DateBounds(t *testing.T) {
	c := NewCompiler(testSchema)

	cr := Criteria{ID: "c1", Kind: KindDrug, ConceptIDs: []int64{1503297},
		StartDate: sptr("2020-01-01"), EndDate: sptr("2023-12-31")}
	sql, err := c.Compile(&Definition{Name: "windowed", InclusionCriteria: []Criteria{cr}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sql, "drug_exposure_start_date >= '2020-01-01'") {
		t.Errorf("missing start date bound:\n%s", sql)
	}
	if !strings.Contains(sql, "drug_exposure_start_date <= '2023-12-31'") {
		t.Errorf("missing end date bound:\n%s", sql)
	}

	cr.StartDate = sptr("01/01/2020")
	_, err = c.Compile(&Definition{Name: "bad date", InclusionCriteria: []Criteria{cr}})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for non-ISO date, got %v", err)
	}
}

func TestCompile_ObservationValueBounds(t *testing.T) {
	c := NewCompiler(testSchema)

	cr := Criteria{ID: "c1", Kind: KindObservation, ConceptIDs: []int64{3004410},
		ValueMin: fptr(6.5), ValueMax: fptr(12)}
	sql, err := c.Compile(&Definition{Name: "a1c", InclusionCriteria: []Criteria{cr}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sql, "value_as_number >= 6.5") || !strings.Contains(sql, "value_as_number <= 12") {
		t.Errorf("missing value bounds:\n%s", sql)
	}

	cr.ValueMin, cr.ValueMax = fptr(12), fptr(6.5)
	_, err = c.Compile(&Definition{Name: "inverted", InclusionCriteria: []Criteria{cr}})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for inverted range, got %v", err)
	}
}

func TestCompile_AgeAndGender(t *testing.T) {
	c := NewCompiler(testSchema)

	sql, err := c.Compile(&Definition{
		Name: "older women",
		InclusionCriteria: []Criteria{
			{ID: "a1", Kind: KindAge, ValueMin: fptr(65), ValueMax: fptr(90)},
			{ID: "g1", Kind: KindGender, ConceptIDs: []int64{8532}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(sql, "BETWEEN 65 AND 90") {
		t.Errorf("missing age range:\n%s", sql)
	}
	if !strings.Contains(sql, "gender_concept_id IN (8532)") {
		t.Errorf("missing gender filter:\n%s", sql)
	}
	// Gender matches directly, without descendant expansion.
	if strings.Count(sql, "concept_ancestor") != 0 {
		t.Errorf("person-table criteria must not expand descendants:\n%s", sql)
	}

	_, err = c.Compile(&Definition{
		Name:              "unbounded age",
		InclusionCriteria: []Criteria{{ID: "a1", Kind: KindAge}},
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for unbounded age, got %v", err)
	}
}

func TestCompile_Idempotent(t *testing.T) {
	c := NewCompiler(testSchema)
	def := &Definition{
		Name:              "stable",
		InclusionCriteria: []Criteria{diabetesCriteria(), {ID: "c2", Kind: KindDrug, ConceptIDs: []int64{1503297}}},
		ExclusionCriteria: []Criteria{{ID: "e1", Kind: KindVisit, ConceptIDs: []int64{9203}, IsExclusion: true}},
	}

	first, err := c.Compile(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.Compile(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("compiling the same definition twice produced different SQL")
	}
}

// cteBodies extracts the body of every named CTE in the statement.
func cteBodies(t *testing.T, sql string) []string {
	t.Helper()
	var bodies []string
	rest := sql
	for {
		i := strings.Index(rest, " AS (\n")
		if i < 0 {
			break
		}
		rest = rest[i+len(" AS (\n"):]
		j := strings.Index(rest, "\n)")
		if j < 0 {
			t.Fatalf("unterminated CTE in:\n%s", sql)
		}
		bodies = append(bodies, rest[:j])
		rest = rest[j:]
	}
	sort.Strings(bodies)
	return bodies
}

func TestCompile_InclusionOrderInsensitive(t *testing.T) {
	c := NewCompiler(testSchema)

	a := Criteria{ID: "c1", Kind: KindCondition, ConceptIDs: []int64{201826}}
	b := Criteria{ID: "c2", Kind: KindDrug, ConceptIDs: []int64{1503297}}

	sqlAB, err := c.Compile(&Definition{Name: "ab", InclusionCriteria: []Criteria{a, b}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sqlBA, err := c.Compile(&Definition{Name: "ba", InclusionCriteria: []Criteria{b, a}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gotAB := cteBodies(t, sqlAB)
	gotBA := cteBodies(t, sqlBA)
	if len(gotAB) != len(gotBA) {
		t.Fatalf("CTE count differs: %d vs %d", len(gotAB), len(gotBA))
	}
	for i := range gotAB {
		if gotAB[i] != gotBA[i] {
			t.Errorf("CTE sets differ:\n%s\nvs\n%s", gotAB[i], gotBA[i])
		}
	}
}
