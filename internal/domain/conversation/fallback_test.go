package conversation

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vantage/rwe/internal/domain/cohort"
	"github.com/vantage/rwe/internal/domain/concept"
)

type mockResolver struct {
	concepts map[string]*concept.Concept
}

func newMockResolver() *mockResolver {
	return &mockResolver{concepts: map[string]*concept.Concept{
		"diabetes mellitus":     {ConceptID: 201820, ConceptName: "Diabetes mellitus", DomainID: "Condition"},
		"hypertensive disorder": {ConceptID: 316866, ConceptName: "Hypertensive disorder", DomainID: "Condition"},
		"cerebral infarction":   {ConceptID: 443454, ConceptName: "Cerebral infarction", DomainID: "Condition"},
		"metformin":             {ConceptID: 1503297, ConceptName: "metformin", DomainID: "Drug"},
		"emergency room visit":  {ConceptID: 9203, ConceptName: "Emergency Room Visit", DomainID: "Visit"},
	}}
}

func (m *mockResolver) Search(_ context.Context, params concept.SearchParams) ([]*concept.Concept, error) {
	for name, c := range m.concepts {
		if strings.EqualFold(name, params.Query) {
			return []*concept.Concept{c}, nil
		}
	}
	return nil, nil
}

func TestMatcher_SingleTerm(t *testing.T) {
	m := NewMatcher(newMockResolver(), zerolog.Nop())

	def, matched := m.Match(context.Background(), "How many patients have diabetes?")
	if !matched {
		t.Fatal("expected a match")
	}
	if len(def.InclusionCriteria) != 1 {
		t.Fatalf("expected 1 criterion, got %d", len(def.InclusionCriteria))
	}
	cr := def.InclusionCriteria[0]
	if cr.Kind != cohort.KindCondition || cr.ConceptIDs[0] != 201820 {
		t.Errorf("unexpected criterion %+v", cr)
	}
}

func TestMatcher_MultipleTerms(t *testing.T) {
	m := NewMatcher(newMockResolver(), zerolog.Nop())

	def, matched := m.Match(context.Background(), "patients on metformin with hypertension after an er visit")
	if !matched {
		t.Fatal("expected matches")
	}
	if len(def.InclusionCriteria) != 3 {
		t.Fatalf("expected 3 criteria, got %d: %+v", len(def.InclusionCriteria), def.InclusionCriteria)
	}

	kinds := map[cohort.CriteriaKind]bool{}
	for _, cr := range def.InclusionCriteria {
		kinds[cr.Kind] = true
	}
	if !kinds[cohort.KindDrug] || !kinds[cohort.KindCondition] || !kinds[cohort.KindVisit] {
		t.Errorf("unexpected kinds %v", kinds)
	}
}

func TestMatcher_NoMatchFallsBackToPopulation(t *testing.T) {
	m := NewMatcher(newMockResolver(), zerolog.Nop())

	def, matched := m.Match(context.Background(), "what is the meaning of life")
	if matched {
		t.Fatal("expected no match")
	}
	// The definition must still compile and cover everyone.
	if len(def.InclusionCriteria) != 1 || def.InclusionCriteria[0].Kind != cohort.KindAge {
		t.Fatalf("expected the whole-population criterion, got %+v", def.InclusionCriteria)
	}
	if _, err := cohort.NewCompiler("s.omop").Compile(def); err != nil {
		t.Errorf("population definition must compile: %v", err)
	}
}

func TestMatcher_UnresolvedTermSkipped(t *testing.T) {
	// Resolver knows nothing about asthma, so the term is dropped.
	m := NewMatcher(newMockResolver(), zerolog.Nop())

	def, matched := m.Match(context.Background(), "patients with asthma and diabetes")
	if !matched {
		t.Fatal("expected a match on diabetes")
	}
	if len(def.InclusionCriteria) != 1 {
		t.Fatalf("expected only the resolvable term, got %+v", def.InclusionCriteria)
	}
}

func TestMatcher_Deterministic(t *testing.T) {
	m := NewMatcher(newMockResolver(), zerolog.Nop())
	query := "diabetes patients on metformin who had a stroke"

	first, _ := m.Match(context.Background(), query)
	second, _ := m.Match(context.Background(), query)
	if !reflect.DeepEqual(first, second) {
		t.Error("matching the same query twice produced different definitions")
	}
}
