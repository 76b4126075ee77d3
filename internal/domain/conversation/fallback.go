package conversation

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vantage/rwe/internal/domain/cohort"
	"github.com/vantage/rwe/internal/domain/concept"
)

// ConceptResolver is the slice of the concept service the matcher needs.
type ConceptResolver interface {
	Search(ctx context.Context, params concept.SearchParams) ([]*concept.Concept, error)
}

// lexiconEntry maps a query phrase to a concept search.
type lexiconEntry struct {
	phrase   string
	kind     cohort.CriteriaKind
	domainID string
	term     string
}

// Phrases are matched as substrings of the lowercased query. Multi-word
// phrases come first so "er visit" wins over "visit".
var lexicon = []lexiconEntry{
	{"type 2 diabetes", cohort.KindCondition, "Condition", "type 2 diabetes mellitus"},
	{"heart failure", cohort.KindCondition, "Condition", "heart failure"},
	{"atrial fibrillation", cohort.KindCondition, "Condition", "atrial fibrillation"},
	{"myocardial infarction", cohort.KindCondition, "Condition", "myocardial infarction"},
	{"heart attack", cohort.KindCondition, "Condition", "myocardial infarction"},
	{"chronic kidney disease", cohort.KindCondition, "Condition", "chronic kidney disease"},
	{"er visit", cohort.KindVisit, "Visit", "emergency room visit"},
	{"emergency", cohort.KindVisit, "Visit", "emergency room visit"},
	{"hospitalization", cohort.KindVisit, "Visit", "inpatient visit"},
	{"hospitalized", cohort.KindVisit, "Visit", "inpatient visit"},
	{"diabetes", cohort.KindCondition, "Condition", "diabetes mellitus"},
	{"hypertension", cohort.KindCondition, "Condition", "hypertensive disorder"},
	{"stroke", cohort.KindCondition, "Condition", "cerebral infarction"},
	{"asthma", cohort.KindCondition, "Condition", "asthma"},
	{"copd", cohort.KindCondition, "Condition", "chronic obstructive lung disease"},
	{"depression", cohort.KindCondition, "Condition", "depressive disorder"},
	{"cancer", cohort.KindCondition, "Condition", "malignant neoplastic disease"},
	{"obesity", cohort.KindCondition, "Condition", "obesity"},
	{"metformin", cohort.KindDrug, "Drug", "metformin"},
	{"insulin", cohort.KindDrug, "Drug", "insulin"},
	{"statin", cohort.KindDrug, "Drug", "simvastatin"},
	{"warfarin", cohort.KindDrug, "Drug", "warfarin"},
	{"aspirin", cohort.KindDrug, "Drug", "aspirin"},
	{"surgery", cohort.KindProcedure, "Procedure", "surgical procedure"},
}

// Matcher builds a best-effort cohort definition from query keywords when
// the AI service is unavailable. It never fails; a query with no recognized
// terms yields a whole-population definition.
type Matcher struct {
	resolver ConceptResolver
	logger   zerolog.Logger
}

// NewMatcher creates a fallback matcher.
func NewMatcher(resolver ConceptResolver, logger zerolog.Logger) *Matcher {
	return &Matcher{resolver: resolver, logger: logger}
}

// Match scans the query against the lexicon and resolves each hit into an
// inclusion criterion. The second return is false when nothing matched and
// the definition covers the whole population.
func (m *Matcher) Match(ctx context.Context, query string) (*cohort.Definition, bool) {
	lowered := strings.ToLower(query)

	def := &cohort.Definition{
		Name:        "nl-fallback",
		Description: query,
	}

	for _, entry := range lexicon {
		if !strings.Contains(lowered, entry.phrase) {
			continue
		}
		// Consume the phrase so "type 2 diabetes" does not also match the
		// bare "diabetes" entry.
		lowered = strings.ReplaceAll(lowered, entry.phrase, " ")

		concepts, err := m.resolver.Search(ctx, concept.SearchParams{
			Query:    entry.term,
			DomainID: entry.domainID,
			Limit:    1,
		})
		if err != nil || len(concepts) == 0 {
			m.logger.Debug().Str("term", entry.term).Err(err).Msg("fallback term did not resolve")
			continue
		}

		def.InclusionCriteria = append(def.InclusionCriteria, cohort.Criteria{
			ID:           "kw-" + strings.ReplaceAll(entry.phrase, " ", "-"),
			Kind:         entry.kind,
			ConceptIDs:   []int64{concepts[0].ConceptID},
			ConceptNames: []string{concepts[0].ConceptName},
		})
	}

	matched := len(def.InclusionCriteria) > 0
	if !matched {
		// Nothing recognized: fall back to the whole population so the
		// definition still compiles and counts.
		zero := 0.0
		def.InclusionCriteria = append(def.InclusionCriteria, cohort.Criteria{
			ID:       "kw-population",
			Kind:     cohort.KindAge,
			ValueMin: &zero,
		})
	}
	return def, matched
}
