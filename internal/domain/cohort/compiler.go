package cohort

import (
	"fmt"
	"strconv"
	"strings"
)

// Compiler turns cohort definitions into a single SQL statement. Compilation
// is pure; the same definition always yields the same SQL.
//
// The emitted statement builds one CTE per criterion plus a base_population
// CTE, then combines them with set algebra: inclusions are intersected,
// exclusions are each subtracted independently.
type Compiler struct {
	schema string
}

// NewCompiler builds a compiler targeting OMOP tables in the given schema.
func NewCompiler(schema string) *Compiler {
	return &Compiler{schema: schema}
}

// event table layout per criteria kind
var eventTables = map[CriteriaKind]struct {
	table      string
	conceptCol string
	dateCol    string
}{
	KindCondition:   {"condition_occurrence", "condition_concept_id", "condition_start_date"},
	KindDrug:        {"drug_exposure", "drug_concept_id", "drug_exposure_start_date"},
	KindProcedure:   {"procedure_occurrence", "procedure_concept_id", "procedure_date"},
	KindVisit:       {"visit_occurrence", "visit_concept_id", "visit_start_date"},
	KindObservation: {"observation", "observation_concept_id", "observation_date"},
}

// Compile validates the definition and emits its SQL.
func (c *Compiler) Compile(def *Definition) (string, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("WITH base_population AS (\n")
	fmt.Fprintf(&b, "    SELECT DISTINCT person_id\n    FROM %s.person\n)", c.schema)

	n := 0
	for i := range def.InclusionCriteria {
		n++
		fmt.Fprintf(&b, ",\ninclusion_%d AS (\n%s\n)", n, c.criterionSQL(&def.InclusionCriteria[i]))
	}
	for i := range def.ExclusionCriteria {
		n++
		fmt.Fprintf(&b, ",\nexclusion_%d AS (\n%s\n)", n, c.criterionSQL(&def.ExclusionCriteria[i]))
	}

	b.WriteString("\nSELECT person_id FROM base_population")
	for i := 1; i <= len(def.InclusionCriteria); i++ {
		fmt.Fprintf(&b, "\nINTERSECT\nSELECT person_id FROM inclusion_%d", i)
	}
	for i := len(def.InclusionCriteria) + 1; i <= n; i++ {
		fmt.Fprintf(&b, "\nEXCEPT\nSELECT person_id FROM exclusion_%d", i)
	}
	return b.String(), nil
}

func (c *Compiler) criterionSQL(cr *Criteria) string {
	switch cr.Kind {
	case KindAge:
		return c.ageSQL(cr)
	case KindGender:
		return c.genderSQL(cr)
	default:
		return c.eventSQL(cr)
	}
}

// eventSQL matches patients with events whose concept is the criterion's
// concept or any of its descendants.
func (c *Compiler) eventSQL(cr *Criteria) string {
	ev := eventTables[cr.Kind]

	var b strings.Builder
	fmt.Fprintf(&b, "    SELECT person_id\n    FROM %s.%s\n", c.schema, ev.table)
	fmt.Fprintf(&b, "    WHERE %s IN (\n", ev.conceptCol)
	fmt.Fprintf(&b, "        SELECT descendant_concept_id\n        FROM %s.concept_ancestor\n", c.schema)
	fmt.Fprintf(&b, "        WHERE ancestor_concept_id IN (%s)\n    )", joinIDs(cr.ConceptIDs))

	if cr.StartDate != nil {
		fmt.Fprintf(&b, "\n    AND %s >= '%s'", ev.dateCol, *cr.StartDate)
	}
	if cr.EndDate != nil {
		fmt.Fprintf(&b, "\n    AND %s <= '%s'", ev.dateCol, *cr.EndDate)
	}
	if cr.Kind == KindObservation {
		if cr.ValueMin != nil {
			fmt.Fprintf(&b, "\n    AND value_as_number >= %s", formatFloat(*cr.ValueMin))
		}
		if cr.ValueMax != nil {
			fmt.Fprintf(&b, "\n    AND value_as_number <= %s", formatFloat(*cr.ValueMax))
		}
	}

	sql := b.String()
	if cr.MinOccurrences > 1 {
		sql = fmt.Sprintf("    SELECT person_id\n    FROM (\n%s\n    ) t\n    GROUP BY person_id\n    HAVING COUNT(*) >= %d",
			sql, cr.MinOccurrences)
	}
	return sql
}

func (c *Compiler) ageSQL(cr *Criteria) string {
	// Age today, from the person table's split birth date. Missing month or
	// day defaults to January 1st.
	expr := "FLOOR((CURRENT_DATE - MAKE_DATE(year_of_birth, COALESCE(month_of_birth, 1), COALESCE(day_of_birth, 1))) / 365.25)"

	var b strings.Builder
	fmt.Fprintf(&b, "    SELECT person_id\n    FROM %s.person\n    WHERE ", c.schema)
	switch {
	case cr.ValueMin != nil && cr.ValueMax != nil:
		fmt.Fprintf(&b, "%s BETWEEN %s AND %s", expr, formatFloat(*cr.ValueMin), formatFloat(*cr.ValueMax))
	case cr.ValueMin != nil:
		fmt.Fprintf(&b, "%s >= %s", expr, formatFloat(*cr.ValueMin))
	default:
		fmt.Fprintf(&b, "%s <= %s", expr, formatFloat(*cr.ValueMax))
	}
	return b.String()
}

func (c *Compiler) genderSQL(cr *Criteria) string {
	return fmt.Sprintf("    SELECT person_id\n    FROM %s.person\n    WHERE gender_concept_id IN (%s)",
		c.schema, joinIDs(cr.ConceptIDs))
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
