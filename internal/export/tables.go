// Package export turns emitted record sets into CDM table rows and writes
// them to Postgres.
package export

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/cdm-builder/internal/model"
	"github.com/sells-group/cdm-builder/internal/offset"
)

// VisitIDs resolves chunk-global visit occurrence ids. *offset.Manager
// satisfies it.
type VisitIDs interface {
	GetKeyOffset(personID int64) (*offset.KeyOffset, error)
	GetID(personID, originalID int64) (int64, error)
}

// Table describes one CDM output table.
type Table struct {
	Name    string
	Columns []string
	Key     []string
}

var (
	personTable = Table{
		Name: "person",
		Columns: []string{
			"person_id", "gender_concept_id", "year_of_birth", "month_of_birth", "day_of_birth",
			"race_concept_id", "ethnicity_concept_id", "location_id", "provider_id", "care_site_id",
			"person_source_value", "gender_source_value", "race_source_value", "ethnicity_source_value",
		},
		Key: []string{"person_id"},
	}
	deathTable = Table{
		Name: "death",
		Columns: []string{
			"person_id", "death_date", "death_type_concept_id",
			"cause_concept_id", "cause_source_value", "cause_source_concept_id",
		},
		Key: []string{"person_id"},
	}
	observationPeriodTable = Table{
		Name: "observation_period",
		Columns: []string{
			"observation_period_id", "person_id", "observation_period_start_date",
			"observation_period_end_date", "period_type_concept_id",
		},
		Key: []string{"observation_period_id"},
	}
	payerPlanPeriodTable = Table{
		Name: "payer_plan_period",
		Columns: []string{
			"payer_plan_period_id", "person_id", "payer_plan_period_start_date",
			"payer_plan_period_end_date", "payer_source_value", "plan_source_value",
		},
		Key: []string{"payer_plan_period_id"},
	}
	visitOccurrenceTable = Table{
		Name: "visit_occurrence",
		Columns: []string{
			"visit_occurrence_id", "person_id", "visit_concept_id", "visit_start_date", "visit_end_date",
			"visit_type_concept_id", "provider_id", "care_site_id", "visit_source_value", "visit_source_concept_id",
		},
		Key: []string{"visit_occurrence_id"},
	}
	visitDetailTable = Table{
		Name: "visit_detail",
		Columns: []string{
			"visit_detail_id", "person_id", "visit_detail_concept_id", "visit_detail_start_date",
			"visit_detail_end_date", "visit_detail_type_concept_id", "visit_occurrence_id",
			"provider_id", "care_site_id", "visit_detail_source_value", "visit_detail_source_concept_id",
		},
		Key: []string{"visit_detail_id"},
	}
	conditionEraTable = Table{
		Name: "condition_era",
		Columns: []string{
			"condition_era_id", "person_id", "condition_concept_id",
			"condition_era_start_date", "condition_era_end_date", "condition_occurrence_count",
		},
		Key: []string{"condition_era_id"},
	}
)

// eventTable derives the table layout of an event kind from its column names.
func eventTable(kind model.EventKind) Table {
	c := kind.Columns()
	cols := []string{c.ID, "person_id", c.ConceptID, c.StartDate}
	for _, name := range []string{c.EndDate, c.TypeConceptID, c.Quantity, c.ValueAsNumber, c.ValueAsString, c.UnitConceptID} {
		if name != "" {
			cols = append(cols, name)
		}
	}
	cols = append(cols, "provider_id", "visit_occurrence_id", "visit_detail_id", c.SourceValue, c.SourceConceptID)
	return Table{Name: kind.String(), Columns: cols, Key: []string{c.ID}}
}

// Tables lists every output table in write order.
func Tables() []Table {
	tables := []Table{
		personTable,
		deathTable,
		observationPeriodTable,
		payerPlanPeriodTable,
		visitOccurrenceTable,
		visitDetailTable,
	}
	for _, kind := range model.EventKinds {
		tables = append(tables, eventTable(kind))
	}
	return append(tables, conditionEraTable)
}

// Rows holds the rows collected for each table, keyed by table name.
type Rows map[string][][]any

// Count returns the total number of rows across tables.
func (r Rows) Count() int {
	var n int
	for _, rows := range r {
		n += len(rows)
	}
	return n
}

// Collect converts record sets into table rows, rewriting visit ids for
// persons whose visits moved into the chunk-global namespace.
func Collect(sets []*model.RecordSet, ids VisitIDs) (Rows, error) {
	out := make(Rows)
	for _, rs := range sets {
		if err := collectPerson(out, rs, ids); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func collectPerson(out Rows, rs *model.RecordSet, ids VisitIDs) error {
	personID := rs.Person.PersonID
	visit, err := visitMapper(personID, ids)
	if err != nil {
		return err
	}

	out[personTable.Name] = append(out[personTable.Name], personRow(rs.Person))
	if rs.Death != nil {
		out[deathTable.Name] = append(out[deathTable.Name], deathRow(*rs.Death))
	}
	for _, op := range rs.ObservationPeriods {
		out[observationPeriodTable.Name] = append(out[observationPeriodTable.Name], []any{
			op.ID, personID, op.StartDate, op.EndDate, op.TypeConceptID,
		})
	}
	for _, pp := range rs.PayerPlanPeriods {
		out[payerPlanPeriodTable.Name] = append(out[payerPlanPeriodTable.Name], []any{
			pp.ID, personID, pp.StartDate, pp.EndDate,
			nullString(pp.PayerSourceValue), nullString(pp.PlanSourceValue),
		})
	}
	emitted := make(map[int64]struct{}, len(rs.VisitOccurrences))
	for _, v := range rs.VisitOccurrences {
		emitted[v.ID] = struct{}{}
		id, err := visit(v.ID)
		if err != nil {
			return err
		}
		out[visitOccurrenceTable.Name] = append(out[visitOccurrenceTable.Name], []any{
			id, personID, v.ConceptID, v.StartDate, v.EndDate, v.TypeConceptID,
			nullID(v.ProviderID), nullID(v.CareSiteID), nullString(v.SourceValue), v.SourceConceptID,
		})
	}
	for _, d := range rs.VisitDetails {
		// Only parents emitted for this person have a remapped id.
		vid := d.VisitOccurrenceID
		if _, ok := emitted[vid]; ok {
			if vid, err = visit(vid); err != nil {
				return err
			}
		}
		out[visitDetailTable.Name] = append(out[visitDetailTable.Name], []any{
			d.ID, personID, d.ConceptID, d.StartDate, d.EndDate, d.TypeConceptID, vid,
			nullID(d.ProviderID), nullID(d.CareSiteID), nullString(d.SourceValue), d.SourceConceptID,
		})
	}
	for _, kind := range model.EventKinds {
		name := kind.String()
		for _, e := range rs.Events(kind) {
			row, err := eventRow(kind, e, visit)
			if err != nil {
				return err
			}
			out[name] = append(out[name], row)
		}
	}
	for _, ep := range rs.Episodes {
		out[conditionEraTable.Name] = append(out[conditionEraTable.Name], []any{
			ep.ID, personID, ep.ConceptID, ep.StartDate, ep.EndDate, ep.OccurrenceCount,
		})
	}
	return nil
}

// visitMapper returns the visit id rewrite for personID; the identity when
// the person's visits keep their source ids.
func visitMapper(personID int64, ids VisitIDs) (func(int64) (int64, error), error) {
	identity := func(id int64) (int64, error) { return id, nil }
	if ids == nil {
		return identity, nil
	}
	key, err := ids.GetKeyOffset(personID)
	if err != nil {
		return nil, eris.Wrapf(err, "export: person %d", personID)
	}
	if !key.VisitOccurrenceIDChanged {
		return identity, nil
	}
	return func(id int64) (int64, error) {
		mapped, err := ids.GetID(personID, id)
		if err != nil {
			return 0, eris.Wrapf(err, "export: remap visit %d of person %d", id, personID)
		}
		return mapped, nil
	}, nil
}

func personRow(p model.Person) []any {
	return []any{
		p.PersonID, p.GenderConceptID, p.YearOfBirth, p.MonthOfBirth, p.DayOfBirth,
		p.RaceConceptID, p.EthnicityConceptID, nullID(p.LocationID), nullID(p.ProviderID), nullID(p.CareSiteID),
		nullString(p.SourceValue), nullString(p.GenderSourceValue), nullString(p.RaceSourceValue), nullString(p.EthnicitySourceValue),
	}
}

func deathRow(d model.Death) []any {
	return []any{
		d.PersonID, d.StartDate, d.TypeConceptID,
		d.CauseConceptID, nullString(d.CauseSourceValue), d.CauseSourceConceptID,
	}
}

func eventRow(kind model.EventKind, e model.Event, visit func(int64) (int64, error)) ([]any, error) {
	c := kind.Columns()
	row := []any{e.ID, e.PersonID, e.ConceptID, e.StartDate}
	if c.EndDate != "" {
		row = append(row, e.EndDate)
	}
	row = append(row, e.TypeConceptID)
	if c.Quantity != "" {
		row = append(row, e.Quantity)
	}
	if c.ValueAsNumber != "" {
		row = append(row, e.ValueAsNumber)
	}
	if c.ValueAsString != "" {
		row = append(row, nullString(e.ValueAsString))
	}
	if c.UnitConceptID != "" {
		row = append(row, nullID(e.UnitConceptID))
	}

	var visitID *int64
	if e.VisitOccurrenceID != nil {
		id, err := visit(*e.VisitOccurrenceID)
		if err != nil {
			return nil, err
		}
		visitID = &id
	}
	return append(row,
		nullID(e.ProviderID), visitID, e.VisitDetailID, nullString(e.SourceValue), e.SourceConceptID,
	), nil
}

// nullID writes unset foreign keys as NULL.
func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
