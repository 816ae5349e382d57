package chunk

import (
	"github.com/jackc/pgx/v5"

	"github.com/sells-group/cdm-builder/internal/model"
)

// rawTable describes how one raw input table is selected and scanned into a
// Batch. Nullable scalar columns are coalesced so they scan into plain fields.
type rawTable struct {
	name    string
	columns []string
	scan    func(rows pgx.Rows, b *Batch) error
}

func num(c string) string { return "COALESCE(t." + c + ", 0)" }
func str(c string) string { return "COALESCE(t." + c + ", '')" }
func col(c string) string { return "t." + c }

func rawTables() []rawTable {
	tables := []rawTable{
		{
			name: "person",
			columns: []string{
				col("person_id"), num("gender_concept_id"), col("year_of_birth"), col("month_of_birth"), col("day_of_birth"),
				num("race_concept_id"), num("ethnicity_concept_id"), num("location_id"), num("provider_id"), num("care_site_id"),
				str("person_source_value"), str("gender_source_value"), str("race_source_value"), str("ethnicity_source_value"),
				col("start_date"),
			},
			scan: func(rows pgx.Rows, b *Batch) error {
				var p model.Person
				if err := rows.Scan(&p.PersonID, &p.GenderConceptID, &p.YearOfBirth, &p.MonthOfBirth, &p.DayOfBirth,
					&p.RaceConceptID, &p.EthnicityConceptID, &p.LocationID, &p.ProviderID, &p.CareSiteID,
					&p.SourceValue, &p.GenderSourceValue, &p.RaceSourceValue, &p.EthnicitySourceValue,
					&p.StartDate); err != nil {
					return err
				}
				d := b.person(p.PersonID)
				d.Persons = append(d.Persons, p)
				return nil
			},
		},
		{
			name: "observation_period",
			columns: []string{
				num("observation_period_id"), col("person_id"), col("observation_period_start_date"),
				col("observation_period_end_date"), num("period_type_concept_id"),
			},
			scan: func(rows pgx.Rows, b *Batch) error {
				var op model.ObservationPeriod
				if err := rows.Scan(&op.ID, &op.PersonID, &op.StartDate, &op.EndDate, &op.TypeConceptID); err != nil {
					return err
				}
				d := b.person(op.PersonID)
				d.ObservationPeriods = append(d.ObservationPeriods, op)
				return nil
			},
		},
		{
			name: "visit_occurrence",
			columns: []string{
				col("visit_occurrence_id"), col("person_id"), num("visit_concept_id"), col("visit_start_date"), col("visit_end_date"),
				num("visit_type_concept_id"), num("provider_id"), num("care_site_id"), str("visit_source_value"), num("visit_source_concept_id"),
			},
			scan: func(rows pgx.Rows, b *Batch) error {
				var v model.VisitOccurrence
				if err := rows.Scan(&v.ID, &v.PersonID, &v.ConceptID, &v.StartDate, &v.EndDate,
					&v.TypeConceptID, &v.ProviderID, &v.CareSiteID, &v.SourceValue, &v.SourceConceptID); err != nil {
					return err
				}
				d := b.person(v.PersonID)
				d.VisitOccurrences = append(d.VisitOccurrences, v)
				return nil
			},
		},
		{
			name: "visit_detail",
			columns: []string{
				col("visit_detail_id"), col("person_id"), num("visit_detail_concept_id"), col("visit_detail_start_date"),
				col("visit_detail_end_date"), num("visit_detail_type_concept_id"), num("visit_occurrence_id"), num("provider_id"),
				num("care_site_id"), str("visit_detail_source_value"), num("visit_detail_source_concept_id"),
			},
			scan: func(rows pgx.Rows, b *Batch) error {
				var v model.VisitDetail
				if err := rows.Scan(&v.ID, &v.PersonID, &v.ConceptID, &v.StartDate, &v.EndDate, &v.TypeConceptID,
					&v.VisitOccurrenceID, &v.ProviderID, &v.CareSiteID, &v.SourceValue, &v.SourceConceptID); err != nil {
					return err
				}
				d := b.person(v.PersonID)
				d.VisitDetails = append(d.VisitDetails, v)
				return nil
			},
		},
		{
			name: "payer_plan_period",
			columns: []string{
				col("payer_plan_period_id"), col("person_id"), col("payer_plan_period_start_date"),
				col("payer_plan_period_end_date"), str("payer_source_value"), str("plan_source_value"),
			},
			scan: func(rows pgx.Rows, b *Batch) error {
				var p model.PayerPlanPeriod
				if err := rows.Scan(&p.ID, &p.PersonID, &p.StartDate, &p.EndDate, &p.PayerSourceValue, &p.PlanSourceValue); err != nil {
					return err
				}
				d := b.person(p.PersonID)
				d.PayerPlanPeriods = append(d.PayerPlanPeriods, p)
				return nil
			},
		},
		{
			name: "death",
			columns: []string{
				col("person_id"), col("death_date"), num("death_type_concept_id"), num("cause_concept_id"),
				str("cause_source_value"), num("cause_source_concept_id"),
			},
			scan: func(rows pgx.Rows, b *Batch) error {
				var dt model.Death
				if err := rows.Scan(&dt.PersonID, &dt.StartDate, &dt.TypeConceptID, &dt.CauseConceptID,
					&dt.CauseSourceValue, &dt.CauseSourceConceptID); err != nil {
					return err
				}
				d := b.person(dt.PersonID)
				d.Deaths = append(d.Deaths, dt)
				return nil
			},
		},
	}
	for _, kind := range model.EventKinds {
		tables = append(tables, eventTable(kind))
	}
	return tables
}

// eventTable selects the shared Event shape from a clinical event table.
// Value columns the table lacks are selected as NULL.
func eventTable(kind model.EventKind) rawTable {
	c := kind.Columns()
	orNull := func(name string, wrap func(string) string) string {
		if name == "" {
			return "NULL"
		}
		return wrap(name)
	}
	return rawTable{
		name: kind.String(),
		columns: []string{
			col(c.ID), col("person_id"), num(c.ConceptID), num(c.SourceConceptID), str(c.SourceValue),
			col(c.StartDate), orNull(c.EndDate, col), num(c.TypeConceptID),
			col("visit_occurrence_id"), col("visit_detail_id"), num("provider_id"),
			orNull(c.Quantity, col), orNull(c.ValueAsNumber, col), orNull(c.ValueAsString, str), orNull(c.UnitConceptID, num),
		},
		scan: func(rows pgx.Rows, b *Batch) error {
			e := model.Event{Kind: kind}
			var valueAsString *string
			var unit *int64
			if err := rows.Scan(&e.ID, &e.PersonID, &e.ConceptID, &e.SourceConceptID, &e.SourceValue,
				&e.StartDate, &e.EndDate, &e.TypeConceptID,
				&e.VisitOccurrenceID, &e.VisitDetailID, &e.ProviderID,
				&e.Quantity, &e.ValueAsNumber, &valueAsString, &unit); err != nil {
				return err
			}
			if valueAsString != nil {
				e.ValueAsString = *valueAsString
			}
			if unit != nil {
				e.UnitConceptID = *unit
			}
			d := b.person(e.PersonID)
			switch kind {
			case model.DrugExposure:
				d.DrugExposures = append(d.DrugExposures, e)
			case model.ConditionOccurrence:
				d.ConditionOccurrences = append(d.ConditionOccurrences, e)
			case model.ProcedureOccurrence:
				d.ProcedureOccurrences = append(d.ProcedureOccurrences, e)
			case model.Observation:
				d.Observations = append(d.Observations, e)
			case model.Measurement:
				d.Measurements = append(d.Measurements, e)
			case model.DeviceExposure:
				d.DeviceExposures = append(d.DeviceExposures, e)
			}
			return nil
		},
	}
}
