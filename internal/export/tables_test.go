package export

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cdm-builder/internal/model"
	"github.com/sells-group/cdm-builder/internal/offset"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func newManager(t *testing.T, remap bool, persons ...int64) *offset.Manager {
	t.Helper()
	m, err := offset.NewManager(2, offset.Layout{PersonsPerChunk: 10, KeysPerPerson: 100}, remap)
	require.NoError(t, err)
	require.NoError(t, m.Register(persons))
	return m
}

func sampleSet() *model.RecordSet {
	return &model.RecordSet{
		Person: model.Person{
			PersonID:        1,
			GenderConceptID: 8507,
			YearOfBirth:     1970,
			SourceValue:     "P1",
		},
		Death: &model.Death{PersonID: 1, StartDate: day(2023, 1, 2), TypeConceptID: 32817},
		ObservationPeriods: []model.ObservationPeriod{
			{ID: 5, PersonID: 1, StartDate: day(2020, 1, 1), EndDate: ptr(day(2022, 12, 31)), TypeConceptID: 44814722},
		},
		VisitOccurrences: []model.VisitOccurrence{
			{ID: 10, PersonID: 1, ConceptID: 9202, StartDate: day(2021, 3, 1), CareSiteID: 4},
		},
		VisitDetails: []model.VisitDetail{
			{ID: 20, PersonID: 1, ConceptID: 9202, StartDate: day(2021, 3, 1), VisitOccurrenceID: 10},
		},
		ConditionOccurrences: []model.Event{
			{Kind: model.ConditionOccurrence, ID: 30, PersonID: 1, ConceptID: 201826, StartDate: day(2021, 3, 1), VisitOccurrenceID: ptr(int64(10))},
		},
		Measurements: []model.Event{
			{Kind: model.Measurement, ID: 40, PersonID: 1, ConceptID: 3004410, StartDate: day(2021, 3, 1), ValueAsNumber: ptr(6.1), UnitConceptID: 8554},
		},
		Episodes: []model.Episode{
			{ID: 50, PersonID: 1, ConceptID: 433260, StartDate: day(2021, 1, 1), EndDate: day(2021, 9, 1), OccurrenceCount: 3},
		},
	}
}

func column(t *testing.T, table Table, row []any, name string) any {
	t.Helper()
	require.Len(t, row, len(table.Columns))
	for i, c := range table.Columns {
		if c == name {
			return row[i]
		}
	}
	t.Fatalf("column %s not in %s", name, table.Name)
	return nil
}

func TestTables_Layout(t *testing.T) {
	tables := Tables()
	require.Len(t, tables, 13)
	assert.Equal(t, "person", tables[0].Name)
	assert.Equal(t, "condition_era", tables[len(tables)-1].Name)

	seen := map[string]bool{}
	for _, tbl := range tables {
		assert.False(t, seen[tbl.Name], "duplicate table %s", tbl.Name)
		seen[tbl.Name] = true
		require.Len(t, tbl.Key, 1, tbl.Name)
		assert.Contains(t, tbl.Columns, tbl.Key[0], tbl.Name)
	}
}

func TestEventTable_Columns(t *testing.T) {
	obs := eventTable(model.Observation)
	assert.Equal(t, "observation", obs.Name)
	assert.Equal(t, []string{"observation_id"}, obs.Key)
	assert.Contains(t, obs.Columns, "value_as_string")
	assert.NotContains(t, obs.Columns, "quantity")

	drug := eventTable(model.DrugExposure)
	assert.Contains(t, drug.Columns, "drug_exposure_end_date")
	assert.Contains(t, drug.Columns, "quantity")
	assert.NotContains(t, drug.Columns, "value_as_number")
}

func TestCollect_KeepsSourceVisitIDs(t *testing.T) {
	m := newManager(t, false, 1)

	rows, err := Collect([]*model.RecordSet{sampleSet()}, m)
	require.NoError(t, err)

	assert.Len(t, rows["person"], 1)
	assert.Len(t, rows["death"], 1)
	assert.Len(t, rows["observation_period"], 1)
	assert.Len(t, rows["condition_era"], 1)
	assert.Equal(t, 8, rows.Count())

	visit := rows["visit_occurrence"][0]
	assert.Equal(t, int64(10), column(t, visitOccurrenceTable, visit, "visit_occurrence_id"))
	assert.Nil(t, column(t, visitOccurrenceTable, visit, "provider_id"))
	assert.Equal(t, int64(4), column(t, visitOccurrenceTable, visit, "care_site_id"))

	cond := rows["condition_occurrence"][0]
	assert.Equal(t, ptr(int64(10)), column(t, eventTable(model.ConditionOccurrence), cond, "visit_occurrence_id"))
}

func TestCollect_RemapsVisitIDs(t *testing.T) {
	m := newManager(t, true, 1)

	rows, err := Collect([]*model.RecordSet{sampleSet()}, m)
	require.NoError(t, err)

	remapped, err := m.GetID(1, 10)
	require.NoError(t, err)
	assert.NotEqual(t, int64(10), remapped)

	visit := rows["visit_occurrence"][0]
	assert.Equal(t, remapped, column(t, visitOccurrenceTable, visit, "visit_occurrence_id"))

	detail := rows["visit_detail"][0]
	assert.Equal(t, int64(20), column(t, visitDetailTable, detail, "visit_detail_id"))
	assert.Equal(t, remapped, column(t, visitDetailTable, detail, "visit_occurrence_id"))

	cond := rows["condition_occurrence"][0]
	assert.Equal(t, &remapped, column(t, eventTable(model.ConditionOccurrence), cond, "visit_occurrence_id"))
}

func TestCollect_RemapSkipsDetailsWithoutEmittedParent(t *testing.T) {
	m := newManager(t, true, 1)
	rs := sampleSet()
	rs.VisitDetails = append(rs.VisitDetails,
		model.VisitDetail{ID: 21, PersonID: 1, StartDate: day(2021, 4, 1), VisitOccurrenceID: 11},
		model.VisitDetail{ID: 22, PersonID: 1, StartDate: day(2021, 4, 2)},
	)

	rows, err := Collect([]*model.RecordSet{rs}, m)
	require.NoError(t, err)
	require.Len(t, rows["visit_detail"], 3)

	remapped, err := m.GetID(1, 10)
	require.NoError(t, err)
	assert.Equal(t, remapped, column(t, visitDetailTable, rows["visit_detail"][0], "visit_occurrence_id"))
	assert.Equal(t, int64(11), column(t, visitDetailTable, rows["visit_detail"][1], "visit_occurrence_id"))
	assert.Equal(t, int64(0), column(t, visitDetailTable, rows["visit_detail"][2], "visit_occurrence_id"))

	// Only the emitted visit consumed a key.
	key, err := m.GetKeyOffset(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), key.Issued(offset.VisitOccurrence))
}

func TestCollect_NullsUnsetColumns(t *testing.T) {
	rows, err := Collect([]*model.RecordSet{sampleSet()}, nil)
	require.NoError(t, err)

	meas := rows["measurement"][0]
	tbl := eventTable(model.Measurement)
	assert.Nil(t, column(t, tbl, meas, "provider_id"))
	assert.Equal(t, int64(8554), column(t, tbl, meas, "unit_concept_id"))
	assert.Equal(t, ptr(6.1), column(t, tbl, meas, "value_as_number"))
	assert.Nil(t, column(t, tbl, meas, "measurement_source_value"))

	person := rows["person"][0]
	assert.Equal(t, "P1", column(t, personTable, person, "person_source_value"))
	assert.Nil(t, column(t, personTable, person, "location_id"))
}

func TestCollect_UnknownPerson(t *testing.T) {
	m := newManager(t, true, 99)

	_, err := Collect([]*model.RecordSet{sampleSet()}, m)
	require.Error(t, err)
	assert.True(t, eris.Is(err, offset.ErrUnknownPerson))
}
