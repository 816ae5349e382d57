package chunk

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cdm-builder/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func columnNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("c%d", i)
	}
	return names
}

func TestPostgresSource_Chunks(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT chunk_id FROM "raw".chunk_person ORDER BY chunk_id`)).
		WillReturnRows(pgxmock.NewRows([]string{"chunk_id"}).AddRow(int64(0)).AddRow(int64(1)))

	ids, err := NewPostgresSource(mock, "").Chunks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_ChunksError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`chunk_person`).WillReturnError(errors.New("relation does not exist"))

	_, err = NewPostgresSource(mock, "").Chunks(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list chunks")
}

func TestPostgresSource_Load(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT person_id FROM "src".chunk_person WHERE chunk_id = $1`)).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"person_id"}).AddRow(int64(1)).AddRow(int64(2)))

	populated := map[string]*pgxmock.Rows{
		"person": pgxmock.NewRows(columnNames(15)).
			AddRow(int64(1), int64(8507), 1970, (*int)(nil), (*int)(nil),
				int64(0), int64(0), int64(0), int64(0), int64(0),
				"P1", "M", "", "", day(2010, 1, 1)),
		"observation_period": pgxmock.NewRows(columnNames(5)).
			AddRow(int64(0), int64(1), day(2010, 1, 1), ptr(day(2020, 1, 1)), int64(44814722)),
		"condition_occurrence": pgxmock.NewRows(columnNames(15)).
			AddRow(int64(77), int64(2), int64(0), int64(44820000), "250.00",
				day(2015, 3, 1), (*time.Time)(nil), int64(32817),
				ptr(int64(9)), (*int64)(nil), int64(0),
				(*float64)(nil), (*float64)(nil), (*string)(nil), (*int64)(nil)),
		"measurement": pgxmock.NewRows(columnNames(15)).
			AddRow(int64(88), int64(1), int64(3004410), int64(0), "HBA1C",
				day(2016, 4, 1), (*time.Time)(nil), int64(32817),
				(*int64)(nil), (*int64)(nil), int64(0),
				(*float64)(nil), ptr(6.5), (*string)(nil), ptr(int64(8554))),
	}

	for _, tbl := range rawTables() {
		rows, ok := populated[tbl.name]
		if !ok {
			rows = pgxmock.NewRows([]string{"x"})
		}
		mock.ExpectQuery(regexp.QuoteMeta(`FROM "src".`+tbl.name+` t JOIN "src".chunk_person c`)).
			WithArgs(int64(5)).
			WillReturnRows(rows)
	}

	batch, err := NewPostgresSource(mock, "src").Load(context.Background(), 5)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, int64(5), batch.ChunkID)
	assert.Equal(t, []int64{1, 2}, batch.PersonIDs)

	p1 := batch.Persons[1]
	require.Len(t, p1.Persons, 1)
	assert.Equal(t, 1970, p1.Persons[0].YearOfBirth)
	assert.Equal(t, "P1", p1.Persons[0].SourceValue)
	require.Len(t, p1.ObservationPeriods, 1)
	assert.Equal(t, day(2020, 1, 1), *p1.ObservationPeriods[0].EndDate)
	require.Len(t, p1.Measurements, 1)
	assert.Equal(t, model.Measurement, p1.Measurements[0].Kind)
	assert.Equal(t, 6.5, *p1.Measurements[0].ValueAsNumber)
	assert.Equal(t, int64(8554), p1.Measurements[0].UnitConceptID)

	p2 := batch.Persons[2]
	assert.Empty(t, p2.Persons)
	require.Len(t, p2.ConditionOccurrences, 1)
	cond := p2.ConditionOccurrences[0]
	assert.Equal(t, model.ConditionOccurrence, cond.Kind)
	assert.Equal(t, "250.00", cond.SourceValue)
	assert.Equal(t, int64(9), *cond.VisitOccurrenceID)
	assert.Nil(t, cond.VisitDetailID)
	assert.Empty(t, cond.ValueAsString)
}

func TestPostgresSource_LoadQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT person_id FROM`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"person_id"}).AddRow(int64(1)))
	mock.ExpectQuery(`"raw".person t`).
		WithArgs(int64(5)).
		WillReturnError(errors.New("permission denied"))

	_, err = NewPostgresSource(mock, "").Load(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query raw person")
}

func TestRawTables_EventColumns(t *testing.T) {
	for _, kind := range model.EventKinds {
		tbl := eventTable(kind)
		assert.Equal(t, kind.String(), tbl.name)
		assert.Len(t, tbl.columns, 15, kind.String())
	}
	obs := eventTable(model.Observation)
	assert.Contains(t, obs.columns, "COALESCE(t.value_as_string, '')")
	cond := eventTable(model.ConditionOccurrence)
	assert.Contains(t, cond.columns, "NULL")
}

func TestBatch_PersonOutsideRoster(t *testing.T) {
	b := NewBatch(1, []int64{1})
	d := b.person(9)
	require.NotNil(t, d)
	assert.Equal(t, []int64{1, 9}, b.PersonIDs)
	assert.Same(t, d, b.person(9))
}
