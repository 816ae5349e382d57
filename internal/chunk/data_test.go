package chunk

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cdm-builder/internal/model"
)

func recordSet(personID int64) *model.RecordSet {
	return &model.RecordSet{Person: model.Person{PersonID: personID}}
}

func TestData_EmitOrder(t *testing.T) {
	d := NewData(3)
	for _, id := range []int64{30, 10, 20} {
		require.NoError(t, d.Emit(recordSet(id)))
	}

	assert.Equal(t, 3, d.Len())
	var ids []int64
	for _, rs := range d.RecordSets() {
		ids = append(ids, rs.Person.PersonID)
	}
	assert.Equal(t, []int64{30, 10, 20}, ids)
}

func TestData_EmitErrors(t *testing.T) {
	d := NewData(1)
	require.Error(t, d.Emit(nil))

	require.NoError(t, d.Emit(recordSet(1)))
	err := d.Emit(recordSet(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "emitted twice")
}

func TestData_EmittedAndEpisodes(t *testing.T) {
	d := NewData(1)
	_, ok := d.Emitted(5)
	assert.False(t, ok)

	err := d.AppendEpisodes(5, []model.Episode{{ID: 1}})
	require.Error(t, err)

	require.NoError(t, d.Emit(recordSet(5)))
	rs, ok := d.Emitted(5)
	require.True(t, ok)
	assert.Equal(t, int64(5), rs.Person.PersonID)

	require.NoError(t, d.AppendEpisodes(5, []model.Episode{{ID: 1}, {ID: 2}}))
	assert.Len(t, rs.Episodes, 2)
	assert.Equal(t, 2, d.EpisodeCount())
}

func TestData_ConcurrentEmit(t *testing.T) {
	d := NewData(1)
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.Emit(recordSet(int64(i))))
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, d.Len())
}
