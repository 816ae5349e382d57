// Package chunk loads, builds and saves batches of persons.
package chunk

import (
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cdm-builder/internal/builder"
	"github.com/sells-group/cdm-builder/internal/model"
)

// Data is the emission sink for one chunk. Record sets are kept in emission
// order.
type Data struct {
	ChunkID int64

	mu    sync.RWMutex
	order []int64
	sets  map[int64]*model.RecordSet
}

var _ builder.Sink = (*Data)(nil)

// NewData returns an empty sink for chunkID.
func NewData(chunkID int64) *Data {
	return &Data{ChunkID: chunkID, sets: make(map[int64]*model.RecordSet)}
}

// Emit implements builder.Sink.
func (d *Data) Emit(rs *model.RecordSet) error {
	if rs == nil {
		return eris.New("chunk: emit nil record set")
	}
	id := rs.Person.PersonID
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sets[id]; ok {
		return eris.Errorf("chunk: person %d emitted twice", id)
	}
	d.sets[id] = rs
	d.order = append(d.order, id)
	return nil
}

// Emitted implements builder.Sink.
func (d *Data) Emitted(personID int64) (*model.RecordSet, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rs, ok := d.sets[personID]
	return rs, ok
}

// AppendEpisodes implements builder.Sink.
func (d *Data) AppendEpisodes(personID int64, episodes []model.Episode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rs, ok := d.sets[personID]
	if !ok {
		return eris.Errorf("chunk: append episodes: person %d not emitted", personID)
	}
	rs.Episodes = append(rs.Episodes, episodes...)
	return nil
}

// Len returns the number of emitted persons.
func (d *Data) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}

// RecordSets returns the emitted record sets in emission order.
func (d *Data) RecordSets() []*model.RecordSet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*model.RecordSet, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.sets[id])
	}
	return out
}

// EpisodeCount returns the number of derived episodes across all persons.
func (d *Data) EpisodeCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var n int
	for _, rs := range d.sets {
		n += len(rs.Episodes)
	}
	return n
}
