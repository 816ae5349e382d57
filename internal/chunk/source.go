package chunk

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cdm-builder/internal/db"
	"github.com/sells-group/cdm-builder/internal/model"
)

// Batch is the raw input of one chunk, grouped by person.
type Batch struct {
	ChunkID   int64
	PersonIDs []int64 // ascending
	Persons   map[int64]*model.PersonData
}

// NewBatch returns an empty batch for the given persons.
func NewBatch(chunkID int64, personIDs []int64) *Batch {
	b := &Batch{
		ChunkID:   chunkID,
		PersonIDs: personIDs,
		Persons:   make(map[int64]*model.PersonData, len(personIDs)),
	}
	for _, id := range personIDs {
		b.Persons[id] = &model.PersonData{}
	}
	return b
}

// person returns the buffers of personID, creating them for rows whose
// person is missing from the chunk roster.
func (b *Batch) person(id int64) *model.PersonData {
	d, ok := b.Persons[id]
	if !ok {
		d = &model.PersonData{}
		b.Persons[id] = d
		b.PersonIDs = append(b.PersonIDs, id)
	}
	return d
}

// Source supplies raw chunk input.
type Source interface {
	// Chunks lists every chunk id known to the source in ascending order.
	Chunks(ctx context.Context) ([]int64, error)

	// Load reads all raw records of a chunk.
	Load(ctx context.Context, chunkID int64) (*Batch, error)
}

// PostgresSource reads raw records from a schema of CDM-shaped tables. Chunk
// membership comes from <schema>.chunk_person(chunk_id, person_id).
type PostgresSource struct {
	pool   db.Pool
	schema string
}

var _ Source = (*PostgresSource)(nil)

// NewPostgresSource creates a source reading from schema.
func NewPostgresSource(pool db.Pool, schema string) *PostgresSource {
	if schema == "" {
		schema = "raw"
	}
	return &PostgresSource{pool: pool, schema: schema}
}

// Chunks implements Source.
func (s *PostgresSource) Chunks(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT DISTINCT chunk_id FROM %s.chunk_person ORDER BY chunk_id", s.qualified()))
	if err != nil {
		return nil, eris.Wrap(err, "chunk: list chunks")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "chunk: scan chunk id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Load implements Source.
func (s *PostgresSource) Load(ctx context.Context, chunkID int64) (*Batch, error) {
	personIDs, err := s.roster(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	b := NewBatch(chunkID, personIDs)

	for _, t := range rawTables() {
		if err := s.loadTable(ctx, t, b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (s *PostgresSource) qualified() string {
	return pgx.Identifier{s.schema}.Sanitize()
}

func (s *PostgresSource) roster(ctx context.Context, chunkID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT person_id FROM %s.chunk_person WHERE chunk_id = $1 ORDER BY person_id", s.qualified()), chunkID)
	if err != nil {
		return nil, eris.Wrapf(err, "chunk: roster of chunk %d", chunkID)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "chunk: scan roster")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresSource) loadTable(ctx context.Context, t rawTable, b *Batch) error {
	q := fmt.Sprintf(
		"SELECT %s FROM %[2]s.%s t JOIN %[2]s.chunk_person c ON c.person_id = t.person_id WHERE c.chunk_id = $1 ORDER BY t.person_id",
		strings.Join(t.columns, ", "), s.qualified(), t.name)
	rows, err := s.pool.Query(ctx, q, b.ChunkID)
	if err != nil {
		return eris.Wrapf(err, "chunk: query raw %s", t.name)
	}
	defer rows.Close()

	for rows.Next() {
		if err := t.scan(rows, b); err != nil {
			return eris.Wrapf(err, "chunk: scan raw %s", t.name)
		}
	}
	if err := rows.Err(); err != nil {
		return eris.Wrapf(err, "chunk: read raw %s", t.name)
	}
	return nil
}
