package vocabulary

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cdm-builder/internal/db"
	"github.com/sells-group/cdm-builder/internal/model"
)

const sourceConceptQuery = `SELECT concept_id, vocabulary_id FROM %s.concept WHERE vocabulary_id = ANY($1)`

// lookupQuery lists every source code of one vocabulary together with its
// standard "Maps to" targets. Codes without a standard target keep a NULL
// target so their source concept can still be resolved.
const lookupQuery = `SELECT s.concept_code, s.concept_id, s.valid_start_date, s.valid_end_date,
       t.concept_id, t.valid_start_date, t.valid_end_date
FROM %[1]s.concept s
LEFT JOIN %[1]s.concept_relationship r
       ON r.concept_id_1 = s.concept_id AND r.relationship_id = 'Maps to' AND r.invalid_reason IS NULL
LEFT JOIN %[1]s.concept t
       ON t.concept_id = r.concept_id_2 AND t.standard_concept = 'S'
WHERE s.vocabulary_id = $1
ORDER BY s.concept_code, s.valid_start_date, s.concept_id, t.concept_id`

// LoadPostgres reads the source vocabularies and lookup candidates for every
// supported lookup table from an OMOP vocabulary schema.
func LoadPostgres(ctx context.Context, pool db.Pool, schema string) (*Memory, error) {
	log := zap.L().With(zap.String("component", "vocabulary.load"), zap.String("schema", schema))
	start := time.Now()
	qualified := pgx.Identifier{schema}.Sanitize()

	vocabIDs := make([]string, 0, len(tableVocabularies))
	for _, t := range Tables() {
		vocabIDs = append(vocabIDs, tableVocabularies[t])
	}

	b := NewBuilder()

	rows, err := pool.Query(ctx, fmt.Sprintf(sourceConceptQuery, qualified), vocabIDs)
	if err != nil {
		return nil, eris.Wrap(err, "vocabulary: query source concepts")
	}
	for rows.Next() {
		var id int64
		var vocab string
		if err := rows.Scan(&id, &vocab); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "vocabulary: scan source concept")
		}
		b.AddSourceConcept(id, vocab)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "vocabulary: read source concepts")
	}

	for _, table := range Tables() {
		n, err := loadLookup(ctx, pool, qualified, table, b)
		if err != nil {
			return nil, err
		}
		log.Debug("lookup loaded", zap.String("table", table), zap.Int("entries", n))
	}

	m := b.Build()
	concepts, keys := m.Stats()
	log.Info("vocabulary loaded",
		zap.Int("source_concepts", concepts),
		zap.Int("lookup_keys", keys),
		zap.Duration("elapsed", time.Since(start)),
	)
	return m, nil
}

func loadLookup(ctx context.Context, pool db.Pool, qualified, table string, b *Builder) (int, error) {
	rows, err := pool.Query(ctx, fmt.Sprintf(lookupQuery, qualified), tableVocabularies[table])
	if err != nil {
		return 0, eris.Wrapf(err, "vocabulary: query lookup %s", table)
	}
	defer rows.Close()

	var n int
	for rows.Next() {
		var (
			code                   string
			e                      model.LookupEntry
			targetID               *int64
			targetStart, targetEnd *time.Time
		)
		if err := rows.Scan(&code, &e.SourceConceptID, &e.SourceValidStartDate, &e.SourceValidEndDate,
			&targetID, &targetStart, &targetEnd); err != nil {
			return n, eris.Wrapf(err, "vocabulary: scan lookup %s", table)
		}
		e.ConceptID = targetID
		if targetStart != nil {
			e.ValidStartDate = *targetStart
		}
		if targetEnd != nil {
			e.ValidEndDate = *targetEnd
		}
		b.AddLookup(table, code, e)
		n++
	}
	if err := rows.Err(); err != nil {
		return n, eris.Wrapf(err, "vocabulary: read lookup %s", table)
	}
	return n, nil
}
