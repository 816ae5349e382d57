package export

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cdm-builder/internal/db"
	"github.com/sells-group/cdm-builder/internal/model"
)

// Write modes.
const (
	ModeCopy   = "copy"
	ModeUpsert = "upsert"
)

// Saver writes emitted record sets into the CDM schema.
type Saver struct {
	pool   db.Pool
	schema string
	mode   string
}

// NewSaver returns a Saver writing into schema with the given write mode.
func NewSaver(pool db.Pool, schema, mode string) (*Saver, error) {
	switch mode {
	case "":
		mode = ModeCopy
	case ModeCopy, ModeUpsert:
	default:
		return nil, eris.Errorf("export: unknown write mode %q", mode)
	}
	if schema == "" {
		schema = "cdm"
	}
	return &Saver{pool: pool, schema: schema, mode: mode}, nil
}

// Save writes every table's rows and returns the number of rows written. In
// copy mode the whole save is one transaction; in upsert mode each table is
// merged in its own transaction and a repeated save overwrites earlier rows.
func (s *Saver) Save(ctx context.Context, sets []*model.RecordSet, ids VisitIDs) (int64, error) {
	log := zap.L().With(zap.String("component", "export"), zap.String("mode", s.mode))

	rows, err := Collect(sets, ids)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	var total int64
	if s.mode == ModeUpsert {
		total, err = s.writeTables(ctx, s.pool, rows, log)
	} else {
		total, err = s.copyAtomically(ctx, rows, log)
	}
	if err != nil {
		return 0, err
	}

	log.Info("record sets saved",
		zap.Int("persons", len(sets)),
		zap.Int64("rows", total),
		zap.Duration("elapsed", time.Since(start)),
	)
	return total, nil
}

// copyAtomically COPYs every table inside one transaction so a failed save
// leaves none of the chunk's rows behind and can be retried.
func (s *Saver) copyAtomically(ctx context.Context, rows Rows, log *zap.Logger) (int64, error) {
	if rows.Count() == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "export: begin save")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	total, err := s.writeTables(ctx, tx, rows, log)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "export: commit save")
	}
	return total, nil
}

// writeTables writes the non-empty tables in Tables() order through q.
func (s *Saver) writeTables(ctx context.Context, q db.Pool, rows Rows, log *zap.Logger) (int64, error) {
	var total int64
	for _, t := range Tables() {
		tableRows := rows[t.Name]
		if len(tableRows) == 0 {
			continue
		}
		n, err := s.write(ctx, q, t, tableRows)
		if err != nil {
			return 0, err
		}
		log.Debug("table written", zap.String("table", t.Name), zap.Int64("rows", n))
		total += n
	}
	return total, nil
}

func (s *Saver) write(ctx context.Context, q db.Pool, t Table, rows [][]any) (int64, error) {
	target := db.Target{Schema: s.schema, Table: t.Name, Columns: t.Columns}
	if s.mode == ModeUpsert {
		return db.Upsert(ctx, q, target, t.Key, rows)
	}
	return db.Copy(ctx, q, target, rows)
}
