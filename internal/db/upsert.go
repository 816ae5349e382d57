package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Upsert stages rows in a transaction-scoped temp table and merges them into
// t on keys. Rows that already exist have every non-key column overwritten,
// so writing a chunk twice leaves one copy of each row.
func Upsert(ctx context.Context, pool Pool, t Target, keys []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := t.validate(rows); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, eris.Errorf("db: upsert %s: no key columns", t)
	}
	for _, k := range keys {
		if !slices.Contains(t.Columns, k) {
			return 0, eris.Errorf("db: upsert %s: key %q is not a written column", t, k)
		}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: begin", t)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stage := pgx.Identifier{stageName(t)}
	target := t.Identifier().Sanitize()

	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", stage.Sanitize(), target)
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: create stage", t)
	}

	if _, err := tx.CopyFrom(ctx, stage, t.Columns, source(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: copy into stage", t)
	}

	cols := columnList(t.Columns)
	merge := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		target, cols, cols, stage.Sanitize(), columnList(keys), conflictAction(t.Columns, keys))
	tag, err := tx.Exec(ctx, merge)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: merge", t)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: commit", t)
	}
	return tag.RowsAffected(), nil
}

// conflictAction overwrites every non-key column, or does nothing when the
// key spans all columns.
func conflictAction(cols, keys []string) string {
	var set []string
	for _, c := range cols {
		if slices.Contains(keys, c) {
			continue
		}
		id := pgx.Identifier{c}.Sanitize()
		set = append(set, id+" = EXCLUDED."+id)
	}
	if len(set) == 0 {
		return "DO NOTHING"
	}
	return "DO UPDATE SET " + strings.Join(set, ", ")
}
