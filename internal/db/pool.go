// Package db holds the Postgres write paths shared by the CDM saver: plain
// COPY for fresh chunks and staged upserts for rebuilds.
package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// Pool is the subset of *pgxpool.Pool used across the builder. pgxmock's
// pool satisfies it in tests, and a pgx.Tx satisfies it for writes that must
// share one transaction.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Target is a table and the ordered columns a write supplies values for.
type Target struct {
	Schema  string
	Table   string
	Columns []string
}

// Identifier returns the quoted-ready identifier of the table.
func (t Target) Identifier() pgx.Identifier {
	if t.Schema == "" {
		return pgx.Identifier{t.Table}
	}
	return pgx.Identifier{t.Schema, t.Table}
}

func (t Target) String() string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// validate rejects rows whose width differs from the column list, which COPY
// would otherwise report only as an opaque protocol error.
func (t Target) validate(rows [][]any) error {
	if t.Table == "" {
		return eris.New("db: target has no table")
	}
	if len(t.Columns) == 0 {
		return eris.Errorf("db: %s: no columns", t)
	}
	for i, r := range rows {
		if len(r) != len(t.Columns) {
			return eris.Errorf("db: %s: row %d has %d values, want %d", t, i, len(r), len(t.Columns))
		}
	}
	return nil
}

func columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

func source(rows [][]any) pgx.CopyFromSource {
	return pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		return rows[i], nil
	})
}

func stageName(t Target) string {
	return fmt.Sprintf("_stage_%s", t.Table)
}
