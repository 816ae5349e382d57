package db

import (
	"context"

	"github.com/rotisserie/eris"
)

// Copy appends rows to t with the COPY protocol.
func Copy(ctx context.Context, pool Pool, t Target, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := t.validate(rows); err != nil {
		return 0, err
	}

	n, err := pool.CopyFrom(ctx, t.Identifier(), t.Columns, source(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: copy into %s", t)
	}
	return n, nil
}
