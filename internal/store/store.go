// Package store persists chunk build runs and their attrition audit.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cdm-builder/internal/model"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = eris.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	ChunkID *int64          `json:"chunk_id,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for chunk builds.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, chunkID int64, vendor string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, msg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// LastCompleted returns the most recent complete run of a chunk, or nil
	// when the chunk has never completed.
	LastCompleted(ctx context.Context, chunkID int64) (*model.Run, error)

	// Attrition
	RecordAttrition(ctx context.Context, runID string, records []model.AttritionRecord) error
	AttritionSummary(ctx context.Context, runID string) (map[model.Attrition]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 50

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}
