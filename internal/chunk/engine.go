package chunk

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cdm-builder/internal/model"
	"github.com/sells-group/cdm-builder/internal/store"
)

// ChunkRunner builds a single chunk. *Runner satisfies it.
type ChunkRunner interface {
	RunChunk(ctx context.Context, chunkID int64) (*model.RunResult, error)
}

// Engine orchestrates builds across chunks.
type Engine struct {
	source      Source
	runner      ChunkRunner
	store       store.Store
	concurrency int
}

// RunOpts configures which chunks to build and how.
type RunOpts struct {
	Chunks []int64 // restrict to specific chunks; empty means all
	Force  bool    // rebuild chunks whose last run completed
}

// Summary counts the chunk outcomes of an engine run.
type Summary struct {
	Built   int
	Skipped int
	Failed  int
}

// ErrChunksFailed is returned when at least one chunk failed to build.
var ErrChunksFailed = eris.New("chunk: one or more chunks failed")

// NewEngine creates a new chunk engine running up to concurrency chunks at once.
func NewEngine(src Source, runner ChunkRunner, st store.Store, concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Engine{source: src, runner: runner, store: st, concurrency: concurrency}
}

// Run selects chunks, skips the ones already built unless forced, and builds
// the rest. A failed chunk does not stop the others; ErrChunksFailed is
// returned once all selected chunks were attempted.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (Summary, error) {
	log := zap.L().With(zap.String("component", "chunk.engine"))

	chunks := opts.Chunks
	if len(chunks) == 0 {
		var err error
		chunks, err = e.source.Chunks(ctx)
		if err != nil {
			return Summary{}, eris.Wrap(err, "chunk: list chunks")
		}
	}
	if len(chunks) == 0 {
		log.Info("no chunks selected")
		return Summary{}, nil
	}

	log.Info("selected chunks", zap.Int("count", len(chunks)), zap.Int("concurrency", e.concurrency))

	var built, skipped, failed atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, chunkID := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			chunkLog := log.With(zap.Int64("chunk_id", chunkID))

			if !opts.Force {
				last, err := e.store.LastCompleted(gctx, chunkID)
				if err != nil {
					return eris.Wrapf(err, "chunk: check last run of chunk %d", chunkID)
				}
				if last != nil {
					chunkLog.Debug("skipping (already built)", zap.String("run_id", last.ID))
					skipped.Add(1)
					return nil
				}
			}

			if _, err := e.runner.RunChunk(gctx, chunkID); err != nil {
				// Already logged and recorded by the runner.
				failed.Add(1)
				return nil
			}
			built.Add(1)
			return nil
		})
	}

	err := g.Wait()
	summary := Summary{
		Built:   int(built.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}

	log.Info("engine run complete",
		zap.Int("built", summary.Built),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err != nil {
		return summary, err
	}
	if summary.Failed > 0 {
		return summary, ErrChunksFailed
	}
	return summary, nil
}
