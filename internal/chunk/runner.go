package chunk

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cdm-builder/internal/builder"
	"github.com/sells-group/cdm-builder/internal/episode"
	"github.com/sells-group/cdm-builder/internal/export"
	"github.com/sells-group/cdm-builder/internal/model"
	"github.com/sells-group/cdm-builder/internal/offset"
	"github.com/sells-group/cdm-builder/internal/resilience"
	"github.com/sells-group/cdm-builder/internal/store"
	"github.com/sells-group/cdm-builder/internal/vocabulary"
)

// Saver writes the record sets of a built chunk. *export.Saver satisfies it.
type Saver interface {
	Save(ctx context.Context, sets []*model.RecordSet, ids export.VisitIDs) (int64, error)
}

// RunnerOptions tunes a Runner.
type RunnerOptions struct {
	Workers       int
	Layout        offset.Layout
	RemapVisitIDs bool
	Retry         resilience.RetryConfig

	// Now is the build clock; nil means time.Now.
	Now func() time.Time
}

// Runner builds one chunk at a time.
type Runner struct {
	source   Source
	saver    Saver
	store    store.Store
	vendor   builder.Vendor
	vocab    vocabulary.Resolver
	episodes episode.Generator
	opts     RunnerOptions
}

// NewRunner creates a Runner. A nil episode generator disables derived
// episodes.
func NewRunner(src Source, saver Saver, st store.Store, vendor builder.Vendor, vocab vocabulary.Resolver, episodes episode.Generator, opts RunnerOptions) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if episodes == nil {
		episodes = episode.Noop{}
	}
	return &Runner{
		source:   src,
		saver:    saver,
		store:    st,
		vendor:   vendor,
		vocab:    vocab,
		episodes: episodes,
		opts:     opts,
	}
}

// RunChunk loads, builds and saves chunkID, recording the run and its
// attrition in the store. A failed chunk is marked failed and its error
// returned.
func (r *Runner) RunChunk(ctx context.Context, chunkID int64) (*model.RunResult, error) {
	log := zap.L().With(
		zap.String("component", "chunk.runner"),
		zap.Int64("chunk_id", chunkID),
		zap.String("vendor", r.vendor.Name()),
	)

	run, err := r.store.CreateRun(ctx, chunkID, r.vendor.Name())
	if err != nil {
		return nil, eris.Wrapf(err, "chunk: create run for chunk %d", chunkID)
	}
	log = log.With(zap.String("run_id", run.ID))

	start := time.Now()
	result, err := r.runChunk(ctx, log, run.ID, chunkID)
	elapsed := time.Since(start)
	if err != nil {
		log.Error("chunk failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		if failErr := r.store.FailRun(context.WithoutCancel(ctx), run.ID, err.Error()); failErr != nil {
			log.Error("failed to record chunk failure", zap.Error(failErr))
		}
		return nil, err
	}

	if err := r.store.CompleteRun(ctx, run.ID, result); err != nil {
		return nil, eris.Wrapf(err, "chunk: complete run %s", run.ID)
	}

	log.Info("chunk complete",
		zap.Int("persons", result.Persons),
		zap.Int("accepted", result.Accepted),
		zap.Int("rejected", result.Rejected),
		zap.Int("episodes", result.Episodes),
		zap.Int64("rows", result.RowsWritten),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

func (r *Runner) runChunk(ctx context.Context, log *zap.Logger, runID string, chunkID int64) (*model.RunResult, error) {
	loadRetry := r.opts.Retry
	loadRetry.OnRetry = resilience.RetryLogger("load chunk", zap.Int64("chunk_id", chunkID))
	batch, err := resilience.DoVal(ctx, loadRetry, func(ctx context.Context) (*Batch, error) {
		return r.source.Load(ctx, chunkID)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "chunk: load chunk %d", chunkID)
	}
	log.Debug("chunk loaded", zap.Int("persons", len(batch.PersonIDs)))

	offsets, err := offset.NewManager(chunkID, r.opts.Layout, r.opts.RemapVisitIDs)
	if err != nil {
		return nil, err
	}
	if err := offsets.Register(batch.PersonIDs); err != nil {
		return nil, eris.Wrapf(err, "chunk: register persons of chunk %d", chunkID)
	}

	data := NewData(chunkID)
	attrition, err := r.buildAll(ctx, log, batch, offsets, data)
	if err != nil {
		return nil, err
	}

	if err := r.store.RecordAttrition(ctx, runID, attrition); err != nil {
		return nil, eris.Wrapf(err, "chunk: record attrition of chunk %d", chunkID)
	}

	// A failed save leaves no rows behind in copy mode and is overwritten in
	// upsert mode, so it is retried like any other transient fault.
	saveRetry := r.opts.Retry
	saveRetry.OnRetry = resilience.RetryLogger("save chunk", zap.Int64("chunk_id", chunkID))
	rows, err := resilience.DoVal(ctx, saveRetry, func(ctx context.Context) (int64, error) {
		return r.saver.Save(ctx, data.RecordSets(), offsets)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "chunk: save chunk %d", chunkID)
	}

	return &model.RunResult{
		Persons:     len(batch.PersonIDs),
		Accepted:    data.Len(),
		Rejected:    len(attrition),
		Episodes:    data.EpisodeCount(),
		RowsWritten: rows,
	}, nil
}

// buildAll runs one build per person on a bounded pool. Rejections are
// collected for the audit; a collaborator fault cancels the chunk.
func (r *Runner) buildAll(ctx context.Context, log *zap.Logger, batch *Batch, offsets *offset.Manager, data *Data) ([]model.AttritionRecord, error) {
	deps := builder.Deps{
		Vocabulary: r.vocab,
		Offsets:    offsets,
		Sink:       data,
		Episodes:   r.episodes,
		Now:        r.opts.Now,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	var (
		mu        sync.Mutex
		attrition []model.AttritionRecord
		accepted  atomic.Int64
	)

	for _, personID := range batch.PersonIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b := builder.New(r.vendor, deps, batch.Persons[personID])
			outcome, err := b.Run()
			if err != nil {
				return eris.Wrapf(err, "chunk: build person %d", personID)
			}
			if outcome.Rejected() {
				log.Debug("person rejected",
					zap.Int64("person_id", personID),
					zap.String("attrition", outcome.String()),
				)
				mu.Lock()
				attrition = append(attrition, model.AttritionRecord{
					ChunkID:  batch.ChunkID,
					PersonID: personID,
					Reason:   outcome,
				})
				mu.Unlock()
				return nil
			}
			accepted.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(attrition, func(a, b model.AttritionRecord) int {
		return cmp.Compare(a.PersonID, b.PersonID)
	})
	log.Debug("builds finished",
		zap.Int64("accepted", accepted.Load()),
		zap.Int("rejected", len(attrition)),
	)
	return attrition, nil
}
