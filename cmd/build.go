package main

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cdm-builder/internal/builder"
	"github.com/sells-group/cdm-builder/internal/chunk"
	"github.com/sells-group/cdm-builder/internal/episode"
	"github.com/sells-group/cdm-builder/internal/export"
	"github.com/sells-group/cdm-builder/internal/offset"
	"github.com/sells-group/cdm-builder/internal/resilience"
	"github.com/sells-group/cdm-builder/internal/schema"
	"github.com/sells-group/cdm-builder/internal/vocabulary"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build CDM chunks",
	Long: `Builds chunks of persons from the raw schema into the cdm schema.

By default, builds every chunk listed in raw.chunk_person that has no completed run.
Use --chunks to restrict to specific chunks (e.g. 1,2,5-9).
Use --force to rebuild chunks that already completed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "build"))

		if v, _ := cmd.Flags().GetString("vendor"); v != "" {
			cfg.Build.Vendor = v
		}
		if f, _ := cmd.Flags().GetString("vocabulary-file"); f != "" {
			cfg.Vocabulary.Source = "file"
			cfg.Vocabulary.File = f
		}
		if err := cfg.Validate("build"); err != nil {
			return err
		}

		chunksFlag, _ := cmd.Flags().GetString("chunks")
		chunks, err := parseChunks(chunksFlag)
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")

		vendor, err := builder.NewRegistry().Get(cfg.Build.Vendor)
		if err != nil {
			return err
		}
		now, err := cfg.Build.Clock()
		if err != nil {
			return err
		}

		pool, err := cdmPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := schema.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "build: migrate")
		}

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "build: run store")
		}
		defer st.Close() //nolint:errcheck

		vocab, err := loadVocabulary(ctx, pool)
		if err != nil {
			return err
		}
		concepts, lookups := vocab.Stats()
		log.Info("vocabulary loaded",
			zap.String("source", cfg.Vocabulary.Source),
			zap.Int("source_concepts", concepts),
			zap.Int("lookup_keys", lookups),
		)

		saver, err := export.NewSaver(pool, schema.Name, cfg.CDM.WriteMode)
		if err != nil {
			return err
		}

		src := chunk.NewPostgresSource(pool, cfg.CDM.RawSchema)
		episodes := episode.New(episode.Options{
			ConceptID:      cfg.Episode.ConceptID,
			TypeConceptID:  cfg.Episode.TypeConceptID,
			MarkerConcepts: cfg.Episode.MarkerConcepts,
			GapDays:        cfg.Episode.GapDays,
		})

		runner := chunk.NewRunner(src, saver, st, vendor, vocab, episodes, chunk.RunnerOptions{
			Workers: cfg.Build.WorkerCount(),
			Layout: offset.Layout{
				PersonsPerChunk: cfg.Build.PersonsPerChunk,
				KeysPerPerson:   cfg.Build.KeysPerPerson,
			},
			RemapVisitIDs: cfg.Build.RemapVisitIDs,
			Retry:         resilience.FromConfig(cfg.Retry),
			Now:           now,
		})
		engine := chunk.NewEngine(src, runner, st, cfg.Build.ChunkConcurrency)

		log.Info("starting build",
			zap.String("vendor", vendor.Name()),
			zap.Int64s("chunks", chunks),
			zap.Bool("force", force),
			zap.String("write_mode", cfg.CDM.WriteMode),
		)

		summary, err := engine.Run(ctx, chunk.RunOpts{Chunks: chunks, Force: force})
		fmt.Printf("Built %d chunks, skipped %d, failed %d\n", summary.Built, summary.Skipped, summary.Failed)
		if err != nil {
			return eris.Wrap(err, "build")
		}
		return nil
	},
}

func init() {
	buildCmd.Flags().String("chunks", "", "comma-separated chunk ids or ranges (e.g. 1,2,5-9)")
	buildCmd.Flags().String("vendor", "", "builder variant (overrides build.vendor)")
	buildCmd.Flags().Bool("force", false, "rebuild chunks that already completed")
	buildCmd.Flags().String("vocabulary-file", "", "load the vocabulary from a YAML snapshot instead of Postgres")
	rootCmd.AddCommand(buildCmd)
}

func loadVocabulary(ctx context.Context, pool *pgxpool.Pool) (*vocabulary.Memory, error) {
	if cfg.Vocabulary.Source == "file" {
		return vocabulary.LoadFile(cfg.Vocabulary.File)
	}
	return vocabulary.LoadPostgres(ctx, pool, cfg.CDM.VocabularySchema)
}

// maxChunkSelection bounds how many chunk ids one --chunks value may expand to.
const maxChunkSelection = 1 << 16

// parseChunks parses a chunk selection like "1,2,5-9" into sorted unique ids.
func parseChunks(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
		if err != nil || from < 0 {
			return nil, eris.Errorf("invalid chunk %q", part)
		}
		to := from
		if isRange {
			to, err = strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
			if err != nil || to < from {
				return nil, eris.Errorf("invalid chunk range %q", part)
			}
		}

		span := to - from
		if span >= maxChunkSelection || int64(len(out))+span >= maxChunkSelection {
			return nil, eris.Errorf("chunk selection %q exceeds %d chunks", part, maxChunkSelection)
		}
		for n := int64(0); n <= span; n++ {
			out = append(out, from+n)
		}
	}

	slices.Sort(out)
	return slices.Compact(out), nil
}
