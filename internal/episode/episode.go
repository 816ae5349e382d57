// Package episode derives spans such as pregnancy episodes from a person's
// validated events.
package episode

import (
	"iter"
	"slices"
	"time"

	"github.com/sells-group/cdm-builder/internal/model"
	"github.com/sells-group/cdm-builder/internal/vocabulary"
)

// Generator produces derived episodes for one person. The returned sequence
// is finite and may only be iterated once. Episode ids are assigned by the
// caller.
type Generator interface {
	GenerateEpisodes(
		vocab vocabulary.Resolver,
		person model.Person,
		periods []model.ObservationPeriod,
		conditions, procedures, observations, measurements, drugs []model.Event,
	) iter.Seq[model.Episode]
}

// Noop never produces episodes.
type Noop struct{}

// GenerateEpisodes implements Generator.
func (Noop) GenerateEpisodes(vocabulary.Resolver, model.Person, []model.ObservationPeriod,
	[]model.Event, []model.Event, []model.Event, []model.Event, []model.Event) iter.Seq[model.Episode] {
	return func(func(model.Episode) bool) {}
}

// Options configures New.
type Options struct {
	ConceptID      int64
	TypeConceptID  int64
	MarkerConcepts []int64
	GapDays        int
}

// New returns a Markers generator, or Noop when no marker concepts are set.
func New(opts Options) Generator {
	if len(opts.MarkerConcepts) == 0 {
		return Noop{}
	}
	m := &Markers{
		ConceptID:     opts.ConceptID,
		TypeConceptID: opts.TypeConceptID,
		GapDays:       opts.GapDays,
		concepts:      make(map[int64]struct{}, len(opts.MarkerConcepts)),
	}
	for _, c := range opts.MarkerConcepts {
		m.concepts[c] = struct{}{}
	}
	return m
}

// Markers groups marker events into episodes. Events whose concept is a
// marker and which start inside an observation period are sorted by date;
// consecutive markers at most GapDays apart share an episode. Overlapping
// periods count as one window, and episodes never cross window boundaries.
type Markers struct {
	ConceptID     int64
	TypeConceptID int64
	GapDays       int

	concepts map[int64]struct{}
}

// GenerateEpisodes implements Generator.
func (m *Markers) GenerateEpisodes(
	_ vocabulary.Resolver,
	person model.Person,
	periods []model.ObservationPeriod,
	conditions, procedures, observations, measurements, drugs []model.Event,
) iter.Seq[model.Episode] {
	return func(yield func(model.Episode) bool) {
		var dates []time.Time
		for _, events := range [][]model.Event{conditions, procedures, observations, measurements, drugs} {
			for _, e := range events {
				if _, ok := m.concepts[e.ConceptID]; ok {
					dates = append(dates, e.StartDate)
				}
			}
		}
		if len(dates) == 0 {
			return
		}
		slices.SortFunc(dates, time.Time.Compare)

		gap := time.Duration(m.GapDays) * 24 * time.Hour
		for _, w := range mergeWindows(periods) {
			var cur *model.Episode
			for _, d := range dates {
				if d.Before(w.start) || d.After(w.end) {
					continue
				}
				if cur != nil && d.Sub(cur.EndDate) <= gap {
					cur.EndDate = d
					cur.OccurrenceCount++
					continue
				}
				if cur != nil && !yield(*cur) {
					return
				}
				cur = &model.Episode{
					PersonID:        person.PersonID,
					ConceptID:       m.ConceptID,
					TypeConceptID:   m.TypeConceptID,
					StartDate:       d,
					EndDate:         d,
					OccurrenceCount: 1,
				}
			}
			if cur != nil && !yield(*cur) {
				return
			}
		}
	}
}

type window struct {
	start, end time.Time
}

// mergeWindows returns the closed observation periods sorted by start, with
// overlapping periods joined so every date falls in at most one window.
func mergeWindows(periods []model.ObservationPeriod) []window {
	var out []window
	for _, op := range periods {
		if op.EndDate == nil {
			continue
		}
		out = append(out, window{start: op.StartDate, end: *op.EndDate})
	}
	slices.SortFunc(out, func(a, b window) int {
		return a.start.Compare(b.start)
	})

	merged := out[:0]
	for _, w := range out {
		if n := len(merged); n > 0 && !w.start.After(merged[n-1].end) {
			if w.end.After(merged[n-1].end) {
				merged[n-1].end = w.end
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}
