package builder

import (
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cdm-builder/internal/model"
	"github.com/sells-group/cdm-builder/internal/vocabulary"
)

// Year-of-birth plausibility bounds.
const minYearOfBirth = 1875

// Lookup entries starting in or before this year are placeholders.
const placeholderYear = 1900

// CDM is the builder variant for sources already shaped like the CDM.
type CDM struct{}

var _ Vendor = CDM{}

// Name implements Vendor.
func (CDM) Name() string { return "cdm" }

// Consolidate takes demographics from the most recently started record but
// the start date of the earliest one. The asymmetry is intentional: latest
// known demographics, earliest known coverage. Records sharing the latest
// start date resolve to the first in input order.
func (CDM) Consolidate(records []model.Person, processingDate time.Time) (*model.Person, model.Attrition) {
	if len(records) == 0 {
		return nil, model.AttritionUnacceptablePatientQuality
	}

	ordered := slices.Clone(records)
	slices.SortStableFunc(ordered, func(a, b model.Person) int {
		return b.StartDate.Compare(a.StartDate)
	})

	person := ordered[0]
	person.StartDate = ordered[len(ordered)-1].StartDate

	if person.YearOfBirth < minYearOfBirth {
		return nil, model.AttritionImplausibleYOBPast
	}
	if person.YearOfBirth > processingDate.Year() {
		return nil, model.AttritionImplausibleYOBFuture
	}
	return &person, model.AttritionNone
}

// ValidateWindow rejects future-starting or inverted periods and clamps end
// dates to the processing date. A period without an end date is treated as
// open and closed at the processing date.
func (CDM) ValidateWindow(periods []model.ObservationPeriod, processingDate time.Time) ([]model.ObservationPeriod, model.Attrition) {
	if len(periods) == 0 {
		return nil, model.AttritionInvalidObservationTime
	}

	today := dateOf(processingDate)
	out := make([]model.ObservationPeriod, 0, len(periods))
	for _, op := range periods {
		if afterDate(op.StartDate, today) {
			return nil, model.AttritionInvalidObservationTime
		}

		end := today
		if op.EndDate != nil && !afterDate(*op.EndDate, today) {
			end = *op.EndDate
		}

		if afterDate(op.StartDate, end) {
			return nil, model.AttritionInvalidObservationTime
		}

		out = append(out, model.ObservationPeriod{
			ID:            op.ID,
			PersonID:      op.PersonID,
			StartDate:     op.StartDate,
			EndDate:       &end,
			TypeConceptID: op.TypeConceptID,
		})
	}
	return out, model.AttritionNone
}

// FilterVisits removes visits and visit details that start after the
// processing date. A visit id seen more than once is emitted once. An id is
// reported as removed only when no copy of it survives, so references to a
// surviving duplicate stay intact.
func (CDM) FilterVisits(visits []model.VisitOccurrence, details []model.VisitDetail, processingDate time.Time) Filtered {
	f := Filtered{Removed: NewRemoved()}

	seen := make(map[int64]struct{}, len(visits))
	for _, v := range visits {
		if afterDate(v.StartDate, processingDate) {
			f.Removed.Visits[v.ID] = struct{}{}
			continue
		}
		if _, dup := seen[v.ID]; dup {
			continue
		}
		seen[v.ID] = struct{}{}
		f.Visits = append(f.Visits, v)
	}
	for id := range seen {
		delete(f.Removed.Visits, id)
	}

	kept := make(map[int64]struct{}, len(details))
	for _, vd := range details {
		if afterDate(vd.StartDate, processingDate) {
			f.Removed.Details[vd.ID] = struct{}{}
			continue
		}
		kept[vd.ID] = struct{}{}
		f.Details = append(f.Details, vd)
	}
	for id := range kept {
		delete(f.Removed.Details, id)
	}
	return f
}

// Remap implements Vendor.
func (CDM) Remap(e *model.Event, removed Removed) {
	if e.VisitOccurrenceID != nil && removed.VisitRemoved(*e.VisitOccurrenceID) {
		e.VisitOccurrenceID = nil
	}
	if e.VisitDetailID != nil && removed.DetailRemoved(*e.VisitDetailID) {
		e.VisitDetailID = nil
	}
}

// Normalize overwrites the event's source and standard concept ids from the
// date-windowed lookup for its source vocabulary. Every candidate whose
// window contains the event start date is applied in resolver order, so the
// last match wins. Events without a resolvable vocabulary are left unchanged.
func (CDM) Normalize(vocab vocabulary.Resolver, e *model.Event) error {
	vocabID, err := vocab.SourceVocabularyID(e.SourceConceptID)
	if err != nil {
		return eris.Wrapf(err, "builder: source vocabulary of concept %d", e.SourceConceptID)
	}
	table, ok := vocabulary.LookupTable(vocabID)
	if !ok {
		return nil
	}

	entries, err := vocab.Lookup(e.SourceValue, table, vocabulary.MinDate)
	if err != nil {
		return eris.Wrapf(err, "builder: lookup %s %q", table, e.SourceValue)
	}

	for _, l := range entries {
		if l.SourceValidStartDate.Year() <= placeholderYear {
			continue
		}
		if l.SourceConceptID > 0 && between(e.StartDate, l.SourceValidStartDate, l.SourceValidEndDate) {
			e.SourceConceptID = l.SourceConceptID
		}
		if l.ConceptID != nil && *l.ConceptID > 0 && between(e.StartDate, l.ValidStartDate, l.ValidEndDate) {
			e.ConceptID = *l.ConceptID
		}
	}
	return nil
}

// Emit implements Vendor.
func (CDM) Emit(sink Sink, rs *model.RecordSet) error {
	return sink.Emit(rs)
}
