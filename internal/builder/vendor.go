// Package builder turns one person's raw records into a validated CDM record
// set. A Build drives a Vendor through a fixed sequence of checkpoints; any
// checkpoint may reject the person with an attrition reason.
package builder

import (
	"time"

	"github.com/sells-group/cdm-builder/internal/model"
	"github.com/sells-group/cdm-builder/internal/vocabulary"
)

// Vendor is the capability set a source-specific builder variant provides.
// Implementations must be stateless so one value can serve concurrent builds.
type Vendor interface {
	// Name returns the identifier used to select the variant in config.
	Name() string

	// Consolidate picks the canonical person from the raw demographic
	// records and gates it. A rejected person is returned as nil.
	Consolidate(records []model.Person, processingDate time.Time) (*model.Person, model.Attrition)

	// ValidateWindow checks and clamps observation periods.
	ValidateWindow(periods []model.ObservationPeriod, processingDate time.Time) ([]model.ObservationPeriod, model.Attrition)

	// FilterVisits drops visits and visit details that are not usable and
	// reports the ids it removed.
	FilterVisits(visits []model.VisitOccurrence, details []model.VisitDetail, processingDate time.Time) Filtered

	// Remap clears event references to removed visits and visit details.
	Remap(e *model.Event, removed Removed)

	// Normalize resolves the event's source and standard concepts.
	Normalize(vocab vocabulary.Resolver, e *model.Event) error

	// Emit hands the validated record set to the sink.
	Emit(sink Sink, rs *model.RecordSet) error
}

// Sink accumulates the record sets produced by the builds of one chunk.
// Implementations must be safe for concurrent use by many builds.
type Sink interface {
	// Emit stores the record set of one accepted person in a single call.
	Emit(rs *model.RecordSet) error

	// Emitted returns the record set previously emitted for personID.
	Emitted(personID int64) (*model.RecordSet, bool)

	// AppendEpisodes attaches derived episodes to an emitted person.
	AppendEpisodes(personID int64, episodes []model.Episode) error
}

// Removed holds the ids dropped by FilterVisits. It belongs to a single build.
type Removed struct {
	Visits  map[int64]struct{}
	Details map[int64]struct{}
}

// NewRemoved returns empty removed-id sets.
func NewRemoved() Removed {
	return Removed{
		Visits:  make(map[int64]struct{}),
		Details: make(map[int64]struct{}),
	}
}

// VisitRemoved reports whether the visit occurrence id was dropped.
func (r Removed) VisitRemoved(id int64) bool {
	_, ok := r.Visits[id]
	return ok
}

// DetailRemoved reports whether the visit detail id was dropped.
func (r Removed) DetailRemoved(id int64) bool {
	_, ok := r.Details[id]
	return ok
}

// Filtered is the result of FilterVisits.
type Filtered struct {
	Visits  []model.VisitOccurrence
	Details []model.VisitDetail
	Removed Removed
}
