package builder

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cdm-builder/internal/episode"
	"github.com/sells-group/cdm-builder/internal/model"
	"github.com/sells-group/cdm-builder/internal/offset"
	"github.com/sells-group/cdm-builder/internal/vocabulary"
)

// State is a step of the build state machine.
type State int

const (
	StateInit State = iota
	StateConsolidatePerson
	StateValidateObservationWindow
	StateFilterAndRemap
	StateNormalizeAndEmit
	StateGenerateDerivedEpisodes
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConsolidatePerson:
		return "consolidate_person"
	case StateValidateObservationWindow:
		return "validate_observation_window"
	case StateFilterAndRemap:
		return "filter_and_remap"
	case StateNormalizeAndEmit:
		return "normalize_and_emit"
	case StateGenerateDerivedEpisodes:
		return "generate_derived_episodes"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// KeyAllocator hands out per-person key handles. *offset.Manager satisfies it.
type KeyAllocator interface {
	GetKeyOffset(personID int64) (*offset.KeyOffset, error)
}

// Deps are the collaborators a build uses. They are shared across the builds
// of a chunk and must be safe for concurrent use.
type Deps struct {
	Vocabulary vocabulary.Resolver
	Offsets    KeyAllocator
	Sink       Sink
	Episodes   episode.Generator // nil disables derived episodes
	Now        func() time.Time  // nil means time.Now
}

// Build converts the raw records of one person into an emitted record set.
// A Build runs once; its removed-id sets live and die with it.
type Build struct {
	vendor Vendor
	deps   Deps
	data   *model.PersonData

	state   State
	outcome model.Attrition
	removed Removed
	person  *model.Person
}

// New prepares a build of data with vendor.
func New(vendor Vendor, deps Deps, data *model.PersonData) *Build {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Episodes == nil {
		deps.Episodes = episode.Noop{}
	}
	if data == nil {
		data = &model.PersonData{}
	}
	return &Build{vendor: vendor, deps: deps, data: data}
}

// State returns the current state.
func (b *Build) State() State { return b.state }

// Outcome returns the attrition outcome of a completed build.
func (b *Build) Outcome() model.Attrition { return b.outcome }

// Person returns the consolidated person, or nil when the build was rejected
// at the first checkpoint.
func (b *Build) Person() *model.Person { return b.person }

// Run executes the build. Rejections are reported through the returned
// Attrition; errors are collaborator faults. Calling Run on a completed build
// panics.
func (b *Build) Run() (model.Attrition, error) {
	if b.state == StateComplete {
		panic(fmt.Sprintf("builder: build already complete (outcome %s)", b.outcome))
	}
	processingDate := dateOf(b.deps.Now().UTC())

	b.state = StateConsolidatePerson
	person, outcome := b.vendor.Consolidate(b.data.Persons, processingDate)
	if outcome.Rejected() {
		return b.complete(outcome), nil
	}
	b.person = person

	b.state = StateValidateObservationWindow
	periods, outcome := b.vendor.ValidateWindow(b.data.ObservationPeriods, processingDate)
	if outcome.Rejected() {
		return b.complete(outcome), nil
	}

	b.state = StateFilterAndRemap
	filtered := b.vendor.FilterVisits(b.data.VisitOccurrences, b.data.VisitDetails, processingDate)
	b.removed = filtered.Removed
	for _, kind := range model.EventKinds {
		events := b.data.Events(kind)
		for i := range events {
			b.vendor.Remap(&events[i], b.removed)
		}
	}

	b.state = StateNormalizeAndEmit
	for _, kind := range model.EventKinds {
		events := b.data.Events(kind)
		for i := range events {
			if err := b.vendor.Normalize(b.deps.Vocabulary, &events[i]); err != nil {
				return b.fail(err, "normalize %s %d", kind, events[i].ID)
			}
		}
	}

	key, err := b.deps.Offsets.GetKeyOffset(person.PersonID)
	if err != nil {
		return b.fail(err, "key offset for person %d", person.PersonID)
	}
	for i := range periods {
		if periods[i].ID != 0 {
			continue
		}
		if periods[i].ID, err = key.Next(offset.ObservationPeriod); err != nil {
			return b.fail(err, "observation period id for person %d", person.PersonID)
		}
	}

	rs := &model.RecordSet{
		Person:               *person,
		Death:                resolveDeath(b.data.Deaths, processingDate),
		ObservationPeriods:   periods,
		PayerPlanPeriods:     b.data.PayerPlanPeriods,
		DrugExposures:        b.data.DrugExposures,
		ConditionOccurrences: b.data.ConditionOccurrences,
		ProcedureOccurrences: b.data.ProcedureOccurrences,
		Observations:         b.data.Observations,
		Measurements:         b.data.Measurements,
		VisitOccurrences:     filtered.Visits,
		VisitDetails:         filtered.Details,
		DeviceExposures:      b.data.DeviceExposures,
	}
	if err := b.vendor.Emit(b.deps.Sink, rs); err != nil {
		return b.fail(err, "emit person %d", person.PersonID)
	}

	b.state = StateGenerateDerivedEpisodes
	if err := b.generateEpisodes(person.PersonID, key); err != nil {
		return b.fail(err, "episodes for person %d", person.PersonID)
	}

	return b.complete(model.AttritionNone), nil
}

// generateEpisodes runs the generator over the view of the person held by
// the sink, keys each episode and appends them.
func (b *Build) generateEpisodes(personID int64, key *offset.KeyOffset) error {
	emitted, ok := b.deps.Sink.Emitted(personID)
	if !ok {
		return eris.Errorf("person %d missing from sink after emit", personID)
	}

	var episodes []model.Episode
	for ep := range b.deps.Episodes.GenerateEpisodes(
		b.deps.Vocabulary,
		emitted.Person,
		emitted.ObservationPeriods,
		emitted.ConditionOccurrences,
		emitted.ProcedureOccurrences,
		emitted.Observations,
		emitted.Measurements,
		emitted.DrugExposures,
	) {
		id, err := key.Next(offset.ConditionEra)
		if err != nil {
			return err
		}
		ep.ID = id
		ep.PersonID = personID
		episodes = append(episodes, ep)
	}
	if len(episodes) == 0 {
		return nil
	}
	return b.deps.Sink.AppendEpisodes(personID, episodes)
}

func (b *Build) complete(outcome model.Attrition) model.Attrition {
	b.state = StateComplete
	b.outcome = outcome
	return outcome
}

func (b *Build) fail(err error, format string, args ...any) (model.Attrition, error) {
	b.state = StateComplete
	return model.AttritionNone, eris.Wrapf(err, "builder: "+format, args...)
}

// resolveDeath keeps the first death record unless it is dated after the
// processing date.
func resolveDeath(deaths []model.Death, processingDate time.Time) *model.Death {
	if len(deaths) == 0 {
		return nil
	}
	d := deaths[0]
	if afterDate(d.StartDate, processingDate) {
		return nil
	}
	return &d
}
