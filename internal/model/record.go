package model

import "time"

// LookupEntry is one candidate mapping for a (source value, lookup table) pair.
// ConceptID is absent when the source code has no standard mapping.
type LookupEntry struct {
	SourceConceptID      int64     `json:"source_concept_id" yaml:"source_concept_id"`
	SourceValidStartDate time.Time `json:"source_valid_start_date" yaml:"source_valid_start_date"`
	SourceValidEndDate   time.Time `json:"source_valid_end_date" yaml:"source_valid_end_date"`
	ConceptID            *int64    `json:"concept_id,omitempty" yaml:"concept_id,omitempty"`
	ValidStartDate       time.Time `json:"valid_start_date" yaml:"valid_start_date"`
	ValidEndDate         time.Time `json:"valid_end_date" yaml:"valid_end_date"`
}

// Episode is a derived span (e.g. a pregnancy episode) computed from a
// person's validated events. Episodes are stored as condition_era rows.
type Episode struct {
	ID              int64     `json:"id"`
	PersonID        int64     `json:"person_id"`
	ConceptID       int64     `json:"concept_id"`
	TypeConceptID   int64     `json:"type_concept_id"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	OccurrenceCount int       `json:"occurrence_count"`
}

// PersonData holds the raw input buffers for one person.
type PersonData struct {
	Persons              []Person
	ObservationPeriods   []ObservationPeriod
	VisitOccurrences     []VisitOccurrence
	VisitDetails         []VisitDetail
	DrugExposures        []Event
	ConditionOccurrences []Event
	ProcedureOccurrences []Event
	Observations         []Event
	Measurements         []Event
	DeviceExposures      []Event
	PayerPlanPeriods     []PayerPlanPeriod
	Deaths               []Death
}

// Events returns the event buffer for kind. The returned slice aliases the
// buffer so callers may update events in place.
func (d *PersonData) Events(kind EventKind) []Event {
	switch kind {
	case DrugExposure:
		return d.DrugExposures
	case ConditionOccurrence:
		return d.ConditionOccurrences
	case ProcedureOccurrence:
		return d.ProcedureOccurrences
	case Observation:
		return d.Observations
	case Measurement:
		return d.Measurements
	case DeviceExposure:
		return d.DeviceExposures
	default:
		return nil
	}
}

// RecordSet is the validated entity set emitted for one accepted person.
type RecordSet struct {
	Person               Person
	Death                *Death
	ObservationPeriods   []ObservationPeriod
	PayerPlanPeriods     []PayerPlanPeriod
	DrugExposures        []Event
	ConditionOccurrences []Event
	ProcedureOccurrences []Event
	Observations         []Event
	Measurements         []Event
	VisitOccurrences     []VisitOccurrence
	VisitDetails         []VisitDetail
	DeviceExposures      []Event
	Episodes             []Episode
}

// Events returns the emitted events of kind.
func (r *RecordSet) Events(kind EventKind) []Event {
	switch kind {
	case DrugExposure:
		return r.DrugExposures
	case ConditionOccurrence:
		return r.ConditionOccurrences
	case ProcedureOccurrence:
		return r.ProcedureOccurrences
	case Observation:
		return r.Observations
	case Measurement:
		return r.Measurements
	case DeviceExposure:
		return r.DeviceExposures
	default:
		return nil
	}
}
