package model

import "time"

// EventKind identifies which clinical table an Event belongs to.
type EventKind int

const (
	DrugExposure EventKind = iota + 1
	ConditionOccurrence
	ProcedureOccurrence
	Observation
	Measurement
	DeviceExposure
)

// EventKinds lists every kind in emission order.
var EventKinds = []EventKind{
	DrugExposure,
	ConditionOccurrence,
	ProcedureOccurrence,
	Observation,
	Measurement,
	DeviceExposure,
}

// String returns the CDM table name for the kind.
func (k EventKind) String() string {
	switch k {
	case DrugExposure:
		return "drug_exposure"
	case ConditionOccurrence:
		return "condition_occurrence"
	case ProcedureOccurrence:
		return "procedure_occurrence"
	case Observation:
		return "observation"
	case Measurement:
		return "measurement"
	case DeviceExposure:
		return "device_exposure"
	default:
		return "unknown"
	}
}

// Event is the shared shape of the six clinical event tables. Kind-specific
// value columns are optional and ignored by tables that do not carry them.
type Event struct {
	Kind              EventKind  `json:"kind" db:"-"`
	ID                int64      `json:"id" db:"id"`
	PersonID          int64      `json:"person_id" db:"person_id"`
	ConceptID         int64      `json:"concept_id" db:"concept_id"`
	SourceConceptID   int64      `json:"source_concept_id" db:"source_concept_id"`
	SourceValue       string     `json:"source_value,omitempty" db:"source_value"`
	StartDate         time.Time  `json:"start_date" db:"start_date"`
	EndDate           *time.Time `json:"end_date,omitempty" db:"end_date"`
	TypeConceptID     int64      `json:"type_concept_id" db:"type_concept_id"`
	VisitOccurrenceID *int64     `json:"visit_occurrence_id,omitempty" db:"visit_occurrence_id"`
	VisitDetailID     *int64     `json:"visit_detail_id,omitempty" db:"visit_detail_id"`
	ProviderID        int64      `json:"provider_id,omitempty" db:"provider_id"`
	Quantity          *float64   `json:"quantity,omitempty" db:"quantity"`
	ValueAsNumber     *float64   `json:"value_as_number,omitempty" db:"value_as_number"`
	ValueAsString     string     `json:"value_as_string,omitempty" db:"value_as_string"`
	UnitConceptID     int64      `json:"unit_concept_id,omitempty" db:"unit_concept_id"`
}

// EventColumns names the CDM columns backing the shared Event fields of one
// table. Empty names mark fields the table does not carry.
type EventColumns struct {
	ID              string
	ConceptID       string
	SourceConceptID string
	SourceValue     string
	StartDate       string
	EndDate         string
	TypeConceptID   string
	Quantity        string
	ValueAsNumber   string
	ValueAsString   string
	UnitConceptID   string
}

var eventColumns = map[EventKind]EventColumns{
	DrugExposure: {
		ID:              "drug_exposure_id",
		ConceptID:       "drug_concept_id",
		SourceConceptID: "drug_source_concept_id",
		SourceValue:     "drug_source_value",
		StartDate:       "drug_exposure_start_date",
		EndDate:         "drug_exposure_end_date",
		TypeConceptID:   "drug_type_concept_id",
		Quantity:        "quantity",
	},
	ConditionOccurrence: {
		ID:              "condition_occurrence_id",
		ConceptID:       "condition_concept_id",
		SourceConceptID: "condition_source_concept_id",
		SourceValue:     "condition_source_value",
		StartDate:       "condition_start_date",
		EndDate:         "condition_end_date",
		TypeConceptID:   "condition_type_concept_id",
	},
	ProcedureOccurrence: {
		ID:              "procedure_occurrence_id",
		ConceptID:       "procedure_concept_id",
		SourceConceptID: "procedure_source_concept_id",
		SourceValue:     "procedure_source_value",
		StartDate:       "procedure_date",
		EndDate:         "procedure_end_date",
		TypeConceptID:   "procedure_type_concept_id",
		Quantity:        "quantity",
	},
	Observation: {
		ID:              "observation_id",
		ConceptID:       "observation_concept_id",
		SourceConceptID: "observation_source_concept_id",
		SourceValue:     "observation_source_value",
		StartDate:       "observation_date",
		TypeConceptID:   "observation_type_concept_id",
		ValueAsNumber:   "value_as_number",
		ValueAsString:   "value_as_string",
		UnitConceptID:   "unit_concept_id",
	},
	Measurement: {
		ID:              "measurement_id",
		ConceptID:       "measurement_concept_id",
		SourceConceptID: "measurement_source_concept_id",
		SourceValue:     "measurement_source_value",
		StartDate:       "measurement_date",
		TypeConceptID:   "measurement_type_concept_id",
		ValueAsNumber:   "value_as_number",
		UnitConceptID:   "unit_concept_id",
	},
	DeviceExposure: {
		ID:              "device_exposure_id",
		ConceptID:       "device_concept_id",
		SourceConceptID: "device_source_concept_id",
		SourceValue:     "device_source_value",
		StartDate:       "device_exposure_start_date",
		EndDate:         "device_exposure_end_date",
		TypeConceptID:   "device_type_concept_id",
		Quantity:        "quantity",
	},
}

// Columns returns the CDM column names of the kind's table.
func (k EventKind) Columns() EventColumns {
	return eventColumns[k]
}
