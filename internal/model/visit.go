package model

import "time"

// VisitOccurrence is an encounter between a person and the care system.
type VisitOccurrence struct {
	ID              int64      `json:"id" db:"id"`
	PersonID        int64      `json:"person_id" db:"person_id"`
	ConceptID       int64      `json:"concept_id" db:"concept_id"`
	StartDate       time.Time  `json:"start_date" db:"start_date"`
	EndDate         *time.Time `json:"end_date,omitempty" db:"end_date"`
	TypeConceptID   int64      `json:"type_concept_id" db:"type_concept_id"`
	ProviderID      int64      `json:"provider_id,omitempty" db:"provider_id"`
	CareSiteID      int64      `json:"care_site_id,omitempty" db:"care_site_id"`
	SourceValue     string     `json:"source_value,omitempty" db:"source_value"`
	SourceConceptID int64      `json:"source_concept_id" db:"source_concept_id"`
}

// VisitDetail is a finer-grained segment of a visit occurrence.
type VisitDetail struct {
	ID                int64      `json:"id" db:"id"`
	PersonID          int64      `json:"person_id" db:"person_id"`
	ConceptID         int64      `json:"concept_id" db:"concept_id"`
	StartDate         time.Time  `json:"start_date" db:"start_date"`
	EndDate           *time.Time `json:"end_date,omitempty" db:"end_date"`
	TypeConceptID     int64      `json:"type_concept_id" db:"type_concept_id"`
	VisitOccurrenceID int64      `json:"visit_occurrence_id" db:"visit_occurrence_id"`
	ProviderID        int64      `json:"provider_id,omitempty" db:"provider_id"`
	CareSiteID        int64      `json:"care_site_id,omitempty" db:"care_site_id"`
	SourceValue       string     `json:"source_value,omitempty" db:"source_value"`
	SourceConceptID   int64      `json:"source_concept_id" db:"source_concept_id"`
}
