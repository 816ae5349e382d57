// Package model defines the clinical entities flowing through a CDM build.
package model

import "time"

// Person is one demographic snapshot. Raw inputs may carry several snapshots
// per person (one per registration segment); a build consolidates them into one.
type Person struct {
	PersonID             int64     `json:"person_id" db:"person_id"`
	GenderConceptID      int64     `json:"gender_concept_id" db:"gender_concept_id"`
	YearOfBirth          int       `json:"year_of_birth" db:"year_of_birth"`
	MonthOfBirth         *int      `json:"month_of_birth,omitempty" db:"month_of_birth"`
	DayOfBirth           *int      `json:"day_of_birth,omitempty" db:"day_of_birth"`
	RaceConceptID        int64     `json:"race_concept_id" db:"race_concept_id"`
	EthnicityConceptID   int64     `json:"ethnicity_concept_id" db:"ethnicity_concept_id"`
	LocationID           int64     `json:"location_id,omitempty" db:"location_id"`
	ProviderID           int64     `json:"provider_id,omitempty" db:"provider_id"`
	CareSiteID           int64     `json:"care_site_id,omitempty" db:"care_site_id"`
	SourceValue          string    `json:"source_value,omitempty" db:"source_value"`
	GenderSourceValue    string    `json:"gender_source_value,omitempty" db:"gender_source_value"`
	RaceSourceValue      string    `json:"race_source_value,omitempty" db:"race_source_value"`
	EthnicitySourceValue string    `json:"ethnicity_source_value,omitempty" db:"ethnicity_source_value"`
	StartDate            time.Time `json:"start_date" db:"start_date"`
}

// ObservationPeriod is a span during which a person's records are considered
// complete. EndDate may be absent on input; it is always set after validation.
type ObservationPeriod struct {
	ID            int64      `json:"id" db:"id"`
	PersonID      int64      `json:"person_id" db:"person_id"`
	StartDate     time.Time  `json:"start_date" db:"start_date"`
	EndDate       *time.Time `json:"end_date,omitempty" db:"end_date"`
	TypeConceptID int64      `json:"type_concept_id" db:"type_concept_id"`
}

// PayerPlanPeriod passes through a build untouched.
type PayerPlanPeriod struct {
	ID               int64      `json:"id" db:"id"`
	PersonID         int64      `json:"person_id" db:"person_id"`
	StartDate        time.Time  `json:"start_date" db:"start_date"`
	EndDate          *time.Time `json:"end_date,omitempty" db:"end_date"`
	PayerSourceValue string     `json:"payer_source_value,omitempty" db:"payer_source_value"`
	PlanSourceValue  string     `json:"plan_source_value,omitempty" db:"plan_source_value"`
}

// Death records a person's death. At most one is emitted per person.
type Death struct {
	PersonID             int64     `json:"person_id" db:"person_id"`
	StartDate            time.Time `json:"start_date" db:"start_date"`
	TypeConceptID        int64     `json:"type_concept_id" db:"type_concept_id"`
	CauseConceptID       int64     `json:"cause_concept_id" db:"cause_concept_id"`
	CauseSourceValue     string    `json:"cause_source_value,omitempty" db:"cause_source_value"`
	CauseSourceConceptID int64     `json:"cause_source_concept_id" db:"cause_source_concept_id"`
}
