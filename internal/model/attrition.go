package model

import "github.com/rotisserie/eris"

// Attrition is the outcome of a person build. AttritionNone means the person
// was accepted; every other value names the reason the person was rejected.
type Attrition int

const (
	AttritionNone Attrition = iota
	AttritionUnacceptablePatientQuality
	AttritionImplausibleYOBPast
	AttritionImplausibleYOBFuture
	AttritionInvalidObservationTime
)

var attritionNames = map[Attrition]string{
	AttritionNone:                       "none",
	AttritionUnacceptablePatientQuality: "unacceptable_patient_quality",
	AttritionImplausibleYOBPast:         "implausible_yob_past",
	AttritionImplausibleYOBFuture:       "implausible_yob_future",
	AttritionInvalidObservationTime:     "invalid_observation_time",
}

// String returns the snake_case reason name used in logs and the run store.
func (a Attrition) String() string {
	if s, ok := attritionNames[a]; ok {
		return s
	}
	return "unknown"
}

// Rejected reports whether the outcome excludes the person from emission.
func (a Attrition) Rejected() bool {
	return a != AttritionNone
}

// ParseAttrition converts a reason name back into an Attrition.
func ParseAttrition(s string) (Attrition, error) {
	for a, name := range attritionNames {
		if name == s {
			return a, nil
		}
	}
	return 0, eris.Errorf("unknown attrition reason: %q", s)
}
