// Package vocabulary resolves source codes to standard concepts.
package vocabulary

import (
	"time"

	"golang.org/x/text/cases"

	"github.com/sells-group/cdm-builder/internal/model"
)

// MinDate is the sentinel passed to Lookup to request every historically
// valid candidate.
var MinDate = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// Resolver answers the vocabulary questions a build asks. Implementations
// must support concurrent reads from many builds.
type Resolver interface {
	// SourceVocabularyID returns the vocabulary a source concept belongs to,
	// or "" when the concept is unknown.
	SourceVocabularyID(sourceConceptID int64) (string, error)

	// Lookup returns every candidate mapping for sourceValue in the named
	// lookup table whose source validity ends on or after minDate. Order is
	// significant and stable.
	Lookup(sourceValue, table string, minDate time.Time) ([]model.LookupEntry, error)
}

// lookupTables maps case-folded vocabulary ids to lookup table names.
var lookupTables = map[string]string{
	"cpt4":         "cpt4",
	"hcpcs":        "hcpcs",
	"icd10cm":      "icd10cm",
	"icd10pcs":     "icd10pcs",
	"icd9cm":       "icd9cm",
	"icd9proc":     "icd9proc",
	"ndc":          "ndc",
	"revenue code": "revenue_code",
}

// tableVocabularies is the inverse of lookupTables using the vocabulary ids
// as they appear in the OMOP concept table.
var tableVocabularies = map[string]string{
	"cpt4":         "CPT4",
	"hcpcs":        "HCPCS",
	"icd10cm":      "ICD10CM",
	"icd10pcs":     "ICD10PCS",
	"icd9cm":       "ICD9CM",
	"icd9proc":     "ICD9Proc",
	"ndc":          "NDC",
	"revenue_code": "Revenue Code",
}

// LookupTable returns the lookup table for a vocabulary id, matched
// case-insensitively. Unlisted vocabularies have no lookup table.
func LookupTable(vocabularyID string) (string, bool) {
	if vocabularyID == "" {
		return "", false
	}
	t, ok := lookupTables[cases.Fold().String(vocabularyID)]
	return t, ok
}

// Tables returns the supported lookup table names.
func Tables() []string {
	return []string{"cpt4", "hcpcs", "icd10cm", "icd10pcs", "icd9cm", "icd9proc", "ndc", "revenue_code"}
}
