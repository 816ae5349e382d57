package vocabulary

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupTable(t *testing.T) {
	tests := []struct {
		vocab string
		table string
		ok    bool
	}{
		{"CPT4", "cpt4", true},
		{"cpt4", "cpt4", true},
		{"HCPCS", "hcpcs", true},
		{"ICD10CM", "icd10cm", true},
		{"Icd10Pcs", "icd10pcs", true},
		{"ICD9CM", "icd9cm", true},
		{"ICD9Proc", "icd9proc", true},
		{"NDC", "ndc", true},
		{"Revenue Code", "revenue_code", true},
		{"REVENUE CODE", "revenue_code", true},
		{"SNOMED", "", false},
		{"revenue_code", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.vocab, func(t *testing.T) {
			table, ok := LookupTable(tt.vocab)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.table, table)
		})
	}
}

func TestTables_CoverEveryVocabulary(t *testing.T) {
	tables := Tables()
	assert.Len(t, tables, len(lookupTables))
	for _, table := range tables {
		vocab, ok := tableVocabularies[table]
		if assert.True(t, ok, table) {
			got, ok := LookupTable(vocab)
			assert.True(t, ok)
			assert.Equal(t, table, got)
		}
	}
}
