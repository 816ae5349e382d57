package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cdm-builder/internal/model"
	"github.com/sells-group/cdm-builder/internal/vocabulary"
)

func entry(sourceConceptID int64, conceptID *int64, from, to int) model.LookupEntry {
	return model.LookupEntry{
		SourceConceptID:      sourceConceptID,
		SourceValidStartDate: day(from, 1, 1),
		SourceValidEndDate:   day(to, 12, 31),
		ConceptID:            conceptID,
		ValidStartDate:       day(from, 1, 1),
		ValidEndDate:         day(to, 12, 31),
	}
}

func diabetesVocabulary(entries ...model.LookupEntry) *vocabulary.Memory {
	b := vocabulary.NewBuilder().
		AddSourceConcept(100, "ICD10CM").
		AddSourceConcept(101, "ICD10CM").
		AddSourceConcept(102, "ICD10CM").
		AddSourceConcept(500, "SNOMED").
		AddSourceConcept(600, "Revenue Code")
	for _, e := range entries {
		b.AddLookup("icd10cm", "E11.9", e)
	}
	return b.Build()
}

func condition(sourceConceptID int64, start int) model.Event {
	return model.Event{
		Kind:            model.ConditionOccurrence,
		ID:              1,
		PersonID:        1,
		ConceptID:       0,
		SourceConceptID: sourceConceptID,
		SourceValue:     "E11.9",
		StartDate:       day(start, 6, 1),
	}
}

func TestNormalize_SingleMatch(t *testing.T) {
	vocab := diabetesVocabulary(entry(101, ptr(int64(201826)), 2000, 2099))
	e := condition(100, 2020)

	require.NoError(t, CDM{}.Normalize(vocab, &e))
	assert.Equal(t, int64(101), e.SourceConceptID)
	assert.Equal(t, int64(201826), e.ConceptID)
}

func TestNormalize_LastMatchWins(t *testing.T) {
	vocab := diabetesVocabulary(
		entry(101, ptr(int64(1111)), 2000, 2099),
		entry(102, ptr(int64(2222)), 2010, 2099),
	)
	e := condition(100, 2020)

	require.NoError(t, CDM{}.Normalize(vocab, &e))
	assert.Equal(t, int64(102), e.SourceConceptID)
	assert.Equal(t, int64(2222), e.ConceptID)
}

func TestNormalize_LaterNonMatchDoesNotOverride(t *testing.T) {
	vocab := diabetesVocabulary(
		entry(101, ptr(int64(1111)), 2000, 2099),
		entry(102, ptr(int64(2222)), 2021, 2099),
	)
	e := condition(100, 2020)

	require.NoError(t, CDM{}.Normalize(vocab, &e))
	assert.Equal(t, int64(101), e.SourceConceptID)
	assert.Equal(t, int64(1111), e.ConceptID)
}

func TestNormalize_PlaceholderEntriesIgnored(t *testing.T) {
	placeholder := entry(999, ptr(int64(9999)), 1900, 2099)
	early := entry(998, ptr(int64(9998)), 1899, 2099)

	for name, entries := range map[string][]model.LookupEntry{
		"only placeholder":  {placeholder},
		"placeholder last":  {entry(101, ptr(int64(1111)), 2000, 2099), placeholder},
		"placeholder first": {placeholder, entry(101, ptr(int64(1111)), 2000, 2099)},
		"pre-1900":          {entry(101, ptr(int64(1111)), 2000, 2099), early},
	} {
		t.Run(name, func(t *testing.T) {
			e := condition(100, 2020)
			require.NoError(t, CDM{}.Normalize(diabetesVocabulary(entries...), &e))
			assert.NotEqual(t, int64(999), e.SourceConceptID)
			assert.NotEqual(t, int64(9999), e.ConceptID)
			assert.NotEqual(t, int64(998), e.SourceConceptID)
			assert.NotEqual(t, int64(9998), e.ConceptID)
		})
	}
}

func TestNormalize_WindowBoundsInclusive(t *testing.T) {
	vocab := diabetesVocabulary(entry(101, ptr(int64(1111)), 2020, 2020))

	first := condition(100, 2020)
	first.StartDate = day(2020, 1, 1)
	require.NoError(t, CDM{}.Normalize(vocab, &first))
	assert.Equal(t, int64(1111), first.ConceptID)

	last := condition(100, 2020)
	last.StartDate = day(2020, 12, 31)
	require.NoError(t, CDM{}.Normalize(vocab, &last))
	assert.Equal(t, int64(1111), last.ConceptID)

	after := condition(100, 2021)
	after.StartDate = day(2021, 1, 1)
	require.NoError(t, CDM{}.Normalize(vocab, &after))
	assert.Zero(t, after.ConceptID)
	assert.Equal(t, int64(100), after.SourceConceptID)
}

func TestNormalize_SourceAndStandardWindowsIndependent(t *testing.T) {
	e := model.LookupEntry{
		SourceConceptID:      101,
		SourceValidStartDate: day(2000, 1, 1),
		SourceValidEndDate:   day(2099, 12, 31),
		ConceptID:            ptr(int64(1111)),
		ValidStartDate:       day(2022, 1, 1),
		ValidEndDate:         day(2099, 12, 31),
	}
	ev := condition(100, 2020)
	require.NoError(t, CDM{}.Normalize(diabetesVocabulary(e), &ev))
	assert.Equal(t, int64(101), ev.SourceConceptID)
	assert.Zero(t, ev.ConceptID)
}

func TestNormalize_AbsentOrNonPositiveIDsSkipped(t *testing.T) {
	vocab := diabetesVocabulary(
		entry(101, ptr(int64(1111)), 2000, 2099),
		entry(0, nil, 2000, 2099),
		entry(-1, ptr(int64(0)), 2000, 2099),
	)
	e := condition(100, 2020)
	require.NoError(t, CDM{}.Normalize(vocab, &e))
	assert.Equal(t, int64(101), e.SourceConceptID)
	assert.Equal(t, int64(1111), e.ConceptID)
}

func TestNormalize_NoLookupLeavesEventUnchanged(t *testing.T) {
	vocab := diabetesVocabulary(entry(101, ptr(int64(1111)), 2000, 2099))

	for name, sourceConceptID := range map[string]int64{
		"unknown source concept": 42,
		"unlisted vocabulary":    500,
		"no candidates":          600,
	} {
		t.Run(name, func(t *testing.T) {
			e := condition(sourceConceptID, 2020)
			e.ConceptID = 77
			before := e
			require.NoError(t, CDM{}.Normalize(vocab, &e))
			assert.Equal(t, before, e)
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	vocab := diabetesVocabulary(
		entry(101, ptr(int64(1111)), 2000, 2099),
		entry(102, ptr(int64(2222)), 2010, 2099),
		entry(999, ptr(int64(9999)), 1900, 2099),
	)
	once := condition(100, 2020)
	require.NoError(t, CDM{}.Normalize(vocab, &once))

	twice := once
	require.NoError(t, CDM{}.Normalize(vocab, &twice))
	assert.Equal(t, once, twice)
}

func TestNormalize_ResolverFault(t *testing.T) {
	e := condition(100, 2020)
	err := CDM{}.Normalize(failingVocabulary{}, &e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vocabulary unavailable")
}
