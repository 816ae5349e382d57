package vocabulary

import (
	"time"

	"github.com/sells-group/cdm-builder/internal/model"
)

type lookupKey struct {
	table string
	value string
}

// Memory is an in-memory Resolver. It is populated once through a Builder
// and never mutated afterwards, so concurrent reads need no locking.
type Memory struct {
	sourceVocabularies map[int64]string
	lookups            map[lookupKey][]model.LookupEntry
}

// Builder accumulates vocabulary data before freezing it into a Memory.
type Builder struct {
	m *Memory
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{m: &Memory{
		sourceVocabularies: make(map[int64]string),
		lookups:            make(map[lookupKey][]model.LookupEntry),
	}}
}

// AddSourceConcept records the vocabulary of a source concept.
func (b *Builder) AddSourceConcept(conceptID int64, vocabularyID string) *Builder {
	b.m.sourceVocabularies[conceptID] = vocabularyID
	return b
}

// AddLookup appends a candidate to the (table, sourceValue) list. Candidates
// keep insertion order.
func (b *Builder) AddLookup(table, sourceValue string, e model.LookupEntry) *Builder {
	k := lookupKey{table: table, value: sourceValue}
	b.m.lookups[k] = append(b.m.lookups[k], e)
	return b
}

// Build freezes the accumulated data. The Builder must not be used afterwards.
func (b *Builder) Build() *Memory {
	m := b.m
	b.m = nil
	return m
}

// SourceVocabularyID implements Resolver.
func (m *Memory) SourceVocabularyID(sourceConceptID int64) (string, error) {
	return m.sourceVocabularies[sourceConceptID], nil
}

// Lookup implements Resolver.
func (m *Memory) Lookup(sourceValue, table string, minDate time.Time) ([]model.LookupEntry, error) {
	entries := m.lookups[lookupKey{table: table, value: sourceValue}]
	if len(entries) == 0 {
		return nil, nil
	}
	out := make([]model.LookupEntry, 0, len(entries))
	for _, e := range entries {
		if e.SourceValidEndDate.Before(minDate) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Stats reports how many source concepts and lookup keys are loaded.
func (m *Memory) Stats() (sourceConcepts, lookupKeys int) {
	return len(m.sourceVocabularies), len(m.lookups)
}
