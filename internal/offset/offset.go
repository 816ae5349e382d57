// Package offset allocates surrogate keys for the persons of one chunk.
//
// Every person owns a fixed, disjoint key range derived from the chunk id and
// the person's position inside the chunk, so keys issued by independently
// processed chunks never collide and no sequence service is consulted.
package offset

import (
	"math"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
)

// Entity identifies a table whose surrogate keys are drawn from a person's range.
type Entity int

const (
	ObservationPeriod Entity = iota
	VisitOccurrence
	VisitDetail
	ConditionEra
	numEntities
)

func (e Entity) String() string {
	switch e {
	case ObservationPeriod:
		return "observation_period"
	case VisitOccurrence:
		return "visit_occurrence"
	case VisitDetail:
		return "visit_detail"
	case ConditionEra:
		return "condition_era"
	default:
		return "unknown"
	}
}

// Default layout values.
const (
	DefaultPersonsPerChunk = 1000
	DefaultKeysPerPerson   = 1 << 20
)

var (
	ErrUnknownPerson       = eris.New("offset: person not registered")
	ErrChunkTooLarge       = eris.New("offset: chunk exceeds persons_per_chunk")
	ErrKeySpaceExhausted   = eris.New("offset: person key range exhausted")
	ErrVisitIDsNotRemapped = eris.New("offset: visit ids are not remapped")
)

// Layout sizes the key space. Changing it between runs that write to the same
// output tables breaks uniqueness.
type Layout struct {
	PersonsPerChunk int64
	KeysPerPerson   int64
}

func (l Layout) withDefaults() Layout {
	if l.PersonsPerChunk <= 0 {
		l.PersonsPerChunk = DefaultPersonsPerChunk
	}
	if l.KeysPerPerson <= 0 {
		l.KeysPerPerson = DefaultKeysPerPerson
	}
	return l
}

// KeyOffset is the allocation handle for one person. It is safe for
// concurrent use.
type KeyOffset struct {
	PersonID int64

	// VisitOccurrenceIDChanged reports whether the person's visit ids are
	// rewritten into the chunk-global namespace on export.
	VisitOccurrenceIDChanged bool

	base  int64
	limit int64

	mu       sync.Mutex
	issued   [numEntities]int64
	visitIDs map[int64]int64
}

// Base returns the first key of the person's range.
func (k *KeyOffset) Base() int64 { return k.base }

// Next issues the next key for entity.
func (k *KeyOffset) Next(e Entity) (int64, error) {
	if e < 0 || e >= numEntities {
		return 0, eris.Errorf("offset: unknown entity %d", e)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.nextLocked(e)
}

func (k *KeyOffset) nextLocked(e Entity) (int64, error) {
	if k.issued[e] >= k.limit {
		return 0, eris.Wrapf(ErrKeySpaceExhausted, "person %d %s", k.PersonID, e)
	}
	id := k.base + k.issued[e]
	k.issued[e]++
	return id, nil
}

// Issued returns how many keys have been issued for entity.
func (k *KeyOffset) Issued(e Entity) int64 {
	if e < 0 || e >= numEntities {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.issued[e]
}

// visitID returns the remapped id for originalID, allocating one on first use.
func (k *KeyOffset) visitID(originalID int64) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if id, ok := k.visitIDs[originalID]; ok {
		return id, nil
	}
	id, err := k.nextLocked(VisitOccurrence)
	if err != nil {
		return 0, err
	}
	if k.visitIDs == nil {
		k.visitIDs = make(map[int64]int64)
	}
	k.visitIDs[originalID] = id
	return id, nil
}

// Manager hands out KeyOffsets for the persons of a single chunk. The
// registration map is only written by Register; lookups take a read lock and
// allocation locks the person's handle only, so persons never block each other.
type Manager struct {
	chunkID     int64
	layout      Layout
	remapVisits bool

	mu      sync.RWMutex
	offsets map[int64]*KeyOffset
}

// NewManager creates a Manager for chunkID. When remapVisits is set every
// registered person reports VisitOccurrenceIDChanged.
func NewManager(chunkID int64, layout Layout, remapVisits bool) (*Manager, error) {
	layout = layout.withDefaults()
	if chunkID < 0 {
		return nil, eris.Errorf("offset: negative chunk id %d", chunkID)
	}
	slots := math.MaxInt64 / layout.KeysPerPerson
	if slots < layout.PersonsPerChunk || chunkID > (slots-layout.PersonsPerChunk)/layout.PersonsPerChunk {
		return nil, eris.Errorf("offset: chunk %d overflows key space (persons_per_chunk=%d keys_per_person=%d)",
			chunkID, layout.PersonsPerChunk, layout.KeysPerPerson)
	}
	return &Manager{
		chunkID:     chunkID,
		layout:      layout,
		remapVisits: remapVisits,
		offsets:     make(map[int64]*KeyOffset),
	}, nil
}

// ChunkID returns the chunk the manager allocates for.
func (m *Manager) ChunkID() int64 { return m.chunkID }

// Register assigns key ranges to the chunk's persons. Slots follow ascending
// person id order so the assignment does not depend on load order. Calling
// Register again replaces the previous registration.
func (m *Manager) Register(personIDs []int64) error {
	ids := slices.Clone(personIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if int64(len(ids)) > m.layout.PersonsPerChunk {
		return eris.Wrapf(ErrChunkTooLarge, "chunk %d has %d persons, limit %d",
			m.chunkID, len(ids), m.layout.PersonsPerChunk)
	}

	offsets := make(map[int64]*KeyOffset, len(ids))
	for i, id := range ids {
		slot := m.chunkID*m.layout.PersonsPerChunk + int64(i)
		offsets[id] = &KeyOffset{
			PersonID:                 id,
			VisitOccurrenceIDChanged: m.remapVisits,
			base:                     slot*m.layout.KeysPerPerson + 1,
			limit:                    m.layout.KeysPerPerson,
		}
	}

	m.mu.Lock()
	m.offsets = offsets
	m.mu.Unlock()
	return nil
}

// GetKeyOffset returns the allocation handle for personID.
func (m *Manager) GetKeyOffset(personID int64) (*KeyOffset, error) {
	m.mu.RLock()
	k, ok := m.offsets[personID]
	m.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(ErrUnknownPerson, "chunk %d person %d", m.chunkID, personID)
	}
	return k, nil
}

// GetID returns the chunk-global id that replaces a person's original visit
// occurrence id. Repeated calls with the same originalID return the same id.
func (m *Manager) GetID(personID, originalID int64) (int64, error) {
	k, err := m.GetKeyOffset(personID)
	if err != nil {
		return 0, err
	}
	if !k.VisitOccurrenceIDChanged {
		return 0, eris.Wrapf(ErrVisitIDsNotRemapped, "person %d", personID)
	}
	return k.visitID(originalID)
}
