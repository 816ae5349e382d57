package builder

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cdm-builder/internal/model"
)

var processingDate = time.Date(2024, time.June, 15, 13, 45, 0, 0, time.UTC)

func fixedNow() time.Time { return processingDate }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

// memSink is a minimal Sink for exercising builds in isolation.
type memSink struct {
	mu       sync.Mutex
	sets     map[int64]*model.RecordSet
	emits    int
	emitErr  error
	episodes map[int64][]model.Episode
}

func newMemSink() *memSink {
	return &memSink{
		sets:     make(map[int64]*model.RecordSet),
		episodes: make(map[int64][]model.Episode),
	}
}

func (s *memSink) Emit(rs *model.RecordSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emitErr != nil {
		return s.emitErr
	}
	s.emits++
	s.sets[rs.Person.PersonID] = rs
	return nil
}

func (s *memSink) Emitted(personID int64) (*model.RecordSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.sets[personID]
	return rs, ok
}

func (s *memSink) AppendEpisodes(personID int64, eps []model.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.sets[personID]
	if !ok {
		return eris.Errorf("unknown person %d", personID)
	}
	rs.Episodes = append(rs.Episodes, eps...)
	s.episodes[personID] = append(s.episodes[personID], eps...)
	return nil
}

// failingVocabulary simulates a vocabulary backend outage.
type failingVocabulary struct{}

func (failingVocabulary) SourceVocabularyID(int64) (string, error) {
	return "", eris.New("vocabulary unavailable")
}

func (failingVocabulary) Lookup(string, string, time.Time) ([]model.LookupEntry, error) {
	return nil, eris.New("vocabulary unavailable")
}
