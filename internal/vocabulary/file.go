package vocabulary

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cdm-builder/internal/model"
)

// snapshot is the on-disk vocabulary format used for offline builds and
// fixtures.
type snapshot struct {
	SourceVocabularies map[int64]string `yaml:"source_vocabularies"`
	Lookups            []lookupRecord   `yaml:"lookups"`
}

type lookupRecord struct {
	Table       string            `yaml:"table"`
	SourceValue string            `yaml:"source_value"`
	Entry       model.LookupEntry `yaml:",inline"`
}

// LoadFile reads a YAML vocabulary snapshot. Lookup candidates keep the
// order in which they appear in the file.
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vocabulary: read snapshot %s", path)
	}
	return parseSnapshot(data)
}

func parseSnapshot(data []byte) (*Memory, error) {
	var s snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "vocabulary: parse snapshot")
	}

	b := NewBuilder()
	for id, vocab := range s.SourceVocabularies {
		b.AddSourceConcept(id, vocab)
	}
	for i, l := range s.Lookups {
		if l.Table == "" || l.SourceValue == "" {
			return nil, eris.Errorf("vocabulary: lookup %d: table and source_value are required", i)
		}
		b.AddLookup(l.Table, l.SourceValue, l.Entry)
	}
	return b.Build(), nil
}
