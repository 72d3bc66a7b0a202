package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/fieldq/fieldindex"
	"github.com/hupe1980/fieldq/model"
)

// Fixture is a YAML field index.
type Fixture struct {
	Entries []FixtureEntry `yaml:"entries"`
	// Types maps fields to normalization types.
	Types map[string][]string `yaml:"types"`
}

// FixtureEntry is one field-index key.
type FixtureEntry struct {
	Field     string `yaml:"field"`
	Value     string `yaml:"value"`
	Datatype  string `yaml:"datatype"`
	UID       uint32 `yaml:"uid"`
	Timestamp int64  `yaml:"timestamp"`
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// LoadFixture reads a fixture file into a memory source.
func LoadFixture(path string) (*fieldindex.MemorySource, model.TypeMetadata, error) {
	var f Fixture
	if err := loadYAML(path, &f); err != nil {
		return nil, nil, err
	}
	src := fieldindex.NewMemorySource()
	for i, e := range f.Entries {
		if e.Field == "" {
			return nil, nil, fmt.Errorf("fixture entry %d: missing field", i)
		}
		src.Add(model.Entry{
			Field:     e.Field,
			Value:     e.Value,
			Datatype:  e.Datatype,
			UID:       model.RowID(e.UID),
			Timestamp: e.Timestamp,
		})
	}
	return src, model.TypeMetadata(f.Types), nil
}
