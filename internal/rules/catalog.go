package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kestrelsec/kestrel-correlate/internal/model"
)

// catalogFile is the on-disk shape of a rule catalog.
type catalogFile struct {
	Rules []model.DetectionRule `yaml:"rules"`
}

// LoadCatalog reads detection rules from a YAML catalog file into the
// registry. Rules without an ID are rejected.
func LoadCatalog(path string, registry *Registry) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read rule catalog: %w", err)
	}

	var catalog catalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return 0, fmt.Errorf("failed to parse rule catalog: %w", err)
	}

	for i := range catalog.Rules {
		rule := &catalog.Rules[i]
		if rule.ID == "" {
			return 0, fmt.Errorf("rule catalog entry %d has no id", i)
		}
		registry.Upsert(rule)
	}
	return len(catalog.Rules), nil
}
