package permission

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadRuleSet reads a rule set override from a YAML file. An empty path returns the
// built-in DefaultRuleSet. Role and category names are parsed into their closed enums, so
// a typo fails here instead of silently matching nothing.
func LoadRuleSet(path string) (RuleSet, error) {
	if path == "" {
		return DefaultRuleSet(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("reading rule set %s: %w", path, err)
	}

	return ParseRuleSet(data)
}

// ParseRuleSet decodes and validates a YAML rule set.
func ParseRuleSet(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("parsing rule set: %w", err)
	}

	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}

	return rs, nil
}
