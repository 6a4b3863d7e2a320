package alerting

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadRuleSetFromFile loads alert rules from a YAML file.
func LoadRuleSetFromFile(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	return LoadRuleSet(f)
}

// LoadRuleSet loads alert rules from a reader.
func LoadRuleSet(r io.Reader) (*RuleSet, error) {
	var set RuleSet
	if err := yaml.NewDecoder(r).Decode(&set); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// LoadRuleSetFromBytes loads alert rules from YAML bytes.
func LoadRuleSetFromBytes(data []byte) (*RuleSet, error) {
	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}
