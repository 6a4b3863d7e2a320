package alerting

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Thresholds holds named numeric limits for a domain's rules.
type Thresholds map[string]float64

// Get returns the named threshold, or def when unset.
func (t Thresholds) Get(name string, def float64) float64 {
	if v, ok := t[name]; ok {
		return v
	}
	return def
}

// WithDefaults returns a copy of t with every key of defaults that t does not set.
func (t Thresholds) WithDefaults(defaults Thresholds) Thresholds {
	out := make(Thresholds, len(defaults)+len(t))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Unknown returns the keys of t that are not present in known, sorted.
func (t Thresholds) Unknown(known Thresholds) []string {
	var out []string
	for k := range t {
		if _, ok := known[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// LoadThresholdsFile reads a flat YAML map of threshold names to values.
func LoadThresholdsFile(path string) (Thresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read thresholds: %w", err)
	}
	var t Thresholds
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse thresholds: %w", err)
	}
	return t, nil
}

// floatEpsilon is the tolerance for float64 equality comparison.
const floatEpsilon = 1e-9

// Compare compares a value against a threshold using the given operator.
// Unknown operators never match.
func Compare(value, threshold float64, operator string) bool {
	switch operator {
	case ">=":
		return value >= threshold
	case ">":
		return value > threshold
	case "<=":
		return value <= threshold
	case "<":
		return value < threshold
	case "==":
		diff := value - threshold
		if diff < 0 {
			diff = -diff
		}
		return diff < floatEpsilon
	case "!=":
		diff := value - threshold
		if diff < 0 {
			diff = -diff
		}
		return diff >= floatEpsilon
	default:
		return false
	}
}
