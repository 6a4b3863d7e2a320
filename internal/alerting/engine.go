package alerting

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/good-yellow-bee/origami/internal/models"
)

// RuleEngine is an alert engine driven entirely by a RuleSet.
// Rules can be swapped at runtime with ReloadRules.
type RuleEngine struct {
	mu    sync.RWMutex
	rules []*Rule

	dataTypes  []string
	severities []models.Severity

	stats *EngineStats
}

// EngineStats tracks engine statistics using atomic operations for lock-free access.
type EngineStats struct {
	PacketsEvaluated atomic.Int64
	RuleMatches      atomic.Int64
	RuleErrors       atomic.Int64
	Malformed        atomic.Int64
	Reloads          atomic.Int64
}

// NewRuleEngine creates an engine from a validated rule set. When dataTypes
// is empty the union of the rules' data types is declared.
func NewRuleEngine(set *RuleSet, dataTypes []string) (*RuleEngine, error) {
	if set == nil {
		return nil, fmt.Errorf("rule set is required")
	}
	if len(dataTypes) == 0 {
		dataTypes = set.DataTypes()
	}
	if len(dataTypes) == 0 {
		return nil, fmt.Errorf("rule engine declares no data types")
	}

	// INFO is always declared for malformed input.
	sev := []models.Severity{models.SeverityInfo}
	for _, s := range set.Severities() {
		if s != models.SeverityInfo {
			sev = append(sev, s)
		}
	}

	return &RuleEngine{
		rules:      set.Rules,
		dataTypes:  append([]string(nil), dataTypes...),
		severities: sev,
		stats:      &EngineStats{},
	}, nil
}

// DataTypes returns the declared data types.
func (e *RuleEngine) DataTypes() []string {
	return append([]string(nil), e.dataTypes...)
}

// Severities returns the declared severities.
func (e *RuleEngine) Severities() []models.Severity {
	return append([]models.Severity(nil), e.severities...)
}

// Evaluate runs every enabled rule that applies to the packet's data type, in
// rule order. If any rule fails to evaluate, the packet yields a single
// malformed-input draft instead of partial results.
func (e *RuleEngine) Evaluate(packet models.DataPacket) []models.AlertDraft {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	e.stats.PacketsEvaluated.Add(1)

	fields, ok := models.AsFields(packet.Payload)
	if !ok {
		e.stats.Malformed.Add(1)
		return Malformedf(packet, "payload is %T, want object", packet.Payload)
	}

	var drafts []models.AlertDraft
	for _, rule := range rules {
		if !rule.IsEnabled() || !rule.AppliesTo(packet.DataType) {
			continue
		}
		matched, err := rule.Match(packet, fields)
		if err != nil {
			// A rule that cannot evaluate the payload means the payload does
			// not have the shape the rules expect.
			e.stats.RuleErrors.Add(1)
			e.stats.Malformed.Add(1)
			return Malformedf(packet, "rule %q: %v", rule.Name, err)
		}
		if !matched {
			continue
		}
		e.stats.RuleMatches.Add(1)
		drafts = append(drafts, rule.Draft(packet, fields))
	}
	return drafts
}

// ReloadRules replaces all rules with a new validated set.
func (e *RuleEngine) ReloadRules(set *RuleSet) error {
	if set == nil {
		return fmt.Errorf("rule set is required")
	}
	if err := set.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = set.Rules
	e.stats.Reloads.Add(1)
	return nil
}

// Rules returns the current rules.
func (e *RuleEngine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]*Rule, len(e.rules))
	copy(result, e.rules)
	return result
}

// Stats returns engine statistics.
func (e *RuleEngine) Stats() *EngineStats {
	return e.stats
}
