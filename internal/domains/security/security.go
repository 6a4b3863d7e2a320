// Package security implements the site security alert engine. Its rules are
// declarative and can be replaced at runtime from a YAML file.
package security

import (
	_ "embed"
	"fmt"

	"github.com/good-yellow-bee/origami/internal/alerting"
	"github.com/good-yellow-bee/origami/internal/models"
)

// DomainID is the registry id of the security domain.
const DomainID = "security"

// Data types handled by the engine.
const (
	TypeAccessEvent = "access_event"
	TypeMotionEvent = "motion_event"
)

//go:embed default_rules.yaml
var defaultRules []byte

// Engine evaluates access and motion events against a rule set.
type Engine struct {
	*alerting.RuleEngine
}

// DefaultRuleSet returns the built-in rules.
func DefaultRuleSet() (*alerting.RuleSet, error) {
	return alerting.LoadRuleSetFromBytes(defaultRules)
}

// New creates an engine from the rules file at path, or from the built-in
// rules when path is empty.
func New(path string) (*Engine, error) {
	var (
		set *alerting.RuleSet
		err error
	)
	if path == "" {
		set, err = DefaultRuleSet()
	} else {
		set, err = alerting.LoadRuleSetFromFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load security rules: %w", err)
	}
	return NewWithRules(set)
}

// NewWithRules creates an engine from an already loaded rule set.
func NewWithRules(set *alerting.RuleSet) (*Engine, error) {
	re, err := alerting.NewRuleEngine(set, []string{TypeAccessEvent, TypeMotionEvent})
	if err != nil {
		return nil, err
	}
	return &Engine{RuleEngine: re}, nil
}

// Severities declares the whole scale since reloaded rules may use any level.
func (e *Engine) Severities() []models.Severity {
	return append([]models.Severity(nil), models.Severities...)
}

// Domain returns the registry description of the domain.
func Domain() models.Domain {
	return models.Domain{ID: DomainID, Name: "Site Security"}
}
