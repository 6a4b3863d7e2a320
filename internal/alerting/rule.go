// Package alerting provides the shared alert evaluation toolkit used by the
// domain engines: threshold comparison, expr-lang rules loaded from YAML and
// malformed input reporting.
package alerting

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/good-yellow-bee/origami/internal/models"
)

// Rule is a declarative alert rule evaluated against one packet payload.
type Rule struct {
	// Name is the unique identifier for the rule.
	Name string `yaml:"name"`
	// Description provides details about what the rule detects.
	Description string `yaml:"description,omitempty"`
	// Expression is an expr-lang boolean expression over the payload fields.
	Expression string `yaml:"expression"`
	// Category is the alert category emitted on a match.
	Category string `yaml:"category"`
	// Severity of the emitted alert.
	Severity models.Severity `yaml:"severity"`
	// Message is a text/template rendered with the payload fields.
	Message string `yaml:"message,omitempty"`
	// Score is copied onto the alert.
	Score float64 `yaml:"score,omitempty"`
	// SubjectField names the payload field holding the subject id.
	// The packet source id is used when empty or absent.
	SubjectField string `yaml:"subject_field,omitempty"`
	// DataTypes restricts the rule to packets of these types. Empty means all.
	DataTypes []string `yaml:"data_types,omitempty"`
	// ContextFields are payload fields copied into the alert context.
	ContextFields []string `yaml:"context_fields,omitempty"`
	// Enabled controls whether the rule is active.
	Enabled *bool `yaml:"enabled,omitempty"`

	matcher *ExprMatcher
	message *template.Template
}

// IsEnabled returns whether the rule is enabled.
func (r *Rule) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// Validate validates and compiles the rule.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Expression == "" {
		return fmt.Errorf("expression is required for rule %q", r.Name)
	}
	if r.Category == "" {
		r.Category = strings.ToUpper(strings.ReplaceAll(r.Name, " ", "_"))
	}
	if r.Severity == "" {
		r.Severity = models.SeverityWarning
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("invalid severity %q for rule %q", r.Severity, r.Name)
	}

	m, err := NewExprMatcher(r.Expression)
	if err != nil {
		return fmt.Errorf("invalid expression for rule %q: %w", r.Name, err)
	}
	r.matcher = m

	text := r.Message
	if text == "" {
		text = r.Name
	}
	tmpl, err := template.New(r.Name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return fmt.Errorf("invalid message template for rule %q: %w", r.Name, err)
	}
	r.message = tmpl
	return nil
}

// AppliesTo reports whether the rule handles the data type.
func (r *Rule) AppliesTo(dataType string) bool {
	if len(r.DataTypes) == 0 {
		return true
	}
	for _, t := range r.DataTypes {
		if t == dataType {
			return true
		}
	}
	return false
}

// Match evaluates the rule expression against a packet.
func (r *Rule) Match(packet models.DataPacket, fields models.Fields) (bool, error) {
	if r.matcher == nil {
		return false, fmt.Errorf("rule %q is not compiled", r.Name)
	}
	return r.matcher.Match(packet, fields)
}

// Draft builds the alert draft emitted when the rule matches.
func (r *Rule) Draft(packet models.DataPacket, fields models.Fields) models.AlertDraft {
	subject := packet.SourceID
	if r.SubjectField != "" {
		if s := fields.String(r.SubjectField); s != "" {
			subject = s
		}
	}

	msg := r.Name
	if r.message != nil {
		var buf bytes.Buffer
		if err := r.message.Execute(&buf, map[string]any(fields)); err == nil {
			msg = buf.String()
		}
	}

	var ctx map[string]string
	if len(r.ContextFields) > 0 {
		ctx = make(map[string]string, len(r.ContextFields)+1)
		for _, k := range r.ContextFields {
			if fields.Has(k) {
				ctx[k] = fields.String(k)
			}
		}
	}
	if ctx == nil {
		ctx = make(map[string]string, 1)
	}
	ctx["rule"] = r.Name

	return models.AlertDraft{
		SubjectID: subject,
		Category:  r.Category,
		Severity:  r.Severity,
		Message:   msg,
		Score:     r.Score,
		Context:   ctx,
	}
}

// RuleSet is the top-level YAML rule document.
type RuleSet struct {
	Rules []*Rule `yaml:"rules"`
}

// Validate validates every rule and rejects duplicate names.
func (s *RuleSet) Validate() error {
	seen := make(map[string]struct{}, len(s.Rules))
	for i, rule := range s.Rules {
		if rule == nil {
			return fmt.Errorf("rule at index %d is empty", i)
		}
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("duplicate rule name %q", rule.Name)
		}
		seen[rule.Name] = struct{}{}
	}
	return nil
}

// DataTypes returns the union of data types named by the rules, in first-seen order.
func (s *RuleSet) DataTypes() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, rule := range s.Rules {
		for _, t := range rule.DataTypes {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// Severities returns the severities the rules can emit, in scale order.
func (s *RuleSet) Severities() []models.Severity {
	present := make(map[models.Severity]bool)
	for _, rule := range s.Rules {
		present[rule.Severity] = true
	}
	var out []models.Severity
	for _, sev := range models.Severities {
		if present[sev] {
			out = append(out, sev)
		}
	}
	return out
}
