package models

import (
	"strings"
	"time"
)

// Severity is the shared alert severity scale every domain normalizes to.
type Severity string

const (
	SeverityInfo      Severity = "INFO"
	SeverityWarning   Severity = "WARNING"
	SeverityCritical  Severity = "CRITICAL"
	SeverityEmergency Severity = "EMERGENCY"
)

// Severities lists the scale in ascending order.
var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityCritical, SeverityEmergency}

// ParseSeverity converts a string to Severity. Unknown values return false.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return SeverityInfo, true
	case "WARNING", "WARN":
		return SeverityWarning, true
	case "CRITICAL", "CRIT":
		return SeverityCritical, true
	case "EMERGENCY", "EMERG":
		return SeverityEmergency, true
	default:
		return "", false
	}
}

// Rank returns the position of the severity on the scale, or -1 if unknown.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	case SeverityEmergency:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is on the scale.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// Urgent reports whether the severity calls for synchronous channels.
func (s Severity) Urgent() bool {
	return s == SeverityCritical || s == SeverityEmergency
}

// UnmarshalYAML accepts any casing of a severity name.
func (s *Severity) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if parsed, ok := ParseSeverity(raw); ok {
		*s = parsed
		return nil
	}
	*s = Severity(raw)
	return nil
}

// CategoryMalformedInput is emitted by engines for payloads they cannot read.
const CategoryMalformedInput = "MALFORMED_INPUT"

// AlertDraft is what a domain engine emits. Identity and timestamps are
// assigned by the registry.
type AlertDraft struct {
	SubjectID string            `json:"subject_id"`
	Category  string            `json:"category"`
	Severity  Severity          `json:"severity"`
	Message   string            `json:"message"`
	Score     float64           `json:"score,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

// Alert is a notable event produced by a domain engine for a subject entity.
// Alerts are immutable after creation.
type Alert struct {
	ID        string            `json:"id"`
	DomainID  string            `json:"domain_id"`
	SubjectID string            `json:"subject_id"`
	Category  string            `json:"category"`
	Severity  Severity          `json:"severity"`
	Message   string            `json:"message"`
	Score     float64           `json:"score,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
	PacketID  string            `json:"packet_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewAlert builds an alert from a draft.
func NewAlert(id, domainID, packetID string, d AlertDraft, createdAt time.Time) Alert {
	var ctx map[string]string
	if len(d.Context) > 0 {
		ctx = make(map[string]string, len(d.Context))
		for k, v := range d.Context {
			ctx[k] = v
		}
	}
	return Alert{
		ID:        id,
		DomainID:  domainID,
		SubjectID: d.SubjectID,
		Category:  d.Category,
		Severity:  d.Severity,
		Message:   d.Message,
		Score:     d.Score,
		Context:   ctx,
		PacketID:  packetID,
		CreatedAt: createdAt,
	}
}

// SupersedeKey identifies alerts raised for the same condition on the same subject.
func (a Alert) SupersedeKey() string {
	return a.DomainID + "|" + a.SubjectID + "|" + a.Category
}
