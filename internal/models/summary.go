package models

import "time"

// Summary is a derived report over alerts and their notifications for a
// subject and/or domain within a time window. It is recomputed, never stored.
type Summary struct {
	SubjectID              string           `json:"subject_id,omitempty"`
	DomainID               string           `json:"domain_id,omitempty"`
	From                   time.Time        `json:"from"`
	To                     time.Time        `json:"to"`
	TotalAlerts            int              `json:"total_alerts"`
	AlertsBySeverity       map[Severity]int `json:"alerts_by_severity"`
	AlertsByCategory       map[string]int   `json:"alerts_by_category"`
	NotificationsByOutcome map[Outcome]int  `json:"notifications_by_outcome"`
	NotificationsByChannel map[Channel]int  `json:"notifications_by_channel"`
	Resolved               []string         `json:"resolved"`
	Unresolved             []string         `json:"unresolved"`
	Pending                []string         `json:"pending"`
	Cancelled              []string         `json:"cancelled"`
	Text                   string           `json:"text"`
}
