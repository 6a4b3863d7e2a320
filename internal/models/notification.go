package models

import "time"

// Outcome is the result of a single delivery attempt.
type Outcome string

const (
	OutcomePending Outcome = "PENDING"
	OutcomeSent    Outcome = "SENT"
	OutcomeFailed  Outcome = "FAILED"
)

// Notification records one delivery attempt of an alert to one contact.
// It is immutable once resolved.
type Notification struct {
	ID          string    `json:"id"`
	AlertID     string    `json:"alert_id"`
	DomainID    string    `json:"domain_id"`
	ContactID   string    `json:"contact_id"`
	Channel     Channel   `json:"channel"`
	Attempt     int       `json:"attempt"`
	Outcome     Outcome   `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
	ResolvedAt  time.Time `json:"resolved_at,omitempty"`
}

// ChainState is the escalation state of an alert.
type ChainState string

const (
	StateNew        ChainState = "NEW"
	StateAttempting ChainState = "ATTEMPTING"
	StateEscalating ChainState = "ESCALATING"
	StateResolved   ChainState = "RESOLVED"
	StateExhausted  ChainState = "EXHAUSTED"
	StateCancelled  ChainState = "CANCELLED"
)

// Terminal reports whether no further delivery attempts can happen.
func (s ChainState) Terminal() bool {
	return s == StateResolved || s == StateExhausted || s == StateCancelled
}

// Chain is a snapshot of one alert's escalation.
type Chain struct {
	AlertID       string         `json:"alert_id"`
	DomainID      string         `json:"domain_id"`
	SubjectID     string         `json:"subject_id"`
	State         ChainState     `json:"state"`
	Notifications []Notification `json:"notifications"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns a copy that does not share the notification slice.
func (c Chain) Clone() Chain {
	out := c
	out.Notifications = append([]Notification(nil), c.Notifications...)
	return out
}

// Attempted reports whether contactID already has a notification in the chain.
func (c Chain) Attempted(contactID string) bool {
	for _, n := range c.Notifications {
		if n.ContactID == contactID {
			return true
		}
	}
	return false
}
