// Package summary folds alert history and escalation chains into reports.
package summary

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/good-yellow-bee/origami/internal/models"
)

// Query selects the alerts a summary covers. Empty fields match anything;
// a zero From or To leaves that side of the window open.
type Query struct {
	SubjectID string
	DomainID  string
	From      time.Time
	To        time.Time
}

func (q Query) matches(a models.Alert) bool {
	if q.SubjectID != "" && a.SubjectID != q.SubjectID {
		return false
	}
	if q.DomainID != "" && a.DomainID != q.DomainID {
		return false
	}
	if !q.From.IsZero() && a.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !a.CreatedAt.Before(q.To) {
		return false
	}
	return true
}

// Build folds alerts created in [From, To) and their chains into a summary.
// Alerts whose chain is missing or still in progress count as pending.
func Build(q Query, alerts []models.Alert, chains []models.Chain) models.Summary {
	s := models.Summary{
		SubjectID:              q.SubjectID,
		DomainID:               q.DomainID,
		From:                   q.From,
		To:                     q.To,
		AlertsBySeverity:       make(map[models.Severity]int, len(models.Severities)),
		AlertsByCategory:       make(map[string]int),
		NotificationsByOutcome: make(map[models.Outcome]int),
		NotificationsByChannel: make(map[models.Channel]int),
	}
	for _, sev := range models.Severities {
		s.AlertsBySeverity[sev] = 0
	}

	byAlert := make(map[string]models.Chain, len(chains))
	for _, c := range chains {
		byAlert[c.AlertID] = c
	}

	for _, a := range alerts {
		if !q.matches(a) {
			continue
		}
		s.TotalAlerts++
		s.AlertsBySeverity[a.Severity]++
		s.AlertsByCategory[a.Category]++

		c, ok := byAlert[a.ID]
		if !ok {
			s.Pending = append(s.Pending, a.ID)
			continue
		}
		for _, n := range c.Notifications {
			s.NotificationsByOutcome[n.Outcome]++
			s.NotificationsByChannel[n.Channel]++
		}
		switch c.State {
		case models.StateResolved:
			s.Resolved = append(s.Resolved, a.ID)
		case models.StateExhausted:
			s.Unresolved = append(s.Unresolved, a.ID)
		case models.StateCancelled:
			s.Cancelled = append(s.Cancelled, a.ID)
		default:
			s.Pending = append(s.Pending, a.ID)
		}
	}

	for _, ids := range [][]string{s.Resolved, s.Unresolved, s.Pending, s.Cancelled} {
		sort.Strings(ids)
	}
	s.Text = Text(s)
	return s
}

// Text renders the one-line description of a summary.
func Text(s models.Summary) string {
	subject := s.SubjectID
	if subject == "" {
		subject = "all subjects"
	}
	if s.DomainID != "" {
		subject = s.DomainID + "/" + subject
	}
	period := describePeriod(s.From, s.To)

	if s.TotalAlerts == 0 {
		return fmt.Sprintf("%s: no alerts %s. All systems normal.", subject, period)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d alerts %s. Emergency: %d, Critical: %d.",
		subject, s.TotalAlerts, period,
		s.AlertsBySeverity[models.SeverityEmergency],
		s.AlertsBySeverity[models.SeverityCritical],
	)
	fmt.Fprintf(&b, " %d notifications sent, %d failed.",
		s.NotificationsByOutcome[models.OutcomeSent],
		s.NotificationsByOutcome[models.OutcomeFailed],
	)
	if n := len(s.Unresolved); n > 0 {
		fmt.Fprintf(&b, " %d unresolved.", n)
	}
	if n := len(s.Pending); n > 0 {
		fmt.Fprintf(&b, " %d in progress.", n)
	}
	return b.String()
}

func describePeriod(from, to time.Time) string {
	const layout = "2006-01-02 15:04"
	switch {
	case from.IsZero() && to.IsZero():
		return "on record"
	case to.IsZero():
		return "since " + from.UTC().Format(layout)
	case from.IsZero():
		return "before " + to.UTC().Format(layout)
	default:
		return fmt.Sprintf("between %s and %s", from.UTC().Format(layout), to.UTC().Format(layout))
	}
}
