package notifier

import (
	"fmt"
	"sort"
	"strings"

	"github.com/good-yellow-bee/origami/internal/models"
)

// slackMessage represents the Slack webhook payload.
type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

// slackBlock represents a Slack Block Kit block.
type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

// slackText represents text in Slack Block Kit.
type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// buildSlackPayload builds a Block Kit message for an alert.
func buildSlackPayload(contact models.Contact, alert models.Alert) slackMessage {
	emoji := severityEmoji(alert.Severity)

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  truncate(fmt.Sprintf("%s %s: %s", emoji, alert.Category, alert.SubjectID), 150),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Severity:*\n%s %s", emoji, alert.Severity)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%s", alert.CreatedAt.Format("2006-01-02 15:04:05 MST"))},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Domain:*\n%s", alert.DomainID)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Contact:*\n%s", contact.ID)},
			},
		},
		{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: truncate(alert.Message, 3000)},
		},
	}

	if len(alert.Context) > 0 {
		keys := make([]string, 0, len(alert.Context))
		for k := range alert.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("`%s=%s`", k, alert.Context[k]))
		}
		blocks = append(blocks, slackBlock{
			Type:     "context",
			Elements: []slackText{{Type: "mrkdwn", Text: strings.Join(parts, " ")}},
		})
	}

	return slackMessage{Blocks: blocks}
}

// severityEmoji returns an emoji for the severity level.
func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityEmergency:
		return "\U0001F6A8" // rotating light
	case models.SeverityCritical:
		return "\U0001F534" // red circle
	case models.SeverityWarning:
		return "\U0001F7E0" // orange circle
	case models.SeverityInfo:
		return "\U0001F535" // blue circle
	default:
		return "⚪" // white circle
	}
}

// truncate truncates a string to max length with ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
