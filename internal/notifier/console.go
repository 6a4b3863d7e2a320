package notifier

import (
	"context"
	"log/slog"

	"github.com/good-yellow-bee/origami/internal/logging"
	"github.com/good-yellow-bee/origami/internal/models"
)

// ConsoleNotifier writes deliveries to the log. It always succeeds and is
// meant for local runs where no gateway is configured.
type ConsoleNotifier struct {
	channel models.Channel
	logger  *slog.Logger
}

// NewConsoleNotifier creates a console notifier for a channel.
func NewConsoleNotifier(ch models.Channel, logger *slog.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{channel: ch, logger: logging.OrDiscard(logger)}
}

func (c *ConsoleNotifier) Channel() models.Channel { return c.channel }

func (c *ConsoleNotifier) Send(ctx context.Context, contact models.Contact, alert models.Alert) error {
	c.logger.InfoContext(ctx, "notification",
		"channel", string(c.channel),
		"contact_id", contact.ID,
		"to", contact.AddressFor(c.channel),
		"alert_id", alert.ID,
		"severity", string(alert.Severity),
		"category", alert.Category,
		"subject_id", alert.SubjectID,
		"message", alert.Message,
	)
	return nil
}

func (c *ConsoleNotifier) Close() error { return nil }
