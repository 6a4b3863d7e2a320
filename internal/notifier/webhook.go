package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/good-yellow-bee/origami/internal/models"
)

// Payload formats understood by WebhookNotifier.
const (
	FormatJSON  = "json"
	FormatSlack = "slack"
)

// WebhookConfig configures an HTTP delivery gateway for one channel.
// SMS, voice and push providers are reached through such gateways.
type WebhookConfig struct {
	Channel       models.Channel    `yaml:"channel"`
	URL           string            `yaml:"url"`
	Format        string            `yaml:"format"`
	Headers       map[string]string `yaml:"headers"`
	Timeout       time.Duration     `yaml:"timeout"`
	AllowInsecure bool              `yaml:"allow_insecure"` // permit plain http, for local gateways
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	if c.Channel == "" {
		return fmt.Errorf("channel is required")
	}
	if c.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.URL, "https://") {
		if !c.AllowInsecure || !strings.HasPrefix(c.URL, "http://") {
			return fmt.Errorf("webhook URL must use HTTPS")
		}
	}
	switch c.Format {
	case "", FormatJSON, FormatSlack:
	default:
		return fmt.Errorf("unknown payload format %q", c.Format)
	}
	return nil
}

// WebhookNotifier posts alerts to an HTTP gateway.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhookNotifier creates a new webhook notifier.
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	if config.Format == "" {
		config.Format = FormatJSON
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &WebhookNotifier{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Channel returns the configured channel.
func (w *WebhookNotifier) Channel() models.Channel {
	return w.config.Channel
}

// webhookMessage is the JSON body posted in the json format.
type webhookMessage struct {
	Channel   models.Channel    `json:"channel"`
	To        string            `json:"to,omitempty"`
	ContactID string            `json:"contact_id"`
	AlertID   string            `json:"alert_id"`
	DomainID  string            `json:"domain_id"`
	SubjectID string            `json:"subject_id"`
	Category  string            `json:"category"`
	Severity  models.Severity   `json:"severity"`
	Message   string            `json:"message"`
	Score     float64           `json:"score,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Send posts the alert. Any non-2xx status is a failed delivery.
func (w *WebhookNotifier) Send(ctx context.Context, contact models.Contact, alert models.Alert) error {
	to := contact.AddressFor(w.config.Channel)
	if to == "" && w.config.Channel != models.ChannelWebhook {
		return fmt.Errorf("%w: %s has no %s address", ErrNoAddress, contact.ID, w.config.Channel)
	}

	var payload any
	if w.config.Format == FormatSlack {
		payload = buildSlackPayload(contact, alert)
	} else {
		payload = webhookMessage{
			Channel:   w.config.Channel,
			To:        to,
			ContactID: contact.ID,
			AlertID:   alert.ID,
			DomainID:  alert.DomainID,
			SubjectID: alert.SubjectID,
			Category:  alert.Category,
			Severity:  alert.Severity,
			Message:   alert.Message,
			Score:     alert.Score,
			Context:   alert.Context,
			CreatedAt: alert.CreatedAt,
		}
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("gateway error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close is a no-op for the webhook notifier.
func (w *WebhookNotifier) Close() error {
	return nil
}
