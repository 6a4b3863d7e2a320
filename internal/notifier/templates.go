package notifier

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"sort"
	"strings"
	"text/template"

	"github.com/good-yellow-bee/origami/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

// Templates holds parsed message templates.
type Templates struct {
	html  *htmltemplate.Template
	plain *template.Template
}

// TemplateData contains data for template rendering.
type TemplateData struct {
	AlertID       string
	DomainID      string
	SubjectID     string
	Category      string
	Severity      string
	SeverityColor string
	Message       string
	Score         float64
	Timestamp     string
	ContactName   string
	Context       []ContextPair
}

// ContextPair is one alert context entry, kept ordered for stable output.
type ContextPair struct {
	Key   string
	Value string
}

// LoadTemplates loads embedded message templates.
func LoadTemplates() (*Templates, error) {
	funcs := map[string]any{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}

	// Alert messages carry payload text, so the HTML body is contextually escaped.
	htmlTmpl, err := htmltemplate.New("alert.html").Funcs(funcs).ParseFS(templateFS, "templates/alert.html")
	if err != nil {
		return nil, err
	}

	plainTmpl, err := template.New("alert.txt").Funcs(funcs).ParseFS(templateFS, "templates/alert.txt")
	if err != nil {
		return nil, err
	}

	return &Templates{
		html:  htmlTmpl,
		plain: plainTmpl,
	}, nil
}

// RenderHTML renders the HTML body.
func (t *Templates) RenderHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.html.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPlain renders the plain text body.
func (t *Templates) RenderPlain(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.plain.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// severityColor returns the color for a severity level.
func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityEmergency:
		return "#b71c1c" // dark red
	case models.SeverityCritical:
		return "#d32f2f" // red
	case models.SeverityWarning:
		return "#f57c00" // orange
	case models.SeverityInfo:
		return "#1976d2" // blue
	default:
		return "#757575" // gray
	}
}

// AlertToTemplateData converts an alert addressed to a contact to template data.
func AlertToTemplateData(contact models.Contact, alert models.Alert) TemplateData {
	data := TemplateData{
		AlertID:       alert.ID,
		DomainID:      alert.DomainID,
		SubjectID:     alert.SubjectID,
		Category:      alert.Category,
		Severity:      string(alert.Severity),
		SeverityColor: severityColor(alert.Severity),
		Message:       alert.Message,
		Score:         alert.Score,
		Timestamp:     alert.CreatedAt.Format("2006-01-02 15:04:05 MST"),
		ContactName:   contact.Name,
	}
	if data.ContactName == "" {
		data.ContactName = contact.ID
	}

	keys := make([]string, 0, len(alert.Context))
	for k := range alert.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data.Context = append(data.Context, ContextPair{Key: k, Value: alert.Context[k]})
	}

	return data
}
