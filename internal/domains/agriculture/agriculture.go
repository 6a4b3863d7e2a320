// Package agriculture implements the crop monitoring alert engine.
package agriculture

import (
	"fmt"
	"strconv"

	"github.com/good-yellow-bee/origami/internal/alerting"
	"github.com/good-yellow-bee/origami/internal/models"
)

// DomainID is the registry id of the agriculture domain.
const DomainID = "agriculture"

// Data types handled by the engine.
const (
	TypeCropSensorReading = "crop_sensor_reading"
	TypeFarmingEvent      = "farming_event"
)

// Alert categories.
const (
	CategoryDrought  = "DROUGHT_WARNING"
	CategoryFrost    = "FROST_WARNING"
	CategoryNutrient = "NUTRIENT_DEFICIENCY"
)

// DefaultThresholds are used for any threshold not configured.
var DefaultThresholds = alerting.Thresholds{
	"drought_threshold": 20,
	"drought_critical":  10,
	"frost_threshold":   2,
	"nitrogen_low":      20,
	"phosphorus_low":    15,
	"potassium_low":     25,
}

// Engine evaluates crop sensor packets.
type Engine struct {
	t alerting.Thresholds
}

// New creates an engine. Missing thresholds fall back to DefaultThresholds.
func New(thresholds alerting.Thresholds) *Engine {
	return &Engine{t: thresholds.WithDefaults(DefaultThresholds)}
}

// Domain returns the registry description of the domain.
func Domain() models.Domain {
	return models.Domain{ID: DomainID, Name: "Agriculture"}
}

func (e *Engine) DataTypes() []string {
	return []string{TypeCropSensorReading, TypeFarmingEvent}
}

func (e *Engine) Severities() []models.Severity {
	return []models.Severity{models.SeverityInfo, models.SeverityWarning, models.SeverityCritical}
}

// Evaluate implements plugin.Engine. Farming events are recorded upstream
// and never alert.
func (e *Engine) Evaluate(packet models.DataPacket) []models.AlertDraft {
	f, ok := models.AsFields(packet.Payload)
	if !ok {
		return alerting.Malformedf(packet, "payload is %T, want object", packet.Payload)
	}
	if packet.DataType == TypeFarmingEvent {
		return nil
	}
	return e.cropReading(packet, f)
}

// group returns a nested reading group such as "soil", or the payload itself
// when readings are sent flat.
func group(f models.Fields, name string) models.Fields {
	if g, ok := f.Object(name); ok {
		return g
	}
	return f
}

func (e *Engine) cropReading(packet models.DataPacket, f models.Fields) []models.AlertDraft {
	field := f.String("field_id")
	if field == "" {
		field = packet.SourceID
	}
	crop := f.String("crop_type")
	soil := group(f, "soil")
	weather := group(f, "weather")

	var r reader
	moisture, hasMoisture := r.number(soil, "moisture_level")
	temp, hasTemp := r.number(weather, "temperature")
	n, hasN := r.number(soil, "nitrogen_level")
	p, hasP := r.number(soil, "phosphorus_level")
	k, hasK := r.number(soil, "potassium_level")
	if r.err != nil {
		return alerting.Malformedf(packet, "%v", r.err)
	}
	if !hasMoisture && !hasTemp && !hasN && !hasP && !hasK {
		return alerting.Malformedf(packet, "no soil or weather readings")
	}

	var drafts []models.AlertDraft

	if hasMoisture && alerting.Compare(moisture, e.t["drought_threshold"], "<") {
		severity, score := models.SeverityWarning, 0.7
		if alerting.Compare(moisture, e.t["drought_critical"], "<") {
			severity, score = models.SeverityCritical, 0.9
		}
		drafts = append(drafts, models.AlertDraft{
			SubjectID: field,
			Category:  CategoryDrought,
			Severity:  severity,
			Message:   fmt.Sprintf("Low soil moisture detected: %s%%", num(moisture)),
			Score:     score,
			Context:   map[string]string{"moisture_level": num(moisture), "field_id": field, "crop_type": crop},
		})
	}

	if hasTemp && alerting.Compare(temp, e.t["frost_threshold"], "<") {
		drafts = append(drafts, models.AlertDraft{
			SubjectID: field,
			Category:  CategoryFrost,
			Severity:  models.SeverityCritical,
			Message:   fmt.Sprintf("Frost conditions detected: %s°C", num(temp)),
			Score:     0.95,
			Context:   map[string]string{"temperature": num(temp), "field_id": field, "crop_type": crop},
		})
	}

	if (hasN && alerting.Compare(n, e.t["nitrogen_low"], "<")) ||
		(hasP && alerting.Compare(p, e.t["phosphorus_low"], "<")) ||
		(hasK && alerting.Compare(k, e.t["potassium_low"], "<")) {
		drafts = append(drafts, models.AlertDraft{
			SubjectID: field,
			Category:  CategoryNutrient,
			Severity:  models.SeverityWarning,
			Message:   fmt.Sprintf("Nutrient levels low - N:%s, P:%s, K:%s", num(n), num(p), num(k)),
			Score:     0.6,
			Context: map[string]string{
				"nitrogen":   num(n),
				"phosphorus": num(p),
				"potassium":  num(k),
				"field_id":   field,
			},
		})
	}
	return drafts
}

// reader keeps the first unreadable reading so a payload is rejected as a
// whole.
type reader struct {
	err error
}

func (r *reader) number(f models.Fields, key string) (float64, bool) {
	v, ok, err := f.Number(key)
	if err != nil && r.err == nil {
		r.err = err
	}
	return v, ok
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
