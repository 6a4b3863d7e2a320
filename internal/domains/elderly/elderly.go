// Package elderly implements the elderly care alert engine: fall detection,
// vital sign anomalies, missed medication windows and batch pattern checks.
package elderly

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/good-yellow-bee/origami/internal/alerting"
	"github.com/good-yellow-bee/origami/internal/models"
)

// DomainID is the registry id of the elderly care domain.
const DomainID = "elderly_care"

// Data types handled by the engine.
const (
	TypeSensorReading   = "sensor_reading"
	TypeMedicationEvent = "medication_event"
	TypeVitalsJSON      = "vitals_json"
	TypeSensorCSV       = "sensor_csv"
	TypePatientXML      = "patient_data_xml"

	// Family-facing messages carry free-form JSON that is only scanned for
	// emergency keywords.
	TypeEmergencyContact    = "emergency_contact"
	TypeFamilyCommunication = "family_communication"
	TypeGenericJSON         = "generic_json"
)

// Alert categories.
const (
	CategoryFall             = "FALL_DETECTED"
	CategoryVitals           = "VITALS_ANOMALY"
	CategoryMedicationMiss   = "MEDICATION_MISSED"
	CategoryPattern          = "PATTERN_ANOMALY"
	CategoryHighRiskPatient  = "HIGH_RISK_PATIENT"
	CategoryEmergencyKeyword = "EMERGENCY_KEYWORD_DETECTED"
)

// DefaultThresholds are used for any threshold not configured.
var DefaultThresholds = alerting.Thresholds{
	"heart_rate_high":           120,
	"heart_rate_critical":       150,
	"spo2_low":                  90,
	"spo2_critical":             85,
	"medication_window_minutes": 60,
	"pattern_ratio":             0.5,
}

var (
	highRiskConditions = []string{"diabetes", "heart_disease", "heart disease"}
	emergencyKeywords  = []string{"emergency", "urgent"}
)

// Engine evaluates elderly care packets.
type Engine struct {
	t alerting.Thresholds
}

// New creates an engine. Missing thresholds fall back to DefaultThresholds.
func New(thresholds alerting.Thresholds) *Engine {
	return &Engine{t: thresholds.WithDefaults(DefaultThresholds)}
}

// Domain returns the registry description of the domain.
func Domain() models.Domain {
	return models.Domain{
		ID:   DomainID,
		Name: "Elderly Care",
	}
}

// DataTypes implements plugin.Engine.
func (e *Engine) DataTypes() []string {
	return []string{
		TypeSensorReading, TypeMedicationEvent, TypeVitalsJSON, TypeSensorCSV, TypePatientXML,
		TypeEmergencyContact, TypeFamilyCommunication, TypeGenericJSON,
	}
}

// Severities implements plugin.Engine.
func (e *Engine) Severities() []models.Severity {
	return []models.Severity{models.SeverityInfo, models.SeverityWarning, models.SeverityCritical, models.SeverityEmergency}
}

// Evaluate implements plugin.Engine.
func (e *Engine) Evaluate(packet models.DataPacket) []models.AlertDraft {
	if packet.DataType == TypeSensorCSV {
		if text, ok := packet.Payload.(string); ok {
			return e.csvText(packet, text)
		}
	}
	if packet.DataType == TypePatientXML {
		if text, ok := packet.Payload.(string); ok {
			return e.patientXMLText(packet, text)
		}
	}
	switch packet.DataType {
	case TypeEmergencyContact, TypeFamilyCommunication, TypeGenericJSON:
		return e.genericJSON(packet)
	}

	f, ok := models.AsFields(packet.Payload)
	if !ok {
		return alerting.Malformedf(packet, "payload is %T, want object", packet.Payload)
	}

	switch packet.DataType {
	case TypeSensorReading:
		return e.sensorReading(packet, f)
	case TypeMedicationEvent:
		return e.medication(packet, f)
	case TypeVitalsJSON:
		return e.vitalsJSON(packet, f)
	case TypeSensorCSV:
		return e.sensorCSV(packet, f)
	case TypePatientXML:
		return e.patientXML(packet, f)
	default:
		return alerting.Malformedf(packet, "unhandled data type %q", packet.DataType)
	}
}

func patientID(packet models.DataPacket, f models.Fields) string {
	if id := f.String("patient_id"); id != "" {
		return id
	}
	return packet.SourceID
}

func (e *Engine) sensorReading(packet models.DataPacket, f models.Fields) []models.AlertDraft {
	patient := patientID(packet, f)
	var drafts []models.AlertDraft

	if f.Bool("fall_detected") {
		drafts = append(drafts, models.AlertDraft{
			SubjectID: patient,
			Category:  CategoryFall,
			Severity:  models.SeverityEmergency,
			Message:   fmt.Sprintf("Fall detected for patient %s", patient),
			Score:     1.0,
			Context:   map[string]string{"device_id": f.String("device_id")},
		})
	}

	vitals, ok := f.Object("vitals")
	if !ok {
		vitals = f
	}
	d, ok, err := e.vitals(patient, vitals, "")
	if err != nil {
		return alerting.Malformedf(packet, "vitals: %v", err)
	}
	if ok {
		drafts = append(drafts, d)
	}
	return drafts
}

// vitals checks heart rate and SpO2. Absent readings are not anomalies;
// unreadable ones are an error.
func (e *Engine) vitals(patient string, f models.Fields, format string) (models.AlertDraft, bool, error) {
	hr, hasHR, err := f.Number("heart_rate")
	if err != nil {
		return models.AlertDraft{}, false, err
	}
	spo2, hasSpO2, err := f.Number("spo2")
	if err != nil {
		return models.AlertDraft{}, false, err
	}

	high := hasHR && alerting.Compare(hr, e.t["heart_rate_high"], ">")
	low := hasSpO2 && alerting.Compare(spo2, e.t["spo2_low"], "<")
	if !high && !low {
		return models.AlertDraft{}, false, nil
	}

	severity, score := models.SeverityWarning, 0.7
	if (hasHR && alerting.Compare(hr, e.t["heart_rate_critical"], ">")) ||
		(hasSpO2 && alerting.Compare(spo2, e.t["spo2_critical"], "<")) {
		severity, score = models.SeverityCritical, 0.9
	}

	ctx := map[string]string{}
	if hasHR {
		ctx["heart_rate"] = formatFloat(hr)
	}
	if hasSpO2 {
		ctx["spo2"] = formatFloat(spo2)
	}
	if format != "" {
		ctx["source_format"] = format
	}

	return models.AlertDraft{
		SubjectID: patient,
		Category:  CategoryVitals,
		Severity:  severity,
		Message:   fmt.Sprintf("Abnormal vitals: HR=%s, SpO2=%s%%", ctx["heart_rate"], ctx["spo2"]),
		Score:     score,
		Context:   ctx,
	}, true, nil
}

func (e *Engine) vitalsJSON(packet models.DataPacket, f models.Fields) []models.AlertDraft {
	if !f.Has("heart_rate") && !f.Has("spo2") {
		return alerting.Malformedf(packet, "vitals carry neither heart_rate nor spo2")
	}
	d, ok, err := e.vitals(patientID(packet, f), f, "JSON")
	if err != nil {
		return alerting.Malformedf(packet, "vitals: %v", err)
	}
	if ok {
		return []models.AlertDraft{d}
	}
	return nil
}

// medication raises MEDICATION_MISSED when a dose was not taken and the
// window after the scheduled time has passed at packet time, or when it was
// taken after the window closed.
func (e *Engine) medication(packet models.DataPacket, f models.Fields) []models.AlertDraft {
	patient := patientID(packet, f)
	name := f.String("medication_name")
	window := time.Duration(e.t["medication_window_minutes"] * float64(time.Minute))

	scheduled, hasSchedule, err := f.Timestamp("scheduled_time")
	if err != nil {
		return alerting.Malformedf(packet, "medication: %v", err)
	}
	takenAt, hasTakenAt, err := f.Timestamp("taken_time")
	if err != nil {
		return alerting.Malformedf(packet, "medication: %v", err)
	}
	taken := f.Bool("taken")

	missed := false
	switch {
	case !hasSchedule:
		missed = !taken
	case taken:
		missed = hasTakenAt && takenAt.After(scheduled.Add(window))
	default:
		// Without a packet time the window cannot be shown to be open.
		missed = packet.Timestamp.IsZero() || packet.Timestamp.After(scheduled.Add(window))
	}
	if !missed {
		return nil
	}

	ctx := map[string]string{"medication_name": name}
	if hasSchedule {
		ctx["scheduled_time"] = scheduled.UTC().Format(time.RFC3339)
	}
	return []models.AlertDraft{{
		SubjectID: patient,
		Category:  CategoryMedicationMiss,
		Severity:  models.SeverityWarning,
		Message:   fmt.Sprintf("Missed medication: %s", name),
		Score:     0.8,
		Context:   ctx,
	}}
}

func (e *Engine) sensorCSV(packet models.DataPacket, f models.Fields) []models.AlertDraft {
	if text := f.String("csv"); text != "" && !f.Has("readings") {
		return e.csvText(packet, text)
	}
	readings, ok := f.List("readings")
	if !ok {
		return alerting.Malformedf(packet, "readings list is missing")
	}
	return e.pattern(packet, patientID(packet, f), readings)
}

// pattern flags a batch when more than pattern_ratio of the readings show an
// elevated heart rate.
func (e *Engine) pattern(packet models.DataPacket, patient string, readings []models.Fields) []models.AlertDraft {
	if len(readings) == 0 {
		return nil
	}

	highHR, lowSpO2 := 0, 0
	for i, r := range readings {
		hr, ok, err := r.Number("heart_rate")
		if err != nil {
			return alerting.Malformedf(packet, "reading %d: %v", i+1, err)
		}
		if ok && alerting.Compare(hr, e.t["heart_rate_high"], ">") {
			highHR++
		}
		spo2, ok, err := r.Number("spo2")
		if err != nil {
			return alerting.Malformedf(packet, "reading %d: %v", i+1, err)
		}
		if ok && alerting.Compare(spo2, e.t["spo2_low"], "<") {
			lowSpO2++
		}
	}

	if !alerting.Compare(float64(highHR), float64(len(readings))*e.t["pattern_ratio"], ">") {
		return nil
	}
	return []models.AlertDraft{{
		SubjectID: patient,
		Category:  CategoryPattern,
		Severity:  models.SeverityWarning,
		Message: fmt.Sprintf("Pattern anomaly detected: %d/%d readings show elevated heart rate",
			highHR, len(readings)),
		Score: 0.8,
		Context: map[string]string{
			"source_format":  "CSV",
			"readings_count": strconv.Itoa(len(readings)),
			"anomaly_count":  strconv.Itoa(highHR),
			"low_spo2_count": strconv.Itoa(lowSpO2),
		},
	}}
}

func (e *Engine) patientXML(packet models.DataPacket, f models.Fields) []models.AlertDraft {
	if text := f.String("xml"); text != "" {
		return e.patientXMLText(packet, text)
	}
	if !f.Has("medical_history") {
		return alerting.Malformedf(packet, "medical_history is missing")
	}
	return e.highRisk(patientID(packet, f), fmt.Sprint(f["medical_history"]))
}

func (e *Engine) highRisk(patient, history string) []models.AlertDraft {
	lower := strings.ToLower(history)
	var found []string
	for _, c := range highRiskConditions {
		if strings.Contains(lower, c) {
			found = append(found, c)
		}
	}
	if len(found) == 0 {
		return nil
	}
	return []models.AlertDraft{{
		SubjectID: patient,
		Category:  CategoryHighRiskPatient,
		Severity:  models.SeverityInfo,
		Message:   "High-risk patient profile detected",
		Score:     0.6,
		Context: map[string]string{
			"source_format": "XML",
			"risk_factors":  strings.Join(found, ","),
		},
	}}
}

// genericJSON raises a keyword alert when any key or value of the payload
// mentions an emergency.
func (e *Engine) genericJSON(packet models.DataPacket) []models.AlertDraft {
	if packet.Payload == nil {
		return alerting.Malformedf(packet, "payload is empty")
	}
	subject := packet.SourceID
	if f, ok := models.AsFields(packet.Payload); ok {
		subject = patientID(packet, f)
	}
	if !mentions(packet.Payload, emergencyKeywords) {
		return nil
	}
	return []models.AlertDraft{{
		SubjectID: subject,
		Category:  CategoryEmergencyKeyword,
		Severity:  models.SeverityWarning,
		Message:   "Emergency keywords detected in message",
		Score:     0.7,
		Context: map[string]string{
			"source_format":  "JSON",
			"keywords_found": strings.Join(emergencyKeywords, "/"),
		},
	}}
}

func mentions(v any, keywords []string) bool {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if mentions(k, keywords) || mentions(inner, keywords) {
				return true
			}
		}
		return false
	case models.Fields:
		return mentions(map[string]any(t), keywords)
	case map[string]string:
		for k, inner := range t {
			if mentions(k, keywords) || mentions(inner, keywords) {
				return true
			}
		}
		return false
	case []models.Fields:
		for _, inner := range t {
			if mentions(inner, keywords) {
				return true
			}
		}
		return false
	case []any:
		for _, inner := range t {
			if mentions(inner, keywords) {
				return true
			}
		}
		return false
	case string:
		lower := strings.ToLower(t)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
