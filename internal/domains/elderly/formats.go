package elderly

import (
	"encoding/csv"
	"encoding/xml"
	"io"
	"strings"

	"github.com/good-yellow-bee/origami/internal/alerting"
	"github.com/good-yellow-bee/origami/internal/models"
)

// csvText parses a CSV batch with a header row. Columns other than
// heart_rate and spo2 are kept as strings.
func (e *Engine) csvText(packet models.DataPacket, text string) []models.AlertDraft {
	r := csv.NewReader(strings.NewReader(text))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return alerting.Malformedf(packet, "csv header: %v", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var readings []models.Fields
	patient := packet.SourceID
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return alerting.Malformedf(packet, "csv row %d: %v", len(readings)+1, err)
		}
		row := make(models.Fields, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		if id := row.String("patient_id"); id != "" {
			patient = id
		}
		readings = append(readings, row)
	}
	return e.pattern(packet, patient, readings)
}

type patientRecord struct {
	XMLName   xml.Name `xml:"patient"`
	ID        string   `xml:"id,attr"`
	PatientID string   `xml:"patient_id"`
	History   struct {
		Inner string `xml:",innerxml"`
	} `xml:"medical_history"`
}

func (e *Engine) patientXMLText(packet models.DataPacket, text string) []models.AlertDraft {
	var rec patientRecord
	if err := xml.Unmarshal([]byte(text), &rec); err != nil {
		return alerting.Malformedf(packet, "patient xml: %v", err)
	}
	patient := rec.PatientID
	if patient == "" {
		patient = rec.ID
	}
	if patient == "" {
		patient = packet.SourceID
	}
	return e.highRisk(patient, rec.History.Inner)
}
