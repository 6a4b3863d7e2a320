package elderly

import (
	"reflect"
	"testing"
	"time"

	"github.com/good-yellow-bee/origami/internal/alerting"
	"github.com/good-yellow-bee/origami/internal/models"
)

func categories(drafts []models.AlertDraft) []string {
	var out []string
	for _, d := range drafts {
		out = append(out, d.Category+"/"+string(d.Severity))
	}
	return out
}

func TestEvaluate(t *testing.T) {
	scheduled := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	engine := New(nil)

	tests := []struct {
		name   string
		packet models.DataPacket
		want   []string
	}{
		{
			name: "fall detected",
			packet: models.DataPacket{DataType: TypeSensorReading, Payload: map[string]any{
				"patient_id": "p1", "device_id": "d1", "fall_detected": true,
			}},
			want: []string{"FALL_DETECTED/EMERGENCY"},
		},
		{
			name: "fall with critical vitals",
			packet: models.DataPacket{DataType: TypeSensorReading, Payload: map[string]any{
				"patient_id": "p1", "fall_detected": true,
				"vitals": map[string]any{"heart_rate": 155, "spo2": 95},
			}},
			want: []string{"FALL_DETECTED/EMERGENCY", "VITALS_ANOMALY/CRITICAL"},
		},
		{
			name: "normal reading",
			packet: models.DataPacket{DataType: TypeSensorReading, Payload: map[string]any{
				"patient_id": "p1", "vitals": map[string]any{"heart_rate": 72, "spo2": 98},
			}},
		},
		{
			name: "high heart rate warning",
			packet: models.DataPacket{DataType: TypeVitalsJSON, Payload: map[string]any{
				"patient_id": "p1", "heart_rate": 125, "spo2": 97,
			}},
			want: []string{"VITALS_ANOMALY/WARNING"},
		},
		{
			name: "low spo2 critical",
			packet: models.DataPacket{DataType: TypeVitalsJSON, Payload: map[string]any{
				"patient_id": "p1", "heart_rate": 80, "spo2": 84,
			}},
			want: []string{"VITALS_ANOMALY/CRITICAL"},
		},
		{
			name: "boundary heart rate is not anomalous",
			packet: models.DataPacket{DataType: TypeVitalsJSON, Payload: map[string]any{
				"heart_rate": 120, "spo2": 90,
			}},
		},
		{
			name: "vitals without readings",
			packet: models.DataPacket{DataType: TypeVitalsJSON, Payload: map[string]any{
				"patient_id": "p1",
			}},
			want: []string{"MALFORMED_INPUT/INFO"},
		},
		{
			name: "medication not taken past window",
			packet: models.DataPacket{DataType: TypeMedicationEvent, Timestamp: scheduled.Add(61 * time.Minute),
				Payload: map[string]any{
					"patient_id": "p1", "medication_name": "metformin", "taken": false,
					"scheduled_time": scheduled.Format(time.RFC3339),
				}},
			want: []string{"MEDICATION_MISSED/WARNING"},
		},
		{
			name: "medication not taken within window",
			packet: models.DataPacket{DataType: TypeMedicationEvent, Timestamp: scheduled.Add(30 * time.Minute),
				Payload: map[string]any{
					"patient_id": "p1", "taken": false,
					"scheduled_time": scheduled.Format(time.RFC3339),
				}},
		},
		{
			name: "medication taken late",
			packet: models.DataPacket{DataType: TypeMedicationEvent, Timestamp: scheduled.Add(2 * time.Hour),
				Payload: map[string]any{
					"patient_id": "p1", "taken": true,
					"scheduled_time": scheduled.Format(time.RFC3339),
					"taken_time":     scheduled.Add(90 * time.Minute).Format(time.RFC3339),
				}},
			want: []string{"MEDICATION_MISSED/WARNING"},
		},
		{
			name: "medication taken on time",
			packet: models.DataPacket{DataType: TypeMedicationEvent, Timestamp: scheduled.Add(2 * time.Hour),
				Payload: map[string]any{
					"patient_id": "p1", "taken": true,
					"scheduled_time": scheduled.Format(time.RFC3339),
					"taken_time":     scheduled.Add(10 * time.Minute).Format(time.RFC3339),
				}},
		},
		{
			name: "csv readings pattern",
			packet: models.DataPacket{DataType: TypeSensorCSV, Payload: map[string]any{
				"patient_id": "p1",
				"readings": []any{
					map[string]any{"heart_rate": 130},
					map[string]any{"heart_rate": 125},
					map[string]any{"heart_rate": 80},
				},
			}},
			want: []string{"PATTERN_ANOMALY/WARNING"},
		},
		{
			name: "csv exactly half is not a pattern",
			packet: models.DataPacket{DataType: TypeSensorCSV, Payload: map[string]any{
				"readings": []any{
					map[string]any{"heart_rate": 130},
					map[string]any{"heart_rate": 80},
				},
			}},
		},
		{
			name: "csv text",
			packet: models.DataPacket{DataType: TypeSensorCSV,
				Payload: "patient_id,heart_rate,spo2\np9,140,95\np9,135,96\np9,70,97\n"},
			want: []string{"PATTERN_ANOMALY/WARNING"},
		},
		{
			name: "patient xml text",
			packet: models.DataPacket{DataType: TypePatientXML,
				Payload: `<patient id="p3"><medical_history><condition>Diabetes type 2</condition></medical_history></patient>`},
			want: []string{"HIGH_RISK_PATIENT/INFO"},
		},
		{
			name: "patient decoded history",
			packet: models.DataPacket{DataType: TypePatientXML, Payload: map[string]any{
				"patient_id": "p3", "medical_history": map[string]any{"conditions": []any{"asthma"}},
			}},
		},
		{
			name: "broken xml",
			packet: models.DataPacket{DataType: TypePatientXML, Payload: `<patient><medical_history>`},
			want:   []string{"MALFORMED_INPUT/INFO"},
		},
		{
			name:   "payload is not an object",
			packet: models.DataPacket{DataType: TypeSensorReading, Payload: 42},
			want:   []string{"MALFORMED_INPUT/INFO"},
		},
		{
			name: "unparseable scheduled time",
			packet: models.DataPacket{DataType: TypeMedicationEvent, Timestamp: scheduled,
				Payload: map[string]any{
					"patient_id": "p1", "taken": false, "scheduled_time": "after breakfast",
				}},
			want: []string{"MALFORMED_INPUT/INFO"},
		},
		{
			name: "unparseable taken time",
			packet: models.DataPacket{DataType: TypeMedicationEvent, Timestamp: scheduled,
				Payload: map[string]any{
					"taken": true, "scheduled_time": scheduled.Format(time.RFC3339), "taken_time": "late",
				}},
			want: []string{"MALFORMED_INPUT/INFO"},
		},
		{
			name: "empty scheduled time counts as absent",
			packet: models.DataPacket{DataType: TypeMedicationEvent, Payload: map[string]any{
				"taken": false, "scheduled_time": "",
			}},
			want: []string{"MEDICATION_MISSED/WARNING"},
		},
		{
			name: "non-numeric heart rate",
			packet: models.DataPacket{DataType: TypeSensorReading, Payload: map[string]any{
				"patient_id": "p1", "vitals": map[string]any{"heart_rate": "abc", "spo2": 97},
			}},
			want: []string{"MALFORMED_INPUT/INFO"},
		},
		{
			name: "non-numeric heart rate beside a fall",
			packet: models.DataPacket{DataType: TypeSensorReading, Payload: map[string]any{
				"fall_detected": true, "heart_rate": "abc",
			}},
			want: []string{"MALFORMED_INPUT/INFO"},
		},
		{
			name: "non-numeric spo2 in vitals json",
			packet: models.DataPacket{DataType: TypeVitalsJSON, Payload: map[string]any{
				"heart_rate": 80, "spo2": "n/a",
			}},
			want: []string{"MALFORMED_INPUT/INFO"},
		},
		{
			name: "csv row with unreadable heart rate",
			packet: models.DataPacket{DataType: TypeSensorCSV,
				Payload: "heart_rate,spo2\n140,95\nfast,96\n"},
			want: []string{"MALFORMED_INPUT/INFO"},
		},
		{
			name: "csv empty cell is skipped",
			packet: models.DataPacket{DataType: TypeSensorCSV,
				Payload: "heart_rate,spo2\n140,95\n,96\n135,97\n"},
			want: []string{"PATTERN_ANOMALY/WARNING"},
		},
		{
			name: "emergency keyword in family message",
			packet: models.DataPacket{DataType: TypeFamilyCommunication, Payload: map[string]any{
				"from": "daughter", "body": "Please call, it is URGENT",
			}},
			want: []string{"EMERGENCY_KEYWORD_DETECTED/WARNING"},
		},
		{
			name: "emergency keyword in nested key",
			packet: models.DataPacket{DataType: TypeEmergencyContact, Payload: map[string]any{
				"contacts": []any{map[string]any{"emergency_phone": "555-0100"}},
			}},
			want: []string{"EMERGENCY_KEYWORD_DETECTED/WARNING"},
		},
		{
			name: "generic json without keywords",
			packet: models.DataPacket{DataType: TypeGenericJSON, Payload: map[string]any{
				"note": "lunch was fine",
			}},
		},
		{
			name:   "generic json string payload",
			packet: models.DataPacket{DataType: TypeGenericJSON, Payload: "emergency at home"},
			want:   []string{"EMERGENCY_KEYWORD_DETECTED/WARNING"},
		},
		{
			name:   "generic json without payload",
			packet: models.DataPacket{DataType: TypeGenericJSON},
			want:   []string{"MALFORMED_INPUT/INFO"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := categories(engine.Evaluate(tt.packet))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_SubjectAndContext(t *testing.T) {
	drafts := New(nil).Evaluate(models.DataPacket{
		DataType: TypeSensorCSV,
		Payload:  "patient_id,heart_rate\np9,140\np9,135\n",
	})
	if len(drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d", len(drafts))
	}
	if drafts[0].SubjectID != "p9" {
		t.Errorf("SubjectID = %q, want p9", drafts[0].SubjectID)
	}
	if drafts[0].Context["anomaly_count"] != "2" {
		t.Errorf("Context = %v", drafts[0].Context)
	}

	drafts = New(nil).Evaluate(models.DataPacket{
		DataType: TypeSensorReading, SourceID: "hub-3",
		Payload: map[string]any{"fall_detected": "true"},
	})
	if len(drafts) != 1 || drafts[0].SubjectID != "hub-3" || drafts[0].Score != 1.0 {
		t.Errorf("fall draft = %+v", drafts)
	}
}

func TestEvaluate_KeywordContext(t *testing.T) {
	drafts := New(nil).Evaluate(models.DataPacket{
		DataType: TypeEmergencyContact, SourceID: "family-app",
		Payload: map[string]any{"patient_id": "p4", "message": "emergency"},
	})
	if len(drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d", len(drafts))
	}
	d := drafts[0]
	if d.SubjectID != "p4" || d.Score != 0.7 {
		t.Errorf("draft = %+v", d)
	}
	want := map[string]string{"source_format": "JSON", "keywords_found": "emergency/urgent"}
	if !reflect.DeepEqual(d.Context, want) {
		t.Errorf("Context = %v, want %v", d.Context, want)
	}
}

func TestEvaluate_CustomThresholds(t *testing.T) {
	engine := New(alerting.Thresholds{"heart_rate_high": 100})
	drafts := engine.Evaluate(models.DataPacket{DataType: TypeVitalsJSON, Payload: map[string]any{"heart_rate": 110}})
	if len(drafts) != 1 || drafts[0].Severity != models.SeverityWarning {
		t.Errorf("custom threshold not applied: %+v", drafts)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	engine := New(nil)
	p := models.DataPacket{DataType: TypeSensorReading, Payload: map[string]any{
		"patient_id": "p1", "fall_detected": true, "vitals": map[string]any{"heart_rate": 160},
	}}
	first := engine.Evaluate(p)
	for i := 0; i < 10; i++ {
		if !reflect.DeepEqual(first, engine.Evaluate(p)) {
			t.Fatal("evaluation must be deterministic")
		}
	}
}

func TestDescriptions(t *testing.T) {
	engine := New(nil)
	if len(engine.DataTypes()) != 8 {
		t.Errorf("DataTypes() = %v", engine.DataTypes())
	}
	if len(engine.Severities()) != 4 {
		t.Errorf("Severities() = %v", engine.Severities())
	}
	if Domain().ID != DomainID {
		t.Errorf("Domain().ID = %q", Domain().ID)
	}
}
