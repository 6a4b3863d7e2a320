package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/origami/internal/models"
)

type fakeEngine struct {
	types    []string
	sev      []models.Severity
	evaluate func(models.DataPacket) []models.AlertDraft
}

func (f *fakeEngine) Evaluate(p models.DataPacket) []models.AlertDraft {
	if f.evaluate == nil {
		return nil
	}
	return f.evaluate(p)
}

func (f *fakeEngine) Severities() []models.Severity { return f.sev }
func (f *fakeEngine) DataTypes() []string          { return f.types }

func newFakeEngine(evaluate func(models.DataPacket) []models.AlertDraft) *fakeEngine {
	return &fakeEngine{
		types:    []string{"reading"},
		sev:      []models.Severity{models.SeverityInfo, models.SeverityWarning, models.SeverityCritical},
		evaluate: evaluate,
	}
}

// stepClock returns a clock that advances one millisecond per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("alert-%d", n)
	}
}

func newTestRegistry() *Registry {
	return New(WithClock(stepClock()), WithIDGenerator(seqIDs()))
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name    string
		domain  models.Domain
		engine  Engine
		wantErr error
	}{
		{
			name:   "valid",
			domain: models.Domain{ID: "farm"},
			engine: newFakeEngine(nil),
		},
		{
			name:    "empty id",
			domain:  models.Domain{},
			engine:  newFakeEngine(nil),
			wantErr: ErrInvalidPlugin,
		},
		{
			name:    "nil engine",
			domain:  models.Domain{ID: "farm"},
			engine:  nil,
			wantErr: ErrInvalidPlugin,
		},
		{
			name:    "no data types",
			domain:  models.Domain{ID: "farm"},
			engine:  &fakeEngine{sev: []models.Severity{models.SeverityInfo}},
			wantErr: ErrInvalidPlugin,
		},
		{
			name:    "no severities",
			domain:  models.Domain{ID: "farm"},
			engine:  &fakeEngine{types: []string{"reading"}},
			wantErr: ErrInvalidPlugin,
		},
		{
			name:    "domain data type not handled",
			domain:  models.Domain{ID: "farm", DataTypes: []string{"reading", "photo"}},
			engine:  newFakeEngine(nil),
			wantErr: ErrInvalidPlugin,
		},
		{
			name:    "domain severity not emitted",
			domain:  models.Domain{ID: "farm", Severities: []models.Severity{models.SeverityEmergency}},
			engine:  newFakeEngine(nil),
			wantErr: ErrInvalidPlugin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			err := r.Register(tt.domain, tt.engine)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
			var ipe *InvalidPluginError
			if !errors.As(err, &ipe) {
				t.Errorf("expected *InvalidPluginError, got %T", err)
			}
		})
	}
}

func TestRegister_FillsFromEngine(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(models.Domain{ID: "farm"}, newFakeEngine(nil)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	d, ok := r.Domain("farm")
	if !ok {
		t.Fatal("domain not found")
	}
	if len(d.DataTypes) != 1 || d.DataTypes[0] != "reading" {
		t.Errorf("DataTypes = %v", d.DataTypes)
	}
	if len(d.Severities) != 3 {
		t.Errorf("Severities = %v", d.Severities)
	}
	if d.Name != "farm" {
		t.Errorf("Name = %q", d.Name)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := newTestRegistry()
	first := newFakeEngine(func(p models.DataPacket) []models.AlertDraft {
		return []models.AlertDraft{{Category: "FIRST", Severity: models.SeverityInfo}}
	})
	if err := r.Register(models.Domain{ID: "farm", Name: "Farm"}, first); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := r.Register(models.Domain{ID: "farm", Name: "Other"}, newFakeEngine(nil))
	var dup *DuplicateDomainError
	if !errors.As(err, &dup) || !errors.Is(err, ErrDuplicateDomain) {
		t.Fatalf("expected DuplicateDomainError, got %v", err)
	}

	d, _ := r.Domain("farm")
	if d.Name != "Farm" {
		t.Errorf("first registration must stay intact, got name %q", d.Name)
	}
	alerts, err := r.Dispatch(context.Background(), models.DataPacket{DomainID: "farm", DataType: "reading"})
	if err != nil || len(alerts) != 1 || alerts[0].Category != "FIRST" {
		t.Errorf("first engine must still serve dispatch, got %v, %v", alerts, err)
	}
}

func TestRegister_DefensiveCopy(t *testing.T) {
	r := newTestRegistry()
	d := models.Domain{ID: "farm", DataTypes: []string{"reading"}}
	if err := r.Register(d, newFakeEngine(nil)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	d.DataTypes[0] = "mutated"

	got, _ := r.Domain("farm")
	if got.DataTypes[0] != "reading" {
		t.Error("registered domain must not alias caller slices")
	}
}

func TestDispatch_RoutingErrors(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(models.Domain{ID: "farm"}, newFakeEngine(nil)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ctx := context.Background()

	_, err := r.Dispatch(ctx, models.DataPacket{DomainID: "nope", DataType: "reading"})
	var ude *UnknownDomainError
	if !errors.As(err, &ude) || !errors.Is(err, ErrUnknownDomain) {
		t.Errorf("expected UnknownDomainError, got %v", err)
	}

	_, err = r.Dispatch(ctx, models.DataPacket{DomainID: "farm", DataType: "photo"})
	var ute *UnsupportedDataTypeError
	if !errors.As(err, &ute) || !errors.Is(err, ErrUnsupportedDataType) {
		t.Errorf("expected UnsupportedDataTypeError, got %v", err)
	}
	if ute != nil && ute.DataType != "photo" {
		t.Errorf("DataType = %q", ute.DataType)
	}
}

func TestDispatch_StampsAlerts(t *testing.T) {
	r := newTestRegistry()
	engine := newFakeEngine(func(p models.DataPacket) []models.AlertDraft {
		return []models.AlertDraft{
			{SubjectID: "field-7", Category: "DROUGHT", Severity: models.SeverityWarning},
			{Category: "FROST", Severity: models.SeverityCritical},
		}
	})
	if err := r.Register(models.Domain{ID: "farm"}, engine); err != nil {
		t.Fatalf("Register: %v", err)
	}

	alerts, err := r.Dispatch(context.Background(), models.DataPacket{
		ID: "pkt-1", DomainID: "farm", DataType: "reading", SourceID: "sensor-1",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	if alerts[0].Category != "DROUGHT" || alerts[1].Category != "FROST" {
		t.Errorf("emission order not preserved: %v, %v", alerts[0].Category, alerts[1].Category)
	}
	if !alerts[0].CreatedAt.Before(alerts[1].CreatedAt) {
		t.Error("alerts should be ordered by creation time")
	}
	for _, a := range alerts {
		if a.ID == "" || a.DomainID != "farm" || a.PacketID != "pkt-1" {
			t.Errorf("alert not stamped: %+v", a)
		}
	}
	if alerts[1].SubjectID != "sensor-1" {
		t.Errorf("empty subject should default to source id, got %q", alerts[1].SubjectID)
	}
}

func TestDispatch_WellTypedNeverFails(t *testing.T) {
	r := newTestRegistry()
	panicky := newFakeEngine(func(p models.DataPacket) []models.AlertDraft {
		panic("index out of range")
	})
	offScale := newFakeEngine(func(p models.DataPacket) []models.AlertDraft {
		return []models.AlertDraft{{Category: "ODD", Severity: "SEVERE"}}
	})
	if err := r.Register(models.Domain{ID: "panicky"}, panicky); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(models.Domain{ID: "odd"}, offScale); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	alerts, err := r.Dispatch(ctx, models.DataPacket{DomainID: "panicky", DataType: "reading"})
	if err != nil {
		t.Fatalf("Dispatch after panic: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Category != models.CategoryMalformedInput || alerts[0].Severity != models.SeverityInfo {
		t.Errorf("expected single malformed INFO alert, got %+v", alerts)
	}

	alerts, err = r.Dispatch(ctx, models.DataPacket{DomainID: "odd", DataType: "reading"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if alerts[0].Severity != models.SeverityInfo {
		t.Errorf("off-scale severity should become INFO, got %q", alerts[0].Severity)
	}
}

func TestDispatch_CancelledContext(t *testing.T) {
	r := newTestRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Dispatch(ctx, models.DataPacket{DomainID: "farm"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestAggregateStats(t *testing.T) {
	r := newTestRegistry()
	engine := newFakeEngine(func(p models.DataPacket) []models.AlertDraft {
		f, _ := models.AsFields(p.Payload)
		if f.Bool("bad") {
			return []models.AlertDraft{
				{Category: "A", Severity: models.SeverityCritical},
				{Category: "B", Severity: models.SeverityWarning},
			}
		}
		return nil
	})
	if err := r.Register(models.Domain{ID: "farm"}, engine); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(models.Domain{ID: "quiet"}, newFakeEngine(nil)); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		payload := map[string]any{"bad": i != 1}
		if _, err := r.Dispatch(ctx, models.DataPacket{DomainID: "farm", DataType: "reading", Payload: payload}); err != nil {
			t.Fatal(err)
		}
	}

	stats := r.AggregateStats()
	farm := stats["farm"]
	if farm.Packets != 3 || farm.TotalAlerts != 4 {
		t.Errorf("farm stats = %+v", farm)
	}
	if farm.AlertsBySeverity[models.SeverityCritical] != 2 || farm.AlertsBySeverity[models.SeverityWarning] != 2 {
		t.Errorf("by severity = %v", farm.AlertsBySeverity)
	}
	if farm.AlertsByCategory["A"] != 2 {
		t.Errorf("by category = %v", farm.AlertsByCategory)
	}
	if q, ok := stats["quiet"]; !ok || q.TotalAlerts != 0 || q.AlertsBySeverity[models.SeverityInfo] != 0 {
		t.Errorf("quiet stats = %+v", q)
	}

	// Stats is a pure fold.
	again := r.AggregateStats()
	if again["farm"].TotalAlerts != farm.TotalAlerts {
		t.Error("AggregateStats must not change state")
	}
}

func TestRestoreAndHistory(t *testing.T) {
	r := newTestRegistry()
	if err := r.Register(models.Domain{ID: "farm"}, newFakeEngine(nil)); err != nil {
		t.Fatal(err)
	}

	restored := []models.Alert{
		{ID: "a1", DomainID: "farm", Severity: models.SeverityWarning, Category: "DROUGHT"},
	}
	if err := r.Restore("farm", restored); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if h := r.History("farm"); len(h) != 1 || h[0].ID != "a1" {
		t.Errorf("History = %v", h)
	}
	if r.AggregateStats()["farm"].AlertsBySeverity[models.SeverityWarning] != 1 {
		t.Error("restored history should feed stats")
	}

	if err := r.Restore("farm", []models.Alert{{ID: "x", DomainID: "other"}}); err == nil {
		t.Error("expected error for foreign alert")
	}
	if err := r.Restore("missing", nil); !errors.Is(err, ErrUnknownDomain) {
		t.Errorf("expected ErrUnknownDomain, got %v", err)
	}
}

func TestHistoryLimit(t *testing.T) {
	r := New(WithClock(stepClock()), WithIDGenerator(seqIDs()), WithHistoryLimit(2))
	engine := newFakeEngine(func(p models.DataPacket) []models.AlertDraft {
		return []models.AlertDraft{{Category: "X", Severity: models.SeverityInfo}}
	})
	if err := r.Register(models.Domain{ID: "farm"}, engine); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		r.Dispatch(context.Background(), models.DataPacket{DomainID: "farm", DataType: "reading"})
	}
	h := r.History("farm")
	if len(h) != 2 || h[1].ID != "alert-5" {
		t.Errorf("History = %v", h)
	}
}

func TestUnregisterAndReset(t *testing.T) {
	r := newTestRegistry()
	r.Register(models.Domain{ID: "a"}, newFakeEngine(nil))
	r.Register(models.Domain{ID: "b"}, newFakeEngine(nil))

	if !r.Unregister("a") {
		t.Error("Unregister(a) = false")
	}
	if r.Unregister("a") {
		t.Error("second Unregister(a) should be false")
	}
	if got := r.Domains(); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("Domains() = %v", got)
	}

	r.Reset()
	if len(r.Domains()) != 0 {
		t.Error("Reset should drop all domains")
	}
	if err := r.Register(models.Domain{ID: "b"}, newFakeEngine(nil)); err != nil {
		t.Errorf("re-register after reset: %v", err)
	}
}

func TestDispatch_Concurrent(t *testing.T) {
	r := newTestRegistry()
	engine := newFakeEngine(func(p models.DataPacket) []models.AlertDraft {
		return []models.AlertDraft{{Category: "X", Severity: models.SeverityWarning}}
	})
	if err := r.Register(models.Domain{ID: "farm"}, engine); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Dispatch(context.Background(), models.DataPacket{DomainID: "farm", DataType: "reading"})
				r.AggregateStats()
			}
		}()
	}
	wg.Wait()

	if got := r.AggregateStats()["farm"].TotalAlerts; got != 1000 {
		t.Errorf("TotalAlerts = %d, want 1000", got)
	}
	seen := make(map[string]bool)
	for _, a := range r.History("farm") {
		if seen[a.ID] {
			t.Fatalf("duplicate alert id %s", a.ID)
		}
		seen[a.ID] = true
	}
}
