package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name: "all healthy",
			checkers: []Checker{
				NewDatabaseChecker("sqlite", fakePinger{}),
				NewFuncChecker("pipeline", func(context.Context) error { return nil }),
			},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"sqlite": "ok", "pipeline": "ok"},
		},
		{
			name: "database down",
			checkers: []Checker{
				NewDatabaseChecker("postgres", fakePinger{err: errors.New("connection refused")}),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"postgres": "connection refused"},
		},
		{
			name:       "nil database",
			checkers:   []Checker{NewDatabaseChecker("sqlite", nil)},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"sqlite": "database not initialized"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			for _, c := range tt.checkers {
				h.RegisterChecker(c)
			}
			rec := httptest.NewRecorder()
			h.Ready(rec, httptest.NewRequest("GET", "/health/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			for name, want := range tt.wantChecks {
				if resp.Checks[name] != want {
					t.Errorf("check %s = %q, want %q", name, resp.Checks[name], want)
				}
			}
		})
	}
}

func TestLiveAndHealth(t *testing.T) {
	h := NewHandler()
	for path, fn := range map[string]http.HandlerFunc{"/health": h.Health, "/health/live": h.Live} {
		rec := httptest.NewRecorder()
		fn(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}
