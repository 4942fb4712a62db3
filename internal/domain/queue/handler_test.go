package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sunflower/clinic/internal/domain/encounter"
	"github.com/sunflower/clinic/internal/platform/auth"
)

type stubSource struct {
	got   encounter.QueueFilter
	items []*encounter.Encounter
}

func (s *stubSource) ListQueue(_ context.Context, f encounter.QueueFilter) ([]*encounter.Encounter, error) {
	s.got = f
	return s.items, nil
}

type fixedClock string

func (c fixedClock) Today() string { return string(c) }

func newQueueContext(station, query string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	req = req.WithContext(auth.WithIdentity(context.Background(), "dr-7", "doctor"))
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetParamNames("station")
	c.SetParamValues(station)
	return c, rec
}

func TestHandler_GetQueue(t *testing.T) {
	src := &stubSource{items: []*encounter.Encounter{{ID: uuid.New(), Status: encounter.StatusWaitingDoctorReview}}}
	h := NewHandler(NewProjection(src, fixedClock("2026-03-02"), nil))

	c, rec := newQueueContext("doctor", "doctor_id=me")
	if err := h.GetQueue(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if src.got.DoctorID != "dr-7" {
		t.Errorf("expected doctor_id=me to resolve to the caller, got %q", src.got.DoctorID)
	}
	if src.got.IntakeDate != "" {
		t.Errorf("expected no date filter by default, got %q", src.got.IntakeDate)
	}
	if src.got.HeldBy != encounter.StationDoctor || len(src.got.Statuses) != 1 {
		t.Errorf("unexpected filter %+v", src.got)
	}

	var body Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Date != "" || body.Station != encounter.StationDoctor {
		t.Errorf("unexpected response %+v", body)
	}
}

func TestHandler_GetQueue_Alias(t *testing.T) {
	src := &stubSource{}
	h := NewHandler(NewProjection(src, fixedClock("2026-03-02"), nil))

	c, rec := newQueueContext("nurse", "date=2026-03-01")
	if err := h.GetQueue(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.got.HeldBy != encounter.StationScreening {
		t.Errorf("expected screening station, got %s", src.got.HeldBy)
	}
	if src.got.IntakeDate != "2026-03-01" {
		t.Errorf("expected requested date, got %s", src.got.IntakeDate)
	}
	var body Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Items == nil {
		t.Error("expected an empty list, not null")
	}
}

func TestHandler_GetQueue_Today(t *testing.T) {
	src := &stubSource{}
	h := NewHandler(NewProjection(src, fixedClock("2026-03-02"), nil))

	c, rec := newQueueContext("lab", "date=today")
	if err := h.GetQueue(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.got.IntakeDate != "2026-03-02" {
		t.Errorf("expected the clinic day, got %q", src.got.IntakeDate)
	}
	var body Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Date != "2026-03-02" {
		t.Errorf("expected the resolved date in the response, got %q", body.Date)
	}
}

func TestHandler_GetQueue_Errors(t *testing.T) {
	h := NewHandler(NewProjection(&stubSource{}, fixedClock("2026-03-02"), nil))

	tests := []struct {
		name    string
		station string
		query   string
		want    int
	}{
		{"unknown station", "pharmacy", "", http.StatusBadRequest},
		{"bad department", "lab", "department_id=x", http.StatusBadRequest},
		{"bad date", "lab", "date=tomorrow", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newQueueContext(tt.station, tt.query)
			err := h.GetQueue(c)
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != tt.want {
				t.Fatalf("expected %d, got %v", tt.want, err)
			}
		})
	}
}
