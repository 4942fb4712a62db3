package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/sunflower/clinic/internal/domain/encounter"
	"github.com/sunflower/clinic/internal/platform/auth"
)

func transitionContext(e *echo.Echo, id, body, ifMatch, user string, roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if ifMatch != "" {
		req.Header.Set(encounter.HeaderIfMatch, ifMatch)
	}
	req = req.WithContext(auth.WithIdentity(context.Background(), user, roles...))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c, rec
}

func TestHandler_Transition(t *testing.T) {
	env := newEnv(t)
	h := NewHandler(env.engine, env.encSvc)
	enc := env.create(t, encounter.VisitConsultation, "")

	body := `{"action":"submit_screening","expected_version":1,"record":` + payloads[encounter.RecordScreening] + `}`
	c, rec := transitionContext(echo.New(), enc.ID.String(), body, "", "nurse-1", "nurse")
	if err := h.Transition(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get(encounter.HeaderETag); got != `W/"2"` {
		t.Errorf("expected ETag W/\"2\", got %q", got)
	}
	var out encounter.Encounter
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != encounter.StatusWaitingDoctorReview {
		t.Errorf("expected waiting_doctor_review, got %s", out.Status)
	}
}

func TestHandler_Transition_IfMatch(t *testing.T) {
	env := newEnv(t)
	h := NewHandler(env.engine, env.encSvc)
	enc := env.create(t, encounter.VisitConsultation, "")

	// A user holding several roles acts under the one the action needs.
	c, rec := transitionContext(echo.New(), enc.ID.String(), `{"action":"start"}`, `W/"1"`, "multi-1", "reception", "nurse")
	if err := h.Transition(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_Transition_Errors(t *testing.T) {
	env := newEnv(t)
	h := NewHandler(env.engine, env.encSvc)
	enc := env.create(t, encounter.VisitConsultation, "")
	id := enc.ID.String()

	tests := []struct {
		name    string
		id      string
		body    string
		ifMatch string
		roles   []string
		want    int
	}{
		{"bad id", "nope", `{"action":"start","expected_version":1}`, "", []string{"nurse"}, http.StatusBadRequest},
		{"missing action", id, `{"expected_version":1}`, "", []string{"nurse"}, http.StatusBadRequest},
		{"missing version", id, `{"action":"start"}`, "", []string{"nurse"}, http.StatusBadRequest},
		{"bad if-match", id, `{"action":"start"}`, `W/"x"`, []string{"nurse"}, http.StatusBadRequest},
		{"version mismatch", id, `{"action":"start","expected_version":1}`, `W/"2"`, []string{"nurse"}, http.StatusBadRequest},
		{"stale version", id, `{"action":"start","expected_version":7}`, "", []string{"nurse"}, http.StatusConflict},
		{"nurse orders lab", id, `{"action":"order_lab","expected_version":1}`, "", []string{"nurse"}, http.StatusForbidden},
		{"wrong stage", id, `{"action":"submit_lab","expected_version":1}`, "", []string{"lab_technician"}, http.StatusConflict},
		{"missing record", id, `{"action":"submit_screening","expected_version":1}`, "", []string{"nurse"}, http.StatusUnprocessableEntity},
		{"unknown action", id, `{"action":"teleport","expected_version":1}`, "", []string{"nurse"}, http.StatusConflict},
		{"no workflow role", id, `{"action":"start","expected_version":1}`, "", []string{"billing"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := transitionContext(echo.New(), tt.id, tt.body, tt.ifMatch, "user-1", tt.roles...)
			err := h.Transition(c)
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != tt.want {
				t.Fatalf("expected %d, got %v", tt.want, err)
			}
		})
	}
}

func TestHandler_ListActions(t *testing.T) {
	env := newEnv(t)
	h := NewHandler(env.engine, env.encSvc)
	enc := env.create(t, encounter.VisitConsultation, encounter.StatusPending)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(enc.ID.String())

	if err := h.ListActions(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Status  string   `json:"status"`
		Actions []string `json:"actions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "pending" {
		t.Errorf("expected pending, got %s", body.Status)
	}
	want := []string{"check_in", "confirm", "cancel"}
	if strings.Join(body.Actions, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, body.Actions)
	}
}

func TestHandler_Transition_StartPicksStageRole(t *testing.T) {
	env := newEnv(t)
	h := NewHandler(env.engine, env.encSvc)
	enc := env.must(t, env.create(t, encounter.VisitConsultation, ""), ActionSubmitScreening, nurse, encounter.RecordScreening)

	c, rec := transitionContext(echo.New(), enc.ID.String(), `{"action":"start","expected_version":2}`, "", "dr-9", "nurse", "doctor")
	if err := h.Transition(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out encounter.Encounter
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != encounter.StatusInProgress || out.HeldBy == nil || *out.HeldBy != encounter.StationDoctor {
		t.Errorf("expected the doctor station to hold the encounter, got %+v", out)
	}
	if out.DoctorID == nil || *out.DoctorID != "dr-9" {
		t.Errorf("expected dr-9 assigned, got %v", out.DoctorID)
	}
}

func TestHandler_Transition_AdminDoesNotClaimEncounter(t *testing.T) {
	env := newEnv(t)
	h := NewHandler(env.engine, env.encSvc)
	enc := env.must(t, env.create(t, encounter.VisitConsultation, ""), ActionSubmitScreening, nurse, encounter.RecordScreening)

	body := `{"action":"order_lab","expected_version":2,"record":` + payloads[encounter.RecordDoctorReview] + `}`
	c, rec := transitionContext(echo.New(), enc.ID.String(), body, "", "ops-admin", "admin")
	if err := h.Transition(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out encounter.Encounter
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.DoctorID != nil {
		t.Fatalf("admin must not become the assigned doctor, got %s", *out.DoctorID)
	}

	lab := `{"action":"submit_lab","expected_version":3,"record":` + payloads[encounter.RecordLab] + `}`
	c, _ = transitionContext(echo.New(), enc.ID.String(), lab, "", "lt-1", "lab_technician")
	if err := h.Transition(c); err != nil {
		t.Fatalf("submit_lab: %v", err)
	}
	c, rec = transitionContext(echo.New(), enc.ID.String(), `{"action":"prescribe_directly","expected_version":4}`, "", "dr-1", "doctor")
	if err := h.Transition(c); err != nil {
		t.Fatalf("real doctor locked out: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
