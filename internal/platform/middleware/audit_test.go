package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sunflower/clinic/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AccessEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AccessEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) last() AccessEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newTestContext(method, path string, opts ...func(*http.Request)) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func withAuth(userID string, roles ...string) func(*http.Request) {
	return func(req *http.Request) {
		*req = *req.WithContext(auth.WithIdentity(req.Context(), userID, roles...))
	}
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestAudit_EncounterSubResource(t *testing.T) {
	rec := &mockRecorder{}
	id := uuid.NewString()
	c, _ := newTestContext(http.MethodPut, "/api/v1/encounters/"+id+"/records/screening", withAuth("nurse-1", "nurse"))
	c.Set("request_id", "req-1")
	c.Set("tenant_id", "north")

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	got := rec.last()
	if got.Resource != "encounters" || got.EncounterID != id || got.SubResource != "records" {
		t.Errorf("unexpected path breakdown: %+v", got)
	}
	if got.Action != "update" || got.UserID != "nurse-1" || got.RequestID != "req-1" || got.TenantID != "north" {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", got.StatusCode)
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	rec := &mockRecorder{}
	for _, p := range []string{"/health", "/metrics", "/api/v2/encounters"} {
		c, _ := newTestContext(http.MethodGet, p)
		if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
			t.Fatalf("%s: unexpected error: %v", p, err)
		}
	}
	if rec.count() != 0 {
		t.Errorf("expected no entries, got %d", rec.count())
	}
}

func TestAudit_CapturesErrorStatus(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newTestContext(http.MethodGet, "/api/v1/encounters/"+uuid.NewString(), withAuth("rec-1", "reception"))

	failing := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	err := Audit(zerolog.Nop(), rec)(failing)(c)
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if got := rec.last().StatusCode; got != http.StatusNotFound {
		t.Errorf("expected 404 in entry, got %d", got)
	}
}

func TestAudit_RecorderFailureDoesNotFailRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	rec := &mockRecorder{err: errors.New("disk full")}
	c, res := newTestContext(http.MethodGet, "/api/v1/queues/lab", withAuth("lt-1", "lab_technician"))

	if err := Audit(logger, rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(buf.String(), "failed to record access entry") {
		t.Errorf("expected recorder failure to be logged, got %s", buf.String())
	}
}

func TestAudit_LogsStructuredEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	id := uuid.NewString()
	c, _ := newTestContext(http.MethodPost, "/api/v1/encounters/"+id+"/attachments", withAuth("lt-1", "lab_technician"))

	if err := Audit(logger)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["type"] != "phi_access" || line["action"] != "create" || line["encounter_id"] != id || line["sub_resource"] != "attachments" {
		t.Errorf("unexpected log line: %v", line)
	}
}

func TestAudit_RecorderFunc(t *testing.T) {
	var got []AccessEntry
	fn := AccessRecorderFunc(func(e AccessEntry) error {
		got = append(got, e)
		return nil
	})
	c, _ := newTestContext(http.MethodGet, "/api/v1/audit-events")
	if err := Audit(zerolog.Nop(), nil, fn)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Resource != "audit-events" {
		t.Errorf("unexpected entries: %+v", got)
	}
}

func TestSplitAPIPath(t *testing.T) {
	id := uuid.NewString()
	tests := []struct {
		path                  string
		resource, encID, sub string
	}{
		{"/api/v1/encounters", "encounters", "", ""},
		{"/api/v1/encounters/", "encounters", "", ""},
		{"/api/v1/encounters/" + id, "encounters", id, ""},
		{"/api/v1/encounters/" + id + "/transition", "encounters", id, "transition"},
		{"/api/v1/encounters/not-a-uuid/records", "encounters", "", "records"},
		{"/api/v1/queues/nurse", "queues", "", ""},
		{"/api/v1/", "unknown", "", ""},
	}
	for _, tt := range tests {
		r, e, s := splitAPIPath(tt.path)
		if r != tt.resource || e != tt.encID || s != tt.sub {
			t.Errorf("splitAPIPath(%q) = %q, %q, %q", tt.path, r, e, s)
		}
	}
}

func TestHTTPMethodToAction(t *testing.T) {
	cases := map[string]string{
		http.MethodGet:    "read",
		http.MethodHead:   "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for m, want := range cases {
		if got := httpMethodToAction(m); got != want {
			t.Errorf("%s: got %s, want %s", m, got, want)
		}
	}
}
