package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

const attachmentRoute = "/api/v1/encounters/:id/attachments/:attachment_id"

func serveWithHeaders(t *testing.T, cfg SecurityHeadersConfig, req *http.Request, route string, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(route)
	return rec, SecurityHeaders(cfg)(handler)(c)
}

func TestSecurityHeaders(t *testing.T) {
	cfg := SecurityHeadersConfig{HSTSMaxAge: 24 * time.Hour, DownloadRoutes: []string{attachmentRoute}}

	tlsReq := httptest.NewRequest(http.MethodGet, "/api/v1/queues/doctor", nil)
	tlsReq.TLS = &tls.ConnectionState{}
	proxied := httptest.NewRequest(http.MethodGet, "/api/v1/queues/doctor", nil)
	proxied.Header.Set(echo.HeaderXForwardedProto, "https")

	tests := []struct {
		name     string
		cfg      SecurityHeadersConfig
		req      *http.Request
		route    string
		wantCSP  string
		wantHSTS string
	}{
		{
			name:    "plain http api call",
			cfg:     cfg,
			req:     httptest.NewRequest(http.MethodGet, "/api/v1/queues/doctor", nil),
			route:   "/api/v1/queues/:station",
			wantCSP: apiContentSecurityPolicy,
		},
		{
			name:     "tls api call",
			cfg:      cfg,
			req:      tlsReq,
			route:    "/api/v1/queues/:station",
			wantCSP:  apiContentSecurityPolicy,
			wantHSTS: "max-age=86400; includeSubDomains",
		},
		{
			name:     "https behind proxy",
			cfg:      cfg,
			req:      proxied,
			route:    "/api/v1/queues/:station",
			wantCSP:  apiContentSecurityPolicy,
			wantHSTS: "max-age=86400; includeSubDomains",
		},
		{
			name:    "hsts disabled",
			cfg:     SecurityHeadersConfig{},
			req:     tlsReq,
			route:   "/api/v1/queues/:station",
			wantCSP: apiContentSecurityPolicy,
		},
		{
			name:    "attachment download is sandboxed",
			cfg:     cfg,
			req:     httptest.NewRequest(http.MethodGet, "/api/v1/encounters/e1/attachments/a1", nil),
			route:   attachmentRoute,
			wantCSP: downloadContentSecurityPolicy,
		},
		{
			name:    "attachment listing is not",
			cfg:     cfg,
			req:     httptest.NewRequest(http.MethodGet, "/api/v1/encounters/e1/attachments", nil),
			route:   "/api/v1/encounters/:id/attachments",
			wantCSP: apiContentSecurityPolicy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := serveWithHeaders(t, tt.cfg, tt.req, tt.route, func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			h := rec.Header()
			if got := h.Get("Content-Security-Policy"); got != tt.wantCSP {
				t.Errorf("Content-Security-Policy = %q, want %q", got, tt.wantCSP)
			}
			if got := h.Get("Strict-Transport-Security"); got != tt.wantHSTS {
				t.Errorf("Strict-Transport-Security = %q, want %q", got, tt.wantHSTS)
			}
			for header, want := range map[string]string{
				"Cache-Control":          "no-store",
				"Pragma":                 "no-cache",
				"X-Content-Type-Options": "nosniff",
				"X-Frame-Options":        "DENY",
				"Referrer-Policy":        "no-referrer",
			} {
				if got := h.Get(header); got != want {
					t.Errorf("%s = %q, want %q", header, got, want)
				}
			}
		})
	}
}

func TestSecurityHeaders_SetBeforeHandlerError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/encounters", nil)
	rec, err := serveWithHeaders(t, SecurityHeadersConfig{}, req, "/api/v1/encounters", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "stale version")
	})
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("err = %v, want the handler's 409", err)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("error responses must not be cacheable")
	}
}
