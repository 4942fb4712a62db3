package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	apiContentSecurityPolicy      = "default-src 'none'; frame-ancestors 'none'"
	downloadContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'; sandbox"
)

// SecurityHeadersConfig tunes SecurityHeaders.
type SecurityHeadersConfig struct {
	// HSTSMaxAge is announced only on requests that arrived over https,
	// directly or behind a proxy setting X-Forwarded-Proto. Zero disables it.
	HSTSMaxAge time.Duration
	// DownloadRoutes are route patterns that stream stored lab files. Their
	// responses are sandboxed so an uploaded document cannot run script.
	DownloadRoutes []string
}

// SecurityHeaders sets response headers for a JSON API that serves patient
// data. Nothing it returns may be cached by a browser or a proxy.
func SecurityHeaders(cfg SecurityHeadersConfig) echo.MiddlewareFunc {
	downloads := make(map[string]bool, len(cfg.DownloadRoutes))
	for _, r := range cfg.DownloadRoutes {
		downloads[r] = true
	}
	hsts := ""
	if cfg.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.FormatInt(int64(cfg.HSTSMaxAge/time.Second), 10) + "; includeSubDomains"
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			if downloads[c.Path()] {
				h.Set("Content-Security-Policy", downloadContentSecurityPolicy)
			} else {
				h.Set("Content-Security-Policy", apiContentSecurityPolicy)
			}
			if hsts != "" && c.Scheme() == "https" {
				h.Set("Strict-Transport-Security", hsts)
			}
			return next(c)
		}
	}
}
