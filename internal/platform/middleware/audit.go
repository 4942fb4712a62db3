package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sunflower/clinic/internal/platform/auth"
)

const apiPrefix = "/api/v1/"

// AccessEntry is one read or write of patient data through the API. It is
// separate from the workflow audit trail, which only records accepted
// transitions and record writes.
type AccessEntry struct {
	UserID      string
	UserRoles   []string
	Resource    string // encounters, queues, audit-events
	SubResource string // records, attachments, transition, ...
	EncounterID string
	Action      string // read, create, update, delete
	IPAddress   string
	UserAgent   string
	Path        string
	Method      string
	Timestamp   time.Time
	RequestID   string
	TenantID    string
	StatusCode  int
}

// AccessRecorder persists access entries somewhere other than the log.
type AccessRecorder interface {
	RecordAccess(entry AccessEntry) error
}

type AccessRecorderFunc func(entry AccessEntry) error

func (f AccessRecorderFunc) RecordAccess(entry AccessEntry) error {
	return f(entry)
}

// Audit logs every request under /api/v1/ as a phi_access event after the
// handler has run. Recorders, when given, also receive the entry; their
// failures are logged and never fail the request.
func Audit(logger zerolog.Logger, recorders ...AccessRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, apiPrefix) {
				return next(c)
			}

			err := next(c)

			entry := AccessEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
				Action:     httpMethodToAction(req.Method),
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.TenantID, _ = c.Get("tenant_id").(string)
			entry.Resource, entry.EncounterID, entry.SubResource = splitAPIPath(path)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record access entry")
				}
			}

			logger.Info().
				Str("type", "phi_access").
				Str("request_id", entry.RequestID).
				Str("tenant_id", entry.TenantID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("sub_resource", entry.SubResource).
				Str("encounter_id", entry.EncounterID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// splitAPIPath breaks /api/v1/<resource>[/<id>[/<sub>]] apart. The id is
// only reported for encounters and only when it parses as a uuid.
//
//   - /api/v1/encounters                      -> encounters, "", ""
//   - /api/v1/encounters/<id>/records/lab     -> encounters, <id>, records
//   - /api/v1/queues/nurse                    -> queues, "", ""
func splitAPIPath(path string) (resource, encounterID, sub string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, apiPrefix), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown", "", ""
	}
	resource = segments[0]
	if resource != "encounters" || len(segments) < 2 {
		return resource, "", ""
	}
	if _, err := uuid.Parse(segments[1]); err == nil {
		encounterID = segments[1]
	}
	if len(segments) > 2 {
		sub = segments[2]
	}
	return resource, encounterID, sub
}
