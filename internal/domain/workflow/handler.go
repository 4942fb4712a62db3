package workflow

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sunflower/clinic/internal/domain/encounter"
	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/auth"
)

// EncounterReader loads encounters for the available-actions endpoint.
type EncounterReader interface {
	Get(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
}

type Handler struct {
	engine     *Engine
	encounters EncounterReader
}

func NewHandler(engine *Engine, encounters EncounterReader) *Handler {
	return &Handler{engine: engine, encounters: encounters}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(encounter.StaffRoles...))
	g.PUT("/encounters/:id/transition", h.Transition)
	g.GET("/encounters/:id/actions", h.ListActions)
}

// TransitionRequest is the body of PUT /encounters/:id/transition.
// ExpectedVersion may be omitted when an If-Match header carries it.
type TransitionRequest struct {
	Action          Action          `json:"action"`
	ExpectedVersion *int            `json:"expected_version,omitempty"`
	Record          json.RawMessage `json:"record,omitempty"`
	Reason          string          `json:"reason,omitempty"`
}

func (h *Handler) Transition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req TransitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Action == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "action is required")
	}

	expected, err := expectedVersion(c, req.ExpectedVersion)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	prefer := RolesFor(req.Action)
	if req.Action == ActionStart || req.Action == ActionRelease {
		enc, err := h.encounters.Get(ctx, id)
		if err != nil {
			return apperr.ToHTTP(err)
		}
		prefer = PreferredRoles(req.Action, enc)
	}
	actor, err := encounter.ResolveActor(auth.UserIDFromContext(ctx), auth.RolesFromContext(ctx), prefer...)
	if err != nil {
		return apperr.ToHTTP(err)
	}

	enc, err := h.engine.Apply(ctx, Command{
		EncounterID:     id,
		Action:          req.Action,
		Actor:           actor,
		ExpectedVersion: expected,
		Record:          req.Record,
		Reason:          req.Reason,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	encounter.SetETag(c, enc)
	return c.JSON(http.StatusOK, enc)
}

// expectedVersion takes the version from the body, falling back to If-Match.
// When both are present they must agree.
func expectedVersion(c echo.Context, body *int) (int, error) {
	header := c.Request().Header.Get(encounter.HeaderIfMatch)
	var fromHeader int
	if header != "" {
		v, ok := encounter.ParseETag(header)
		if !ok {
			return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid If-Match header")
		}
		fromHeader = v
	}

	switch {
	case body != nil && header != "" && *body != fromHeader:
		return 0, echo.NewHTTPError(http.StatusBadRequest, "expected_version does not match If-Match")
	case body != nil:
		if *body < 1 {
			return 0, echo.NewHTTPError(http.StatusBadRequest, "expected_version must be positive")
		}
		return *body, nil
	case header != "":
		return fromHeader, nil
	default:
		return 0, echo.NewHTTPError(http.StatusBadRequest, "expected_version or If-Match is required")
	}
}

// ListActions reports which actions the encounter's current state admits.
func (h *Handler) ListActions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	enc, err := h.encounters.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	actions := Available(enc)
	if actions == nil {
		actions = []Action{}
	}
	encounter.SetETag(c, enc)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"encounter_id": enc.ID,
		"status":       enc.Status,
		"version":      enc.Version,
		"actions":      actions,
	})
}
