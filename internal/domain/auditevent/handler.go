package auditevent

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/auth"
	"github.com/sunflower/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole("reception", "nurse", "doctor", "lab_technician"))
	staff.GET("/encounters/:id/audit", h.ListEncounterAudit)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.GET("/audit-events", h.ListAuditEvents)
}

func (h *Handler) ListEncounterAudit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListByEncounter(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Event{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListAuditEvents(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		ActorID: c.QueryParam("actor_id"),
		Action:  c.QueryParam("action"),
		Limit:   pg.Limit,
		Offset:  pg.Offset,
	}
	if v := c.QueryParam("encounter_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter_id")
		}
		f.EncounterID = &id
	}
	var err error
	if f.Since, err = parseTimeParam(c, "since"); err != nil {
		return err
	}
	if f.Until, err = parseTimeParam(c, "until"); err != nil {
		return err
	}

	items, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func parseTimeParam(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+": expected RFC3339")
	}
	return &t, nil
}
