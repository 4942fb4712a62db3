package queue

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sunflower/clinic/internal/domain/encounter"
	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/auth"
)

type Handler struct {
	projection *Projection
}

func NewHandler(p *Projection) *Handler {
	return &Handler{projection: p}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(encounter.StaffRoles...))
	g.GET("/queues/:station", h.GetQueue)
}

// Response is one station's queue.
type Response struct {
	Station encounter.Station      `json:"station"`
	Date    string                 `json:"date,omitempty"`
	Count   int                    `json:"count"`
	Items   []*encounter.Encounter `json:"items"`
}

// GetQueue accepts doctor_id=me to mean the calling user.
func (h *Handler) GetQueue(c echo.Context) error {
	station, ok := encounter.ParseStation(c.Param("station"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown station")
	}
	date, err := h.projection.DateFor(c.QueryParam("date"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	q := encounter.QueueQuery{
		Station:  station,
		Date:     date,
		DoctorID: c.QueryParam("doctor_id"),
	}
	if q.DoctorID == "me" {
		q.DoctorID = auth.UserIDFromContext(c.Request().Context())
	}
	if v := c.QueryParam("department_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid department_id")
		}
		q.DepartmentID = &id
	}

	items, err := h.projection.ListQueue(c.Request().Context(), q)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*encounter.Encounter{}
	}
	return c.JSON(http.StatusOK, Response{Station: station, Date: date, Count: len(items), Items: items})
}
