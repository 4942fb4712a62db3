package encounter

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/auth"
	"github.com/sunflower/clinic/pkg/pagination"
)

// StaffRoles may read encounters and queues.
var StaffRoles = []string{
	string(RoleReception), string(RoleNurse), string(RoleDoctor), string(RoleLabTechnician),
}

type Handler struct {
	svc    *Service
	queues QueueReader
}

func NewHandler(svc *Service, queues QueueReader) *Handler {
	return &Handler{svc: svc, queues: queues}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(StaffRoles...))
	read.GET("/encounters", h.ListEncounters)
	read.GET("/encounters/:id", h.GetEncounter)

	write := api.Group("", auth.RequireRole(string(RoleReception)))
	write.POST("/encounters", h.CreateEncounter)
}

// SetETag writes the encounter version as the response entity tag.
func SetETag(c echo.Context, enc *Encounter) {
	c.Response().Header().Set(HeaderETag, ETag(enc.Version))
}

func (h *Handler) CreateEncounter(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	actor, err := ResolveActor(auth.UserIDFromContext(ctx), auth.RolesFromContext(ctx), RoleReception)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	enc, err := h.svc.Create(ctx, req, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	SetETag(c, enc)
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	enc, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if v, ok := ParseETag(c.Request().Header.Get(HeaderIfNoneMatch)); ok && v == enc.Version {
		SetETag(c, enc)
		return c.NoContent(http.StatusNotModified)
	}
	SetETag(c, enc)
	return c.JSON(http.StatusOK, enc)
}

// ListEncounters serves a station queue when ?station= is given and the
// paginated encounter list otherwise.
func (h *Handler) ListEncounters(c echo.Context) error {
	ctx := c.Request().Context()

	var deptID *uuid.UUID
	if v := c.QueryParam("department_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid department_id")
		}
		deptID = &id
	}
	date := c.QueryParam("date")
	if date != "" {
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date: expected YYYY-MM-DD")
		}
	}

	if v := c.QueryParam("station"); v != "" {
		station, ok := ParseStation(v)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown station")
		}
		items, err := h.queues.ListQueue(ctx, QueueQuery{
			Station:      station,
			Date:         date,
			DepartmentID: deptID,
			DoctorID:     c.QueryParam("doctor_id"),
		})
		if err != nil {
			return apperr.ToHTTP(err)
		}
		if items == nil {
			items = []*Encounter{}
		}
		return c.JSON(http.StatusOK, items)
	}

	pg := pagination.FromContext(c)
	f := ListFilter{
		IntakeDate:   date,
		DepartmentID: deptID,
		DoctorID:     c.QueryParam("doctor_id"),
		Limit:        pg.Limit,
		Offset:       pg.Offset,
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	if v := c.QueryParam("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			f.Statuses = append(f.Statuses, Status(strings.TrimSpace(s)))
		}
	}
	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
