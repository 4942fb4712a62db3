package stationrecord

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sunflower/clinic/internal/domain/encounter"
	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/auth"
)

// maxPayloadBytes bounds a record body.
const maxPayloadBytes = 256 << 10

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(encounter.StaffRoles...))
	read.GET("/encounters/:id/records", h.ListRecords)
	read.GET("/encounters/:id/records/:kind", h.GetRecord)

	write := api.Group("", auth.RequireRole(
		string(encounter.RoleNurse), string(encounter.RoleDoctor), string(encounter.RoleLabTechnician)))
	write.PUT("/encounters/:id/records/:kind", h.PutRecord)
}

func parseParams(c echo.Context) (uuid.UUID, encounter.RecordKind, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, "", echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	kind := encounter.RecordKind(c.Param("kind"))
	if !kind.Valid() {
		return uuid.Nil, "", echo.NewHTTPError(http.StatusBadRequest, "unknown record kind")
	}
	return id, kind, nil
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, kind, err := parseParams(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Read(c.Request().Context(), id, kind)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListRecords(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.List(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Record{}
	}
	return c.JSON(http.StatusOK, items)
}

// PutRecord takes the record payload as the request body.
func (h *Handler) PutRecord(c echo.Context) error {
	id, kind, err := parseParams(c)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPayloadBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read request body")
	}
	if len(body) > maxPayloadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "record payload too large")
	}
	if !json.Valid(body) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}

	ctx := c.Request().Context()
	actor, err := encounter.ResolveActor(auth.UserIDFromContext(ctx), auth.RolesFromContext(ctx), kind.Station().Role())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	rec, err := h.svc.Write(ctx, id, kind, body, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	status := http.StatusOK
	if rec.Revision == 1 {
		status = http.StatusCreated
	}
	return c.JSON(status, rec)
}
