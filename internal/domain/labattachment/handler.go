package labattachment

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sunflower/clinic/internal/domain/encounter"
	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// DownloadRoute streams one stored file.
const DownloadRoute = "/encounters/:id/attachments/:attachment_id"

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(encounter.StaffRoles...))
	read.GET("/encounters/:id/attachments", h.ListAttachments)
	read.GET(DownloadRoute, h.DownloadAttachment)

	write := api.Group("", auth.RequireRole(string(encounter.RoleLabTechnician)))
	write.POST("/encounters/:id/attachments", h.UploadAttachment)
}

// UploadAttachment takes a multipart form with a "file" part.
func (h *Handler) UploadAttachment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if file.Size > h.svc.MaxBytes() {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.svc.MaxBytes()))
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to open uploaded file")
	}
	defer src.Close()

	ctx := c.Request().Context()
	actor, err := encounter.ResolveActor(auth.UserIDFromContext(ctx), auth.RolesFromContext(ctx), encounter.RoleLabTechnician)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	a, err := h.svc.Create(ctx, id, Upload{
		FileName:    file.Filename,
		ContentType: file.Header.Get(echo.HeaderContentType),
		Body:        src,
	}, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListAttachments(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.List(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*Attachment{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DownloadAttachment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	attID, err := uuid.Parse(c.Param("attachment_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid attachment_id")
	}
	a, rc, err := h.svc.Open(c.Request().Context(), id, attID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename=%q`, a.FileName))
	c.Response().Header().Set(encounter.HeaderETag, `"`+a.SHA256+`"`)
	return c.Stream(http.StatusOK, a.ContentType, rc)
}
