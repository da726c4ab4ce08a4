package note

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/patientsummary/internal/domain/patient"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients/:id/notes")
	g.GET("", h.ListNotes)
	g.POST("", h.CreateNote)
	g.DELETE("", h.DeleteAllNotes)
	g.DELETE("/:note_id", h.DeleteNote)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Note not found")
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, strings.TrimPrefix(err.Error(), ErrInvalid.Error()+": "))
	default:
		return patient.HTTPError(err)
	}
}

func (h *Handler) ListNotes(c echo.Context) error {
	patientID, err := patient.ParseID(c, "id")
	if err != nil {
		return err
	}
	resp, err := h.svc.ListNotes(c.Request().Context(), patientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) CreateNote(c echo.Context) error {
	patientID, err := patient.ParseID(c, "id")
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.CreateNote(c.Request().Context(), patientID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) DeleteNote(c echo.Context) error {
	patientID, err := patient.ParseID(c, "id")
	if err != nil {
		return err
	}
	noteID, err := patient.ParseID(c, "note_id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteNote(c.Request().Context(), patientID, noteID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteAllNotes(c echo.Context) error {
	patientID, err := patient.ParseID(c, "id")
	if err != nil {
		return err
	}
	n, err := h.svc.DeleteAllNotes(c.Request().Context(), patientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": n})
}
