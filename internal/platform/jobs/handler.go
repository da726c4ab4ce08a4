package jobs

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// StatusResponse is the polling view of a job.
type StatusResponse struct {
	JobID  string          `json:"job_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewStatusResponse renders job for API clients. The result is included
// only once the job is ready.
func NewStatusResponse(job *Job) StatusResponse {
	resp := StatusResponse{JobID: job.ID, Status: job.State.Status()}
	if job.State.Ready() {
		resp.Result = job.Result
		resp.Error = job.Error
	}
	return resp
}

// Handler exposes job polling and cancellation.
type Handler struct {
	queue *Queue
}

func NewHandler(queue *Queue) *Handler {
	return &Handler{queue: queue}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/jobs/:job_id", h.GetJob)
	api.DELETE("/jobs/:job_id", h.CancelJob)
}

// HTTPError maps queue errors onto responses.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Job not found")
	case errors.Is(err, ErrJobFinished):
		return echo.NewHTTPError(http.StatusConflict, "Job already finished")
	case errors.Is(err, ErrQueueFull):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Job queue is full, try again later")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
}

// GetJob handles GET /jobs/:job_id.
func (h *Handler) GetJob(c echo.Context) error {
	job, err := h.queue.Get(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, NewStatusResponse(job))
}

// CancelJob handles DELETE /jobs/:job_id.
func (h *Handler) CancelJob(c echo.Context) error {
	job, err := h.queue.Cancel(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, NewStatusResponse(job))
}
