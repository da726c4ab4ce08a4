package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/patientsummary/internal/domain/patient"
	"github.com/ehr/patientsummary/internal/platform/jobs"
	"github.com/ehr/patientsummary/internal/platform/llm"
	"github.com/ehr/patientsummary/internal/platform/telemetry"
)

// PatientChecker reports whether a patient exists.
type PatientChecker interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// JobQueue is the part of the job queue the summary routes use.
type JobQueue interface {
	Enqueue(ctx context.Context, task string, args any) (string, error)
	Get(ctx context.Context, id string) (*jobs.Job, error)
}

// QueuedResponse acknowledges an accepted async summary.
type QueuedResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Handler struct {
	svc        *Service
	patients   PatientChecker
	queue      JobQueue
	metrics    telemetry.Recorder
	middleware []echo.MiddlewareFunc
}

// NewHandler builds the summary routes. mw is applied to every route, which
// is where the rate limiter goes.
func NewHandler(svc *Service, patients PatientChecker, queue JobQueue, metrics telemetry.Recorder, mw ...echo.MiddlewareFunc) *Handler {
	if metrics == nil {
		metrics = telemetry.Nop{}
	}
	return &Handler{svc: svc, patients: patients, queue: queue, metrics: metrics, middleware: mw}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients/:id/summary", h.middleware...)
	g.GET("", h.GetSummary)
	g.POST("/async", h.CreateSummaryJob)
	g.GET("/jobs/:job_id", h.GetSummaryJob)
}

func parseOptions(c echo.Context) (Options, error) {
	opts := Options{Audience: llm.AudienceClinician, MaxLength: DefaultMaxLength}

	if a := c.QueryParam("audience"); a != "" {
		opts.Audience = llm.Audience(a)
		if !opts.Audience.Valid() {
			return opts, echo.NewHTTPError(http.StatusBadRequest, "audience must be one of: clinician, family")
		}
	}
	if m := c.QueryParam("max_length"); m != "" {
		n, err := strconv.Atoi(m)
		if err != nil || n < MinMaxLength || n > MaxMaxLength {
			return opts, echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("max_length must be an integer between %d and %d", MinMaxLength, MaxMaxLength))
		}
		opts.MaxLength = n
	}
	return opts, nil
}

func (h *Handler) GetSummary(c echo.Context) error {
	id, err := patient.ParseID(c, "id")
	if err != nil {
		return err
	}
	opts, err := parseOptions(c)
	if err != nil {
		return err
	}
	h.metrics.Inc(telemetry.SummaryRequests,
		telemetry.L("audience", string(opts.Audience)), telemetry.L("mode", "sync"))

	out, err := h.svc.Summarize(c.Request().Context(), id, opts)
	if errors.Is(err, ErrPatientNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) CreateSummaryJob(c echo.Context) error {
	id, err := patient.ParseID(c, "id")
	if err != nil {
		return err
	}
	opts, err := parseOptions(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	ok, err := h.patients.Exists(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	}

	jobID, err := h.queue.Enqueue(ctx, TaskName, JobArgs{
		PatientID: id,
		Audience:  string(opts.Audience),
		MaxLength: opts.MaxLength,
	})
	if err != nil {
		return jobs.HTTPError(err)
	}

	return c.JSON(http.StatusAccepted, QueuedResponse{
		JobID:   jobID,
		Status:  jobs.StatePending.Status(),
		Message: fmt.Sprintf("Summary generation queued for patient %d", id),
	})
}

func (h *Handler) GetSummaryJob(c echo.Context) error {
	id, err := patient.ParseID(c, "id")
	if err != nil {
		return err
	}
	job, err := h.queue.Get(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		return jobs.HTTPError(err)
	}

	// a job id from another patient or another task is treated as unknown
	var args JobArgs
	if job.Task != TaskName || json.Unmarshal(job.Args, &args) != nil || args.PatientID != id {
		return jobs.HTTPError(jobs.ErrNotFound)
	}
	return c.JSON(http.StatusOK, jobs.NewStatusResponse(job))
}
