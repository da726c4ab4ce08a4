package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func runTimeout(timeout time.Duration, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/1/summary", nil)
	rec := httptest.NewRecorder()
	return rec, RequestTimeout(timeout)(handler)(e.NewContext(req, rec))
}

func waitForDeadline(c echo.Context) error {
	<-c.Request().Context().Done()
	return c.Request().Context().Err()
}

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	rec, err := runTimeout(5*time.Second, func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected context to have a deadline")
		}
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequestTimeout_GatewayTimeout(t *testing.T) {
	_, err := runTimeout(20*time.Millisecond, waitForDeadline)

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	if he.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", he.Code)
	}
	if !errors.Is(he.Internal, context.DeadlineExceeded) {
		t.Errorf("expected the handler error as internal cause, got %v", he.Internal)
	}
}

func TestRequestTimeout_KeepsCommittedResponse(t *testing.T) {
	// a handler that degrades on its own deadline and still answers
	rec, err := runTimeout(20*time.Millisecond, func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.JSON(http.StatusOK, map[string]string{"summary": "fallback"})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequestTimeout_ZeroDisables(t *testing.T) {
	_, err := runTimeout(0, func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("expected no deadline")
		}
		return c.NoContent(http.StatusNoContent)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestTimeout_PropagatesHandlerError(t *testing.T) {
	_, err := runTimeout(5*time.Second, func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "Patient not found")
	})
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
